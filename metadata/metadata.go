// Package metadata recovers the encrypted track description embedded in
// an ncm container.
package metadata

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	crackncm "github.com/Carryma11/crack-ncm"
	"github.com/Carryma11/crack-ncm/ncmcrypt"
)

const (
	metaBlockMask = 0x63

	// "163 key(Don't modify):" inserted by the encoder before the
	// base64 text, and "music:" before the JSON object.
	b64PrefixLen  = 22
	jsonPrefixLen = 6
)

var metaKey = []byte{0x23, 0x31, 0x34, 0x6c, 0x6a, 0x6b, 0x5f, 0x21, 0x5c, 0x5d, 0x26, 0x30, 0x55, 0x3c, 0x27, 0x28}

// DefaultFormat is the output format assumed when the container carries
// no usable metadata.
const DefaultFormat = "mp3"

// Metadata is the track description carried by the container. Artist is
// a list of [name, id] pairs as produced by the original encoder.
type Metadata struct {
	MusicID    int             `json:"musicId"`
	MusicName  string          `json:"musicName"`
	Artist     [][]interface{} `json:"artist"`
	AlbumID    int             `json:"albumId"`
	Album      string          `json:"album"`
	AlbumPic   string          `json:"albumPic"`
	BitRate    int             `json:"bitrate"`
	Duration   int             `json:"duration"`
	Alias      []string        `json:"alias"`
	TransNames []interface{}   `json:"transNames"`
	Format     string          `json:"format"`
}

// Recover decodes the raw metadata block read from the container. Every
// stage failure is wrapped in ErrMetadataRecovery; callers are expected
// to treat it as non-fatal for the audio payload.
func Recover(block []byte) (*Metadata, error) {
	if len(block) <= b64PrefixLen {
		return nil, fmt.Errorf("%w: metadata block too short (%d bytes)", crackncm.ErrMetadataRecovery, len(block))
	}

	buf := bytes.Clone(block)
	ncmcrypt.XORMask(buf, metaBlockMask)

	decoded, err := base64.StdEncoding.DecodeString(string(buf[b64PrefixLen:]))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", crackncm.ErrMetadataRecovery, err)
	}

	decrypted, err := ncmcrypt.DecryptECB(metaKey, decoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", crackncm.ErrMetadataRecovery, err)
	}

	decrypted, err = ncmcrypt.StripPadding(decrypted)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", crackncm.ErrMetadataRecovery, err)
	}

	if len(decrypted) <= jsonPrefixLen {
		return nil, fmt.Errorf("%w: metadata text too short (%d bytes)", crackncm.ErrMetadataRecovery, len(decrypted))
	}

	var meta Metadata
	if err := json.Unmarshal(decrypted[jsonPrefixLen:], &meta); err != nil {
		return nil, fmt.Errorf("%w: %w", crackncm.ErrMetadataRecovery, err)
	}
	return &meta, nil
}

// OutputFormat returns the lowercase codec name the decoded audio should
// be written as, falling back to DefaultFormat.
func (m *Metadata) OutputFormat() string {
	if m == nil || m.Format == "" {
		return DefaultFormat
	}
	return strings.ToLower(m.Format)
}

// Artists flattens the [name, id] pairs into the artist names.
func (m *Metadata) Artists() []string {
	if m == nil {
		return nil
	}

	var names []string
	for _, pair := range m.Artist {
		if len(pair) == 0 {
			continue
		}
		if name, ok := pair[0].(string); ok && name != "" {
			names = append(names, name)
		}
	}
	return names
}
