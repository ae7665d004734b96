// Package container parses the ncm container layout and streams the
// encrypted audio payload into a plaintext audio file.
package container

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	crackncm "github.com/Carryma11/crack-ncm"
	"github.com/Carryma11/crack-ncm/keybox"
	"github.com/Carryma11/crack-ncm/metadata"
	log "github.com/sirupsen/logrus"
)

var magic = []byte("CTENFDAM")

// ArtworkFetcher downloads a cover image to a local file and reports the
// mime type the server declared for it.
type ArtworkFetcher interface {
	Fetch(ctx context.Context, url string) (localPath string, mimeType string, err error)
}

// TagWriter embeds track information and cover art into a decoded audio
// file. Unsupported audio or image formats are a no-op, not an error.
type TagWriter interface {
	WriteTrackInfo(audioPath string, meta *metadata.Metadata) error
	WriteCover(audioPath, imagePath, mimeType string) error
}

// Decoder decodes ncm containers. Artwork and Tagger are optional,
// failures there never fail the decode. A Decoder holds no per-file
// state and may be shared by concurrent decodes.
type Decoder struct {
	Artwork ArtworkFetcher
	Tagger  TagWriter
}

// DecodeFile decodes the container at inputPath into an audio file next
// to outputPath, adjusting the extension to the format recovered from
// the container metadata. It returns the path the audio was published
// at. On failure nothing is left at the output path.
func (d *Decoder) DecodeFile(ctx context.Context, inputPath, outputPath string) (string, error) {
	f, err := os.Open(inputPath)
	if err != nil {
		return "", fmt.Errorf("failed opening container: %w", err)
	}
	defer func() { _ = f.Close() }()

	if err := readHeader(f); err != nil {
		return "", err
	}

	keyBlock, err := readBlock(f)
	if err != nil {
		return "", fmt.Errorf("failed reading key block: %w", err)
	}

	seed, err := keybox.RecoverKey(keyBlock)
	if err != nil {
		return "", err
	}

	box, err := keybox.New(seed)
	if err != nil {
		return "", err
	}

	metaBlock, err := readBlock(f)
	if err != nil {
		return "", fmt.Errorf("failed reading metadata block: %w", err)
	}

	// metadata is best-effort: without it the audio still decodes, only
	// the extension fallback applies and cover art is skipped
	meta, err := metadata.Recover(metaBlock)
	if err != nil {
		log.WithError(err).Warnf("failed recovering metadata from %s", inputPath)
		meta = nil
	}

	if err := skipThumbnail(f); err != nil {
		return "", err
	}

	finalPath := withExtension(outputPath, meta.OutputFormat())
	if err := d.streamAudio(ctx, f, box, finalPath); err != nil {
		return "", err
	}

	log.Debugf("decoded %s to %s", inputPath, finalPath)
	d.applyTags(ctx, finalPath, meta)
	return finalPath, nil
}

func readHeader(r io.Reader) error {
	// 8-byte magic plus 2 reserved bytes
	var hdr [10]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return fmt.Errorf("%w: %s", crackncm.ErrInvalidContainer, err)
	}
	if string(hdr[:8]) != string(magic) {
		return fmt.Errorf("%w: bad magic %x", crackncm.ErrInvalidContainer, hdr[:8])
	}
	return nil
}

func readBlock(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("failed reading block length: %w", err)
	}

	block := make([]byte, binary.LittleEndian.Uint32(lenBuf[:]))
	if _, err := io.ReadFull(r, block); err != nil {
		return nil, fmt.Errorf("failed reading block of %d bytes: %w", len(block), err)
	}
	return block, nil
}

func skipThumbnail(r io.Reader) error {
	// 4-byte checksum and 5 reserved bytes before the image length
	if _, err := io.CopyN(io.Discard, r, 9); err != nil {
		return fmt.Errorf("failed skipping checksum: %w", err)
	}

	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return fmt.Errorf("failed reading thumbnail length: %w", err)
	}
	if _, err := io.CopyN(io.Discard, r, int64(binary.LittleEndian.Uint32(lenBuf[:]))); err != nil {
		return fmt.Errorf("failed skipping thumbnail: %w", err)
	}
	return nil
}

// streamAudio decrypts the remaining payload chunk by chunk into a
// temporary file and publishes it at finalPath only when the whole
// payload went through.
func (d *Decoder) streamAudio(ctx context.Context, r io.Reader, box *keybox.KeyBox, finalPath string) error {
	tmpPath := finalPath + ".part"
	out, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed creating output: %w", err)
	}

	if err := decryptPayload(ctx, r, out, box); err != nil {
		_ = out.Close()
		_ = os.Remove(tmpPath)
		return err
	}

	if err := out.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed closing output: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed publishing output: %w", err)
	}
	return nil
}

func decryptPayload(ctx context.Context, r io.Reader, w io.Writer, box *keybox.KeyBox) error {
	buf := make([]byte, keybox.ChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := io.ReadFull(r, buf)
		if errors.Is(err, io.EOF) {
			return nil
		} else if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("failed reading audio chunk: %w", err)
		}

		box.Decrypt(buf[:n])
		if _, err := w.Write(buf[:n]); err != nil {
			return fmt.Errorf("failed writing audio chunk: %w", err)
		}
	}
}

// applyTags embeds track info and cover art into the published audio
// file. Everything here is best-effort.
func (d *Decoder) applyTags(ctx context.Context, audioPath string, meta *metadata.Metadata) {
	if meta == nil || d.Tagger == nil {
		return
	}

	if err := d.Tagger.WriteTrackInfo(audioPath, meta); err != nil {
		log.WithError(err).Warnf("failed writing tags to %s", audioPath)
	}

	coverUrl := strings.TrimSpace(meta.AlbumPic)
	if coverUrl == "" || d.Artwork == nil {
		log.Debugf("no album art for %s", audioPath)
		return
	}

	imagePath, mimeType, err := d.Artwork.Fetch(ctx, coverUrl)
	if err != nil {
		log.WithError(err).Warnf("failed fetching album art for %s", audioPath)
		return
	}
	defer func() { _ = os.Remove(imagePath) }()

	if err := d.Tagger.WriteCover(audioPath, imagePath, mimeType); err != nil {
		log.WithError(err).Warnf("failed embedding album art in %s", audioPath)
	}
}

func withExtension(path, ext string) string {
	if strings.EqualFold(filepath.Ext(path), "."+ext) {
		return path
	}
	return strings.TrimSuffix(path, filepath.Ext(path)) + "." + ext
}
