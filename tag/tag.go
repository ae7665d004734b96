// Package tag embeds recovered track information and cover art into
// decoded mp3 and flac files.
package tag

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Carryma11/crack-ncm/metadata"
	"github.com/bogem/id3v2"
	"github.com/go-flac/flacpicture"
	"github.com/go-flac/flacvorbis"
	"github.com/go-flac/go-flac"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
)

var supportedImageTypes = []string{"image/jpeg", "image/jpg", "image/png"}

// Writer writes id3v2 frames into mp3 files and vorbis comments plus
// picture blocks into flac files. Any other audio extension is left
// untouched. Existing frames are never overwritten.
type Writer struct{}

func (w *Writer) WriteTrackInfo(audioPath string, meta *metadata.Metadata) error {
	switch strings.ToLower(filepath.Ext(audioPath)) {
	case ".mp3":
		return writeMp3TrackInfo(audioPath, meta)
	case ".flac":
		return writeFlacTrackInfo(audioPath, meta)
	default:
		log.Debugf("not tagging %s: unsupported extension", audioPath)
		return nil
	}
}

func (w *Writer) WriteCover(audioPath, imagePath, mimeType string) error {
	if !slices.Contains(supportedImageTypes, strings.ToLower(mimeType)) {
		log.Warnf("skipping album art of type %s for %s", mimeType, audioPath)
		return nil
	}

	image, err := os.ReadFile(imagePath)
	if err != nil {
		return fmt.Errorf("failed reading album art: %w", err)
	}

	switch strings.ToLower(filepath.Ext(audioPath)) {
	case ".mp3":
		return writeMp3Cover(audioPath, image, mimeType)
	case ".flac":
		return writeFlacCover(audioPath, image, mimeType)
	default:
		log.Debugf("not embedding album art in %s: unsupported extension", audioPath)
		return nil
	}
}

func writeMp3TrackInfo(audioPath string, meta *metadata.Metadata) error {
	tag, err := id3v2.Open(audioPath, id3v2.Options{Parse: true})
	if err != nil {
		return fmt.Errorf("failed opening id3 tag: %w", err)
	}
	defer func() { _ = tag.Close() }()

	if tag.GetTextFrame("TIT2").Text == "" && meta.MusicName != "" {
		tag.AddTextFrame("TIT2", id3v2.EncodingUTF8, meta.MusicName)
	}
	if tag.GetTextFrame("TALB").Text == "" && meta.Album != "" {
		tag.AddTextFrame("TALB", id3v2.EncodingUTF8, meta.Album)
	}
	if tag.GetTextFrame("TPE1").Text == "" {
		for _, name := range meta.Artists() {
			tag.AddTextFrame("TPE1", id3v2.EncodingUTF8, name)
		}
	}

	if err := tag.Save(); err != nil {
		return fmt.Errorf("failed saving id3 tag: %w", err)
	}
	return nil
}

func writeMp3Cover(audioPath string, image []byte, mimeType string) error {
	tag, err := id3v2.Open(audioPath, id3v2.Options{Parse: true})
	if err != nil {
		return fmt.Errorf("failed opening id3 tag: %w", err)
	}
	defer func() { _ = tag.Close() }()

	tag.AddAttachedPicture(id3v2.PictureFrame{
		Encoding:    id3v2.EncodingISO,
		MimeType:    mimeType,
		PictureType: id3v2.PTFrontCover,
		Description: "Front cover",
		Picture:     image,
	})

	if err := tag.Save(); err != nil {
		return fmt.Errorf("failed saving id3 tag: %w", err)
	}
	return nil
}

func writeFlacTrackInfo(audioPath string, meta *metadata.Metadata) error {
	f, err := flac.ParseFile(audioPath)
	if err != nil {
		return fmt.Errorf("failed parsing flac: %w", err)
	}

	var existing *flac.MetaDataBlock
	for _, block := range f.Meta {
		if block.Type == flac.VorbisComment {
			existing = block
			break
		}
	}

	comments := flacvorbis.New()
	if existing != nil {
		comments, err = flacvorbis.ParseFromMetaDataBlock(*existing)
		if err != nil {
			return fmt.Errorf("failed parsing vorbis comment: %w", err)
		}
	}

	if titles, err := comments.Get(flacvorbis.FIELD_TITLE); err == nil && len(titles) == 0 && meta.MusicName != "" {
		_ = comments.Add(flacvorbis.FIELD_TITLE, meta.MusicName)
	}
	if albums, err := comments.Get(flacvorbis.FIELD_ALBUM); err == nil && len(albums) == 0 && meta.Album != "" {
		_ = comments.Add(flacvorbis.FIELD_ALBUM, meta.Album)
	}
	if artists, err := comments.Get(flacvorbis.FIELD_ARTIST); err == nil && len(artists) == 0 {
		for _, name := range meta.Artists() {
			_ = comments.Add(flacvorbis.FIELD_ARTIST, name)
		}
	}

	marshaled := comments.Marshal()
	if existing != nil {
		*existing = marshaled
	} else {
		f.Meta = append(f.Meta, &marshaled)
	}

	if err := f.Save(audioPath); err != nil {
		return fmt.Errorf("failed saving flac: %w", err)
	}
	return nil
}

func writeFlacCover(audioPath string, image []byte, mimeType string) error {
	f, err := flac.ParseFile(audioPath)
	if err != nil {
		return fmt.Errorf("failed parsing flac: %w", err)
	}

	picture, err := flacpicture.NewFromImageData(flacpicture.PictureTypeFrontCover, "Front cover", image, mimeType)
	if err != nil {
		return fmt.Errorf("failed building flac picture: %w", err)
	}

	marshaled := picture.Marshal()
	f.Meta = append(f.Meta, &marshaled)

	if err := f.Save(audioPath); err != nil {
		return fmt.Errorf("failed saving flac: %w", err)
	}
	return nil
}
