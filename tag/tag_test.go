//go:build test_unit

package tag_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Carryma11/crack-ncm/metadata"
	"github.com/Carryma11/crack-ncm/tag"
	"github.com/bogem/id3v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeAudioFile(t *testing.T, name string, data []byte) string {
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func TestWriteTrackInfoMp3(t *testing.T) {
	audioPath := writeAudioFile(t, "track.mp3", []byte("\xff\xfbaudio"))

	w := &tag.Writer{}
	err := w.WriteTrackInfo(audioPath, &metadata.Metadata{
		MusicName: "Hotel California",
		Album:     "Hell Freezes Over",
		Artist:    [][]interface{}{{"Eagles", float64(738)}},
	})
	require.NoError(t, err)

	opened, err := id3v2.Open(audioPath, id3v2.Options{Parse: true})
	require.NoError(t, err)
	defer func() { _ = opened.Close() }()

	assert.Equal(t, "Hotel California", opened.GetTextFrame("TIT2").Text)
	assert.Equal(t, "Hell Freezes Over", opened.GetTextFrame("TALB").Text)
	assert.Equal(t, "Eagles", opened.GetTextFrame("TPE1").Text)
}

func TestWriteTrackInfoKeepsExistingFrames(t *testing.T) {
	audioPath := writeAudioFile(t, "track.mp3", []byte("\xff\xfbaudio"))

	existing, err := id3v2.Open(audioPath, id3v2.Options{Parse: true})
	require.NoError(t, err)
	existing.AddTextFrame("TIT2", id3v2.EncodingUTF8, "Original Title")
	require.NoError(t, existing.Save())
	require.NoError(t, existing.Close())

	w := &tag.Writer{}
	require.NoError(t, w.WriteTrackInfo(audioPath, &metadata.Metadata{MusicName: "Other"}))

	opened, err := id3v2.Open(audioPath, id3v2.Options{Parse: true})
	require.NoError(t, err)
	defer func() { _ = opened.Close() }()
	assert.Equal(t, "Original Title", opened.GetTextFrame("TIT2").Text)
}

func TestWriteTrackInfoUnsupportedExtension(t *testing.T) {
	audioPath := writeAudioFile(t, "track.ogg", []byte("OggS"))

	w := &tag.Writer{}
	require.NoError(t, w.WriteTrackInfo(audioPath, &metadata.Metadata{MusicName: "x"}))

	// untouched
	data, err := os.ReadFile(audioPath)
	require.NoError(t, err)
	assert.Equal(t, []byte("OggS"), data)
}

func TestWriteCoverMp3(t *testing.T) {
	audioPath := writeAudioFile(t, "track.mp3", []byte("\xff\xfbaudio"))
	imagePath := writeAudioFile(t, "cover.jpg", []byte{0xff, 0xd8, 0xff, 0xe0})

	w := &tag.Writer{}
	require.NoError(t, w.WriteCover(audioPath, imagePath, "image/jpeg"))

	opened, err := id3v2.Open(audioPath, id3v2.Options{Parse: true})
	require.NoError(t, err)
	defer func() { _ = opened.Close() }()

	frames := opened.GetFrames(opened.CommonID("Attached picture"))
	require.Len(t, frames, 1)
	picture, ok := frames[0].(id3v2.PictureFrame)
	require.True(t, ok)
	assert.Equal(t, "image/jpeg", picture.MimeType)
	assert.Equal(t, []byte{0xff, 0xd8, 0xff, 0xe0}, picture.Picture)
}

func TestWriteCoverUnsupportedMimeType(t *testing.T) {
	audioPath := writeAudioFile(t, "track.mp3", []byte("\xff\xfbaudio"))
	imagePath := writeAudioFile(t, "cover.webp", []byte("RIFF"))

	w := &tag.Writer{}
	require.NoError(t, w.WriteCover(audioPath, imagePath, "image/webp"))

	// no-op, the audio file is untouched
	data, err := os.ReadFile(audioPath)
	require.NoError(t, err)
	assert.Equal(t, []byte("\xff\xfbaudio"), data)
}
