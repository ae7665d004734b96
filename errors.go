package crackncm

import "errors"

// Fatal to the file being decoded: the audio payload cannot be recovered.
var (
	ErrInvalidContainer = errors.New("not an ncm container")
	ErrMalformedBlock   = errors.New("cipher input is not block aligned")
	ErrInvalidPadding   = errors.New("invalid trailing padding")
	ErrKeyRecovery      = errors.New("failed recovering seed key")
)

// Non-fatal: the audio can still be decoded, but the output falls back
// to the default extension and cover art is skipped.
var ErrMetadataRecovery = errors.New("failed recovering metadata")
