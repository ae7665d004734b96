// Package keybox recovers the seed key embedded in an ncm container and
// derives from it the 256-entry substitution table that drives the audio
// keystream.
package keybox

import (
	"bytes"
	"fmt"

	crackncm "github.com/Carryma11/crack-ncm"
	"github.com/Carryma11/crack-ncm/ncmcrypt"
)

// ChunkSize is the unit the audio payload is processed in. The keystream
// position counter restarts at 1 for every chunk, so decrypting with any
// other chunking corrupts everything past the first chunk.
const ChunkSize = 0x8000

const keyBlockMask = 0x64

var coreKey = []byte{0x68, 0x7a, 0x48, 0x52, 0x41, 0x6d, 0x73, 0x6f, 0x35, 0x6b, 0x49, 0x6e, 0x62, 0x61, 0x78, 0x57}

// seedPrefixLen is the length of the fixed "neteasecloudmusic" prefix
// the encoder inserts before the actual seed key.
const seedPrefixLen = 17

// RecoverKey turns the raw key block read from the container into the
// seed key. The block is masked with 0x64, AES-128-ECB encrypted with
// the format's core key and padded.
func RecoverKey(block []byte) ([]byte, error) {
	buf := bytes.Clone(block)
	ncmcrypt.XORMask(buf, keyBlockMask)

	decrypted, err := ncmcrypt.DecryptECB(coreKey, buf)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", crackncm.ErrKeyRecovery, err)
	}

	decrypted, err = ncmcrypt.StripPadding(decrypted)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", crackncm.ErrKeyRecovery, err)
	}

	if len(decrypted) <= seedPrefixLen {
		return nil, fmt.Errorf("%w: key block too short (%d bytes)", crackncm.ErrKeyRecovery, len(decrypted))
	}
	return decrypted[seedPrefixLen:], nil
}

// KeyBox holds the substitution table derived from a seed key. The table
// is built once and read-only afterwards, a KeyBox is safe for
// sequential reuse across chunks but not for concurrent use on the same
// chunk buffer.
type KeyBox struct {
	box [256]byte
}

// New builds the table with the classic swap schedule: starting from the
// identity permutation, each entry is swapped with the one selected by
// the running sum of table byte, previous selection and the next seed
// byte.
func New(seed []byte) (*KeyBox, error) {
	if len(seed) == 0 {
		return nil, fmt.Errorf("%w: empty seed key", crackncm.ErrKeyRecovery)
	}

	b := &KeyBox{}
	for i := range b.box {
		b.box[i] = byte(i)
	}

	var c, last byte
	var off int
	for i := 0; i < 256; i++ {
		c = b.box[i] + last + seed[off]
		off = (off + 1) % len(seed)
		b.box[i], b.box[c] = b.box[c], b.box[i]
		last = c
	}
	return b, nil
}

// KeystreamByte returns the keystream byte for position pos, which is
// 1-based and relative to the current chunk.
func (b *KeyBox) KeystreamByte(pos int) byte {
	j := byte(pos)
	return b.box[b.box[j]+b.box[b.box[j]+j]]
}

// Decrypt decrypts one payload chunk in place. Chunks must be at most
// ChunkSize bytes and fed in container order; the final chunk may be
// shorter.
func (b *KeyBox) Decrypt(chunk []byte) {
	for i := range chunk {
		chunk[i] ^= b.KeystreamByte(i + 1)
	}
}
