//go:build test_unit

package keybox_test

import (
	"bytes"
	"crypto/aes"
	"testing"

	crackncm "github.com/Carryma11/crack-ncm"
	"github.com/Carryma11/crack-ncm/keybox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testCoreKey = []byte{0x68, 0x7a, 0x48, 0x52, 0x41, 0x6d, 0x73, 0x6f, 0x35, 0x6b, 0x49, 0x6e, 0x62, 0x61, 0x78, 0x57}

// encryptKeyBlock builds a container key block that recovers to seed:
// prefix + seed, PKCS#7 padded, AES-128-ECB encrypted with the core key
// and masked with 0x64.
func encryptKeyBlock(t *testing.T, seed []byte) []byte {
	plain := append([]byte("neteasecloudmusic"), seed...)
	pad := aes.BlockSize - len(plain)%aes.BlockSize
	plain = append(plain, bytes.Repeat([]byte{byte(pad)}, pad)...)

	block, err := aes.NewCipher(testCoreKey)
	require.NoError(t, err)

	out := make([]byte, len(plain))
	for i := 0; i < len(plain); i += aes.BlockSize {
		block.Encrypt(out[i:i+aes.BlockSize], plain[i:i+aes.BlockSize])
	}
	for i := range out {
		out[i] ^= 0x64
	}
	return out
}

// referenceKeystream computes the keystream byte for a 1-based position
// straight from the documented schedule, independently of the package.
func referenceKeystream(seed []byte, pos int) byte {
	box := make([]byte, 256)
	for i := range box {
		box[i] = byte(i)
	}
	var c, last byte
	off := 0
	for i := 0; i < 256; i++ {
		c = box[i] + last + seed[off]
		off = (off + 1) % len(seed)
		box[i], box[c] = box[c], box[i]
		last = c
	}

	j := byte(pos)
	return box[(box[j]+box[(box[j]+j)&0xff])&0xff]
}

func TestRecoverKey(t *testing.T) {
	seed := []byte("TESTKEY!")
	recovered, err := keybox.RecoverKey(encryptKeyBlock(t, seed))
	require.NoError(t, err)
	assert.Equal(t, seed, recovered)
}

func TestRecoverKeyMalformed(t *testing.T) {
	_, err := keybox.RecoverKey(make([]byte, 33))
	assert.ErrorIs(t, err, crackncm.ErrKeyRecovery)
	assert.ErrorIs(t, err, crackncm.ErrMalformedBlock)
}

func TestNewEmptySeed(t *testing.T) {
	_, err := keybox.New(nil)
	assert.ErrorIs(t, err, crackncm.ErrKeyRecovery)
}

func TestTableDeterministic(t *testing.T) {
	seed := []byte("TESTKEY!")
	a, err := keybox.New(seed)
	require.NoError(t, err)
	b, err := keybox.New(seed)
	require.NoError(t, err)

	for pos := 1; pos <= 512; pos++ {
		assert.Equal(t, a.KeystreamByte(pos), b.KeystreamByte(pos))
	}
}

func TestKeystreamMatchesSchedule(t *testing.T) {
	seeds := [][]byte{
		[]byte("TESTKEY!"),
		[]byte("a"),
		bytes.Repeat([]byte{0x5a, 0x00, 0xff}, 100),
	}
	for _, seed := range seeds {
		kb, err := keybox.New(seed)
		require.NoError(t, err)
		for pos := 1; pos <= 300; pos++ {
			assert.Equal(t, referenceKeystream(seed, pos), kb.KeystreamByte(pos), "seed %v pos %d", seed, pos)
		}
	}
}

func TestDecryptRoundTrip(t *testing.T) {
	kb, err := keybox.New([]byte("TESTKEY!"))
	require.NoError(t, err)

	plaintext := bytes.Repeat([]byte("crack-ncm round trip data. "), 64)
	encrypted := bytes.Clone(plaintext)
	kb.Decrypt(encrypted) // XOR, so encrypting is the same operation
	require.NotEqual(t, plaintext, encrypted)

	kb.Decrypt(encrypted)
	assert.Equal(t, plaintext, encrypted)
}

func TestDecryptChunkPositionsReset(t *testing.T) {
	kb, err := keybox.New([]byte("TESTKEY!"))
	require.NoError(t, err)

	// two and a half chunks of zeros: the decrypted output is the raw
	// keystream, which must repeat identically at every chunk start
	payload := make([]byte, keybox.ChunkSize*2+1234)
	for off := 0; off < len(payload); off += keybox.ChunkSize {
		end := off + keybox.ChunkSize
		if end > len(payload) {
			end = len(payload)
		}
		kb.Decrypt(payload[off:end])
	}

	first := payload[:keybox.ChunkSize]
	second := payload[keybox.ChunkSize : 2*keybox.ChunkSize]
	assert.Equal(t, first, second)
	assert.Equal(t, first[:1234], payload[2*keybox.ChunkSize:])

	for pos := 1; pos <= 16; pos++ {
		assert.Equal(t, referenceKeystream([]byte("TESTKEY!"), pos), first[pos-1])
	}
}
