// Package ncmcrypt implements the obfuscation primitives shared by the
// key and metadata blocks of an ncm container: single-byte XOR masking,
// AES-128-ECB block decryption and trailing-pad removal.
package ncmcrypt

import (
	"crypto/aes"
	"fmt"

	crackncm "github.com/Carryma11/crack-ncm"
)

// XORMask flips every byte of buf with mask, in place.
func XORMask(buf []byte, mask byte) {
	for i := range buf {
		buf[i] ^= mask
	}
}

// DecryptECB decrypts data with a 16-byte key, each block independently.
// The format uses no IV, identical ciphertext blocks decrypt identically.
func DecryptECB(key, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed initializing block cipher: %w", err)
	}

	bs := block.BlockSize()
	if len(data)%bs != 0 {
		return nil, fmt.Errorf("%w: %d bytes", crackncm.ErrMalformedBlock, len(data))
	}

	out := make([]byte, len(data))
	for i := 0; i < len(data); i += bs {
		block.Decrypt(out[i:i+bs], data[i:i+bs])
	}
	return out, nil
}

// StripPadding removes a PKCS#7-style pad: the last byte holds the
// number of trailing bytes to discard. A pad of zero or one larger than
// the buffer itself means the decryption went wrong upstream.
func StripPadding(buf []byte) ([]byte, error) {
	if len(buf) == 0 {
		return nil, fmt.Errorf("%w: empty buffer", crackncm.ErrInvalidPadding)
	}

	pad := int(buf[len(buf)-1])
	if pad == 0 || pad > len(buf) {
		return nil, fmt.Errorf("%w: pad length %d of %d bytes", crackncm.ErrInvalidPadding, pad, len(buf))
	}
	return buf[:len(buf)-pad], nil
}
