package srtp

import (
	"crypto/aes"
	"encoding/binary"
)

// Key derivation labels (RFC 3711 4.3.2)
const (
	labelSRTPEncryption        = 0x00
	labelSRTPAuthenticationTag = 0x01
	labelSRTPSalt              = 0x02

	labelSRTCPEncryption        = 0x03
	labelSRTCPAuthenticationTag = 0x04
	labelSRTCPSalt              = 0x05
)

// deriveSessionKey runs the AES-CM PRF with a key derivation rate of zero.
func deriveSessionKey(label byte, masterKey, masterSalt []byte, outLen int) ([]byte, error) {
	n := len(masterKey)
	if len(masterSalt) > n-2 {
		return nil, ErrInvalidKeyLength
	}

	prfIn := make([]byte, n)
	copy(prfIn, masterSalt)
	prfIn[7] ^= label

	block, err := aes.NewCipher(masterKey)
	if err != nil {
		return nil, err
	}

	out := make([]byte, ((outLen+n-1)/n)*n)
	for i, off := uint16(0), 0; off < outLen; i++ {
		binary.BigEndian.PutUint16(prfIn[n-2:], i)
		block.Encrypt(out[off:off+n], prfIn)
		off += n
	}
	return out[:outLen], nil
}
