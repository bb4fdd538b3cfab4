package srtp

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
)

const aeadTagLen = 16

type aeadAesGcm struct {
	srtpCipher, srtcpCipher           cipher.AEAD
	srtpSessionSalt, srtcpSessionSalt []byte
}

func newAeadAesGcm(masterKey, masterSalt []byte) (*aeadAesGcm, error) {
	if len(masterKey) != 16 || len(masterSalt) != 12 {
		return nil, ErrInvalidKeyLength
	}

	newGCM := func(label byte) (cipher.AEAD, error) {
		key, err := deriveSessionKey(label, masterKey, masterSalt, len(masterKey))
		if err != nil {
			return nil, err
		}
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, err
		}
		return cipher.NewGCM(block)
	}

	t := &aeadAesGcm{}
	var err error
	if t.srtpCipher, err = newGCM(labelSRTPEncryption); err != nil {
		return nil, err
	}
	if t.srtcpCipher, err = newGCM(labelSRTCPEncryption); err != nil {
		return nil, err
	}
	if t.srtpSessionSalt, err = deriveSessionKey(labelSRTPSalt, masterKey, masterSalt, len(masterSalt)); err != nil {
		return nil, err
	}
	if t.srtcpSessionSalt, err = deriveSessionKey(labelSRTCPSalt, masterKey, masterSalt, len(masterSalt)); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *aeadAesGcm) rtpTagLen() int  { return aeadTagLen }
func (t *aeadAesGcm) rtcpTagLen() int { return aeadTagLen }

// rtpIV is the RFC 7714 8.1 IV: 00 00 || SSRC || ROC || SEQ, xored with salt.
func (t *aeadAesGcm) rtpIV(ssrc uint32, index uint64) []byte {
	iv := make([]byte, 12)
	binary.BigEndian.PutUint32(iv[2:], ssrc)
	binary.BigEndian.PutUint32(iv[6:], uint32(index>>16))
	binary.BigEndian.PutUint16(iv[10:], uint16(index))
	for i := range iv {
		iv[i] ^= t.srtpSessionSalt[i]
	}
	return iv
}

// rtcpIV is the RFC 7714 9.1 IV: 00 00 || SSRC || 00 00 || index.
func (t *aeadAesGcm) rtcpIV(ssrc, index uint32) []byte {
	iv := make([]byte, 12)
	binary.BigEndian.PutUint32(iv[2:], ssrc)
	binary.BigEndian.PutUint32(iv[8:], index)
	for i := range iv {
		iv[i] ^= t.srtcpSessionSalt[i]
	}
	return iv
}

func (t *aeadAesGcm) encryptRTP(header, payload []byte, ssrc uint32, index uint64) []byte {
	dst := make([]byte, len(header), len(header)+len(payload)+aeadTagLen)
	copy(dst, header)
	return t.srtpCipher.Seal(dst, t.rtpIV(ssrc, index), payload, header)
}

func (t *aeadAesGcm) decryptRTP(packet []byte, headerLen int, ssrc uint32, index uint64) ([]byte, error) {
	dst := make([]byte, headerLen, len(packet)-aeadTagLen)
	copy(dst, packet[:headerLen])
	out, err := t.srtpCipher.Open(dst, t.rtpIV(ssrc, index), packet[headerLen:], packet[:headerLen])
	if err != nil {
		return nil, ErrAuthFailed
	}
	return out, nil
}

func rtcpAAD(header []byte, index uint32, encrypted bool) []byte {
	aad := make([]byte, srtcpHeaderSize+srtcpIndexSize)
	copy(aad, header[:srtcpHeaderSize])
	binary.BigEndian.PutUint32(aad[srtcpHeaderSize:], index)
	if encrypted {
		aad[srtcpHeaderSize] |= srtcpEncryptFlag
	}
	return aad
}

func (t *aeadAesGcm) encryptRTCP(packet []byte, ssrc, index uint32) []byte {
	dst := make([]byte, srtcpHeaderSize, len(packet)+aeadTagLen+srtcpIndexSize)
	copy(dst, packet[:srtcpHeaderSize])
	dst = t.srtcpCipher.Seal(dst, t.rtcpIV(ssrc, index), packet[srtcpHeaderSize:], rtcpAAD(packet, index, true))

	var trailer [srtcpIndexSize]byte
	binary.BigEndian.PutUint32(trailer[:], index)
	trailer[0] |= srtcpEncryptFlag
	return append(dst, trailer[:]...)
}

func (t *aeadAesGcm) decryptRTCP(packet []byte, ssrc, index uint32, encrypted bool) ([]byte, error) {
	body := packet[:len(packet)-srtcpIndexSize]
	iv := t.rtcpIV(ssrc, index)
	aad := rtcpAAD(packet, index, encrypted)

	if !encrypted {
		// Authenticated-only: the tag covers the cleartext body as AAD.
		plain := body[:len(body)-aeadTagLen]
		fullAAD := append(append([]byte{}, plain...), aad[srtcpHeaderSize:]...)
		if _, err := t.srtcpCipher.Open(nil, iv, body[len(body)-aeadTagLen:], fullAAD); err != nil {
			return nil, ErrAuthFailed
		}
		return append([]byte{}, plain...), nil
	}

	dst := make([]byte, srtcpHeaderSize, len(body)-aeadTagLen)
	copy(dst, body[:srtcpHeaderSize])
	out, err := t.srtcpCipher.Open(dst, iv, body[srtcpHeaderSize:], aad)
	if err != nil {
		return nil, ErrAuthFailed
	}
	return out, nil
}
