package srtp

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha1" // nolint:gosec
	"crypto/subtle"
	"encoding/binary"
	"hash"
)

const (
	aesCmTagLen      = 10
	aesCmAuthKeyLen  = 20
	srtcpIndexSize   = 4
	srtcpHeaderSize  = 8
	srtcpEncryptFlag = 0x80
)

type aesCmHmacSha1 struct {
	srtpBlock       cipher.Block
	srtpSessionSalt []byte
	srtpAuth        hash.Hash

	srtcpBlock       cipher.Block
	srtcpSessionSalt []byte
	srtcpAuth        hash.Hash
}

func newAesCmHmacSha1(masterKey, masterSalt []byte) (*aesCmHmacSha1, error) {
	if len(masterKey) != 16 || len(masterSalt) != 14 {
		return nil, ErrInvalidKeyLength
	}
	derive := func(label byte, n int) ([]byte, error) {
		return deriveSessionKey(label, masterKey, masterSalt, n)
	}

	t := &aesCmHmacSha1{}
	var err error
	var key, auth []byte

	if key, err = derive(labelSRTPEncryption, len(masterKey)); err != nil {
		return nil, err
	}
	if t.srtpBlock, err = aes.NewCipher(key); err != nil {
		return nil, err
	}
	if t.srtpSessionSalt, err = derive(labelSRTPSalt, len(masterSalt)); err != nil {
		return nil, err
	}
	if auth, err = derive(labelSRTPAuthenticationTag, aesCmAuthKeyLen); err != nil {
		return nil, err
	}
	t.srtpAuth = hmac.New(sha1.New, auth)

	if key, err = derive(labelSRTCPEncryption, len(masterKey)); err != nil {
		return nil, err
	}
	if t.srtcpBlock, err = aes.NewCipher(key); err != nil {
		return nil, err
	}
	if t.srtcpSessionSalt, err = derive(labelSRTCPSalt, len(masterSalt)); err != nil {
		return nil, err
	}
	if auth, err = derive(labelSRTCPAuthenticationTag, aesCmAuthKeyLen); err != nil {
		return nil, err
	}
	t.srtcpAuth = hmac.New(sha1.New, auth)

	return t, nil
}

func (t *aesCmHmacSha1) rtpTagLen() int  { return aesCmTagLen }
func (t *aesCmHmacSha1) rtcpTagLen() int { return aesCmTagLen }

// counter builds the AES-CM IV (RFC 3711 4.1.1) for a 48-bit index.
func counter(ssrc uint32, index uint64, sessionSalt []byte) []byte {
	iv := make([]byte, 16)
	binary.BigEndian.PutUint32(iv[4:], ssrc)
	binary.BigEndian.PutUint32(iv[8:], uint32(index>>16))
	binary.BigEndian.PutUint32(iv[12:], uint32(index&0xffff)<<16)
	for i := range sessionSalt {
		iv[i] ^= sessionSalt[i]
	}
	return iv
}

func (t *aesCmHmacSha1) srtpTag(authenticated []byte, roc uint32) []byte {
	t.srtpAuth.Reset()
	t.srtpAuth.Write(authenticated) // nolint:errcheck
	var rocBuf [4]byte
	binary.BigEndian.PutUint32(rocBuf[:], roc)
	t.srtpAuth.Write(rocBuf[:]) // nolint:errcheck
	return t.srtpAuth.Sum(nil)[:aesCmTagLen]
}

func (t *aesCmHmacSha1) srtcpTag(authenticated []byte) []byte {
	t.srtcpAuth.Reset()
	t.srtcpAuth.Write(authenticated) // nolint:errcheck
	return t.srtcpAuth.Sum(nil)[:aesCmTagLen]
}

func (t *aesCmHmacSha1) encryptRTP(header, payload []byte, ssrc uint32, index uint64) []byte {
	dst := make([]byte, len(header)+len(payload), len(header)+len(payload)+aesCmTagLen)
	n := copy(dst, header)

	stream := cipher.NewCTR(t.srtpBlock, counter(ssrc, index, t.srtpSessionSalt))
	stream.XORKeyStream(dst[n:], payload)

	return append(dst, t.srtpTag(dst, uint32(index>>16))...)
}

func (t *aesCmHmacSha1) decryptRTP(packet []byte, headerLen int, ssrc uint32, index uint64) ([]byte, error) {
	body := packet[:len(packet)-aesCmTagLen]
	actualTag := packet[len(packet)-aesCmTagLen:]

	expectedTag := t.srtpTag(body, uint32(index>>16))
	if subtle.ConstantTimeCompare(actualTag, expectedTag) != 1 {
		return nil, ErrAuthFailed
	}

	dst := make([]byte, len(body))
	copy(dst, body[:headerLen])
	stream := cipher.NewCTR(t.srtpBlock, counter(ssrc, index, t.srtpSessionSalt))
	stream.XORKeyStream(dst[headerLen:], body[headerLen:])
	return dst, nil
}

func (t *aesCmHmacSha1) encryptRTCP(packet []byte, ssrc, index uint32) []byte {
	dst := make([]byte, len(packet)+srtcpIndexSize, len(packet)+srtcpIndexSize+aesCmTagLen)
	copy(dst, packet[:srtcpHeaderSize])

	stream := cipher.NewCTR(t.srtcpBlock, counter(ssrc, uint64(index), t.srtcpSessionSalt))
	stream.XORKeyStream(dst[srtcpHeaderSize:len(packet)], packet[srtcpHeaderSize:])

	binary.BigEndian.PutUint32(dst[len(packet):], index)
	dst[len(packet)] |= srtcpEncryptFlag

	return append(dst, t.srtcpTag(dst)...)
}

func (t *aesCmHmacSha1) decryptRTCP(packet []byte, ssrc, index uint32, encrypted bool) ([]byte, error) {
	authenticated := packet[:len(packet)-aesCmTagLen]
	actualTag := packet[len(packet)-aesCmTagLen:]
	if subtle.ConstantTimeCompare(actualTag, t.srtcpTag(authenticated)) != 1 {
		return nil, ErrAuthFailed
	}

	body := authenticated[:len(authenticated)-srtcpIndexSize]
	dst := make([]byte, len(body))
	copy(dst, body)
	if encrypted {
		stream := cipher.NewCTR(t.srtcpBlock, counter(ssrc, uint64(index), t.srtcpSessionSalt))
		stream.XORKeyStream(dst[srtcpHeaderSize:], body[srtcpHeaderSize:])
	}
	return dst, nil
}
