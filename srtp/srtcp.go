package srtp

import (
	"encoding/binary"
)

func rtcpSSRC(packet []byte) (uint32, error) {
	if len(packet) < srtcpHeaderSize || packet[0]>>6 != 2 {
		return 0, errInvalidRTCP
	}
	return binary.BigEndian.Uint32(packet[4:]), nil
}

// ProtectRTCP encrypts and authenticates a marshaled (compound) RTCP packet.
// Each sender SSRC carries its own 31-bit SRTCP index.
func (c *Context) ProtectRTCP(plaintext []byte) ([]byte, error) {
	ssrc, err := rtcpSSRC(plaintext)
	if err != nil {
		return nil, err
	}

	s := c.getSRTCPSSRCState(ssrc)
	index := s.index
	s.index = (s.index + 1) & maxSRTCPIndex

	return c.cipher.encryptRTCP(plaintext, ssrc, index), nil
}

// UnprotectRTCP verifies and decrypts an SRTCP packet.
func (c *Context) UnprotectRTCP(ciphertext []byte) ([]byte, error) {
	ssrc, err := rtcpSSRC(ciphertext)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < srtcpHeaderSize+srtcpIndexSize+c.cipher.rtcpTagLen() {
		return nil, ErrTooShort
	}

	var trailer []byte
	switch c.profile {
	case ProtectionProfileAeadAes128Gcm:
		trailer = ciphertext[len(ciphertext)-srtcpIndexSize:]
	default:
		tagStart := len(ciphertext) - c.cipher.rtcpTagLen()
		trailer = ciphertext[tagStart-srtcpIndexSize : tagStart]
	}
	encrypted := trailer[0]&srtcpEncryptFlag != 0
	index := binary.BigEndian.Uint32(trailer) & maxSRTCPIndex

	s, known := c.peekSRTCPSSRCState(ssrc)
	markAsValid, ok := s.replayDetector.Check(uint64(index))
	if !ok {
		return nil, ErrReplayed
	}

	out, err := c.cipher.decryptRTCP(ciphertext, ssrc, index, encrypted)
	if err != nil {
		return nil, err
	}
	markAsValid()
	if !known {
		c.srtcpSSRCStates[ssrc] = s
	}
	return out, nil
}
