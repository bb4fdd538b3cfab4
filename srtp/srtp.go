// Package srtp implements Secure Real-time Transport Protocol
package srtp

import (
	"fmt"

	"github.com/pion/rtp"
)

// ProtectRTP encrypts and authenticates a marshaled RTP packet.
func (c *Context) ProtectRTP(plaintext []byte) ([]byte, error) {
	header := &rtp.Header{}
	payloadOffset, err := header.Unmarshal(plaintext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTooShort, err)
	}
	return c.protectRTP(header, payloadOffset, plaintext)
}

func (c *Context) protectRTP(header *rtp.Header, payloadOffset int, plaintext []byte) ([]byte, error) {
	s := c.getSRTPSSRCState(header.SSRC)
	index, ok := s.estimateIndex(header.SequenceNumber)
	if !ok {
		// A sender never goes backwards past its first rollover.
		index = uint64(header.SequenceNumber)
	}
	s.commitIndex(index)

	return c.cipher.encryptRTP(plaintext[:payloadOffset], plaintext[payloadOffset:], header.SSRC, index), nil
}

// UnprotectRTP verifies and decrypts an SRTP packet. A packet that fails
// replay or authentication checks leaves the context untouched.
func (c *Context) UnprotectRTP(ciphertext []byte) ([]byte, error) {
	header := &rtp.Header{}
	payloadOffset, err := header.Unmarshal(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTooShort, err)
	}
	if len(ciphertext) < payloadOffset+c.cipher.rtpTagLen() {
		return nil, ErrTooShort
	}

	s, known := c.peekSRTPSSRCState(header.SSRC)
	index, ok := s.estimateIndex(header.SequenceNumber)
	if !ok {
		return nil, ErrReplayed
	}

	markAsValid, ok := s.replayDetector.Check(index)
	if !ok {
		return nil, ErrReplayed
	}

	out, err := c.cipher.decryptRTP(ciphertext, payloadOffset, header.SSRC, index)
	if err != nil {
		return nil, err
	}

	markAsValid()
	s.commitIndex(index)
	if !known {
		c.srtpSSRCStates[header.SSRC] = s
	}
	return out, nil
}
