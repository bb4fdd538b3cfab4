package mux

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	stun := []byte{
		0x00, 0x01, 0x00, 0x00, 0x21, 0x12, 0xa4, 0x42,
		0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c,
	}
	dtls := []byte{0x16, 0xfe, 0xfd, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}
	rtp := []byte{0x80, 0x60, 0x00, 0x01, 0, 0, 0, 0, 0, 0, 0, 1}
	rtcp := []byte{0x80, 0xc8, 0x00, 0x06}

	assert.Equal(t, KindSTUN, Classify(stun))
	assert.Equal(t, KindDTLS, Classify(dtls))
	assert.Equal(t, KindRTP, Classify(rtp))
	assert.Equal(t, KindRTP, Classify(rtcp))
	assert.True(t, IsRTCP(rtcp))
	assert.False(t, IsRTCP(rtp))

	badCookie := append([]byte{}, stun...)
	badCookie[4] = 0
	assert.Equal(t, KindUnknown, Classify(badCookie))
	assert.Equal(t, KindUnknown, Classify(stun[:19]))
	assert.Equal(t, KindUnknown, Classify(dtls[:12]))
	assert.Equal(t, KindUnknown, Classify([]byte{0x40, 0, 0, 0}))
	assert.Equal(t, KindUnknown, Classify(nil))
}

func TestClassifyTotal(t *testing.T) {
	for first := 0; first < 256; first++ {
		for n := 0; n <= 24; n++ {
			buf := make([]byte, n)
			if n > 0 {
				buf[0] = byte(first)
			}
			assert.NotPanics(t, func() {
				k := Classify(buf)
				assert.Contains(t, []Kind{KindUnknown, KindSTUN, KindDTLS, KindRTP}, k)
			})
		}
	}
}
