package dtls

import (
	"testing"

	"github.com/pion/dtls/v2/pkg/protocol/handshake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFragmentBufferReassembly(t *testing.T) {
	h := &handshake.Handshake{
		Header:  handshake.Header{MessageSequence: 0},
		Message: &handshake.MessageFinished{VerifyData: []byte("0123456789ab")},
	}
	raw, err := h.Marshal()
	require.NoError(t, err)

	frags, err := fragmentHandshake(raw, 5)
	require.NoError(t, err)
	require.Len(t, frags, 3)

	f := newFragmentBuffer()
	// out of order, with one fragment repeated
	for _, i := range []int{2, 0, 2} {
		dups, err := f.push(frags[i], 1)
		require.NoError(t, err)
		assert.Empty(t, dups)
	}
	_, ok := f.pop()
	assert.False(t, ok)

	_, err = f.push(frags[1], 1)
	require.NoError(t, err)
	m, ok := f.pop()
	require.True(t, ok)
	assert.Equal(t, raw, m.raw)
	assert.Equal(t, handshake.TypeFinished, m.typ)
	assert.Equal(t, uint16(1), m.epoch)

	dups, err := f.push(frags[0], 1)
	require.NoError(t, err)
	require.Len(t, dups, 1)
	assert.Equal(t, uint16(0), dups[0].MessageSequence)
}

func TestFragmentBufferOrdering(t *testing.T) {
	f := newFragmentBuffer()
	var raws [][]byte
	for seq := uint16(0); seq < 2; seq++ {
		h := &handshake.Handshake{Header: handshake.Header{MessageSequence: seq}, Message: &handshake.MessageServerHelloDone{}}
		raw, err := h.Marshal()
		require.NoError(t, err)
		raws = append(raws, raw)
	}

	_, err := f.push(raws[1], 0)
	require.NoError(t, err)
	_, ok := f.pop()
	assert.False(t, ok)

	_, err = f.push(raws[0], 0)
	require.NoError(t, err)
	for seq := uint16(0); seq < 2; seq++ {
		m, ok := f.pop()
		require.True(t, ok)
		assert.Equal(t, seq, m.seq)
	}

	far := &handshake.Handshake{Header: handshake.Header{MessageSequence: 100}, Message: &handshake.MessageServerHelloDone{}}
	raw, err := far.Marshal()
	require.NoError(t, err)
	_, err = f.push(raw, 0)
	assert.ErrorIs(t, err, errFragmentOutOfWindow)
}
