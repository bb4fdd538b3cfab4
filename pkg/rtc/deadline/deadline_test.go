package deadline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMerger(t *testing.T) {
	now := time.Unix(1000, 0)

	t.Run("Empty", func(t *testing.T) {
		var m Merger
		assert.True(t, m.Min().IsZero())
		assert.Equal(t, SourceNone, m.Source())
		assert.True(t, m.Clamp(now).IsZero())
	})

	t.Run("Earliest", func(t *testing.T) {
		m := Merger{}.
			Add(SourceICE, now.Add(50*time.Millisecond)).
			Add(SourceDTLS, time.Time{}).
			Add(SourceRTCP, now.Add(20*time.Millisecond)).
			Add(SourceSCTP, now.Add(time.Second))
		assert.Equal(t, now.Add(20*time.Millisecond), m.Min())
		assert.Equal(t, SourceRTCP, m.Source())
	})

	t.Run("TieKeepsFirst", func(t *testing.T) {
		m := Merger{}.Add(SourceICE, now).Add(SourceDTLS, now)
		assert.Equal(t, SourceICE, m.Source())
	})

	t.Run("Clamp", func(t *testing.T) {
		m := Merger{}.Add(SourceICE, now.Add(-time.Second))
		assert.Equal(t, now, m.Clamp(now))
	})
}

func TestMinAndDue(t *testing.T) {
	now := time.Unix(1000, 0)
	assert.True(t, Min().IsZero())
	assert.Equal(t, now, Min(time.Time{}, now.Add(time.Second), now))
	assert.True(t, Due(now, now))
	assert.False(t, Due(time.Time{}, now))
	assert.False(t, Due(now.Add(time.Nanosecond), now))
}
