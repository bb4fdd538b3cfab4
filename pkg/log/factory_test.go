package log

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoggerFactoryScope(t *testing.T) {
	var buf bytes.Buffer
	f := NewLoggerFactory(&buf, "debug")

	l := f.NewLogger("ice")
	l.Debugf("pair %d succeeded", 3)
	l.Trace("dropped")

	out := buf.String()
	assert.Contains(t, out, "pair 3 succeeded")
	assert.Contains(t, out, "scope")
	assert.Contains(t, out, "ice")
	assert.NotContains(t, out, "dropped")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, "warn", ParseLevel("WARN").String())
	assert.Equal(t, "trace", ParseLevel("trace").String())
}
