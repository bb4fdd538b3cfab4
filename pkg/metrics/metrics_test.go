package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pion/ion-rtc/engine"
)

func TestCollectorDeltas(t *testing.T) {
	c := New("")

	c.Update("a", engine.Stats{BytesReceived: 100, SRTPReplayed: 1})
	c.Update("b", engine.Stats{BytesReceived: 50})
	c.Update("a", engine.Stats{BytesReceived: 160, SRTPReplayed: 1, DroppedUnknown: 2})

	assert.Equal(t, float64(210), testutil.ToFloat64(c.bytes.WithLabelValues("in")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.srtpErrors.WithLabelValues("replayed")))
	assert.Equal(t, float64(2), testutil.ToFloat64(c.dropped.WithLabelValues("unknown")))
	assert.Equal(t, float64(2), testutil.ToFloat64(c.engines))

	c.Remove("a")
	c.Remove("a")
	assert.Equal(t, float64(1), testutil.ToFloat64(c.engines))
	assert.Equal(t, float64(210), testutil.ToFloat64(c.bytes.WithLabelValues("in")))
}

func TestCollectorHandler(t *testing.T) {
	c := New("test")
	c.Update("a", engine.Stats{PacketsSent: 3})

	h, err := c.Handler()
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `test_engine_datagrams_total{direction="out"} 3`))
	assert.True(t, strings.Contains(string(body), "test_engine_active 1"))
}
