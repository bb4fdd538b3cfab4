package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConf(t *testing.T, body string) string {
	t.Helper()
	file := filepath.Join(t.TempDir(), "conf.toml")
	require.NoError(t, os.WriteFile(file, []byte(body), 0o600))
	return file
}

func TestLoad(t *testing.T) {
	file := writeConf(t, `
[global]
addr = "127.0.0.1:7000"

[log]
level = "debug"

[ice]
checkinterval = "20ms"
maxbindingrequests = 5
failedtimeout = "10s"

[dtls]
initialrto = "500ms"
mtu = 1200

[srtp]
replaywindow = 256

[rtcp]
interval = "2s"
cname = "bench"
`)
	c, err := Load(file)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:7000", c.Global.Addr)
	assert.Equal(t, "debug", c.Log.Level)
	assert.Equal(t, 20*time.Millisecond, c.ICE.CheckInterval)
	assert.Equal(t, 5, c.ICE.MaxBindingRequests)
	assert.Equal(t, 10*time.Second, c.ICE.FailedTimeout)
	assert.Equal(t, 500*time.Millisecond, c.DTLS.InitialRTO)
	assert.Equal(t, 1200, c.DTLS.MTU)
	assert.Equal(t, uint(256), c.SRTP.ReplayWindow)
	assert.Equal(t, "/metrics", c.Metrics.Path)
	assert.True(t, c.DataChannel.On)

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ec, err := c.Engine(now)
	require.NoError(t, err)
	assert.NotEmpty(t, ec.Certificate.Certificate)
	assert.Equal(t, 20*time.Millisecond, ec.ICE.CheckInterval)
	assert.Equal(t, 1200, ec.DTLS.MTU)
	assert.Equal(t, uint(256), ec.SRTPReplayWindow)
	assert.Equal(t, 2*time.Second, ec.RTCPInterval)
	assert.Equal(t, "bench", ec.CNAME)
	assert.NotNil(t, ec.LoggerFactory)
	assert.NotNil(t, ec.Rand)
}

func TestLoadRejects(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.ErrorIs(t, err, errMissingFile)

	_, err = Load(writeConf(t, "[ice]\nbogus = 1\n"))
	assert.Error(t, err)

	_, err = Load(writeConf(t, "[dtls]\ncertpem = \"cert.pem\"\n"))
	assert.ErrorIs(t, err, errKeyPair)

	_, err = Load(writeConf(t, "[dtls]\nmtu = 100\n"))
	assert.ErrorIs(t, err, errMTU)
}

func TestLoadShipped(t *testing.T) {
	c, err := Load("../../conf/conf.toml")
	require.NoError(t, err)
	assert.Equal(t, 7, c.ICE.MaxBindingRequests)
	assert.Equal(t, 25*time.Second, c.ICE.FailedTimeout)
	assert.Equal(t, uint32(65536), c.DataChannel.MaxMessageSize)
}
