// Package conf loads the engine policy from a TOML file.
package conf

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pion/randutil"
	"github.com/spf13/viper"

	"github.com/pion/ion-rtc/dtls"
	"github.com/pion/ion-rtc/engine"
	"github.com/pion/ion-rtc/pkg/log"
)

var (
	errMissingFile = errors.New("conf: config file does not exist")
	errKeyPair     = errors.New("conf: certpem and keypem must be set together")
	errMTU         = errors.New("conf: dtls mtu must be at least 576")
)

const minMTU = 576

type global struct {
	Addr  string `mapstructure:"addr"`
	Pprof string `mapstructure:"pprof"`
}

type metrics struct {
	On   bool   `mapstructure:"on"`
	Addr string `mapstructure:"addr"`
	Path string `mapstructure:"path"`
}

type ice struct {
	CheckInterval       time.Duration `mapstructure:"checkinterval"`
	RTO                 time.Duration `mapstructure:"rto"`
	MaxBindingRequests  int           `mapstructure:"maxbindingrequests"`
	KeepaliveInterval   time.Duration `mapstructure:"keepaliveinterval"`
	DisconnectedTimeout time.Duration `mapstructure:"disconnectedtimeout"`
	FailedTimeout       time.Duration `mapstructure:"failedtimeout"`
}

type dtlsConf struct {
	CertPem          string        `mapstructure:"certpem"`
	KeyPem           string        `mapstructure:"keypem"`
	InitialRTO       time.Duration `mapstructure:"initialrto"`
	RetransmitCap    time.Duration `mapstructure:"retransmitcap"`
	HandshakeTimeout time.Duration `mapstructure:"handshaketimeout"`
	MTU              int           `mapstructure:"mtu"`
}

type srtp struct {
	ReplayWindow      uint `mapstructure:"replaywindow"`
	SRTCPReplayWindow uint `mapstructure:"srtcpreplaywindow"`
}

type rtcp struct {
	Interval time.Duration `mapstructure:"interval"`
	CNAME    string        `mapstructure:"cname"`
}

type datachannel struct {
	On             bool   `mapstructure:"on"`
	MaxMessageSize uint32 `mapstructure:"maxmessagesize"`
}

// Config mirrors the TOML file.
type Config struct {
	Global      global      `mapstructure:"global"`
	Log         log.Config  `mapstructure:"log"`
	Metrics     metrics     `mapstructure:"metrics"`
	ICE         ice         `mapstructure:"ice"`
	DTLS        dtlsConf    `mapstructure:"dtls"`
	SRTP        srtp        `mapstructure:"srtp"`
	RTCP        rtcp        `mapstructure:"rtcp"`
	DataChannel datachannel `mapstructure:"datachannel"`
}

func defaults(v *viper.Viper) {
	v.SetDefault("global.addr", ":5000")
	v.SetDefault("log.level", "info")
	v.SetDefault("metrics.addr", ":9100")
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("rtcp.interval", time.Second)
	v.SetDefault("rtcp.cname", "ion-rtc")
	v.SetDefault("datachannel.on", true)
}

// Load reads and validates a TOML config file. Unknown keys are errors.
func Load(file string) (*Config, error) {
	if _, err := os.Stat(file); err != nil {
		return nil, fmt.Errorf("%w: %s", errMissingFile, file)
	}

	v := viper.New()
	defaults(v)
	v.SetConfigFile(file)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("conf: read %s: %w", file, err)
	}

	c := &Config{}
	if err := v.UnmarshalExact(c); err != nil {
		return nil, fmt.Errorf("conf: load %s: %w", file, err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	log.Infof("config %s load ok!", file)
	return c, nil
}

func (c *Config) validate() error {
	if (c.DTLS.CertPem == "") != (c.DTLS.KeyPem == "") {
		return errKeyPair
	}
	if c.DTLS.MTU != 0 && c.DTLS.MTU < minMTU {
		return errMTU
	}
	return nil
}

// certificate loads the configured key pair or generates a fresh one.
func (c *Config) certificate(now time.Time) (tls.Certificate, error) {
	if c.DTLS.CertPem == "" {
		return dtls.GenerateCertificate(now)
	}
	return tls.LoadX509KeyPair(c.DTLS.CertPem, c.DTLS.KeyPem)
}

// Engine converts the file into an engine policy. Data channels stay
// disabled here; the caller installs Config.NewAssociation when
// DataChannel.On is set.
func (c *Config) Engine(now time.Time) (engine.Config, error) {
	cert, err := c.certificate(now)
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		Certificate: cert,
		ICE: engine.ICEConfig{
			CheckInterval:       c.ICE.CheckInterval,
			RTO:                 c.ICE.RTO,
			MaxBindingRequests:  c.ICE.MaxBindingRequests,
			KeepaliveInterval:   c.ICE.KeepaliveInterval,
			DisconnectedTimeout: c.ICE.DisconnectedTimeout,
			FailedTimeout:       c.ICE.FailedTimeout,
		},
		DTLS: engine.DTLSConfig{
			InitialRTO:       c.DTLS.InitialRTO,
			RetransmitCap:    c.DTLS.RetransmitCap,
			HandshakeTimeout: c.DTLS.HandshakeTimeout,
			MTU:              c.DTLS.MTU,
		},
		SRTPReplayWindow:  c.SRTP.ReplayWindow,
		SRTCPReplayWindow: c.SRTP.SRTCPReplayWindow,
		RTCPInterval:      c.RTCP.Interval,
		CNAME:             c.RTCP.CNAME,
		Rand:              randutil.NewMathRandomGenerator(),
		LoggerFactory:     log.NewLoggerFactory(os.Stdout, c.Log.Level),
	}, nil
}
