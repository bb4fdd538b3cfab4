// Command ion-rtc answers a WebRTC offer and echoes data channel messages
// back to the peer.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	_ "net/http/pprof"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pion/ion-rtc/datachannel"
	"github.com/pion/ion-rtc/dtls"
	"github.com/pion/ion-rtc/engine"
	"github.com/pion/ion-rtc/ice"
	"github.com/pion/ion-rtc/pkg/conf"
	"github.com/pion/ion-rtc/pkg/log"
	"github.com/pion/ion-rtc/pkg/metrics"
	"github.com/pion/ion-rtc/pkg/rtc/udp"
	"github.com/pion/ion-rtc/sctp"
	"github.com/pion/ion-rtc/sdp"
)

var errWildcard = errors.New("global.addr must name an interface address")

func showHelp() {
	fmt.Printf("Usage:%s {params}\n", os.Args[0])
	fmt.Println("      -c {config file}")
	fmt.Println("      -offer {offer file, - for stdin}")
	fmt.Println("      -h (show help info)")
}

func main() {
	cfgFile := flag.String("c", "conf/conf.toml", "config file")
	offerFile := flag.String("offer", "-", "remote offer")
	help := flag.Bool("h", false, "help info")
	flag.Parse()
	if *help {
		showHelp()
		return
	}

	c, err := conf.Load(*cfgFile)
	if err != nil {
		fmt.Println(err)
		showHelp()
		os.Exit(-1)
	}
	log.Init(c.Log.Level)

	if c.Global.Pprof != "" {
		go func() {
			log.Infof("Start pprof on %s", c.Global.Pprof)
			if err := http.ListenAndServe(c.Global.Pprof, nil); err != nil {
				log.Errorf("pprof: %v", err)
			}
		}()
	}

	if err := run(c, *offerFile); err != nil && !errors.Is(err, context.Canceled) {
		log.Errorf("%v", err)
		os.Exit(1)
	}
}

func readOffer(file string) ([]byte, error) {
	if file == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(file)
}

func serveMetrics(c *conf.Config, collector *metrics.Collector) error {
	h, err := collector.Handler()
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle(c.Metrics.Path, h)
	go func() {
		log.Infof("Start metrics on %s%s", c.Metrics.Addr, c.Metrics.Path)
		if err := http.ListenAndServe(c.Metrics.Addr, mux); err != nil {
			log.Errorf("metrics: %v", err)
		}
	}()
	return nil
}

func run(c *conf.Config, offerFile string) error {
	raw, err := readOffer(offerFile)
	if err != nil {
		return err
	}
	remote, err := sdp.Parse(raw)
	if err != nil {
		return err
	}

	laddr, err := net.ResolveUDPAddr("udp4", c.Global.Addr)
	if err != nil {
		return err
	}
	conn, err := net.ListenUDP("udp4", laddr)
	if err != nil {
		return err
	}
	ap := conn.LocalAddr().(*net.UDPAddr).AddrPort()
	local := netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
	if local.Addr().IsUnspecified() {
		_ = conn.Close()
		return errWildcard
	}
	candidate, err := ice.NewHostCandidate(local)
	if err != nil {
		return err
	}

	ecfg, err := c.Engine(time.Now())
	if err != nil {
		return err
	}
	wake := make(chan struct{}, 1)
	if c.DataChannel.On {
		ecfg.NewAssociation = func(isClient bool) datachannel.Association {
			return sctp.New(sctp.Config{
				IsClient:       isClient,
				MaxMessageSize: c.DataChannel.MaxMessageSize,
				Notify:         wake,
				LoggerFactory:  ecfg.LoggerFactory,
			})
		}
	}
	fp, err := dtls.CertificateFingerprint(ecfg.Certificate)
	if err != nil {
		return err
	}

	answer := remote.Answer(sdp.Local{
		Fingerprint:    fp,
		Candidates:     []ice.Candidate{candidate},
		CNAME:          c.RTCP.CNAME,
		Media:          remote.Mirror(),
		DataChannels:   c.DataChannel.On && remote.DataChannels,
		MaxMessageSize: c.DataChannel.MaxMessageSize,
	})
	e, err := engine.New(ecfg, remote.Params(answer, false))
	if err != nil {
		return err
	}
	answer.Ufrag, answer.Pwd = e.LocalCredentials()
	out, err := answer.Marshal()
	if err != nil {
		return err
	}
	if _, err := os.Stdout.Write(out); err != nil {
		return err
	}

	collector := metrics.New("")
	if c.Metrics.On {
		if err := serveMetrics(c, collector); err != nil {
			return err
		}
	}
	defer collector.Remove(e.ID())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d := udp.New(udp.Config{
		Engine:        e,
		Conn:          conn,
		LocalAddr:     local,
		Notify:        wake,
		OnEvent:       func(ev engine.Event) { onEvent(e, ev) },
		OnStats:       collector.Update,
		LoggerFactory: ecfg.LoggerFactory,
	})
	log.Infof("engine %s listening on %s", e.ID(), local)
	return d.Run(ctx)
}

// onEvent runs on the driver loop, so it may call engine verbs directly.
func onEvent(e *engine.Engine, ev engine.Event) {
	switch ev := ev.(type) {
	case engine.IceStateChange:
		log.Infof("ice state %s", ev.State)
	case engine.DtlsConnected:
		log.Infof("dtls connected, srtp profile %v", ev.Profile)
	case engine.ChannelOpen:
		log.Infof("channel %d %q open", ev.ID, ev.Label)
	case engine.ChannelData:
		if err := e.SendChannel(ev.ID, ev.Data, ev.Binary); err != nil {
			log.Warnf("echo on channel %d: %v", ev.ID, err)
		}
	case engine.MediaData:
		log.Debugf("media mid=%s ssrc=%d seq=%d", ev.Mid, ev.SSRC, ev.SequenceNumber)
	case engine.Diagnostic:
		log.Warnf("dropped: %+v", ev)
	case engine.Closed:
		log.Infof("closed: %v", ev.Reason)
	}
}
