// Package metrics exports engine counters to prometheus.
//
// Engines are not safe for concurrent use, so the goroutine that drives an
// engine pushes Stats snapshots with Update. Counters advance by the delta
// since the previous snapshot of the same engine.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pion/ion-rtc/engine"
)

const defaultNamespace = "ionrtc"

// Collector aggregates the counters of every live engine.
type Collector struct {
	mu   sync.Mutex
	last map[string]engine.Stats

	engines      prometheus.Gauge
	bytes        *prometheus.CounterVec
	packets      *prometheus.CounterVec
	dropped      *prometheus.CounterVec
	srtpErrors   *prometheus.CounterVec
	channelBytes *prometheus.CounterVec
}

// New creates a collector. An empty namespace uses "ionrtc".
func New(namespace string) *Collector {
	if namespace == "" {
		namespace = defaultNamespace
	}
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      name,
			Help:      help,
		}, labels)
	}
	return &Collector{
		last: map[string]engine.Stats{},
		engines: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "active",
			Help:      "Number of engines currently reporting",
		}),
		bytes:        counter("bytes_total", "UDP payload bytes by direction", "direction"),
		packets:      counter("datagrams_total", "UDP datagrams by direction", "direction"),
		dropped:      counter("dropped_total", "Datagrams dropped by reason", "reason"),
		srtpErrors:   counter("srtp_errors_total", "SRTP and SRTCP unprotect failures by kind", "kind"),
		channelBytes: counter("datachannel_bytes_total", "Data channel message bytes by direction", "direction"),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.engines.Describe(ch)
	c.bytes.Describe(ch)
	c.packets.Describe(ch)
	c.dropped.Describe(ch)
	c.srtpErrors.Describe(ch)
	c.channelBytes.Describe(ch)
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.engines.Collect(ch)
	c.bytes.Collect(ch)
	c.packets.Collect(ch)
	c.dropped.Collect(ch)
	c.srtpErrors.Collect(ch)
	c.channelBytes.Collect(ch)
}

// Update records a snapshot of the engine with the given id.
func (c *Collector) Update(id string, s engine.Stats) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev, ok := c.last[id]
	if !ok {
		c.engines.Inc()
	}
	c.last[id] = s

	add := func(v *prometheus.CounterVec, label string, cur, old uint64) {
		if cur > old {
			v.WithLabelValues(label).Add(float64(cur - old))
		}
	}
	add(c.bytes, "in", s.BytesReceived, prev.BytesReceived)
	add(c.bytes, "out", s.BytesSent, prev.BytesSent)
	add(c.packets, "in", s.PacketsReceived, prev.PacketsReceived)
	add(c.packets, "out", s.PacketsSent, prev.PacketsSent)
	add(c.dropped, "unknown", s.DroppedUnknown, prev.DroppedUnknown)
	add(c.dropped, "stun", s.DroppedSTUN, prev.DroppedSTUN)
	add(c.dropped, "dtls", s.DroppedDTLS, prev.DroppedDTLS)
	add(c.dropped, "nokeys", s.DroppedNoKeys, prev.DroppedNoKeys)
	add(c.dropped, "rtp", s.DroppedRTP, prev.DroppedRTP)
	add(c.dropped, "source", s.DroppedSource, prev.DroppedSource)
	add(c.srtpErrors, "replayed", s.SRTPReplayed, prev.SRTPReplayed)
	add(c.srtpErrors, "auth", s.SRTPAuth, prev.SRTPAuth)
	add(c.srtpErrors, "malformed", s.SRTPMalformed, prev.SRTPMalformed)
	add(c.channelBytes, "in", s.ChannelBytesReceived, prev.ChannelBytesReceived)
	add(c.channelBytes, "out", s.ChannelBytesSent, prev.ChannelBytesSent)
}

// Remove forgets an engine. Its counted totals are kept.
func (c *Collector) Remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.last[id]; ok {
		delete(c.last, id)
		c.engines.Dec()
	}
}

// Handler serves the collector on its own registry.
func (c *Collector) Handler() (http.Handler, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(c); err != nil {
		return nil, err
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), nil
}
