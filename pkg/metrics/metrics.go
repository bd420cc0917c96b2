// Package metrics holds the Prometheus collectors for the monitor, key
// generation and external tool calls. A nil *Metrics is valid and records
// nothing.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/irctrakz/wgkeeper/pkg/core"
	"github.com/irctrakz/wgkeeper/pkg/wireguard"
)

const namespace = "wgkeeper"

// Metrics is the set of collectors registered for one process.
type Metrics struct {
	reg prometheus.Gatherer

	peers        *prometheus.GaugeVec
	peersOnline  *prometheus.GaugeVec
	polls        *prometheus.CounterVec
	lastSuccess  *prometheus.GaugeVec
	changes      *prometheus.CounterVec
	keyFallback  *prometheus.CounterVec
	toolCalls    *prometheus.CounterVec
	toolDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them on reg. A fresh registry is
// used when reg is nil.
func New(reg *prometheus.Registry) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		reg: reg,
		peers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "peers",
			Help:      "Number of peers in the last status snapshot.",
		}, []string{"interface"}),
		peersOnline: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "peers_online",
			Help:      "Number of peers with a handshake in the last 180 seconds.",
		}, []string{"interface"}),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "Status poll cycles by result.",
		}, []string{"interface", "result"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_poll_success_timestamp_seconds",
			Help:      "Unix time of the last successful status poll.",
		}, []string{"interface"}),
		changes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_changes_total",
			Help:      "Status snapshots that differed from the previous one.",
		}, []string{"interface"}),
		keyFallback: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "key_fallback_total",
			Help:      "Key material generated in process because the wg tool failed.",
		}, []string{"kind"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_invocations_total",
			Help:      "External tool invocations by command and result.",
		}, []string{"command", "result"}),
		toolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_duration_seconds",
			Help:      "External tool invocation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"command"}),
	}

	for _, c := range []prometheus.Collector{
		m.peers, m.peersOnline, m.polls, m.lastSuccess, m.changes,
		m.keyFallback, m.toolCalls, m.toolDuration,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// PollSucceeded records a successful poll and the snapshot it produced.
func (m *Metrics) PollSucceeded(snap *core.Snapshot, changed bool) {
	if m == nil || snap == nil {
		return
	}
	m.polls.WithLabelValues(snap.Interface, "success").Inc()
	m.peers.WithLabelValues(snap.Interface).Set(float64(len(snap.Peers)))
	m.peersOnline.WithLabelValues(snap.Interface).Set(float64(snap.OnlineCount()))
	m.lastSuccess.WithLabelValues(snap.Interface).Set(float64(snap.Timestamp.Unix()))
	if changed {
		m.changes.WithLabelValues(snap.Interface).Inc()
	}
}

// PollFailed records a failed poll.
func (m *Metrics) PollFailed(iface string) {
	if m == nil {
		return
	}
	m.polls.WithLabelValues(iface, "failure").Inc()
}

// KeyFallback records key material produced without the wg tool.
func (m *Metrics) KeyFallback(kind string) {
	if m == nil {
		return
	}
	m.keyFallback.WithLabelValues(kind).Inc()
}

// InstrumentRunner wraps r so every invocation is counted and timed.
func (m *Metrics) InstrumentRunner(r wireguard.Runner) wireguard.Runner {
	if m == nil {
		return r
	}
	return wireguard.RunnerFunc(func(ctx context.Context, inv wireguard.Invocation) ([]byte, error) {
		start := time.Now()
		out, err := r.Run(ctx, inv)
		cmd := inv.Cmd.String()
		m.toolDuration.WithLabelValues(cmd).Observe(time.Since(start).Seconds())
		result := "success"
		if err != nil {
			result = "failure"
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				result = "canceled"
			}
		}
		m.toolCalls.WithLabelValues(cmd, result).Inc()
		return out, err
	})
}
