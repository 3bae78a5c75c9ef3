package main

import (
	"context"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors exposed at /metrics, plus the
// plain atomic counters the periodic logger reads to print a
// human-readable summary line without scraping Prometheus itself.
type Metrics struct {
	activeChannels   atomic.Int64
	activeSessions   atomic.Int64
	stepsApplied     atomic.Int64
	broadcastDropped atomic.Int64

	channelsGauge  prometheus.Gauge
	sessionsGauge  prometheus.Gauge
	stepsCounter   prometheus.Counter
	droppedCounter prometheus.Counter

	registry *prometheus.Registry
}

// NewMetrics creates a private Prometheus registry and the server's
// collectors within it, so tests can construct as many independent
// Metrics as they like without colliding on the global registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	fac := promauto.With(reg)
	return &Metrics{
		registry: reg,
		channelsGauge: fac.NewGauge(prometheus.GaugeOpts{
			Name: "padington_channels_active",
			Help: "Number of channels currently held open by at least one session",
		}),
		sessionsGauge: fac.NewGauge(prometheus.GaugeOpts{
			Name: "padington_sessions_active",
			Help: "Number of client sessions currently attached",
		}),
		stepsCounter: fac.NewCounter(prometheus.CounterOpts{
			Name: "padington_steps_applied_total",
			Help: "Total number of individual edit steps applied across all channels",
		}),
		droppedCounter: fac.NewCounter(prometheus.CounterOpts{
			Name: "padington_broadcast_dropped_total",
			Help: "Total number of broadcast messages dropped because a subscriber lagged",
		}),
	}
}

// ChannelOpened/ChannelClosed/SessionJoined/SessionLeft/StepsApplied/
// BroadcastDropped update both the Prometheus collector and the plain
// counter the periodic logger reads.

func (m *Metrics) ChannelOpened() {
	m.activeChannels.Add(1)
	m.channelsGauge.Inc()
}

func (m *Metrics) ChannelClosed() {
	m.activeChannels.Add(-1)
	m.channelsGauge.Dec()
}

func (m *Metrics) SessionJoined() {
	m.activeSessions.Add(1)
	m.sessionsGauge.Inc()
}

func (m *Metrics) SessionLeft() {
	m.activeSessions.Add(-1)
	m.sessionsGauge.Dec()
}

func (m *Metrics) StepsApplied(n int) {
	m.stepsApplied.Add(int64(n))
	m.stepsCounter.Add(float64(n))
}

func (m *Metrics) BroadcastDropped() {
	m.broadcastDropped.Add(1)
	m.droppedCounter.Inc()
}

// Handler returns the HTTP handler exposing collected metrics in the
// Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RunMetricsLog logs a human-readable summary of the counters every
// interval until ctx is canceled, matching the corpus's periodic
// metrics-to-log-line convention.
func RunMetricsLog(ctx context.Context, m *Metrics, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastSteps int64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			channels := m.activeChannels.Load()
			sessions := m.activeSessions.Load()
			steps := m.stepsApplied.Load()
			if channels == 0 && sessions == 0 {
				continue
			}
			rate := float64(steps-lastSteps) / interval.Seconds()
			lastSteps = steps
			log.Printf("[metrics] channels=%s sessions=%s steps_applied=%s (%.1f/s)",
				humanize.Comma(channels),
				humanize.Comma(sessions),
				humanize.Comma(steps),
				rate,
			)
		}
	}
}
