// Package metrics turns bus events into Prometheus series.
package metrics

import (
	"context"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"wasender/internal/dispatch"
	"wasender/internal/eventbus"
)

const namespace = "wasender"

type Metrics struct {
	reg *prometheus.Registry

	dispatchTotal   *prometheus.CounterVec
	targetsTotal    *prometheus.CounterVec
	dispatchLatency *prometheus.HistogramVec
	inFlight        prometheus.Gauge
	notifyTotal     *prometheus.CounterVec
}

// New registers the collectors on a private registry. bus may be nil.
func New(bus eventbus.Bus) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	m := &Metrics{
		reg: reg,
		dispatchTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_total",
			Help:      "Dispatches by mode and result (ok, partial, failed, error).",
		}, []string{"mode", "result"}),
		targetsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_targets_total",
			Help:      "Broadcast target outcomes.",
		}, []string{"status"}),
		dispatchLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Time from first call to join.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"mode"}),
		inFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dispatch_in_flight",
			Help:      "Dispatches started and not yet settled.",
		}),
		notifyTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Chat notifications by result (sent, failed, dropped).",
		}, []string{"result"}),
	}
	if bus != nil {
		f.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "eventbus_dropped",
			Help:      "Bus deliveries skipped because a subscriber was full.",
		}, func() float64 { return float64(eventbus.Dropped(bus)) })
	}
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Run feeds bus events into the collectors until ctx is done.
func (m *Metrics) Run(ctx context.Context, bus eventbus.Bus) error {
	ch, unsub := eventbus.SubscribePrefix(bus, 256, "dispatch.", "notifier.")
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			m.Observe(e)
		}
	}
}

// Observe records one event.
func (m *Metrics) Observe(e eventbus.Event) {
	if strings.HasPrefix(e.Type, "notifier.") {
		m.notifyTotal.WithLabelValues(strings.TrimPrefix(e.Type, "notifier.")).Inc()
		return
	}
	ev, ok := e.Data.(dispatch.Event)
	if !ok {
		return
	}
	mode := string(ev.Mode)
	switch e.Type {
	case eventbus.DispatchStarted:
		m.inFlight.Inc()
	case eventbus.DispatchTarget:
		m.targetsTotal.WithLabelValues(string(ev.Status)).Inc()
	case eventbus.DispatchFinished:
		m.inFlight.Dec()
		m.dispatchTotal.WithLabelValues(mode, resultLabel(ev)).Inc()
		m.dispatchLatency.WithLabelValues(mode).Observe(ev.Took.Seconds())
	case eventbus.DispatchFailed:
		m.inFlight.Dec()
		m.dispatchTotal.WithLabelValues(mode, "error").Inc()
		m.dispatchLatency.WithLabelValues(mode).Observe(ev.Took.Seconds())
	}
}

func resultLabel(ev dispatch.Event) string {
	switch {
	case ev.Failure == 0:
		return "ok"
	case ev.Success > 0:
		return "partial"
	default:
		return "failed"
	}
}
