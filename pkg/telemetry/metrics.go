// Copyright 2024-2026 Aiku AI

// Package telemetry provides Prometheus metrics and OpenTelemetry tracing for
// the relay.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics mirrors the relay's health counters. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	Messages   prometheus.Counter
	Errors     prometheus.Counter
	Reconnects *prometheus.CounterVec
	Connected  *prometheus.GaugeVec
}

// NewMetrics registers the relay metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Messages: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_messages_total",
			Help: "Number of inbound messages accepted for relaying",
		}),
		Errors: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_errors_total",
			Help: "Number of relay errors (send failures, dropped messages, session faults)",
		}),
		Reconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_reconnects_total",
			Help: "Number of session reconnects by side and network",
		}, []string{"side", "network"}),
		Connected: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "relay_connected",
			Help: "Session connected=1 disconnected=0 by side and network",
		}, []string{"side", "network"}),
	}
}

// IncMessages counts one relayed message.
func (m *Metrics) IncMessages() {
	if m != nil {
		m.Messages.Inc()
	}
}

// IncErrors counts one error.
func (m *Metrics) IncErrors() {
	if m != nil {
		m.Errors.Inc()
	}
}

// IncReconnects counts one reconnect of the given session.
func (m *Metrics) IncReconnects(side, network string) {
	if m != nil {
		m.Reconnects.WithLabelValues(side, network).Inc()
	}
}

// SetConnected sets the connected gauge of the given session.
func (m *Metrics) SetConnected(side, network string, connected bool) {
	if m == nil {
		return
	}
	v := 0.0
	if connected {
		v = 1
	}
	m.Connected.WithLabelValues(side, network).Set(v)
}
