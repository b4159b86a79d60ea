// Copyright 2024-2026 Aiku AI

package telemetry

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

func TestMetricsCounters(t *testing.T) {
	t.Parallel()
	m := NewMetrics(prometheus.NewRegistry())

	m.IncMessages()
	m.IncMessages()
	m.IncErrors()
	m.IncReconnects("irc", "libera")

	if got := testutil.ToFloat64(m.Messages); got != 2 {
		t.Errorf("messages: got %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.Errors); got != 1 {
		t.Errorf("errors: got %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Reconnects.WithLabelValues("irc", "libera")); got != 1 {
		t.Errorf("reconnects: got %v, want 1", got)
	}
}

func TestMetricsConnectedGauge(t *testing.T) {
	t.Parallel()
	m := NewMetrics(prometheus.NewRegistry())

	m.SetConnected("mattermost", "", true)
	if got := testutil.ToFloat64(m.Connected.WithLabelValues("mattermost", "")); got != 1 {
		t.Errorf("connected: got %v, want 1", got)
	}
	m.SetConnected("mattermost", "", false)
	if got := testutil.ToFloat64(m.Connected.WithLabelValues("mattermost", "")); got != 0 {
		t.Errorf("disconnected: got %v, want 0", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	t.Parallel()
	var m *Metrics
	m.IncMessages()
	m.IncErrors()
	m.IncReconnects("irc", "x")
	m.SetConnected("irc", "x", true)
}

func TestInitTracingDisabled(t *testing.T) {
	t.Parallel()
	shutdown, err := InitTracing(context.Background(), TracingConfig{}, "relay", "test", zerolog.Nop())
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}
