// Copyright 2024-2026 Aiku AI

package relay

import (
	"fmt"
	"sync"
	"time"

	"github.com/aiku/mattermost-irc-relay/pkg/telemetry"
)

// UnhealthyErrorThreshold is the error count above which the relay reports
// itself unhealthy regardless of its connections.
const UnhealthyErrorThreshold = 100

// Status is the derived health classification.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// DeriveStatus classifies health from the error count and connection flags.
func DeriveStatus(errorCount uint64, platformConnected, ircConnected bool) Status {
	switch {
	case errorCount > UnhealthyErrorThreshold:
		return StatusUnhealthy
	case platformConnected && ircConnected:
		return StatusHealthy
	default:
		return StatusDegraded
	}
}

// NetworkStatus is one network's entry in a HealthSnapshot.
type NetworkStatus struct {
	Name           string          `json:"name"`
	Address        string          `json:"address"`
	Kind           string          `json:"kind"`
	State          ConnectionState `json:"state"`
	Connected      bool            `json:"connected"`
	ReconnectCount uint64          `json:"reconnect_count"`
}

// HealthSnapshot is a point-in-time view of the relay's health.
type HealthSnapshot struct {
	StartedAt              time.Time       `json:"started_at"`
	Uptime                 time.Duration   `json:"-"`
	UptimeSeconds          float64         `json:"uptime_seconds"`
	UptimeFormatted        string          `json:"uptime_formatted"`
	MessageCount           uint64          `json:"message_count"`
	ErrorCount             uint64          `json:"error_count"`
	PlatformConnected      bool            `json:"platform_connected"`
	IRCConnected           bool            `json:"irc_connected"`
	PlatformReconnectCount uint64          `json:"platform_reconnect_count"`
	Networks               []NetworkStatus `json:"networks"`
	MessageRatePerHour     float64         `json:"message_rate_per_hour"`
	LastMessageAt          *time.Time      `json:"last_message_at,omitempty"`
	LastErrorAt            *time.Time      `json:"last_error_at,omitempty"`
	Status                 Status          `json:"status"`
}

// Health holds the relay's monotonic counters. It implements Recorder.
type Health struct {
	metrics *telemetry.Metrics
	now     func() time.Time

	mu                 sync.Mutex
	startedAt          time.Time
	messageCount       uint64
	errorCount         uint64
	platformReconnects uint64
	networkReconnects  map[string]uint64
	lastMessageAt      time.Time
	lastErrorAt        time.Time
}

var _ Recorder = (*Health)(nil)

// NewHealth creates a tracker. metrics may be nil.
func NewHealth(metrics *telemetry.Metrics) *Health {
	return newHealthWithClock(metrics, time.Now)
}

func newHealthWithClock(metrics *telemetry.Metrics, now func() time.Time) *Health {
	return &Health{
		metrics:           metrics,
		now:               now,
		startedAt:         now(),
		networkReconnects: make(map[string]uint64),
	}
}

// RecordMessage counts one relayed message.
func (h *Health) RecordMessage() {
	h.mu.Lock()
	h.messageCount++
	h.lastMessageAt = h.now()
	h.mu.Unlock()
	h.metrics.IncMessages()
}

// RecordError counts one error.
func (h *Health) RecordError() {
	h.mu.Lock()
	h.errorCount++
	h.lastErrorAt = h.now()
	h.mu.Unlock()
	h.metrics.IncErrors()
}

// RecordPlatformReconnect counts one platform reconnect.
func (h *Health) RecordPlatformReconnect() {
	h.mu.Lock()
	h.platformReconnects++
	h.mu.Unlock()
	h.metrics.IncReconnects(string(SidePlatform), "")
}

// RecordNetworkReconnect counts one reconnect of the named network.
func (h *Health) RecordNetworkReconnect(network string) {
	h.mu.Lock()
	h.networkReconnects[network]++
	h.mu.Unlock()
	h.metrics.IncReconnects(string(SideIRC), network)
}

// RecordConnected mirrors a connection flag change to the metrics gauge.
func (h *Health) RecordConnected(side Side, network string, connected bool) {
	h.metrics.SetConnected(string(side), network, connected)
}

// MessageCount returns the number of relayed messages.
func (h *Health) MessageCount() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.messageCount
}

// ErrorCount returns the number of recorded errors.
func (h *Health) ErrorCount() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.errorCount
}

// NetworkReconnects returns the reconnect count of the named network.
func (h *Health) NetworkReconnects(network string) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.networkReconnects[network]
}

// Snapshot combines the counters with the given connection flags. Each
// network's ReconnectCount is filled in from the tracker.
func (h *Health) Snapshot(platformConnected bool, networks []NetworkStatus) HealthSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.now()
	uptime := now.Sub(h.startedAt)
	snap := HealthSnapshot{
		StartedAt:              h.startedAt,
		Uptime:                 uptime,
		UptimeSeconds:          uptime.Seconds(),
		UptimeFormatted:        FormatUptime(uptime),
		MessageCount:           h.messageCount,
		ErrorCount:             h.errorCount,
		PlatformConnected:      platformConnected,
		PlatformReconnectCount: h.platformReconnects,
		Networks:               make([]NetworkStatus, len(networks)),
	}
	for i, n := range networks {
		n.ReconnectCount = h.networkReconnects[n.Name]
		snap.Networks[i] = n
		if n.Connected {
			snap.IRCConnected = true
		}
	}
	if hours := uptime.Hours(); hours > 0 {
		snap.MessageRatePerHour = float64(h.messageCount) / hours
	}
	if !h.lastMessageAt.IsZero() {
		t := h.lastMessageAt
		snap.LastMessageAt = &t
	}
	if !h.lastErrorAt.IsZero() {
		t := h.lastErrorAt
		snap.LastErrorAt = &t
	}
	snap.Status = DeriveStatus(snap.ErrorCount, snap.PlatformConnected, snap.IRCConnected)
	return snap
}

// FormatUptime renders a duration as "1d 2h 3m 4s", omitting leading zero
// units.
func FormatUptime(d time.Duration) string {
	if d < time.Second {
		return "0s"
	}
	total := int64(d / time.Second)
	days := total / 86400
	hours := (total % 86400) / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60
	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	case hours > 0:
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}
