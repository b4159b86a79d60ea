// Copyright 2024-2026 Aiku AI

package relay

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrConfiguration is returned when the relay cannot start with the given
	// configuration. Callers should abort startup.
	ErrConfiguration = errors.New("configuration fault")
	// ErrIllegalTransition is returned when an adapter tries to move along an
	// undefined ConnectionState edge.
	ErrIllegalTransition = errors.New("illegal connection state transition")
	// ErrAlreadyStarted is returned by Start when the coordinator is running.
	ErrAlreadyStarted = errors.New("coordinator already started")
)

// Side identifies which half of the relay an event came from.
type Side string

const (
	SidePlatform Side = "mattermost"
	SideIRC      Side = "irc"
	SideAPI      Side = "api"
)

// RelayMessage is a normalized inbound message. It is never stored.
type RelayMessage struct {
	ID          string
	Origin      Side
	Network     string
	Sender      string
	Body        string
	Attachments []string
	Action      bool
	ReceivedAt  time.Time
}

// NewMessage builds a RelayMessage with a fresh id and receive time.
func NewMessage(origin Side, network, sender, body string) *RelayMessage {
	return &RelayMessage{
		ID:         uuid.NewString(),
		Origin:     origin,
		Network:    network,
		Sender:     sender,
		Body:       body,
		ReceivedAt: time.Now(),
	}
}

// Identity is the display identity used for identity-preserving posts.
type Identity struct {
	Username string
	IconURL  string
}

// Handler receives normalized inbound events from the adapters.
type Handler interface {
	HandlePlatformMessage(ctx context.Context, msg *RelayMessage)
	HandleNetworkMessage(ctx context.Context, msg *RelayMessage)
	HandleNetworkQuit(ctx context.Context, network, nick, reason string)
	HandlePlatformReady(ctx context.Context)
}

// Recorder receives counter increments and connection flag changes from
// adapters. *Health implements it.
type Recorder interface {
	RecordError()
	RecordPlatformReconnect()
	RecordNetworkReconnect(network string)
	RecordConnected(side Side, network string, connected bool)
}

// Platform is the primary chat platform side of the relay.
type Platform interface {
	// Run owns the platform session until ctx is done, reconnecting on its own.
	Run(ctx context.Context, h Handler) error
	Connected() bool
	// Send posts text as the relay's own account.
	Send(ctx context.Context, text string) error
	// SendAs posts text under the given identity, falling back to a plain
	// post when identity-preserving posting is unavailable.
	SendAs(ctx context.Context, identity Identity, text string) error
}

// Network is one IRC-style network.
type Network interface {
	Name() string
	Address() string
	Kind() string
	// Run hosts the network's session until ctx is done. It never returns
	// early on a session fault.
	Run(ctx context.Context, h Handler)
	State() ConnectionState
	Connected() bool
	// Send writes text to the network's configured channel.
	Send(ctx context.Context, text string) error
}
