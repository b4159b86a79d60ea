// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package ircnet hosts the IRC-style network adapters of the relay. Each
// configured network gets one Network, which runs a Session on its own
// goroutine and restarts it after every fault.
package ircnet

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiku/mattermost-irc-relay/pkg/config"
	"github.com/aiku/mattermost-irc-relay/pkg/relay"
)

// DefaultRestartDelay is the fixed backoff between a fault and the restart.
const DefaultRestartDelay = 5 * time.Second

var (
	// ErrDisconnected is returned by a session that lost its connection.
	ErrDisconnected = errors.New("disconnected from network")
	// ErrNotConnected is returned when sending to a network without a live
	// session.
	ErrNotConnected = errors.New("network not connected")
	// ErrSessionPanic wraps a panic recovered from a session.
	ErrSessionPanic = errors.New("session panicked")
	// ErrUnknownKind is returned for a network kind with no session factory.
	ErrUnknownKind = errors.New("unknown network kind")
	// ErrJoinRejected is returned when the server refuses to let the session
	// into the configured channel.
	ErrJoinRejected = errors.New("channel join rejected")
)

// sessionFault latches the first fault raised on a session's reader
// goroutine and stops the session, so Run can return it to the host.
type sessionFault struct {
	stop func()

	mu  sync.Mutex
	err error
}

func newSessionFault(stop func()) *sessionFault {
	return &sessionFault{stop: stop}
}

func (f *sessionFault) fail(err error) {
	f.mu.Lock()
	first := f.err == nil
	if first {
		f.err = err
	}
	f.mu.Unlock()
	if first {
		f.stop()
	}
}

// guard must be deferred directly by each callback.
func (f *sessionFault) guard() {
	if r := recover(); r != nil {
		f.fail(fmt.Errorf("%w: %v", ErrSessionPanic, r))
	}
}

func (f *sessionFault) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Session is one live connection to an IRC-style network.
type Session interface {
	// Run connects and processes events until the connection is lost or ctx
	// is done. It returns nil only when ctx is done.
	Run(ctx context.Context) error
	// Send writes text to channel, one message per line.
	Send(ctx context.Context, channel, text string) error
}

// Inbound is a channel message received by a session.
type Inbound struct {
	Nick        string
	DisplayName string
	Channel     string
	Text        string
	Action      bool
}

// Events receives inbound events from a session. Calls come from the
// session's single reader goroutine, in wire order.
type Events interface {
	OnConnected()
	OnMessage(msg Inbound)
	OnQuit(nick, reason string)
}

// SessionFactory creates a session for cfg.
type SessionFactory func(cfg config.NetworkConfig, events Events, log zerolog.Logger) (Session, error)

var factories = map[string]SessionFactory{
	config.KindIRC:    newIRCSession,
	config.KindTwitch: newTwitchSession,
}

// Options configures a Network.
type Options struct {
	Log          zerolog.Logger
	Recorder     relay.Recorder
	RestartDelay time.Duration
	// Factory overrides the session factory chosen by the network kind.
	Factory SessionFactory
	// After replaces time.After for the restart backoff.
	After func(time.Duration) <-chan time.Time
}

// Network hosts the session of one configured network.
type Network struct {
	cfg          config.NetworkConfig
	log          zerolog.Logger
	recorder     relay.Recorder
	factory      SessionFactory
	restartDelay time.Duration
	after        func(time.Duration) <-chan time.Time

	state relay.StateCell

	mu      sync.RWMutex
	session Session
}

var _ relay.Network = (*Network)(nil)

// New creates a network adapter. The session is not started until Run.
func New(cfg config.NetworkConfig, opts Options) *Network {
	n := &Network{
		cfg:          cfg,
		log:          opts.Log.With().Str("component", "irc_network").Str("network", cfg.Name).Logger(),
		recorder:     opts.Recorder,
		factory:      opts.Factory,
		restartDelay: opts.RestartDelay,
		after:        opts.After,
	}
	if n.factory == nil {
		n.factory = factories[cfg.Kind]
	}
	if n.restartDelay <= 0 {
		n.restartDelay = DefaultRestartDelay
	}
	if n.after == nil {
		n.after = time.After
	}
	if n.recorder == nil {
		n.recorder = relay.NewHealth(nil)
	}
	return n
}

func (n *Network) Name() string    { return n.cfg.Name }
func (n *Network) Address() string { return n.cfg.Address }
func (n *Network) Kind() string    { return n.cfg.Kind }

// State returns the session's connection state.
func (n *Network) State() relay.ConnectionState {
	return n.state.Get()
}

// Connected reports whether the session is registered and in the channel.
func (n *Network) Connected() bool {
	return n.state.Get() == relay.StateConnected
}

func (n *Network) transition(to relay.ConnectionState) {
	from, err := n.state.Transition(to)
	if err != nil {
		n.log.Warn().Err(err).Msg("Ignoring connection state change")
		return
	}
	if from == to {
		return
	}
	n.log.Debug().Stringer("from", from).Stringer("to", to).Msg("Connection state changed")
	if from == relay.StateConnected || to == relay.StateConnected {
		n.recorder.RecordConnected(relay.SideIRC, n.cfg.Name, to == relay.StateConnected)
	}
}

func (n *Network) setSession(s Session) {
	n.mu.Lock()
	n.session = s
	n.mu.Unlock()
}

// Run hosts the session until ctx is done. Every fault is logged, counted as
// one error and followed by the fixed restart delay; every restart after a
// fault counts as one reconnect. It never gives up.
func (n *Network) Run(ctx context.Context, h relay.Handler) {
	faulted := false
	for {
		if faulted {
			n.recorder.RecordNetworkReconnect(n.cfg.Name)
			n.log.Info().Msg("Restarting network session")
		}
		err := n.runOnce(ctx, h)
		if ctx.Err() != nil {
			n.transition(relay.StateDisconnected)
			n.log.Info().Msg("Network session stopped")
			return
		}

		n.recorder.RecordError()
		n.transition(relay.StateFailed)
		n.log.Error().Err(err).
			Dur("restart_delay", n.restartDelay).
			Msg("Network session failed, restarting after delay")

		select {
		case <-ctx.Done():
			n.transition(relay.StateDisconnected)
			return
		case <-n.after(n.restartDelay):
		}
		n.transition(relay.StateReconnecting)
		faulted = true
	}
}

func (n *Network) runOnce(ctx context.Context, h relay.Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrSessionPanic, r)
		}
	}()

	n.transition(relay.StateConnecting)
	if n.factory == nil {
		return fmt.Errorf("%w %q", ErrUnknownKind, n.cfg.Kind)
	}
	session, err := n.factory(n.cfg, &sessionEvents{n: n, ctx: ctx, h: h}, n.log)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	n.setSession(session)
	defer n.setSession(nil)

	n.log.Info().Str("address", n.cfg.HostPort()).Bool("tls", n.cfg.TLS).Msg("Connecting to network")
	err = session.Run(ctx)
	if err == nil && ctx.Err() == nil {
		err = ErrDisconnected
	}
	return err
}

// Send writes text to the configured channel.
func (n *Network) Send(ctx context.Context, text string) error {
	n.mu.RLock()
	session := n.session
	n.mu.RUnlock()
	if session == nil || !n.Connected() {
		return ErrNotConnected
	}
	return session.Send(ctx, n.cfg.Channel, text)
}

// MatchChannel compares two channel names case-insensitively, ignoring one
// leading channel-type marker on either side.
func MatchChannel(a, b string) bool {
	return strings.EqualFold(trimChannelMarker(a), trimChannelMarker(b))
}

func trimChannelMarker(ch string) string {
	if ch != "" && strings.ContainsRune("#&+!", rune(ch[0])) {
		return ch[1:]
	}
	return ch
}

func (n *Network) isSelf(nick string) bool {
	return strings.EqualFold(nick, n.cfg.Nick)
}

// sessionEvents adapts session callbacks of one run to the relay handler.
type sessionEvents struct {
	n   *Network
	ctx context.Context
	h   relay.Handler
}

func (e *sessionEvents) OnConnected() {
	e.n.transition(relay.StateConnected)
	e.n.log.Info().Str("channel", e.n.cfg.Channel).Msg("Connected to network")
}

func (e *sessionEvents) OnMessage(msg Inbound) {
	if !MatchChannel(msg.Channel, e.n.cfg.Channel) {
		return
	}
	if e.n.isSelf(msg.Nick) {
		return
	}
	sender := msg.DisplayName
	if sender == "" {
		sender = msg.Nick
	}
	rm := relay.NewMessage(relay.SideIRC, e.n.cfg.Name, sender, msg.Text)
	rm.Action = msg.Action
	e.n.log.Debug().Str("message_id", rm.ID).Str("sender", sender).Msg("Received channel message")
	e.h.HandleNetworkMessage(e.ctx, rm)
}

func (e *sessionEvents) OnQuit(nick, reason string) {
	if e.n.isSelf(nick) {
		return
	}
	e.h.HandleNetworkQuit(e.ctx, e.n.cfg.Name, nick, reason)
}
