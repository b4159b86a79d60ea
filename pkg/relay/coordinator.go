// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/aiku/mattermost-irc-relay/pkg/telemetry"
)

const tracerName = "github.com/aiku/mattermost-irc-relay/pkg/relay"

// DefaultSendTimeout bounds a single outbound send to one target.
const DefaultSendTimeout = 30 * time.Second

// Options configures a Coordinator.
type Options struct {
	Log    zerolog.Logger
	Health *Health
	// RelayQuits posts a notice to the platform when an IRC user quits.
	RelayQuits bool
	// OnlineNotice is posted to the platform on its first successful connect.
	// Empty disables it.
	OnlineNotice string
	SendTimeout  time.Duration
}

// Coordinator owns the adapter set and forwards messages between the
// platform and the IRC networks.
type Coordinator struct {
	platform  Platform
	networks  []Network
	byName    map[string]Network
	multiNet  bool
	health    *Health
	log       zerolog.Logger
	opts      Options
	readyOnce sync.Once

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

var _ Handler = (*Coordinator)(nil)

// NewCoordinator validates the adapter set and builds a coordinator. It
// fails with ErrConfiguration when no network is configured.
func NewCoordinator(platform Platform, networks []Network, opts Options) (*Coordinator, error) {
	if platform == nil {
		return nil, fmt.Errorf("%w: no platform adapter", ErrConfiguration)
	}
	if len(networks) == 0 {
		return nil, fmt.Errorf("%w: at least one IRC network must be configured", ErrConfiguration)
	}
	byName := make(map[string]Network, len(networks))
	for _, n := range networks {
		if n == nil {
			return nil, fmt.Errorf("%w: nil network adapter", ErrConfiguration)
		}
		if _, dup := byName[n.Name()]; dup {
			return nil, fmt.Errorf("%w: duplicate network name %q", ErrConfiguration, n.Name())
		}
		byName[n.Name()] = n
	}
	if opts.Health == nil {
		opts.Health = NewHealth(nil)
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = DefaultSendTimeout
	}
	return &Coordinator{
		platform: platform,
		networks: networks,
		byName:   byName,
		multiNet: len(networks) > 1,
		health:   opts.Health,
		log:      opts.Log.With().Str("component", "coordinator").Logger(),
		opts:     opts,
	}, nil
}

// Health returns the coordinator's health tracker.
func (c *Coordinator) Health() *Health {
	return c.health
}

// Start launches the platform session and one goroutine per network. The
// goroutines run until Shutdown is called or ctx is done.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return ErrAlreadyStarted
	}
	c.started = true

	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})

	var wg sync.WaitGroup
	wg.Go(func() {
		if err := c.platform.Run(ctx, c); err != nil && !errors.Is(err, context.Canceled) {
			c.log.Error().Err(err).Msg("Platform session stopped")
		}
	})
	for _, n := range c.networks {
		wg.Go(func() {
			n.Run(ctx, c)
		})
	}
	go func() {
		wg.Wait()
		close(c.done)
	}()

	c.log.Info().
		Int("networks", len(c.networks)).
		Bool("multi_network", c.multiNet).
		Msg("Relay started")
	return nil
}

// Shutdown stops every adapter and waits for their goroutines to exit or
// for ctx to be done, whichever comes first.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		c.log.Info().Msg("Relay stopped")
		return nil
	case <-ctx.Done():
		c.log.Warn().Msg("Shutdown deadline reached before all sessions stopped")
		return ctx.Err()
	}
}

// Snapshot returns the current health snapshot.
func (c *Coordinator) Snapshot() HealthSnapshot {
	statuses := make([]NetworkStatus, len(c.networks))
	for i, n := range c.networks {
		state := n.State()
		statuses[i] = NetworkStatus{
			Name:      n.Name(),
			Address:   n.Address(),
			Kind:      n.Kind(),
			State:     state,
			Connected: state == StateConnected,
		}
	}
	return c.health.Snapshot(c.platform.Connected(), statuses)
}

// HandlePlatformMessage forwards a platform post to every connected network.
func (c *Coordinator) HandlePlatformMessage(ctx context.Context, msg *RelayMessage) {
	text, ok := FormatForIRC(msg)
	if !ok {
		c.log.Debug().Str("message_id", msg.ID).Msg("Dropping empty platform message")
		return
	}
	c.health.RecordMessage()

	ctx, span := telemetry.StartSpan(ctx, tracerName, "relay.platform_to_irc",
		attribute.String("relay.message_id", msg.ID),
		attribute.String("relay.sender", msg.Sender))
	defer span.End()

	c.log.Debug().
		Str("message_id", msg.ID).
		Str("sender", msg.Sender).
		Msg("Relaying platform message to IRC")
	if err := c.broadcast(ctx, text); err != nil {
		telemetry.RecordError(span, err)
	}
}

// HandleNetworkMessage posts an IRC message to the platform under the
// sender's identity.
func (c *Coordinator) HandleNetworkMessage(ctx context.Context, msg *RelayMessage) {
	text, ok := FormatForPlatform(msg)
	if !ok {
		c.log.Debug().Str("message_id", msg.ID).Str("network", msg.Network).Msg("Dropping empty IRC message")
		return
	}
	c.health.RecordMessage()

	address := msg.Network
	if n, ok := c.byName[msg.Network]; ok {
		address = n.Address()
	}
	identity := PlatformIdentity(msg.Sender, address, c.multiNet)

	ctx, span := telemetry.StartSpan(ctx, tracerName, "relay.irc_to_platform",
		attribute.String("relay.message_id", msg.ID),
		attribute.String("relay.network", msg.Network),
		attribute.String("relay.sender", identity))
	defer span.End()

	sendCtx, cancel := context.WithTimeout(ctx, c.opts.SendTimeout)
	defer cancel()
	if err := c.platform.SendAs(sendCtx, Identity{Username: identity}, text); err != nil {
		c.health.RecordError()
		telemetry.RecordError(span, err)
		c.log.Warn().Err(err).
			Str("message_id", msg.ID).
			Str("network", msg.Network).
			Msg("Failed to relay IRC message to platform, dropping")
		return
	}
	c.log.Debug().
		Str("message_id", msg.ID).
		Str("network", msg.Network).
		Str("identity", identity).
		Msg("Relayed IRC message to platform")
}

// HandleNetworkQuit posts a departure notice when quit relaying is enabled.
func (c *Coordinator) HandleNetworkQuit(ctx context.Context, network, nick, reason string) {
	if !c.opts.RelayQuits {
		return
	}
	address := network
	if n, ok := c.byName[network]; ok {
		address = n.Address()
	}
	notice := QuitNotice(PlatformIdentity(nick, address, c.multiNet), reason)
	sendCtx, cancel := context.WithTimeout(ctx, c.opts.SendTimeout)
	defer cancel()
	if err := c.platform.Send(sendCtx, notice); err != nil {
		c.health.RecordError()
		c.log.Warn().Err(err).Str("network", network).Str("nick", nick).Msg("Failed to post quit notice")
	}
}

// HandlePlatformReady posts the online notice once per process.
func (c *Coordinator) HandlePlatformReady(ctx context.Context) {
	if c.opts.OnlineNotice == "" {
		return
	}
	c.readyOnce.Do(func() {
		sendCtx, cancel := context.WithTimeout(ctx, c.opts.SendTimeout)
		defer cancel()
		if err := c.platform.Send(sendCtx, c.opts.OnlineNotice); err != nil {
			c.health.RecordError()
			c.log.Warn().Err(err).Msg("Failed to post online notice")
		}
	})
}

// Announce forwards text unmodified to the platform and to every connected
// network. It counts as one relayed message.
func (c *Coordinator) Announce(ctx context.Context, text string) {
	if strings.TrimSpace(text) == "" {
		c.log.Debug().Msg("Dropping empty announcement")
		return
	}
	c.health.RecordMessage()

	ctx, span := telemetry.StartSpan(ctx, tracerName, "relay.announce")
	defer span.End()

	sendCtx, cancel := context.WithTimeout(ctx, c.opts.SendTimeout)
	if err := c.platform.Send(sendCtx, text); err != nil {
		c.health.RecordError()
		telemetry.RecordError(span, err)
		c.log.Warn().Err(err).Msg("Failed to post announcement to platform")
	}
	cancel()

	if err := c.broadcast(ctx, text); err != nil {
		telemetry.RecordError(span, err)
	}
	c.log.Info().Msg("Announcement relayed")
}

var errNoConnectedNetworks = errors.New("no connected IRC networks")

// broadcast sends text to every connected network in parallel. Each failed
// target counts as one error and the first failure is returned. With no
// connected target the message is dropped and counts as exactly one error.
func (c *Coordinator) broadcast(ctx context.Context, text string) error {
	var targets []Network
	for _, n := range c.networks {
		if n.Connected() {
			targets = append(targets, n)
		}
	}
	if len(targets) == 0 {
		c.health.RecordError()
		c.log.Warn().Msg("No connected IRC networks, dropping message")
		return errNoConnectedNetworks
	}

	var eg errgroup.Group
	for _, n := range targets {
		eg.Go(func() error {
			sendCtx, cancel := context.WithTimeout(ctx, c.opts.SendTimeout)
			defer cancel()
			if err := n.Send(sendCtx, text); err != nil {
				c.health.RecordError()
				c.log.Warn().Err(err).Str("network", n.Name()).Msg("Failed to send to IRC network")
				return fmt.Errorf("%s: %w", n.Name(), err)
			}
			return nil
		})
	}
	return eg.Wait()
}
