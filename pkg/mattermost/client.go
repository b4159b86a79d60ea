// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package mattermost is the platform side of the relay: a REST client and
// WebSocket session bound to a single Mattermost channel.
package mattermost

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattermost/mattermost/server/public/model"
	"github.com/rs/zerolog"
	"go.mau.fi/util/exhttp"
	"go.mau.fi/util/exsync"

	"github.com/aiku/mattermost-irc-relay/pkg/config"
	"github.com/aiku/mattermost-irc-relay/pkg/relay"
)

const (
	DefaultReconnectDelay = 5 * time.Second
	DefaultRequestTimeout = 30 * time.Second
)

// ErrNotConnected is returned when a send needs session data that is only
// known after the first successful connect.
var ErrNotConnected = errors.New("mattermost session not connected")

// ErrHandlerPanic wraps a panic recovered while dispatching an event.
var ErrHandlerPanic = errors.New("event handler panicked")

// eventStream is the subset of *model.WebSocketClient used by the session.
// Tests substitute a channel-backed fake.
type eventStream interface {
	Events() <-chan *model.WebSocketEvent
	Close()
}

type wsStream struct {
	ws *model.WebSocketClient
}

func (s wsStream) Events() <-chan *model.WebSocketEvent { return s.ws.EventChannel }
func (s wsStream) Close()                                { s.ws.Close() }

// Options configures a Client.
type Options struct {
	Log      zerolog.Logger
	Recorder relay.Recorder
	// After replaces time.After for the reconnect delay.
	After func(time.Duration) <-chan time.Time
}

// Client is the Mattermost platform adapter. It implements relay.Platform.
type Client struct {
	cfg      config.MattermostConfig
	log      zerolog.Logger
	recorder relay.Recorder
	after    func(time.Duration) <-chan time.Time

	api        *model.Client4
	http       *http.Client
	openStream func(ctx context.Context) (eventStream, error)

	connected *exsync.Event
	names     *exsync.Map[string, string]

	mu     sync.RWMutex
	userID string
	teamID string

	webhookMu sync.Mutex
	webhookID string
	fallback  atomic.Bool
}

var _ relay.Platform = (*Client)(nil)

// NewClient creates a Mattermost client for the configured channel. No
// connection is made until Run.
func NewClient(cfg config.MattermostConfig, opts Options) *Client {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	httpClient := exhttp.SensibleClientSettings.WithGlobalTimeout(cfg.RequestTimeout).Compile()
	api := model.NewAPIv4Client(cfg.ServerURL)
	api.SetToken(cfg.Token)
	api.HTTPClient = httpClient

	c := &Client{
		cfg:       cfg,
		log:       opts.Log.With().Str("component", "mm_client").Str("channel_id", cfg.ChannelID).Logger(),
		recorder:  opts.Recorder,
		after:     opts.After,
		api:       api,
		http:      httpClient,
		connected: exsync.NewEvent(),
		names:     exsync.NewMap[string, string](),
		webhookID: cfg.WebhookID,
	}
	c.openStream = c.connectWebSocket
	if c.after == nil {
		c.after = time.After
	}
	if c.recorder == nil {
		c.recorder = relay.NewHealth(nil)
	}
	return c
}

// Connected reports whether the WebSocket session is live.
func (c *Client) Connected() bool {
	return c.connected.IsSet()
}

func (c *Client) session() (userID, teamID string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID, c.teamID
}

// Run keeps a session open until ctx is done. A lost session is reopened
// after the configured delay, forever. Every successful connect after the
// first counts as one platform reconnect.
func (c *Client) Run(ctx context.Context, h relay.Handler) error {
	everConnected := false
	for ctx.Err() == nil {
		stream, err := c.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			c.recorder.RecordError()
			c.log.Error().Err(err).Dur("retry_in", c.cfg.ReconnectDelay).Msg("Failed to connect to Mattermost")
		} else {
			if everConnected {
				c.recorder.RecordPlatformReconnect()
			}
			everConnected = true
			c.setConnected(true)
			if err := c.guard(func() { h.HandlePlatformReady(ctx) }); err != nil {
				c.recorder.RecordError()
				c.log.Error().Err(err).Msg("Ready handler failed")
			}
			c.listen(ctx, stream, h)
			c.setConnected(false)
		}
		if ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
		case <-c.after(c.cfg.ReconnectDelay):
		}
	}
	c.log.Info().Msg("Mattermost session stopped")
	return nil
}

func (c *Client) setConnected(connected bool) {
	if connected {
		c.connected.Set()
	} else {
		c.connected.Clear()
	}
	c.recorder.RecordConnected(relay.SidePlatform, "", connected)
}

// connect verifies the token, resolves the relay channel and opens the
// event stream.
func (c *Client) connect(ctx context.Context) (eventStream, error) {
	c.log.Info().Str("server_url", c.cfg.ServerURL).Msg("Connecting to Mattermost")

	me, _, err := c.api.GetMe(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to verify Mattermost session: %w", err)
	}
	channel, _, err := c.api.GetChannel(ctx, c.cfg.ChannelID, "")
	if err != nil {
		return nil, fmt.Errorf("failed to get channel %s: %w", c.cfg.ChannelID, err)
	}
	c.mu.Lock()
	c.userID = me.Id
	c.teamID = channel.TeamId
	c.mu.Unlock()
	c.log.Info().
		Str("user_id", me.Id).
		Str("username", me.Username).
		Str("channel_name", channel.Name).
		Msg("Authenticated")

	stream, err := c.openStream(ctx)
	if err != nil {
		return nil, err
	}
	return stream, nil
}

func (c *Client) connectWebSocket(_ context.Context) (eventStream, error) {
	wsURL := httpToWS(c.cfg.ServerURL)
	ws, err := model.NewWebSocketClient4(wsURL, c.api.AuthToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create websocket client: %w", err)
	}
	ws.Listen()
	c.log.Info().Str("ws_url", wsURL).Msg("WebSocket connected")
	return wsStream{ws: ws}, nil
}

// httpToWS converts an HTTP(S) URL to a WS(S) URL.
func httpToWS(url string) string {
	if strings.HasPrefix(url, "https://") {
		return "wss://" + strings.TrimPrefix(url, "https://")
	}
	if strings.HasPrefix(url, "http://") {
		return "ws://" + strings.TrimPrefix(url, "http://")
	}
	return url
}

// guard runs fn and turns a panic into an error.
func (c *Client) guard(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	fn()
	return nil
}

// listen dispatches stream events until ctx is done or the stream closes.
// An unexpected close or a handler panic counts as one error and ends the
// session.
func (c *Client) listen(ctx context.Context, stream eventStream, h relay.Handler) {
	defer stream.Close()
	events := stream.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				c.recorder.RecordError()
				c.log.Warn().Msg("WebSocket event channel closed, reconnecting")
				return
			}
			if evt == nil {
				continue
			}
			if err := c.guard(func() { c.handleEvent(ctx, evt, h) }); err != nil {
				c.recorder.RecordError()
				c.log.Error().Err(err).Msg("Event dispatch failed, reconnecting")
				return
			}
		}
	}
}

// disableGroupHighlightProp stops @channel, @all and @here in a post from
// notifying the channel.
const disableGroupHighlightProp = "disable_group_highlight"

// Send posts text as the relay's own account. Group highlights are disabled.
func (c *Client) Send(ctx context.Context, text string) error {
	post := &model.Post{ChannelId: c.cfg.ChannelID, Message: text}
	post.AddProp(disableGroupHighlightProp, true)
	if _, _, err := c.api.CreatePost(ctx, post); err != nil {
		return fmt.Errorf("failed to create post: %w", err)
	}
	return nil
}
