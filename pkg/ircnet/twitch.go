// Copyright 2024-2026 Aiku AI

package ircnet

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	twitch "github.com/gempir/go-twitch-irc/v4"
	"github.com/rs/zerolog"

	"github.com/aiku/mattermost-irc-relay/pkg/config"
	"github.com/aiku/mattermost-irc-relay/pkg/ircfmt"
)

// twitchChatClient is the subset of *twitch.Client used by the session.
type twitchChatClient interface {
	OnConnect(func())
	OnPrivateMessage(func(twitch.PrivateMessage))
	Join(channels ...string)
	Connect() error
	Disconnect() error
	Say(channel, text string)
}

// twitchSession is a Twitch chat connection.
type twitchSession struct {
	cfg       config.NetworkConfig
	events    Events
	log       zerolog.Logger
	newClient func() twitchChatClient

	mu     sync.Mutex
	client twitchChatClient
}

func newTwitchSession(cfg config.NetworkConfig, events Events, log zerolog.Logger) (Session, error) {
	s := &twitchSession{
		cfg:    cfg,
		events: events,
		log:    log.With().Str("session", "twitch").Logger(),
	}
	s.newClient = func() twitchChatClient {
		client := twitch.NewClient(cfg.Nick, cfg.Password)
		client.IrcAddress = cfg.HostPort()
		client.TLS = cfg.TLS
		return client
	}
	return s, nil
}

func twitchChannel(ch string) string {
	return strings.ToLower(trimChannelMarker(ch))
}

func (s *twitchSession) Run(ctx context.Context) error {
	client := s.newClient()
	fault := newSessionFault(func() { _ = client.Disconnect() })
	client.OnConnect(func() {
		defer fault.guard()
		s.events.OnConnected()
	})
	client.OnPrivateMessage(func(msg twitch.PrivateMessage) {
		defer fault.guard()
		s.events.OnMessage(Inbound{
			Nick:        msg.User.Name,
			DisplayName: msg.User.DisplayName,
			Channel:     msg.Channel,
			Text:        msg.Message,
			Action:      msg.Action,
		})
	})
	client.Join(twitchChannel(s.cfg.Channel))

	s.mu.Lock()
	s.client = client
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.client = nil
		s.mu.Unlock()
	}()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = client.Disconnect()
		case <-done:
		}
	}()

	err := client.Connect()
	if ctx.Err() != nil {
		return nil
	}
	if ferr := fault.Err(); ferr != nil {
		return ferr
	}
	if err == nil || errors.Is(err, twitch.ErrClientDisconnected) {
		return ErrDisconnected
	}
	return fmt.Errorf("%w: %w", ErrDisconnected, err)
}

func (s *twitchSession) Send(ctx context.Context, channel, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return ErrNotConnected
	}
	for _, line := range ircfmt.SplitLines(ircfmt.StripCodes(text), ircfmt.MaxLineBytes) {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.client.Say(twitchChannel(channel), line)
	}
	return nil
}
