// Copyright 2024-2026 Aiku AI

package ircnet

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/irc.v3"

	"github.com/aiku/mattermost-irc-relay/pkg/config"
	"github.com/aiku/mattermost-irc-relay/pkg/ircfmt"
)

const (
	dialTimeout   = 30 * time.Second
	pingFrequency = time.Minute
	pingTimeout   = 2 * time.Minute
	quitMessage   = "Relay shutting down"
	quitGrace     = 5 * time.Second
)

// Numerics the server sends when it refuses a JOIN.
var joinRejections = map[string]bool{
	"403": true, // ERR_NOSUCHCHANNEL
	"405": true, // ERR_TOOMANYCHANNELS
	"471": true, // ERR_CHANNELISFULL
	"473": true, // ERR_INVITEONLYCHAN
	"474": true, // ERR_BANNEDFROMCHAN
	"475": true, // ERR_BADCHANNELKEY
}

// ircSession is a classic IRC connection.
type ircSession struct {
	cfg       config.NetworkConfig
	events    Events
	log       zerolog.Logger
	dial      func(ctx context.Context) (net.Conn, error)
	quitGrace time.Duration

	mu     sync.Mutex
	client *irc.Client
}

func newIRCSession(cfg config.NetworkConfig, events Events, log zerolog.Logger) (Session, error) {
	s := &ircSession{
		cfg:       cfg,
		events:    events,
		log:       log.With().Str("session", "irc").Logger(),
		quitGrace: quitGrace,
	}
	s.dial = s.dialNetwork
	return s, nil
}

func (s *ircSession) dialNetwork(ctx context.Context) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: dialTimeout, KeepAlive: 30 * time.Second}
	if !s.cfg.TLS {
		return dialer.DialContext(ctx, "tcp", s.cfg.HostPort())
	}
	tlsDialer := &tls.Dialer{
		NetDialer: dialer,
		Config: &tls.Config{
			ServerName: s.cfg.Address,
			MinVersion: tls.VersionTLS12,
		},
	}
	return tlsDialer.DialContext(ctx, "tcp", s.cfg.HostPort())
}

func (s *ircSession) setClient(c *irc.Client) {
	s.mu.Lock()
	s.client = c
	s.mu.Unlock()
}

func (s *ircSession) Run(ctx context.Context) error {
	conn, err := s.dial(ctx)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", s.cfg.HostPort(), err)
	}
	defer conn.Close()

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fault := newSessionFault(cancel)

	client := irc.NewClient(conn, irc.ClientConfig{
		Nick:          s.cfg.Nick,
		Pass:          s.cfg.Password,
		User:          s.cfg.Nick,
		Name:          s.cfg.RealName,
		PingFrequency: pingFrequency,
		PingTimeout:   pingTimeout,
		Handler: irc.HandlerFunc(func(c *irc.Client, m *irc.Message) {
			defer fault.guard()
			if err := s.handle(c, m); err != nil {
				fault.fail(err)
			}
		}),
	})
	s.setClient(client)
	defer s.setClient(nil)

	// On shutdown the server gets quitGrace to close the connection after
	// our QUIT. A close ends RunContext on its own.
	go func() {
		select {
		case <-ctx.Done():
		case <-runCtx.Done():
			return
		}
		s.mu.Lock()
		_ = client.WriteMessage(&irc.Message{Command: "QUIT", Params: []string{quitMessage}})
		s.mu.Unlock()
		select {
		case <-runCtx.Done():
		case <-time.After(s.quitGrace):
			cancel()
		}
	}()

	err = client.RunContext(runCtx)
	if ctx.Err() != nil {
		return nil
	}
	if ferr := fault.Err(); ferr != nil {
		return ferr
	}
	if err == nil {
		return ErrDisconnected
	}
	return fmt.Errorf("%w: %w", ErrDisconnected, err)
}

// handle processes one inbound line. A non-nil error ends the session.
func (s *ircSession) handle(c *irc.Client, m *irc.Message) error {
	switch m.Command {
	case "001":
		s.log.Debug().Str("nick", c.CurrentNick()).Msg("Registered with server")
		s.mu.Lock()
		err := c.WriteMessage(&irc.Message{Command: "JOIN", Params: []string{s.cfg.Channel}})
		s.mu.Unlock()
		if err != nil {
			return fmt.Errorf("failed to send JOIN: %w", err)
		}
	case "JOIN":
		if m.Prefix == nil || len(m.Params) < 1 || !strings.EqualFold(m.Prefix.Name, c.CurrentNick()) {
			return nil
		}
		if MatchChannel(m.Params[0], s.cfg.Channel) {
			s.events.OnConnected()
		}
	case "PRIVMSG":
		if m.Prefix == nil || len(m.Params) < 2 {
			return nil
		}
		if strings.EqualFold(m.Prefix.Name, c.CurrentNick()) {
			return nil
		}
		text, action := ircfmt.ParseAction(m.Params[len(m.Params)-1])
		s.events.OnMessage(Inbound{
			Nick:    m.Prefix.Name,
			Channel: m.Params[0],
			Text:    text,
			Action:  action,
		})
	case "QUIT":
		if m.Prefix == nil {
			return nil
		}
		reason := ""
		if len(m.Params) > 0 {
			reason = m.Params[len(m.Params)-1]
		}
		s.events.OnQuit(m.Prefix.Name, reason)
	case "ERROR":
		s.log.Warn().Strs("params", m.Params).Msg("Server sent ERROR")
	default:
		if joinRejections[m.Command] && len(m.Params) >= 2 && MatchChannel(m.Params[1], s.cfg.Channel) {
			return fmt.Errorf("%w: %s %s: %s", ErrJoinRejected, m.Command, m.Params[1], m.Trailing())
		}
	}
	return nil
}

func (s *ircSession) Send(ctx context.Context, channel, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return ErrNotConnected
	}
	for _, line := range ircfmt.SplitLines(text, ircfmt.MaxLineBytes) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.client.WriteMessage(&irc.Message{Command: "PRIVMSG", Params: []string{channel, line}}); err != nil {
			return fmt.Errorf("failed to write PRIVMSG: %w", err)
		}
	}
	return nil
}
