// Copyright 2024-2026 Aiku AI

package ircnet

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiku/mattermost-irc-relay/pkg/config"
	"github.com/aiku/mattermost-irc-relay/pkg/relay"
)

var testNetworkConfig = config.NetworkConfig{
	Name:    "libera",
	Kind:    config.KindIRC,
	Address: "irc.libera.chat",
	Port:    6697,
	TLS:     true,
	Channel: "#relay",
	Nick:    "mm-relay",
}

// fakeSession runs a test-provided function in place of a real connection.
type fakeSession struct {
	run    func(ctx context.Context, ev Events) error
	events Events

	mu   sync.Mutex
	sent []string
}

func (s *fakeSession) Run(ctx context.Context) error {
	return s.run(ctx, s.events)
}

func (s *fakeSession) Send(_ context.Context, channel, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, channel+" "+text)
	return nil
}

func (s *fakeSession) sends() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

// sessionFactory returns a factory that builds fakeSessions around run and
// reports each created session on the returned channel.
func sessionFactory(run func(ctx context.Context, ev Events) error) (SessionFactory, <-chan *fakeSession) {
	created := make(chan *fakeSession, 16)
	return func(_ config.NetworkConfig, ev Events, _ zerolog.Logger) (Session, error) {
		s := &fakeSession{run: run, events: ev}
		created <- s
		return s, nil
	}, created
}

type quitEvent struct {
	network, nick, reason string
}

// recordingHandler captures events delivered to the relay handler.
type recordingHandler struct {
	messages chan *relay.RelayMessage
	quits    chan quitEvent
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		messages: make(chan *relay.RelayMessage, 16),
		quits:    make(chan quitEvent, 16),
	}
}

func (h *recordingHandler) HandlePlatformMessage(context.Context, *relay.RelayMessage) {}
func (h *recordingHandler) HandlePlatformReady(context.Context)                        {}

func (h *recordingHandler) HandleNetworkMessage(_ context.Context, msg *relay.RelayMessage) {
	h.messages <- msg
}

func (h *recordingHandler) HandleNetworkQuit(_ context.Context, network, nick, reason string) {
	h.quits <- quitEvent{network: network, nick: nick, reason: reason}
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		panic("unreachable")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(time.Millisecond)
	}
}
