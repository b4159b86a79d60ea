// Copyright 2024-2026 Aiku AI

package relay

import (
	"context"
	"sync"
)

type sentAs struct {
	identity Identity
	text     string
}

// fakePlatform records every post made through it.
type fakePlatform struct {
	mu        sync.Mutex
	connected bool
	sendErr   error
	sent      []string
	sentAs    []sentAs
	running   chan struct{}
}

func newFakePlatform(connected bool) *fakePlatform {
	return &fakePlatform{connected: connected, running: make(chan struct{})}
}

func (p *fakePlatform) Run(ctx context.Context, h Handler) error {
	close(p.running)
	h.HandlePlatformReady(ctx)
	<-ctx.Done()
	return ctx.Err()
}

func (p *fakePlatform) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *fakePlatform) Send(_ context.Context, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sendErr != nil {
		return p.sendErr
	}
	p.sent = append(p.sent, text)
	return nil
}

func (p *fakePlatform) SendAs(_ context.Context, identity Identity, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sendErr != nil {
		return p.sendErr
	}
	p.sentAs = append(p.sentAs, sentAs{identity: identity, text: text})
	return nil
}

func (p *fakePlatform) posts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.sent...)
}

func (p *fakePlatform) identityPosts() []sentAs {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]sentAs(nil), p.sentAs...)
}

// fakeNetwork is a Network whose connection flag and send result are set by
// the test.
type fakeNetwork struct {
	name    string
	address string

	mu       sync.Mutex
	state    ConnectionState
	sendErr  error
	attempts int
	sent     []string
	stopped  chan struct{}
}

func newFakeNetwork(name, address string, connected bool) *fakeNetwork {
	n := &fakeNetwork{name: name, address: address, stopped: make(chan struct{})}
	if connected {
		n.state = StateConnected
	}
	return n
}

func (n *fakeNetwork) Name() string    { return n.name }
func (n *fakeNetwork) Address() string { return n.address }
func (n *fakeNetwork) Kind() string    { return "irc" }

func (n *fakeNetwork) Run(ctx context.Context, _ Handler) {
	<-ctx.Done()
	close(n.stopped)
}

func (n *fakeNetwork) State() ConnectionState {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

func (n *fakeNetwork) Connected() bool {
	return n.State() == StateConnected
}

func (n *fakeNetwork) Send(_ context.Context, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.attempts++
	if n.sendErr != nil {
		return n.sendErr
	}
	n.sent = append(n.sent, text)
	return nil
}

func (n *fakeNetwork) sends() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.sent...)
}

func (n *fakeNetwork) sendAttempts() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.attempts
}
