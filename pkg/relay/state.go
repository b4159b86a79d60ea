// Copyright 2024-2026 Aiku AI

package relay

import (
	"fmt"
	"sync"
)

// ConnectionState is the lifecycle state of a single adapter session.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// MarshalText renders the state by name in JSON snapshots.
func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

var stateEdges = map[ConnectionState][]ConnectionState{
	StateDisconnected: {StateConnecting},
	StateConnecting:   {StateConnected, StateFailed, StateDisconnected},
	StateConnected:    {StateReconnecting, StateFailed, StateDisconnected},
	StateReconnecting: {StateConnecting, StateDisconnected},
	StateFailed:       {StateReconnecting, StateDisconnected},
}

// CanTransition reports whether from -> to is one of the defined edges.
func CanTransition(from, to ConnectionState) bool {
	for _, next := range stateEdges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// StateCell holds one adapter's ConnectionState. The zero value is
// StateDisconnected and is ready to use.
type StateCell struct {
	mu    sync.RWMutex
	state ConnectionState
}

// Get returns the current state.
func (c *StateCell) Get() ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Transition moves the cell to the given state. Moving to the current state
// is a no-op. Undefined edges are rejected and leave the state unchanged.
func (c *StateCell) Transition(to ConnectionState) (from ConnectionState, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	from = c.state
	if from == to {
		return from, nil
	}
	if !CanTransition(from, to) {
		return from, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	c.state = to
	return from, nil
}
