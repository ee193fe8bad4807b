package server

import (
	"fmt"
	"sync"
)

// State is one node in the guest server's connection lifecycle.
type State int

const (
	StateInitializing State = iota
	StateRunning
	StateReconnecting
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "INITIALIZING"
	case StateRunning:
		return "RUNNING"
	case StateReconnecting:
		return "RECONNECTING"
	case StateStopping:
		return "STOPPING"
	case StateStopped:
		return "STOPPED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// stateBox is a small mutex-guarded holder so the loop goroutine and an
// external Stop()/State() caller never race on the current state.
type stateBox struct {
	mu sync.Mutex
	v  State
}

func (b *stateBox) set(v State) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.v = v
}

func (b *stateBox) get() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.v
}
