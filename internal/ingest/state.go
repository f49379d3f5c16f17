package ingest

import (
	"fmt"
	"sync/atomic"
)

// State is the lifecycle phase of a CategoryWatcher.
type State int32

const (
	// StateInitializing registers the inbox with the file watcher.
	StateInitializing State = iota
	// StateDraining stores files that were already in the inbox.
	StateDraining
	// StateWatching handles live events.
	StateWatching
	// StateStopped is terminal.
	StateStopped
)

// String returns the lower-case state name used in logs and status.
func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateDraining:
		return "draining"
	case StateWatching:
		return "watching"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// MarshalText lets State render by name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name.
func (s *State) UnmarshalText(text []byte) error {
	for st := StateInitializing; st <= StateStopped; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown state: %q", text)
}

type stateBox struct {
	v atomic.Int32
}

func (b *stateBox) load() State   { return State(b.v.Load()) }
func (b *stateBox) store(s State) { b.v.Store(int32(s)) }
