package messaging

import (
	"fmt"

	"github.com/pkg/errors"
)

// State of a messaging session.
type State int

const (
	StateDisconnected State = iota
	StateInitializing
	StateAwaitingScan
	StateReady
)

var stateNames = [...]string{
	StateDisconnected: "disconnected",
	StateInitializing: "connecting",
	StateAwaitingScan: "awaiting_scan",
	StateReady:        "connected",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	for st, name := range stateNames {
		if name == string(text) {
			*s = State(st)
			return nil
		}
	}
	return errors.Errorf("unknown session state %q", text)
}

// Event drives the session state machine.
type Event int

const (
	EventConnectRequested Event = iota
	EventChallengeIssued
	EventAuthenticated
	EventAuthFailed
	EventDisconnected
)

var eventNames = [...]string{
	EventConnectRequested: "connect_requested",
	EventChallengeIssued:  "challenge_issued",
	EventAuthenticated:    "authenticated",
	EventAuthFailed:       "auth_failed",
	EventDisconnected:     "disconnected",
}

func (e Event) String() string {
	if e < 0 || int(e) >= len(eventNames) {
		return fmt.Sprintf("Event(%d)", int(e))
	}
	return eventNames[e]
}

var ErrIllegalTransition = errors.New("illegal session transition")

// transitions lists every legal (state, event) pair.
// A stored session resumes without a challenge, hence Initializing -> Ready.
var transitions = map[State]map[Event]State{
	StateDisconnected: {
		EventConnectRequested: StateInitializing,
	},
	StateInitializing: {
		EventChallengeIssued: StateAwaitingScan,
		EventAuthenticated:   StateReady,
		EventAuthFailed:      StateDisconnected,
		EventDisconnected:    StateDisconnected,
	},
	StateAwaitingScan: {
		EventChallengeIssued: StateAwaitingScan,
		EventAuthenticated:   StateReady,
		EventAuthFailed:      StateDisconnected,
		EventDisconnected:    StateDisconnected,
	},
	StateReady: {
		EventAuthenticated: StateReady,
		EventDisconnected:  StateDisconnected,
	},
}

// Next returns the state reached from s on e.
func Next(s State, e Event) (State, error) {
	if to, ok := transitions[s][e]; ok {
		return to, nil
	}
	return s, errors.Wrapf(ErrIllegalTransition, "%s on %s", e, s)
}
