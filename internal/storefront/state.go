package storefront

import (
	pkgerrors "github.com/angelmondragon/storefront-cart/pkg/errors"
)

// State is the session's authentication phase.
type State string

const (
	StateGuest       State = "guest"
	StateReconciling State = "reconciling"
	StateSynced      State = "synced"
)

// Event drives state transitions.
type Event string

const (
	EventLogin          Event = "login"
	EventMergeDone      Event = "merge_done"
	EventMergeAbandoned Event = "merge_abandoned"
	EventResume         Event = "resume"
	EventLogout         Event = "logout"
)

var transitions = map[State]map[Event]State{
	StateGuest: {
		EventLogin:  StateReconciling,
		EventResume: StateSynced,
	},
	StateReconciling: {
		EventMergeDone:      StateSynced,
		EventMergeAbandoned: StateSynced,
		EventLogout:         StateGuest,
	},
	StateSynced: {
		EventLogout: StateGuest,
	},
}

// Next returns the state reached from `from` on ev.
func Next(from State, ev Event) (State, error) {
	if to, ok := transitions[from][ev]; ok {
		return to, nil
	}
	return from, pkgerrors.New(pkgerrors.CodeStateConflict, "invalid cart session transition").
		WithDetails(map[string]any{"from": string(from), "event": string(ev)})
}
