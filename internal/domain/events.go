package domain

import "time"

// SessionEvent is published by a Peer Session whenever its state changes or
// a remote track arrives.
type SessionEvent struct {
	SessionID string
	State     SessionState
	TrackKind string
	Err       error
}

// StatusEvent is published by the Router for status observers.
type StatusEvent struct {
	SessionID     string    `json:"id"`
	Role          Role      `json:"role"`
	DisplayName   string    `json:"name"`
	Status        string    `json:"status"`
	Label         string    `json:"label"`
	BoundSourceID string    `json:"boundSourceId,omitempty"`
	Error         string    `json:"error,omitempty"`
	Removed       bool      `json:"removed,omitempty"`
	At            time.Time `json:"at"`
}

// SourceView is a read-only copy of a Source registry entry.
type SourceView struct {
	ID     string       `json:"id"`
	Name   string       `json:"name"`
	Status SourceStatus `json:"status"`
	Label  string       `json:"label"`
	Error  string       `json:"error,omitempty"`
}

// SinkView is a read-only copy of a Sink registry entry.
type SinkView struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Status        SinkStatus `json:"status"`
	Label         string     `json:"label"`
	BoundSourceID string     `json:"boundSourceId,omitempty"`
	Error         string     `json:"error,omitempty"`
}

// State is the Router state as shown to operators.
type State struct {
	Sources []SourceView `json:"sources"`
	Sinks   []SinkView   `json:"sinks"`
	Routes  []Route      `json:"routes"`
}

// FeedMessage is one frame on the status websocket: the full state once
// after connecting, then one status event per change.
type FeedMessage struct {
	Type  string       `json:"type"`
	State *State       `json:"state,omitempty"`
	Event *StatusEvent `json:"event,omitempty"`
}

const (
	FeedState  = "state"
	FeedStatus = "status"
)
