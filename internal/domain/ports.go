package domain

import (
	"context"
	"io"
)

// SnapshotStore persists Router snapshots between runs.
type SnapshotStore interface {
	Save(ctx context.Context, snap Snapshot) error
	// Load returns an empty snapshot when nothing was saved or it expired.
	Load(ctx context.Context) (Snapshot, error)
	Close() error
}

// StatusHandler receives events from the status feed.
type StatusHandler interface {
	OnState(st State)
	OnStatus(ev StatusEvent)
	OnDisconnect(err error)
}

// RouterClient is the part of the control API used by endpoint commands.
type RouterClient interface {
	RegisterSource(ctx context.Context, blob []byte) ([]byte, error)
	RegisterSink(ctx context.Context, blob []byte) ([]byte, error)
}

// Peer is the endpoint-side view of a Peer Session.
type Peer interface {
	BeginAsSink(ctx context.Context) (Message, error)
	AcceptRemote(ctx context.Context, msg Message) (Message, error)
	CompleteWithAnswer(msg Message) error
	SetVideoOutput(w io.Writer)
	Close() error
}
