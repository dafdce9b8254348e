package router

import (
	"context"

	"fest_router/native/internal/domain"
	"fest_router/native/internal/media"
	"fest_router/native/internal/webrtc"

	pion "github.com/pion/webrtc/v4"
)

// Session is the Router's view of one Peer Session.
type Session interface {
	ID() string
	State() domain.SessionState
	LastError() error
	Subscribe(fn func(domain.SessionEvent)) (cancel func())

	AcceptRemote(ctx context.Context, msg domain.Message) (domain.Message, error)
	BeginAsSink(ctx context.Context) (domain.Message, error)
	CompleteWithAnswer(msg domain.Message) error
	Restore(ctx context.Context, rec domain.SessionRecord) error

	ReplaceOutgoingVideoTrack(track pion.TrackLocal) error
	ReplaceOutgoingAudioTrack(track pion.TrackLocal) error
	OutgoingTracks() (video, audio pion.TrackLocal)

	Stream() *media.Stream
	RequestKeyframe() error
	Record() domain.SessionRecord
	Close() error
}

// SessionSpec describes a session the Router needs.
type SessionSpec struct {
	ID          string
	Role        domain.Role
	Certificate string
	// Outgoing is the borrowed placeholder stream for Sink sessions.
	Outgoing *media.Stream
}

// SessionFactory creates Router-side sessions.
type SessionFactory func(spec SessionSpec) (Session, error)

// PeerSessions builds sessions on pion peer connections.
func PeerSessions(engine *webrtc.Engine, name string) SessionFactory {
	return func(spec SessionSpec) (Session, error) {
		p, err := webrtc.NewPeer(engine, spec.ID, webrtc.Options{
			Side:        webrtc.SideRouter,
			Role:        spec.Role,
			Name:        name,
			Outgoing:    spec.Outgoing,
			Certificate: spec.Certificate,
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}
