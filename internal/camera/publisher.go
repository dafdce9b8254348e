package camera

import (
	"context"
	"fmt"
	"log"

	"fest_router/native/internal/codec"
	"fest_router/native/internal/domain"
	"fest_router/native/internal/media"
)

// Peer is the endpoint-side session a Publisher drives.
type Peer interface {
	BeginAsSource(ctx context.Context, stream *media.Stream) (domain.Message, error)
	CompleteWithAnswer(msg domain.Message) error
	Close() error
}

// Publisher offers a local stream to the router.
type Publisher struct {
	peer   Peer
	router domain.RouterClient
	cancel context.CancelFunc
}

// NewPublisher creates a Publisher. router may be nil when blobs are carried
// by hand.
func NewPublisher(peer Peer, router domain.RouterClient, cancel context.CancelFunc) *Publisher {
	return &Publisher{peer: peer, router: router, cancel: cancel}
}

// Offer hands stream to the peer and returns the source-offer blob.
func (p *Publisher) Offer(ctx context.Context, stream *media.Stream) ([]byte, error) {
	log.Printf("[camera] creating offer")
	offer, err := p.peer.BeginAsSource(ctx, stream)
	if err != nil {
		return nil, fmt.Errorf("create offer: %w", err)
	}
	return codec.Encode(offer)
}

// Complete applies a router-answer blob.
func (p *Publisher) Complete(blob []byte) error {
	answer, err := codec.Decode(blob, domain.KindRouterAnswer)
	if err != nil {
		return err
	}
	if err := p.peer.CompleteWithAnswer(answer); err != nil {
		return fmt.Errorf("apply answer: %w", err)
	}
	log.Printf("[camera] answer applied for %s", answer.SessionID)
	return nil
}

// Publish registers stream with the router over the control API.
func (p *Publisher) Publish(ctx context.Context, stream *media.Stream) error {
	if p.router == nil {
		return fmt.Errorf("publish: no router client")
	}
	blob, err := p.Offer(ctx, stream)
	if err != nil {
		return err
	}
	answer, err := p.router.RegisterSource(ctx, blob)
	if err != nil {
		return fmt.Errorf("register source: %w", err)
	}
	return p.Complete(answer)
}

// OnSessionEvent stops the publisher when the session fails or closes.
func (p *Publisher) OnSessionEvent(ev domain.SessionEvent) {
	switch ev.State {
	case domain.StateConnected:
		log.Printf("[camera] connected, streaming")
	case domain.StateFailed, domain.StateClosed:
		log.Printf("[camera] session %s, shutting down", ev.State)
		p.cancel()
	}
}
