// Package viewer is the Sink endpoint: it receives a routed feed from the
// router and writes the video as an H264 byte stream.
package viewer

import (
	"context"
	"fmt"
	"log"

	"fest_router/native/internal/codec"
	"fest_router/native/internal/domain"
)

// Viewer coordinates the signaling exchange of one Sink session.
type Viewer struct {
	peer   domain.Peer
	router domain.RouterClient
	cancel context.CancelFunc
}

// New creates a Viewer. router may be nil when blobs are carried by hand.
func New(peer domain.Peer, router domain.RouterClient, cancel context.CancelFunc) *Viewer {
	return &Viewer{
		peer:   peer,
		router: router,
		cancel: cancel,
	}
}

// Join sends a sink-offer to the router and applies its answer.
func (v *Viewer) Join(ctx context.Context) error {
	if v.router == nil {
		return fmt.Errorf("join: no router client")
	}

	log.Printf("[viewer] creating offer")
	offer, err := v.peer.BeginAsSink(ctx)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	blob, err := codec.Encode(offer)
	if err != nil {
		return fmt.Errorf("encode offer: %w", err)
	}

	answerBlob, err := v.router.RegisterSink(ctx, blob)
	if err != nil {
		return fmt.Errorf("register sink: %w", err)
	}
	answer, err := codec.Decode(answerBlob, domain.KindRouterAnswer)
	if err != nil {
		return fmt.Errorf("router answer: %w", err)
	}
	if err := v.peer.CompleteWithAnswer(answer); err != nil {
		return fmt.Errorf("apply answer: %w", err)
	}
	log.Printf("[viewer] answer applied, waiting for media")
	return nil
}

// Answer accepts a router-offer blob and returns the sink-answer blob.
func (v *Viewer) Answer(ctx context.Context, blob []byte) ([]byte, error) {
	offer, err := codec.Decode(blob, domain.KindRouterOffer)
	if err != nil {
		return nil, err
	}
	log.Printf("[viewer] router offered session %s", offer.SessionID)

	answer, err := v.peer.AcceptRemote(ctx, offer)
	if err != nil {
		return nil, fmt.Errorf("answer router offer: %w", err)
	}
	return codec.Encode(answer)
}

// OnSessionEvent stops the viewer when the session fails or closes.
func (v *Viewer) OnSessionEvent(ev domain.SessionEvent) {
	switch ev.State {
	case domain.StateConnected:
		log.Printf("[viewer] connected")
	case domain.StateFailed, domain.StateClosed:
		log.Printf("[viewer] session %s, shutting down", ev.State)
		v.cancel()
	}
}
