package router

import (
	"context"
	"errors"
	"fmt"
	"log"

	"fest_router/native/internal/codec"
	"fest_router/native/internal/domain"

	"github.com/google/uuid"
)

// RegisterSource accepts a source-offer blob and returns the router-answer
// blob. An existing Source with the same id keeps running until the new
// session has answered, then is replaced.
func (r *Router) RegisterSource(ctx context.Context, blob []byte) ([]byte, error) {
	msg, err := codec.Decode(blob, domain.KindSourceOffer)
	if err != nil {
		return nil, fmt.Errorf("register source: %w", err)
	}
	name := msg.DisplayName
	if name == "" {
		name = defaultName("Camera ", msg.SessionID)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	e, err := r.newSourceLocked(msg.SessionID, name, domain.SourceOfferReceived, "")
	if err != nil {
		r.mu.Unlock()
		return nil, fmt.Errorf("register source %s: %w", msg.SessionID, err)
	}
	_, staged := r.sources.get(e.id)
	if !staged {
		r.putSourceLocked(e)
		r.setSourceStatusLocked(e, domain.SourceAnswering, nil)
	}
	sess := e.session
	r.mu.Unlock()

	answer, err := sess.AcceptRemote(ctx, msg)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.settleSourceLocked(e, staged, err); err != nil {
		return nil, fmt.Errorf("register source %s: %w", e.id, err)
	}
	r.setSourceStatusLocked(e, domain.SourceAnswering, nil)
	r.setSourceStatusLocked(e, domain.SourceAnswerReady, nil)
	r.catchUpSourceLocked(e)
	r.persistLocked()

	out, err := codec.Encode(answer)
	if err != nil {
		return nil, fmt.Errorf("register source %s: %w", e.id, err)
	}
	log.Printf("[router] source %s (%s) answered", e.id, e.name)
	return out, nil
}

// RegisterSink accepts a sink-offer blob from a Sink endpoint and returns
// the router-answer blob. The answer already carries the placeholder.
func (r *Router) RegisterSink(ctx context.Context, blob []byte) ([]byte, error) {
	msg, err := codec.Decode(blob, domain.KindSinkOffer)
	if err != nil {
		return nil, fmt.Errorf("register sink: %w", err)
	}
	name := msg.DisplayName
	if name == "" {
		name = defaultName("Monitor ", msg.SessionID)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	e, err := r.newSinkLocked(msg.SessionID, name, domain.SinkOfferReceived, "")
	if err != nil {
		r.mu.Unlock()
		return nil, fmt.Errorf("register sink %s: %w", msg.SessionID, err)
	}
	_, staged := r.sinks.get(e.id)
	if !staged {
		r.putSinkLocked(e)
		r.setSinkStatusLocked(e, domain.SinkAnswering, nil)
	}
	sess := e.session
	r.mu.Unlock()

	answer, err := sess.AcceptRemote(ctx, msg)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.settleSinkLocked(e, staged, err); err != nil {
		return nil, fmt.Errorf("register sink %s: %w", e.id, err)
	}
	r.setSinkStatusLocked(e, domain.SinkAnswering, nil)
	r.setSinkStatusLocked(e, domain.SinkAnswerReady, nil)
	r.catchUpSinkLocked(e)
	r.persistLocked()

	out, err := codec.Encode(answer)
	if err != nil {
		return nil, fmt.Errorf("register sink %s: %w", e.id, err)
	}
	log.Printf("[router] sink %s (%s) answered", e.id, e.name)
	return out, nil
}

// OfferSink creates a Sink on the Router side and returns the router-offer
// blob for it. An empty id gets a fresh UUID.
func (r *Router) OfferSink(ctx context.Context, id, name string) ([]byte, error) {
	if id == "" {
		id = uuid.NewString()
	}
	if name == "" {
		name = defaultName("Monitor ", id)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	e, err := r.newSinkLocked(id, name, domain.SinkPreparingOffer, "")
	if err != nil {
		r.mu.Unlock()
		return nil, fmt.Errorf("offer sink %s: %w", id, err)
	}
	_, staged := r.sinks.get(id)
	if !staged {
		r.putSinkLocked(e)
	}
	sess := e.session
	r.mu.Unlock()

	offer, err := sess.BeginAsSink(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.settleSinkLocked(e, staged, err); err != nil {
		return nil, fmt.Errorf("offer sink %s: %w", id, err)
	}
	offer.DisplayName = name
	r.setSinkStatusLocked(e, domain.SinkOfferReady, nil)
	r.persistLocked()

	out, err := codec.Encode(offer)
	if err != nil {
		return nil, fmt.Errorf("offer sink %s: %w", id, err)
	}
	log.Printf("[router] sink %s (%s) offered", id, name)
	return out, nil
}

// settleSourceLocked finishes the registry side of a Source negotiation
// that returned err. A staged entry replaces the live one only on success;
// a failed one is closed and the live entry is left alone.
func (r *Router) settleSourceLocked(e *sourceEntry, staged bool, err error) error {
	switch {
	case err != nil && staged:
		r.discardSourceLocked(e)
		return err
	case err != nil:
		if r.currentSource(e) {
			r.removeSourceLocked(e)
		}
		return err
	case staged && r.closed:
		r.discardSourceLocked(e)
		return ErrClosed
	case staged:
		r.putSourceLocked(e)
	case !r.currentSource(e):
		return fmt.Errorf("%w: removed during negotiation", domain.ErrNotFound)
	}
	return nil
}

// settleSinkLocked is settleSourceLocked for Sinks.
func (r *Router) settleSinkLocked(e *sinkEntry, staged bool, err error) error {
	switch {
	case err != nil && staged:
		r.discardSinkLocked(e)
		return err
	case err != nil:
		if r.currentSink(e) {
			r.removeSinkLocked(e)
		}
		return err
	case staged && r.closed:
		r.discardSinkLocked(e)
		return ErrClosed
	case staged:
		r.putSinkLocked(e)
	case !r.currentSink(e):
		return fmt.Errorf("%w: removed during negotiation", domain.ErrNotFound)
	}
	return nil
}

// CompleteSinkOffer applies the sink-answer for a Sink created by OfferSink.
func (r *Router) CompleteSinkOffer(blob []byte) error {
	msg, err := codec.Decode(blob, domain.KindSinkAnswer)
	if err != nil {
		return fmt.Errorf("complete sink offer: %w", err)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	e, ok := r.sinks.get(msg.SessionID)
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("complete sink offer %s: %w", msg.SessionID, domain.ErrNotFound)
	}
	if e.status != domain.SinkOfferReady {
		r.mu.Unlock()
		return fmt.Errorf("complete sink offer %s: sink is %s: %w", e.id, e.status, domain.ErrState)
	}
	sess := e.session
	r.mu.Unlock()

	if err := sess.CompleteWithAnswer(msg); err != nil {
		return fmt.Errorf("complete sink offer %s: %w", e.id, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.currentSink(e) && e.status == domain.SinkOfferReady {
		r.setSinkStatusLocked(e, domain.SinkConnecting, nil)
		r.persistLocked()
	}
	return nil
}

// Remove closes and forgets the Source or Sink with the given id. Removing
// an unknown id does nothing.
func (r *Router) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}

	if e, ok := r.sources.get(id); ok {
		r.removeSourceLocked(e)
		r.persistLocked()
		return nil
	}
	if e, ok := r.sinks.get(id); ok {
		r.removeSinkLocked(e)
		r.persistLocked()
	}
	return nil
}

func (r *Router) addSourceLocked(id, name string, status domain.SourceStatus, cert string) (*sourceEntry, error) {
	e, err := r.newSourceLocked(id, name, status, cert)
	if err != nil {
		return nil, err
	}
	r.putSourceLocked(e)
	return e, nil
}

func (r *Router) addSinkLocked(id, name string, status domain.SinkStatus, cert string) (*sinkEntry, error) {
	e, err := r.newSinkLocked(id, name, status, cert)
	if err != nil {
		return nil, err
	}
	r.putSinkLocked(e)
	return e, nil
}

// newSourceLocked creates a session and its entry without registering it.
func (r *Router) newSourceLocked(id, name string, status domain.SourceStatus, cert string) (*sourceEntry, error) {
	sess, err := r.newSession(SessionSpec{ID: id, Role: domain.RoleSource, Certificate: cert})
	if err != nil {
		return nil, err
	}
	e := &sourceEntry{id: id, name: name, seq: r.sources.nextSeq(), status: status, session: sess}
	e.unsubscribe = sess.Subscribe(func(ev domain.SessionEvent) { r.onSourceEvent(e, ev) })
	return e, nil
}

func (r *Router) newSinkLocked(id, name string, status domain.SinkStatus, cert string) (*sinkEntry, error) {
	sess, err := r.newSession(SessionSpec{ID: id, Role: domain.RoleSink, Certificate: cert, Outgoing: r.noSignal})
	if err != nil {
		return nil, err
	}
	e := &sinkEntry{id: id, name: name, seq: r.sinks.nextSeq(), status: status, session: sess}
	e.unsubscribe = sess.Subscribe(func(ev domain.SessionEvent) { r.onSinkEvent(e, ev) })
	return e, nil
}

// putSourceLocked registers e, removing any other entry with its id first.
func (r *Router) putSourceLocked(e *sourceEntry) {
	if old, ok := r.sources.get(e.id); ok && old != e {
		log.Printf("[router] source %s registered again, replacing", e.id)
		r.removeSourceLocked(old)
	}
	r.sources.put(e.id, e)
	r.emitSourceLocked(e)
}

func (r *Router) putSinkLocked(e *sinkEntry) {
	if old, ok := r.sinks.get(e.id); ok && old != e {
		log.Printf("[router] sink %s registered again, replacing", e.id)
		r.removeSinkLocked(old)
	}
	r.sinks.put(e.id, e)
	r.emitSinkLocked(e)
}

// discardSourceLocked closes a session that never made it into the registry.
func (r *Router) discardSourceLocked(e *sourceEntry) {
	e.unsubscribe()
	if err := e.session.Close(); err != nil {
		log.Printf("[router] source %s: close: %v", e.id, err)
	}
	log.Printf("[router] source %s: new session dropped, previous one kept", e.id)
}

func (r *Router) discardSinkLocked(e *sinkEntry) {
	e.unsubscribe()
	if err := e.session.Close(); err != nil {
		log.Printf("[router] sink %s: close: %v", e.id, err)
	}
	log.Printf("[router] sink %s: new session dropped, previous one kept", e.id)
}

// removeSourceLocked detaches every Sink fed by e, closes its session and
// only then drops the entry.
func (r *Router) removeSourceLocked(e *sourceEntry) {
	r.setSourceStatusLocked(e, domain.SourceRemoving, nil)
	for _, sinkID := range r.table.SinksOf(e.id) {
		r.detachSinkLocked(sinkID)
	}
	r.dropRebindsLocked(e.id)

	e.unsubscribe()
	if err := e.session.Close(); err != nil {
		log.Printf("[router] source %s: close: %v", e.id, err)
	}
	r.sources.delete(e.id)
	r.emitRemoved(e.id, domain.RoleSource)
	log.Printf("[router] source %s removed", e.id)
}

func (r *Router) removeSinkLocked(e *sinkEntry) {
	r.table.Delete(e.id)
	e.boundSourceID = ""
	delete(r.pending, e.id)
	r.setSinkStatusLocked(e, domain.SinkRemoving, nil)

	e.unsubscribe()
	if err := e.session.Close(); err != nil {
		log.Printf("[router] sink %s: close: %v", e.id, err)
	}
	r.sinks.delete(e.id)
	r.emitRemoved(e.id, domain.RoleSink)
	log.Printf("[router] sink %s removed", e.id)
}

func (r *Router) currentSource(e *sourceEntry) bool {
	cur, ok := r.sources.get(e.id)
	return ok && cur == e
}

func (r *Router) currentSink(e *sinkEntry) bool {
	cur, ok := r.sinks.get(e.id)
	return ok && cur == e
}

func (r *Router) onSourceEvent(e *sourceEntry, ev domain.SessionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ev.TrackKind == "" {
		e.transport = ev.State
	}
	if r.closed || !r.currentSource(e) {
		return
	}

	if ev.TrackKind != "" {
		if e.answered() {
			r.sourceTrackLocked(e, ev.TrackKind)
		}
		return
	}
	switch ev.State {
	case domain.StateConnecting:
		if e.answered() {
			r.setSourceStatusLocked(e, domain.SourceConnecting, nil)
		}
	case domain.StateConnected:
		if e.answered() {
			r.catchUpSourceLocked(e)
		}
	case domain.StateFailed:
		r.failSourceLocked(e, ev.Err)
	case domain.StateClosed:
		if e.status != domain.SourceRemoving {
			r.failSourceLocked(e, fmt.Errorf("%w: connection closed", domain.ErrTransportFailure))
		}
	}
}

// catchUpSourceLocked brings an answered Source up to what its session has
// already reported. Progress that arrived while the answer was being built
// is applied here.
func (r *Router) catchUpSourceLocked(e *sourceEntry) {
	if e.status == domain.SourceAnswerReady {
		switch e.transport {
		case domain.StateConnecting, domain.StateConnected:
			r.setSourceStatusLocked(e, domain.SourceConnecting, nil)
		}
	}
	if s := e.session.Stream(); s != nil && len(s.Tracks()) > 0 {
		r.markStreamingLocked(e)
	}
}

// sourceTrackLocked handles a new track on e. The first one makes e
// streaming; later ones go straight to the Sinks already showing e.
func (r *Router) sourceTrackLocked(e *sourceEntry, kind string) {
	if e.status != domain.SourceStreaming {
		r.markStreamingLocked(e)
		return
	}
	r.forwardTrackLocked(e, kind)
}

func (r *Router) markStreamingLocked(e *sourceEntry) {
	if !r.setSourceStatusLocked(e, domain.SourceStreaming, nil) {
		return
	}
	log.Printf("[router] source %s streaming", e.id)
	r.retryRebindsLocked(e.id)
	r.persistLocked()
}

// failSourceLocked marks e failed and moves its Sinks to the placeholder.
func (r *Router) failSourceLocked(e *sourceEntry, err error) {
	status := domain.SourceFailed
	if errors.Is(err, domain.ErrRestore) {
		status = domain.SourceRestoreError
	}
	if err == nil {
		err = domain.ErrTransportFailure
	}
	if !r.setSourceStatusLocked(e, status, err) {
		return
	}
	log.Printf("[router] source %s %s: %v", e.id, status, err)
	for _, sinkID := range r.table.SinksOf(e.id) {
		r.detachSinkLocked(sinkID)
	}
	r.dropRebindsLocked(e.id)
	r.persistLocked()
}

func (r *Router) onSinkEvent(e *sinkEntry, ev domain.SessionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ev.TrackKind == "" {
		e.transport = ev.State
	}
	if r.closed || !r.currentSink(e) {
		return
	}

	switch ev.State {
	case domain.StateConnecting:
		if e.answered() && e.status != domain.SinkConnected {
			r.setSinkStatusLocked(e, domain.SinkConnecting, nil)
		}
	case domain.StateConnected:
		if e.answered() {
			r.sinkConnectedLocked(e)
		}
	case domain.StateFailed:
		r.failSinkLocked(e, ev.Err)
	case domain.StateClosed:
		if e.status != domain.SinkRemoving {
			r.failSinkLocked(e, fmt.Errorf("%w: connection closed", domain.ErrTransportFailure))
		}
	}
}

// catchUpSinkLocked applies transport progress reported while the answer
// for e was still being built.
func (r *Router) catchUpSinkLocked(e *sinkEntry) {
	switch e.transport {
	case domain.StateConnecting:
		r.setSinkStatusLocked(e, domain.SinkConnecting, nil)
	case domain.StateConnected:
		r.sinkConnectedLocked(e)
	}
}

// sinkConnectedLocked gives a newly connected Sink its table row on the
// placeholder and arms a pending rebind.
func (r *Router) sinkConnectedLocked(e *sinkEntry) {
	if !r.setSinkStatusLocked(e, domain.SinkConnected, nil) {
		return
	}
	log.Printf("[router] sink %s connected", e.id)
	if err := r.assignLocked(e.id, ""); err != nil {
		log.Printf("[router] sink %s: seed placeholder: %v", e.id, err)
	}
	r.scheduleRebindLocked(e.id)
	r.persistLocked()
}

// failSinkLocked marks e failed and drops its row from the table.
func (r *Router) failSinkLocked(e *sinkEntry, err error) {
	status := domain.SinkFailed
	if errors.Is(err, domain.ErrRestore) {
		status = domain.SinkRestoreError
	}
	if err == nil {
		err = domain.ErrTransportFailure
	}
	if !e.status.CanTransition(status) {
		return
	}
	r.table.Delete(e.id)
	e.boundSourceID = ""
	delete(r.pending, e.id)
	r.setSinkStatusLocked(e, status, err)
	log.Printf("[router] sink %s %s: %v", e.id, status, err)
	r.persistLocked()
}
