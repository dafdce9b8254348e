package router

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"fest_router/native/internal/domain"

	"golang.org/x/sync/errgroup"
)

const restoreConcurrency = 8

// rebind is a route waiting to be re-established after a restart.
type rebind struct {
	sourceID string
	timer    *time.Timer
	// due is set once resumeDelay has passed since the Sink connected.
	due bool
}

// Resume recreates the sessions in snap. Entries that were live when the
// snapshot was taken are restored from their saved descriptions; the rest
// come back as connection-restore-error. Every Sink starts on the
// placeholder and is moved back to its saved Source once both sides are up.
// The returned error lists failed restores; the Router stays usable.
func (r *Router) Resume(ctx context.Context, snap domain.Snapshot) error {
	if snap.Empty() {
		return nil
	}
	if snap.Version != domain.SnapshotVersion {
		return fmt.Errorf("resume: %w: unsupported snapshot version %d", domain.ErrRestore, snap.Version)
	}

	bound := make(map[string]string)
	for _, rt := range snap.Routes {
		if rt.SourceID != "" {
			bound[rt.SinkID] = rt.SourceID
		}
	}

	var jobs []func() error

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	for _, rec := range snap.Sources {
		name := rec.DisplayName
		if name == "" {
			name = defaultName("Camera ", rec.SessionID)
		}
		if rec.Status != domain.SourceStreaming && rec.Status != domain.SourceConnecting {
			e, err := r.addSourceLocked(rec.SessionID, name, domain.SourceRestoreError, rec.Certificate)
			if err != nil {
				log.Printf("[router] resume source %s: %v", rec.SessionID, err)
				continue
			}
			e.lastErr = fmt.Errorf("%w: was %s when saved", domain.ErrRestore, rec.Status)
			r.emitSourceLocked(e)
			continue
		}
		e, err := r.addSourceLocked(rec.SessionID, name, domain.SourceConnecting, rec.Certificate)
		if err != nil {
			log.Printf("[router] resume source %s: %v", rec.SessionID, err)
			continue
		}
		record := rec.SessionRecord
		jobs = append(jobs, func() error {
			err := e.session.Restore(ctx, record)
			r.finishSourceRestore(e, err)
			return err
		})
	}
	for _, rec := range snap.Sinks {
		name := rec.DisplayName
		if name == "" {
			name = defaultName("Monitor ", rec.SessionID)
		}
		if rec.Status != domain.SinkConnected && rec.Status != domain.SinkConnecting {
			e, err := r.addSinkLocked(rec.SessionID, name, domain.SinkRestoreError, rec.Certificate)
			if err != nil {
				log.Printf("[router] resume sink %s: %v", rec.SessionID, err)
				continue
			}
			e.lastErr = fmt.Errorf("%w: was %s when saved", domain.ErrRestore, rec.Status)
			r.emitSinkLocked(e)
			continue
		}
		e, err := r.addSinkLocked(rec.SessionID, name, domain.SinkConnecting, rec.Certificate)
		if err != nil {
			log.Printf("[router] resume sink %s: %v", rec.SessionID, err)
			continue
		}
		if src, ok := bound[rec.SessionID]; ok {
			r.pending[rec.SessionID] = &rebind{sourceID: src}
		}
		record := rec.SessionRecord
		jobs = append(jobs, func() error {
			err := e.session.Restore(ctx, record)
			r.finishSinkRestore(e, err)
			return err
		})
	}
	r.mu.Unlock()

	log.Printf("[router] restoring %d sessions", len(jobs))

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	g.SetLimit(restoreConcurrency)
	for _, job := range jobs {
		g.Go(func() error {
			if err := job(); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	r.mu.Lock()
	r.persistLocked()
	r.mu.Unlock()
	return errors.Join(errs...)
}

func (r *Router) finishSourceRestore(e *sourceEntry, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || !r.currentSource(e) {
		return
	}
	if err != nil {
		r.failSourceLocked(e, restoreError(err))
		return
	}
	log.Printf("[router] source %s restored", e.id)
	if s := e.session.Stream(); s != nil && len(s.Tracks()) > 0 {
		r.markStreamingLocked(e)
	}
}

func (r *Router) finishSinkRestore(e *sinkEntry, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || !r.currentSink(e) {
		return
	}
	if err != nil {
		r.failSinkLocked(e, restoreError(err))
		return
	}
	log.Printf("[router] sink %s restored", e.id)
	if e.session.State() == domain.StateConnected {
		r.sinkConnectedLocked(e)
	}
}

func restoreError(err error) error {
	if errors.Is(err, domain.ErrRestore) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrRestore, err)
}

// scheduleRebindLocked arms the resume delay for a freshly connected Sink
// that has a saved route.
func (r *Router) scheduleRebindLocked(sinkID string) {
	rb, ok := r.pending[sinkID]
	if !ok || rb.timer != nil {
		return
	}
	rb.timer = time.AfterFunc(r.resumeDelay, func() { r.fireRebind(sinkID, rb) })
}

func (r *Router) fireRebind(sinkID string, rb *rebind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.pending[sinkID] != rb {
		return
	}
	rb.due = true
	r.tryRebindLocked(sinkID, rb)
}

func (r *Router) tryRebindLocked(sinkID string, rb *rebind) {
	err := r.assignLocked(sinkID, rb.sourceID)
	switch {
	case err == nil:
		delete(r.pending, sinkID)
		log.Printf("[router] sink %s rebound to %s", sinkID, rb.sourceID)
	case errors.Is(err, domain.ErrInvalidAssignment):
		// source not streaming yet, retried when it is
		log.Printf("[router] sink %s: rebind waiting: %v", sinkID, err)
	default:
		delete(r.pending, sinkID)
		log.Printf("[router] sink %s: rebind: %v", sinkID, err)
	}
}

// retryRebindsLocked runs due rebinds that wait for sourceID.
func (r *Router) retryRebindsLocked(sourceID string) {
	for sinkID, rb := range r.pending {
		if rb.due && rb.sourceID == sourceID {
			r.tryRebindLocked(sinkID, rb)
		}
	}
}

func (r *Router) dropRebindsLocked(sourceID string) {
	for sinkID, rb := range r.pending {
		if rb.sourceID != sourceID {
			continue
		}
		if rb.timer != nil {
			rb.timer.Stop()
		}
		delete(r.pending, sinkID)
		log.Printf("[router] sink %s: dropping rebind to %s", sinkID, sourceID)
	}
}
