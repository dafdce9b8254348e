package router

import (
	"context"
	"log"
	"time"

	"fest_router/native/internal/domain"
)

// persistLocked asks the saver for a new snapshot. Requests made while a
// save is queued collapse into it.
func (r *Router) persistLocked() {
	if r.store == nil || r.closed {
		return
	}
	select {
	case r.saveCh <- struct{}{}:
	default:
	}
}

func (r *Router) saveLoop() {
	for {
		select {
		case <-r.saveCh:
			ctx, cancel := context.WithTimeout(context.Background(), defaultSaveTimeout)
			if err := r.save(ctx); err != nil {
				log.Printf("[router] save snapshot: %v", err)
			}
			cancel()
		case <-r.done:
			return
		}
	}
}

func (r *Router) save(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	snap := r.snapshotLocked()
	r.mu.Unlock()
	return r.store.Save(ctx, snap)
}

// Snapshot returns everything needed to resume the current sessions.
func (r *Router) Snapshot() domain.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Router) snapshotLocked() domain.Snapshot {
	snap := domain.Snapshot{
		Version: domain.SnapshotVersion,
		SavedAt: time.Now().UTC(),
		Routes:  r.table.Routes(),
	}
	for _, e := range sortedSources(r.sources.all()) {
		rec := e.session.Record()
		rec.SessionID, rec.DisplayName, rec.Role = e.id, e.name, domain.RoleSource
		snap.Sources = append(snap.Sources, domain.SourceRecord{SessionRecord: rec, Status: e.status})
	}
	for _, e := range sortedSinks(r.sinks.all()) {
		rec := e.session.Record()
		rec.SessionID, rec.DisplayName, rec.Role = e.id, e.name, domain.RoleSink
		snap.Sinks = append(snap.Sinks, domain.SinkRecord{
			SessionRecord: rec,
			Status:        e.status,
			BoundSourceID: e.boundSourceID,
		})
	}
	return snap
}
