package router

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"fest_router/native/internal/domain"
	"fest_router/native/internal/media"
)

// ErrClosed is returned by operations on a closed Router.
var ErrClosed = errors.New("router closed")

const (
	DefaultResumeDelay = time.Second
	defaultSaveTimeout = 5 * time.Second
)

// Options configures a Router.
type Options struct {
	Sessions SessionFactory
	// Store is optional. Without it the Router keeps no snapshots.
	Store       domain.SnapshotStore
	ResumeDelay time.Duration
	// Placeholder is the no-signal stream handed to Sinks. When nil the
	// Router creates and owns one.
	Placeholder *media.Stream
}

// Router terminates Source and Sink sessions and forwards media between them
// according to its routing table.
type Router struct {
	newSession   SessionFactory
	store        domain.SnapshotStore
	resumeDelay  time.Duration
	noSignal     *media.Stream
	ownsNoSignal bool

	// mu serializes every mutation of the registries and the table.
	mu      sync.Mutex
	sources *registry[*sourceEntry]
	sinks   *registry[*sinkEntry]
	table   *Table
	pending map[string]*rebind
	closed  bool

	bus    *bus
	saveCh chan struct{}
	done   chan struct{}
	wg     sync.WaitGroup
}

func New(opts Options) (*Router, error) {
	if opts.Sessions == nil {
		return nil, errors.New("router: session factory is required")
	}
	if opts.ResumeDelay <= 0 {
		opts.ResumeDelay = DefaultResumeDelay
	}

	r := &Router{
		newSession:  opts.Sessions,
		store:       opts.Store,
		resumeDelay: opts.ResumeDelay,
		noSignal:    opts.Placeholder,
		sources:     newRegistry[*sourceEntry](),
		sinks:       newRegistry[*sinkEntry](),
		table:       NewTable(),
		pending:     make(map[string]*rebind),
		bus:         newBus(),
		saveCh:      make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
	if r.noSignal == nil {
		stream, err := media.NewNoSignal()
		if err != nil {
			return nil, fmt.Errorf("router: create placeholder: %w", err)
		}
		r.noSignal, r.ownsNoSignal = stream, true
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.bus.run(r.done)
	}()
	if r.store != nil {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.saveLoop()
		}()
	}
	return r, nil
}

// Subscribe registers fn for status events. Events are delivered on a
// single dispatcher goroutine; fn must not block for long.
func (r *Router) Subscribe(fn func(domain.StatusEvent)) (cancel func()) {
	return r.bus.subscribe(fn)
}

// State returns a copy of both registries and the routing table.
func (r *Router) State() domain.State {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := domain.State{
		Sources: []domain.SourceView{},
		Sinks:   []domain.SinkView{},
		Routes:  r.table.Routes(),
	}
	for _, e := range sortedSources(r.sources.all()) {
		st.Sources = append(st.Sources, e.view())
	}
	for _, e := range sortedSinks(r.sinks.all()) {
		st.Sinks = append(st.Sinks, e.view())
	}
	return st
}

// Validate checks that the routing table agrees with both registries:
// every row belongs to a connected Sink and names either nothing or a
// streaming Source.
func (r *Router) Validate() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.validateLocked()
}

func (r *Router) validateLocked() error {
	var errs []error
	for _, rt := range r.table.Routes() {
		sink, ok := r.sinks.get(rt.SinkID)
		switch {
		case !ok:
			errs = append(errs, fmt.Errorf("route for unknown sink %s", rt.SinkID))
			continue
		case sink.status != domain.SinkConnected:
			errs = append(errs, fmt.Errorf("route for sink %s in status %s", rt.SinkID, sink.status))
		case sink.boundSourceID != rt.SourceID:
			errs = append(errs, fmt.Errorf("sink %s shows %q but is routed to %q", rt.SinkID, sink.boundSourceID, rt.SourceID))
		}
		if rt.SourceID == "" {
			continue
		}
		src, ok := r.sources.get(rt.SourceID)
		if !ok {
			errs = append(errs, fmt.Errorf("sink %s routed to unknown source %s", rt.SinkID, rt.SourceID))
		} else if src.status != domain.SourceStreaming {
			errs = append(errs, fmt.Errorf("sink %s routed to source %s in status %s", rt.SinkID, rt.SourceID, src.status))
		}
	}
	for _, sink := range r.sinks.all() {
		if _, ok := r.table.Lookup(sink.id); !ok && sink.boundSourceID != "" {
			errs = append(errs, fmt.Errorf("sink %s shows %q without a route", sink.id, sink.boundSourceID))
		}
	}
	return errors.Join(errs...)
}

// Close saves a final snapshot, then closes every session.
func (r *Router) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	var snap domain.Snapshot
	if r.store != nil {
		snap = r.snapshotLocked()
	}
	r.closed = true

	var errs []error
	for _, e := range r.sinks.all() {
		e.unsubscribe()
		if err := e.session.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close sink %s: %w", e.id, err))
		}
		r.sinks.delete(e.id)
	}
	for _, e := range r.sources.all() {
		e.unsubscribe()
		if err := e.session.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close source %s: %w", e.id, err))
		}
		r.sources.delete(e.id)
	}
	r.table = NewTable()
	r.pending = make(map[string]*rebind)
	r.mu.Unlock()

	close(r.done)
	r.wg.Wait()

	if r.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), defaultSaveTimeout)
		if err := r.store.Save(ctx, snap); err != nil {
			errs = append(errs, fmt.Errorf("save snapshot: %w", err))
		} else {
			log.Printf("[router] saved %d sources and %d sinks", len(snap.Sources), len(snap.Sinks))
		}
		cancel()
	}
	if r.ownsNoSignal {
		r.noSignal.Stop()
	}
	log.Println("[router] closed")
	return errors.Join(errs...)
}

func (r *Router) emitSourceLocked(e *sourceEntry) {
	ev := domain.StatusEvent{
		SessionID:   e.id,
		Role:        domain.RoleSource,
		DisplayName: e.name,
		Status:      string(e.status),
		Label:       e.status.Label(),
		At:          time.Now(),
	}
	if e.lastErr != nil {
		ev.Error = e.lastErr.Error()
	}
	r.bus.publish(ev)
}

func (r *Router) emitSinkLocked(e *sinkEntry) {
	ev := domain.StatusEvent{
		SessionID:     e.id,
		Role:          domain.RoleSink,
		DisplayName:   e.name,
		Status:        string(e.status),
		Label:         e.status.Label(),
		BoundSourceID: e.boundSourceID,
		At:            time.Now(),
	}
	if e.lastErr != nil {
		ev.Error = e.lastErr.Error()
	}
	r.bus.publish(ev)
}

func (r *Router) emitRemoved(id string, role domain.Role) {
	r.bus.publish(domain.StatusEvent{SessionID: id, Role: role, Removed: true, At: time.Now()})
}

func (r *Router) setSourceStatusLocked(e *sourceEntry, next domain.SourceStatus, err error) bool {
	if e.status == next {
		return false
	}
	if !e.status.CanTransition(next) {
		log.Printf("[router] source %s: ignoring %s -> %s", e.id, e.status, next)
		return false
	}
	e.status = next
	if err != nil {
		e.lastErr = err
	}
	r.emitSourceLocked(e)
	return true
}

func (r *Router) setSinkStatusLocked(e *sinkEntry, next domain.SinkStatus, err error) bool {
	if e.status == next {
		return false
	}
	if !e.status.CanTransition(next) {
		log.Printf("[router] sink %s: ignoring %s -> %s", e.id, e.status, next)
		return false
	}
	e.status = next
	if err != nil {
		e.lastErr = err
	}
	r.emitSinkLocked(e)
	return true
}

func defaultName(prefix, id string) string {
	if len(id) > 8 {
		id = id[:8]
	}
	return prefix + id
}
