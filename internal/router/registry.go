package router

import (
	"sort"

	"fest_router/native/internal/domain"
)

type sourceEntry struct {
	id          string
	name        string
	seq         int
	status      domain.SourceStatus
	session     Session
	lastErr     error
	unsubscribe func()
	// transport is the last state the session reported, kept even while
	// the entry is not yet registered.
	transport domain.SessionState
}

type sinkEntry struct {
	id      string
	name    string
	seq     int
	status  domain.SinkStatus
	session Session
	// boundSourceID mirrors the routing table for display. Only the switch
	// operation writes it.
	boundSourceID string
	lastErr       error
	unsubscribe   func()
	transport     domain.SessionState
}

// registry keeps entries by session id and remembers insertion order.
type registry[E any] struct {
	entries map[string]E
	seq     int
}

func newRegistry[E any]() *registry[E] {
	return &registry[E]{entries: make(map[string]E)}
}

func (r *registry[E]) get(id string) (E, bool) {
	e, ok := r.entries[id]
	return e, ok
}

func (r *registry[E]) put(id string, e E) {
	r.entries[id] = e
}

func (r *registry[E]) delete(id string) {
	delete(r.entries, id)
}

func (r *registry[E]) nextSeq() int {
	r.seq++
	return r.seq
}

func (r *registry[E]) all() []E {
	out := make([]E, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	return out
}

func sortedSources(entries []*sourceEntry) []*sourceEntry {
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	return entries
}

func sortedSinks(entries []*sinkEntry) []*sinkEntry {
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	return entries
}

// answered reports whether the answer for e has been handed out, so
// transport progress can show on the entry.
func (e *sourceEntry) answered() bool {
	return e.status != domain.SourceOfferReceived && e.status != domain.SourceAnswering
}

func (e *sinkEntry) answered() bool {
	switch e.status {
	case domain.SinkPreparingOffer, domain.SinkOfferReceived, domain.SinkAnswering:
		return false
	}
	return true
}

func (e *sourceEntry) view() domain.SourceView {
	v := domain.SourceView{ID: e.id, Name: e.name, Status: e.status, Label: e.status.Label()}
	if e.lastErr != nil {
		v.Error = e.lastErr.Error()
	}
	return v
}

func (e *sinkEntry) view() domain.SinkView {
	v := domain.SinkView{
		ID:            e.id,
		Name:          e.name,
		Status:        e.status,
		Label:         e.status.Label(),
		BoundSourceID: e.boundSourceID,
	}
	if e.lastErr != nil {
		v.Error = e.lastErr.Error()
	}
	return v
}

// Table maps Sink ids to Source ids. An empty Source id means no signal.
type Table struct {
	routes map[string]string
}

func NewTable() *Table {
	return &Table{routes: make(map[string]string)}
}

// Lookup returns the Source bound to sinkID and whether the Sink has a row.
func (t *Table) Lookup(sinkID string) (string, bool) {
	src, ok := t.routes[sinkID]
	return src, ok
}

func (t *Table) Set(sinkID, sourceID string) {
	t.routes[sinkID] = sourceID
}

func (t *Table) Delete(sinkID string) {
	delete(t.routes, sinkID)
}

// SinksOf lists the Sinks fed by sourceID, sorted.
func (t *Table) SinksOf(sourceID string) []string {
	var out []string
	for sink, src := range t.routes {
		if src == sourceID && src != "" {
			out = append(out, sink)
		}
	}
	sort.Strings(out)
	return out
}

// Routes returns every row sorted by Sink id.
func (t *Table) Routes() []domain.Route {
	out := make([]domain.Route, 0, len(t.routes))
	for sink, src := range t.routes {
		out = append(out, domain.Route{SinkID: sink, SourceID: src})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SinkID < out[j].SinkID })
	return out
}

func (t *Table) Len() int { return len(t.routes) }
