package router

import (
	"context"
	"sync"
	"testing"
	"time"

	"fest_router/native/internal/codec"
	"fest_router/native/internal/domain"
	"fest_router/native/internal/media"

	pion "github.com/pion/webrtc/v4"
)

// fakeSession stands in for a pion peer. Events are delivered synchronously
// from emit, on the calling goroutine.
type fakeSession struct {
	spec SessionSpec

	mu         sync.Mutex
	state      domain.SessionState
	subs       map[int]func(domain.SessionEvent)
	nextSub    int
	stream     *media.Stream
	video      pion.TrackLocal
	audio      pion.TrackLocal
	replaces   int
	keyframes  int
	closed     bool
	restored   *domain.SessionRecord
	acceptErr  error
	beginErr   error
	restoreErr error
	audioErr   error
	// duringAccept runs inside AcceptRemote, after the answer is built.
	duringAccept func(*fakeSession)
}

func newFakeSession(spec SessionSpec) *fakeSession {
	s := &fakeSession{spec: spec, subs: make(map[int]func(domain.SessionEvent))}
	if spec.Role == domain.RoleSource {
		s.stream = media.NewStream(spec.ID)
	}
	if spec.Outgoing != nil {
		s.video, s.audio = spec.Outgoing.Video(), spec.Outgoing.Audio()
	}
	return s
}

func (s *fakeSession) ID() string { return s.spec.ID }

func (s *fakeSession) State() domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *fakeSession) LastError() error { return nil }

func (s *fakeSession) Subscribe(fn func(domain.SessionEvent)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *fakeSession) emit(ev domain.SessionEvent) {
	ev.SessionID = s.spec.ID
	s.mu.Lock()
	if ev.TrackKind == "" {
		s.state = ev.State
	}
	var fns []func(domain.SessionEvent)
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (s *fakeSession) AcceptRemote(ctx context.Context, msg domain.Message) (domain.Message, error) {
	s.mu.Lock()
	if s.acceptErr != nil {
		s.mu.Unlock()
		return domain.Message{}, s.acceptErr
	}
	s.state = domain.StateReadyToTransfer
	during := s.duringAccept
	s.mu.Unlock()

	if during != nil {
		during(s)
	}
	return domain.Message{
		Kind:        domain.KindRouterAnswer,
		SessionID:   s.spec.ID,
		DisplayName: "router",
		Description: domain.SDPPayload{Type: "answer", SDP: "v=0\r\n"},
	}, nil
}

func (s *fakeSession) BeginAsSink(ctx context.Context) (domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.beginErr != nil {
		return domain.Message{}, s.beginErr
	}
	s.state = domain.StateReadyToTransfer
	return domain.Message{
		Kind:        domain.KindRouterOffer,
		SessionID:   s.spec.ID,
		DisplayName: "router",
		Description: domain.SDPPayload{Type: "offer", SDP: "v=0\r\n"},
	}, nil
}

func (s *fakeSession) CompleteWithAnswer(msg domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != domain.StateReadyToTransfer {
		return &domain.StateError{Op: "complete with answer", State: s.state}
	}
	s.state = domain.StateConnecting
	return nil
}

func (s *fakeSession) Restore(ctx context.Context, rec domain.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restored = &rec
	return s.restoreErr
}

func (s *fakeSession) ReplaceOutgoingVideoTrack(track pion.TrackLocal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replaces++
	s.video = track
	return nil
}

func (s *fakeSession) ReplaceOutgoingAudioTrack(track pion.TrackLocal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replaces++
	if s.audioErr != nil {
		return s.audioErr
	}
	s.audio = track
	return nil
}

func (s *fakeSession) OutgoingTracks() (pion.TrackLocal, pion.TrackLocal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.video, s.audio
}

func (s *fakeSession) Stream() *media.Stream { return s.stream }

func (s *fakeSession) RequestKeyframe() error {
	s.mu.Lock()
	s.keyframes++
	s.mu.Unlock()
	return nil
}

func (s *fakeSession) Record() domain.SessionRecord {
	return domain.SessionRecord{
		SessionID:         s.spec.ID,
		Role:              s.spec.Role,
		LocalDescription:  &domain.SDPPayload{Type: "answer", SDP: "v=0\r\n"},
		RemoteDescription: &domain.SDPPayload{Type: "offer", SDP: "v=0\r\n"},
		Certificate:       "cert-" + s.spec.ID,
	}
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.state = domain.StateClosed
	if s.spec.Role == domain.RoleSource {
		s.stream.Stop()
	}
	return nil
}

func (s *fakeSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeSession) counts() (replaces, keyframes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replaces, s.keyframes
}

// fakeFactory hands out fakeSessions and keeps every one it made.
type fakeFactory struct {
	mu        sync.Mutex
	made      map[string][]*fakeSession
	configure func(*fakeSession)
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{made: make(map[string][]*fakeSession)}
}

func (f *fakeFactory) new(spec SessionSpec) (Session, error) {
	s := newFakeSession(spec)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.configure != nil {
		f.configure(s)
	}
	f.made[spec.ID] = append(f.made[spec.ID], s)
	return s, nil
}

func (f *fakeFactory) last(t *testing.T, id string) *fakeSession {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.made[id]
	if len(list) == 0 {
		t.Fatalf("no session created for %s", id)
	}
	return list[len(list)-1]
}

func (f *fakeFactory) count(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.made[id])
}

// memStore keeps the last saved snapshot in memory.
type memStore struct {
	mu    sync.Mutex
	snap  domain.Snapshot
	saves int
}

func (m *memStore) Save(ctx context.Context, snap domain.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = snap
	m.saves++
	return nil
}

func (m *memStore) Load(ctx context.Context) (domain.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap, nil
}

func (m *memStore) Close() error { return nil }

func (m *memStore) last() domain.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

func newSampleTrack(t *testing.T, mime, id, stream string) pion.TrackLocal {
	t.Helper()
	track, err := pion.NewTrackLocalStaticSample(pion.RTPCodecCapability{MimeType: mime}, id, stream)
	if err != nil {
		t.Fatalf("create track: %v", err)
	}
	return track
}

func newPlaceholder(t *testing.T) *media.Stream {
	t.Helper()
	return media.NewStream(media.NoSignalStreamID,
		newSampleTrack(t, pion.MimeTypeVP8, "no-signal-video", media.NoSignalStreamID),
		newSampleTrack(t, pion.MimeTypeOpus, "no-signal-audio", media.NoSignalStreamID),
	)
}

type harness struct {
	t           *testing.T
	router      *Router
	factory     *fakeFactory
	placeholder *media.Stream
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{t: t, factory: newFakeFactory(), placeholder: newPlaceholder(t)}
	opts.Sessions = h.factory.new
	opts.Placeholder = h.placeholder
	r, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.router = r
	t.Cleanup(func() { r.Close() })
	return h
}

func blob(t *testing.T, kind domain.Kind, id, name, sdpType string) []byte {
	t.Helper()
	b, err := codec.Encode(domain.Message{
		Kind:        kind,
		SessionID:   id,
		DisplayName: name,
		Description: domain.SDPPayload{Type: sdpType, SDP: "v=0\r\n"},
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return b
}

// streamingSource registers id and delivers a video and an audio track.
func (h *harness) streamingSource(id string) *fakeSession {
	h.t.Helper()
	if _, err := h.router.RegisterSource(context.Background(), blob(h.t, domain.KindSourceOffer, id, "", "offer")); err != nil {
		h.t.Fatalf("RegisterSource(%s): %v", id, err)
	}
	s := h.factory.last(h.t, id)
	s.stream.Attach(newSampleTrack(h.t, pion.MimeTypeVP8, id+"-video", id), nil)
	s.stream.Attach(newSampleTrack(h.t, pion.MimeTypeOpus, id+"-audio", id), nil)
	s.emit(domain.SessionEvent{State: domain.StateConnected})
	h.mustValidate()
	return s
}

// connectedSink registers id as an answering Sink and connects it.
func (h *harness) connectedSink(id string) *fakeSession {
	h.t.Helper()
	if _, err := h.router.RegisterSink(context.Background(), blob(h.t, domain.KindSinkOffer, id, "", "offer")); err != nil {
		h.t.Fatalf("RegisterSink(%s): %v", id, err)
	}
	s := h.factory.last(h.t, id)
	s.emit(domain.SessionEvent{State: domain.StateConnected})
	h.mustValidate()
	return s
}

func (h *harness) mustValidate() {
	h.t.Helper()
	if err := h.router.Validate(); err != nil {
		h.t.Fatalf("routing invariant broken: %v", err)
	}
}

func (h *harness) route(sinkID string) (string, bool) {
	h.router.mu.Lock()
	defer h.router.mu.Unlock()
	return h.router.table.Lookup(sinkID)
}

func (h *harness) sourceStatus(id string) domain.SourceStatus {
	for _, s := range h.router.State().Sources {
		if s.ID == id {
			return s.Status
		}
	}
	return ""
}

func (h *harness) sinkView(id string) (domain.SinkView, bool) {
	for _, s := range h.router.State().Sinks {
		if s.ID == id {
			return s, true
		}
	}
	return domain.SinkView{}, false
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
