package webrtc

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"fest_router/native/internal/domain"
	"fest_router/native/internal/media"

	pion "github.com/pion/webrtc/v4"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(EngineConfig{GatheringTimeout: 5 * time.Second, RestoreTimeout: time.Second})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func newTestPeer(t *testing.T, e *Engine, id string, opts Options) *Peer {
	t.Helper()
	p, err := NewPeer(e, id, opts)
	if err != nil {
		t.Fatalf("NewPeer: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func newSampleTrack(t *testing.T, mime, id string) *pion.TrackLocalStaticSample {
	t.Helper()
	track, err := pion.NewTrackLocalStaticSample(pion.RTPCodecCapability{MimeType: mime}, id, "test")
	if err != nil {
		t.Fatalf("create track: %v", err)
	}
	return track
}

// eventLog collects notifications delivered by the driver goroutine.
type eventLog struct {
	mu     sync.Mutex
	events []domain.SessionEvent
}

func (l *eventLog) add(ev domain.SessionEvent) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) states() []domain.SessionState {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.SessionState
	for _, ev := range l.events {
		out = append(out, ev.State)
	}
	return out
}

func TestBeginAsSource_RequiresStream(t *testing.T) {
	p := newTestPeer(t, newTestEngine(t), "cam1", Options{Role: domain.RoleSource})

	_, err := p.BeginAsSource(context.Background(), nil)
	if !errors.Is(err, domain.ErrMediaUnavailable) {
		t.Fatalf("expected ErrMediaUnavailable, got %v", err)
	}
	if p.State() != domain.StateNew {
		t.Errorf("expected state to stay new, got %s", p.State())
	}

	_, err = p.BeginAsSource(context.Background(), media.NewStream("empty"))
	if !errors.Is(err, domain.ErrMediaUnavailable) {
		t.Errorf("expected ErrMediaUnavailable for an empty stream, got %v", err)
	}
}

func TestCompleteWithAnswer_WithoutPendingOffer(t *testing.T) {
	p := newTestPeer(t, newTestEngine(t), "mon1", Options{Role: domain.RoleSink})

	err := p.CompleteWithAnswer(domain.Message{
		Kind:        domain.KindSinkAnswer,
		SessionID:   "mon1",
		Description: domain.SDPPayload{Type: "answer", SDP: "v=0\r\n"},
	})

	var se *domain.StateError
	if !errors.As(err, &se) {
		t.Fatalf("expected StateError, got %v", err)
	}
	if se.State != domain.StateNew {
		t.Errorf("expected state new in error, got %s", se.State)
	}
}

func TestAcceptRemote_RejectsAnswer(t *testing.T) {
	p := newTestPeer(t, newTestEngine(t), "cam1", Options{Side: SideRouter, Role: domain.RoleSource})

	_, err := p.AcceptRemote(context.Background(), domain.Message{
		Kind:        domain.KindRouterAnswer,
		SessionID:   "cam1",
		Description: domain.SDPPayload{Type: "answer", SDP: "v=0\r\n"},
	})
	if !errors.Is(err, domain.ErrDecode) {
		t.Fatalf("expected decode error, got %v", err)
	}
}

func TestAcceptRemote_AfterCloseIsStateError(t *testing.T) {
	p := newTestPeer(t, newTestEngine(t), "cam1", Options{Side: SideRouter, Role: domain.RoleSource})
	p.Close()

	_, err := p.AcceptRemote(context.Background(), domain.Message{
		Kind:        domain.KindSourceOffer,
		SessionID:   "cam1",
		Description: domain.SDPPayload{Type: "offer", SDP: "v=0\r\n"},
	})
	if !errors.Is(err, domain.ErrState) {
		t.Fatalf("expected ErrState, got %v", err)
	}
}

func TestClose_Twice(t *testing.T) {
	e := newTestEngine(t)
	stream := media.NewStream("cam1", newSampleTrack(t, pion.MimeTypeVP8, "v"))
	p, err := NewPeer(e, "cam1", Options{Role: domain.RoleSource})
	if err != nil {
		t.Fatalf("NewPeer: %v", err)
	}
	p.mu.Lock()
	p.stream = stream
	p.mu.Unlock()

	if err := p.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if p.State() != domain.StateClosed {
		t.Errorf("expected closed, got %s", p.State())
	}
	if !stream.Stopped() {
		t.Error("expected owned stream to be stopped")
	}
}

func TestReplaceOutgoing_NoSenderIsSkipped(t *testing.T) {
	p := newTestPeer(t, newTestEngine(t), "mon1", Options{Role: domain.RoleSink})

	if err := p.ReplaceOutgoingVideoTrack(newSampleTrack(t, pion.MimeTypeVP8, "v")); err != nil {
		t.Errorf("expected replace without a sender to be skipped, got %v", err)
	}
	if err := p.ReplaceOutgoingAudioTrack(nil); err != nil {
		t.Errorf("expected nil replace without a sender to be skipped, got %v", err)
	}
}

func TestConnectionEvents_DriveState(t *testing.T) {
	p := newTestPeer(t, newTestEngine(t), "cam1", Options{Side: SideRouter, Role: domain.RoleSource})
	log := &eventLog{}
	p.Subscribe(log.add)

	p.handle(event{kind: evConnection, conn: pion.PeerConnectionStateConnecting})
	p.handle(event{kind: evConnection, conn: pion.PeerConnectionStateDisconnected})
	p.handle(event{kind: evConnection, conn: pion.PeerConnectionStateConnected})
	p.handle(event{kind: evConnection, conn: pion.PeerConnectionStateFailed})

	want := []domain.SessionState{domain.StateConnecting, domain.StateConnected, domain.StateFailed}
	got := log.states()
	if len(got) != len(want) {
		t.Fatalf("expected states %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("state %d: expected %s, got %s", i, want[i], got[i])
		}
	}
	if !errors.Is(p.LastError(), domain.ErrTransportFailure) {
		t.Errorf("expected last error to be a transport failure, got %v", p.LastError())
	}
}

func TestConnectionEvents_HeldBackUntilSealed(t *testing.T) {
	p := newTestPeer(t, newTestEngine(t), "cam1", Options{Side: SideRouter, Role: domain.RoleSource})
	log := &eventLog{}
	p.Subscribe(log.add)

	if _, err := p.begin("accept-remote", domain.StateNew); err != nil {
		t.Fatalf("begin: %v", err)
	}
	p.setState(domain.StateGathering, nil)

	// the answering side's transport starts while its answer is gathering
	p.handle(event{kind: evConnection, conn: pion.PeerConnectionStateConnecting})
	if p.State() != domain.StateGathering {
		t.Fatalf("expected gathering until sealed, got %s", p.State())
	}

	p.ready()

	want := []domain.SessionState{
		domain.StateNegotiating,
		domain.StateGathering,
		domain.StateReadyToTransfer,
		domain.StateConnecting,
	}
	deadline := time.Now().Add(2 * time.Second)
	for len(log.states()) < len(want) && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	got := log.states()
	if len(got) != len(want) {
		t.Fatalf("expected states %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("state %d: expected %s, got %s", i, want[i], got[i])
		}
	}

	p.handle(event{kind: evConnection, conn: pion.PeerConnectionStateConnected})
	if p.State() != domain.StateConnected {
		t.Errorf("expected connected, got %s", p.State())
	}
}

func TestReady_ReplaysConnectedTransport(t *testing.T) {
	p := newTestPeer(t, newTestEngine(t), "mon1", Options{Side: SideRouter, Role: domain.RoleSink})

	if _, err := p.begin("accept-remote", domain.StateNew); err != nil {
		t.Fatalf("begin: %v", err)
	}
	p.handle(event{kind: evConnection, conn: pion.PeerConnectionStateConnecting})
	p.handle(event{kind: evConnection, conn: pion.PeerConnectionStateConnected})
	if p.State() != domain.StateNegotiating {
		t.Fatalf("expected negotiating until sealed, got %s", p.State())
	}

	p.ready()
	if p.State() != domain.StateConnected {
		t.Errorf("expected connected after sealing, got %s", p.State())
	}
}

func TestBeginAsSink_CancelledContext(t *testing.T) {
	p := newTestPeer(t, newTestEngine(t), "mon1", Options{Role: domain.RoleSink})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.BeginAsSink(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if errors.Is(err, domain.ErrGatheringTimeout) {
		t.Errorf("expected a cancelled caller not to be reported as a gathering timeout, got %v", err)
	}
	if p.State() != domain.StateFailed {
		t.Errorf("expected failed, got %s", p.State())
	}
}

func TestConnectionEvents_IgnoreStaleConnection(t *testing.T) {
	e := newTestEngine(t)
	p := newTestPeer(t, e, "cam1", Options{Side: SideRouter, Role: domain.RoleSource})
	stale, _, err := e.newPeerConnection("")
	if err != nil {
		t.Fatalf("newPeerConnection: %v", err)
	}
	defer stale.Close()

	p.handle(event{kind: evConnection, pc: stale, conn: pion.PeerConnectionStateClosed})

	if p.State() != domain.StateNew {
		t.Errorf("expected stale event to be ignored, state is %s", p.State())
	}
}

func TestOfflineExchange_RouterOfferToSink(t *testing.T) {
	e := newTestEngine(t)
	placeholder, err := media.NewNoSignal()
	if err != nil {
		t.Fatalf("NewNoSignal: %v", err)
	}
	defer placeholder.Stop()

	router := newTestPeer(t, e, "mon1", Options{Side: SideRouter, Role: domain.RoleSink, Name: "router", Outgoing: placeholder})
	sink := newTestPeer(t, e, "mon1", Options{Side: SideEndpoint, Role: domain.RoleSink, Name: "Monitor"})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	offer, err := router.BeginAsSink(ctx)
	if err != nil {
		t.Fatalf("BeginAsSink: %v", err)
	}
	if offer.Kind != domain.KindRouterOffer || offer.Description.Type != "offer" {
		t.Fatalf("unexpected offer %s/%s", offer.Kind, offer.Description.Type)
	}
	if router.State() != domain.StateReadyToTransfer && router.State() != domain.StateConnecting {
		t.Errorf("expected ready-to-transfer after sealing, got %s", router.State())
	}

	answer, err := sink.AcceptRemote(ctx, offer)
	if err != nil {
		t.Fatalf("AcceptRemote: %v", err)
	}
	if answer.Kind != domain.KindSinkAnswer || answer.DisplayName != "Monitor" {
		t.Fatalf("unexpected answer %s from %q", answer.Kind, answer.DisplayName)
	}

	if err := router.CompleteWithAnswer(answer); err != nil {
		t.Fatalf("CompleteWithAnswer: %v", err)
	}
	if err := router.CompleteWithAnswer(answer); !errors.Is(err, domain.ErrState) {
		t.Errorf("expected second answer to be a state error, got %v", err)
	}

	video, audio := router.OutgoingTracks()
	if video != placeholder.Video() || audio != placeholder.Audio() {
		t.Fatal("expected router to send the placeholder tracks")
	}

	replacement := newSampleTrack(t, pion.MimeTypeVP8, "cam1-video")
	if err := router.ReplaceOutgoingVideoTrack(replacement); err != nil {
		t.Fatalf("ReplaceOutgoingVideoTrack: %v", err)
	}
	if err := router.ReplaceOutgoingAudioTrack(nil); err != nil {
		t.Fatalf("ReplaceOutgoingAudioTrack(nil): %v", err)
	}
	video, audio = router.OutgoingTracks()
	if video != replacement {
		t.Error("expected video sender to carry the replacement track")
	}
	if audio != nil {
		t.Error("expected audio sender to be muted")
	}

	wrongKind := newSampleTrack(t, pion.MimeTypeOpus, "audio")
	if err := router.ReplaceOutgoingVideoTrack(wrongKind); err == nil {
		t.Error("expected an audio track on the video sender to fail")
	}

	rec := router.Record()
	if !rec.Offerer || rec.LocalDescription == nil || rec.RemoteDescription == nil || rec.Certificate == "" {
		t.Errorf("expected a complete record, got %+v", rec)
	}
}

func TestCandidatesFromSDP(t *testing.T) {
	raw := "v=0\r\n" +
		"o=- 1 2 IN IP4 0.0.0.0\r\n" +
		"s=-\r\n" +
		"t=0 0\r\n" +
		"a=ice-ufrag:sess\r\n" +
		"m=video 9 UDP/TLS/RTP/SAVPF 96\r\n" +
		"c=IN IP4 0.0.0.0\r\n" +
		"a=mid:0\r\n" +
		"a=candidate:1 1 udp 2130706431 192.168.1.20 50000 typ host\r\n" +
		"a=candidate:2 1 udp 2130706431 127.0.0.1 50001 typ host\r\n" +
		"m=audio 9 UDP/TLS/RTP/SAVPF 111\r\n" +
		"c=IN IP4 0.0.0.0\r\n" +
		"a=mid:1\r\n" +
		"a=ice-ufrag:media\r\n" +
		"a=candidate:3 1 udp 2130706431 192.168.1.20 50002 typ host\r\n"

	got, err := candidatesFromSDP(raw)
	if err != nil {
		t.Fatalf("candidatesFromSDP: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 candidates without loopback, got %d: %+v", len(got), got)
	}
	if got[0].SDPMid != "0" || got[0].SDPMLineIndex != 0 || got[0].UsernameFragment != "sess" {
		t.Errorf("unexpected first candidate %+v", got[0])
	}
	if got[1].SDPMid != "1" || got[1].SDPMLineIndex != 1 || got[1].UsernameFragment != "media" {
		t.Errorf("unexpected second candidate %+v", got[1])
	}
	if got[0].Candidate != "candidate:1 1 udp 2130706431 192.168.1.20 50000 typ host" {
		t.Errorf("unexpected candidate line %q", got[0].Candidate)
	}
}
