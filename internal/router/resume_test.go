package router

import (
	"context"
	"errors"
	"testing"
	"time"

	"fest_router/native/internal/domain"

	pion "github.com/pion/webrtc/v4"
)

func savedSnapshot() domain.Snapshot {
	rec := func(id string, role domain.Role) domain.SessionRecord {
		return domain.SessionRecord{
			SessionID:         id,
			Role:              role,
			LocalDescription:  &domain.SDPPayload{Type: "answer", SDP: "v=0\r\n"},
			RemoteDescription: &domain.SDPPayload{Type: "offer", SDP: "v=0\r\n"},
			Certificate:       "cert-" + id,
		}
	}
	return domain.Snapshot{
		Version: domain.SnapshotVersion,
		SavedAt: time.Now(),
		Sources: []domain.SourceRecord{
			{SessionRecord: rec("cam1", domain.RoleSource), Status: domain.SourceStreaming},
			{SessionRecord: rec("cam2", domain.RoleSource), Status: domain.SourceAnswerReady},
		},
		Sinks: []domain.SinkRecord{
			{SessionRecord: rec("mon1", domain.RoleSink), Status: domain.SinkConnected, BoundSourceID: "cam1"},
		},
		Routes: []domain.Route{{SinkID: "mon1", SourceID: "cam1"}},
	}
}

func TestResume_RebindsAfterDelay(t *testing.T) {
	h := newHarness(t, Options{ResumeDelay: 20 * time.Millisecond})

	if err := h.router.Resume(context.Background(), savedSnapshot()); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	cam := h.factory.last(t, "cam1")
	if cam.restored == nil || cam.spec.Certificate != "cert-cam1" {
		t.Fatal("expected cam1 to be restored with its saved certificate")
	}
	if got := h.sourceStatus("cam2"); got != domain.SourceRestoreError {
		t.Errorf("expected cam2 restore error, got %s", got)
	}
	if got := h.sourceStatus("cam1"); got != domain.SourceConnecting {
		t.Errorf("expected cam1 connecting, got %s", got)
	}

	mon := h.factory.last(t, "mon1")
	mon.emit(domain.SessionEvent{State: domain.StateConnected})

	// the sink starts on no signal even though its saved route names cam1
	if src, ok := h.route("mon1"); !ok || src != "" {
		t.Fatalf("expected mon1 on no signal first, got %q (%v)", src, ok)
	}
	h.mustValidate()

	cam.stream.Attach(newSampleTrack(t, pion.MimeTypeVP8, "cam1-video", "cam1"), nil)
	cam.emit(domain.SessionEvent{TrackKind: "video"})

	eventually(t, "mon1 rebound to cam1", func() bool {
		src, _ := h.route("mon1")
		return src == "cam1"
	})
	h.mustValidate()
}

func TestResume_RebindWaitsForSource(t *testing.T) {
	h := newHarness(t, Options{ResumeDelay: 5 * time.Millisecond})

	if err := h.router.Resume(context.Background(), savedSnapshot()); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	h.factory.last(t, "mon1").emit(domain.SessionEvent{State: domain.StateConnected})

	// let the delay pass while cam1 is still connecting
	time.Sleep(50 * time.Millisecond)
	if src, _ := h.route("mon1"); src != "" {
		t.Fatalf("expected mon1 to wait on no signal, got %q", src)
	}

	cam := h.factory.last(t, "cam1")
	cam.stream.Attach(newSampleTrack(t, pion.MimeTypeVP8, "cam1-video", "cam1"), nil)
	cam.emit(domain.SessionEvent{TrackKind: "video"})

	if src, _ := h.route("mon1"); src != "cam1" {
		t.Errorf("expected rebind as soon as cam1 streams, got %q", src)
	}
	h.mustValidate()
}

func TestResume_ExplicitAssignCancelsRebind(t *testing.T) {
	h := newHarness(t, Options{ResumeDelay: 5 * time.Millisecond})

	if err := h.router.Resume(context.Background(), savedSnapshot()); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	h.factory.last(t, "mon1").emit(domain.SessionEvent{State: domain.StateConnected})
	if err := h.router.Assign("mon1", ""); err != nil {
		t.Fatalf("Assign: %v", err)
	}

	time.Sleep(30 * time.Millisecond)
	cam := h.factory.last(t, "cam1")
	cam.stream.Attach(newSampleTrack(t, pion.MimeTypeVP8, "cam1-video", "cam1"), nil)
	cam.emit(domain.SessionEvent{TrackKind: "video"})

	if src, _ := h.route("mon1"); src != "" {
		t.Errorf("expected the operator's choice to stick, got %q", src)
	}
}

func TestResume_RestoreFailure(t *testing.T) {
	h := newHarness(t, Options{ResumeDelay: 5 * time.Millisecond})
	h.factory.configure = func(s *fakeSession) {
		if s.spec.ID == "cam1" {
			s.restoreErr = errors.New("ice failed")
		}
	}

	err := h.router.Resume(context.Background(), savedSnapshot())
	if err == nil {
		t.Fatal("expected Resume to report the failed restore")
	}

	st := h.router.State()
	var cam1 domain.SourceView
	for _, s := range st.Sources {
		if s.ID == "cam1" {
			cam1 = s
		}
	}
	if cam1.Status != domain.SourceRestoreError || cam1.Error == "" {
		t.Errorf("expected cam1 restore error with a message, got %+v", cam1)
	}

	h.factory.last(t, "mon1").emit(domain.SessionEvent{State: domain.StateConnected})
	time.Sleep(30 * time.Millisecond)
	if src, ok := h.route("mon1"); !ok || src != "" {
		t.Errorf("expected mon1 to stay on no signal, got %q (%v)", src, ok)
	}
	h.mustValidate()
}

func TestResume_Snapshots(t *testing.T) {
	h := newHarness(t, Options{})

	if err := h.router.Resume(context.Background(), domain.Snapshot{}); err != nil {
		t.Errorf("expected empty snapshot to be ignored, got %v", err)
	}

	snap := savedSnapshot()
	snap.Version = 99
	if err := h.router.Resume(context.Background(), snap); !errors.Is(err, domain.ErrRestore) {
		t.Errorf("expected restore error for an unknown version, got %v", err)
	}
	if st := h.router.State(); len(st.Sources) != 0 {
		t.Errorf("expected nothing resumed, got %+v", st.Sources)
	}
}
