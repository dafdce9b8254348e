package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"fest_router/native/internal/domain"

	"github.com/alicebob/miniredis/v2"
)

func testSnapshot(savedAt time.Time) domain.Snapshot {
	return domain.Snapshot{
		Version: domain.SnapshotVersion,
		SavedAt: savedAt,
		Sources: []domain.SourceRecord{{
			SessionRecord: domain.SessionRecord{
				SessionID:         "cam1",
				DisplayName:       "Stage Left",
				Role:              domain.RoleSource,
				LocalDescription:  &domain.SDPPayload{Type: "answer", SDP: "v=0\r\n"},
				RemoteDescription: &domain.SDPPayload{Type: "offer", SDP: "v=0\r\n"},
				Certificate:       "-----BEGIN CERTIFICATE-----",
			},
			Status: domain.SourceStreaming,
		}},
		Sinks: []domain.SinkRecord{{
			SessionRecord: domain.SessionRecord{SessionID: "mon1", Role: domain.RoleSink, Offerer: true},
			Status:        domain.SinkConnected,
			BoundSourceID: "cam1",
		}},
		Routes: []domain.Route{{SinkID: "mon1", SourceID: "cam1"}},
	}
}

func TestFileStore_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "snapshot.json")
	s := NewFileStore(path, time.Hour)
	ctx := context.Background()

	empty, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load on a missing file: %v", err)
	}
	if !empty.Empty() {
		t.Errorf("expected empty snapshot, got %+v", empty)
	}

	if err := s.Save(ctx, testSnapshot(time.Now())); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got.Sources) != 1 || got.Sources[0].DisplayName != "Stage Left" || got.Sources[0].Status != domain.SourceStreaming {
		t.Errorf("unexpected sources %+v", got.Sources)
	}
	if got.Sources[0].LocalDescription == nil || got.Sources[0].LocalDescription.Type != "answer" {
		t.Errorf("expected local description to survive, got %+v", got.Sources[0].LocalDescription)
	}
	if len(got.Sinks) != 1 || !got.Sinks[0].Offerer || got.Sinks[0].BoundSourceID != "cam1" {
		t.Errorf("unexpected sinks %+v", got.Sinks)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("expected the temporary file to be renamed away")
	}
}

func TestFileStore_Expired(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.json")
	s := NewFileStore(path, time.Hour)
	ctx := context.Background()

	if err := s.Save(ctx, testSnapshot(time.Now().Add(-2*time.Hour))); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !got.Empty() {
		t.Errorf("expected an expired snapshot to load empty, got %+v", got)
	}
}

func TestFileStore_BadContents(t *testing.T) {
	tests := map[string]string{
		"garbage":     "{not json",
		"old version": `{"version": 0, "savedAt": "2026-01-01T00:00:00Z"}`,
	}
	for name, contents := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "snapshot.json")
			if err := os.WriteFile(path, []byte(contents), 0600); err != nil {
				t.Fatal(err)
			}
			if _, err := NewFileStore(path, time.Hour).Load(context.Background()); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestRedisStore_SaveLoad(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	s, err := NewRedisStore(ctx, RedisOptions{Addr: mr.Addr(), TTL: time.Hour})
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	defer s.Close()

	empty, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load on a missing key: %v", err)
	}
	if !empty.Empty() {
		t.Errorf("expected empty snapshot, got %+v", empty)
	}

	if err := s.Save(ctx, testSnapshot(time.Now())); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if ttl := mr.TTL(DefaultRedisKey); ttl != time.Hour {
		t.Errorf("expected key ttl of an hour, got %v", ttl)
	}

	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got.Routes) != 1 || got.Routes[0].SourceID != "cam1" {
		t.Errorf("unexpected routes %+v", got.Routes)
	}

	mr.FastForward(2 * time.Hour)
	got, err = s.Load(ctx)
	if err != nil {
		t.Fatalf("Load after expiry: %v", err)
	}
	if !got.Empty() {
		t.Error("expected the snapshot to expire with its key")
	}
}

func TestRedisStore_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := NewRedisStore(ctx, RedisOptions{Addr: addr}); err == nil {
		t.Fatal("expected a connection error")
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, Options{Kind: "none"})
	if err != nil || s != nil {
		t.Errorf("expected no store for kind none, got %v, %v", s, err)
	}

	s, err = Open(ctx, Options{Kind: "file", Path: filepath.Join(t.TempDir(), "s.json")})
	if err != nil {
		t.Fatalf("Open file: %v", err)
	}
	if _, ok := s.(*FileStore); !ok {
		t.Errorf("expected a FileStore, got %T", s)
	}

	if _, err := Open(ctx, Options{Kind: "etcd"}); err == nil {
		t.Error("expected unknown kind to fail")
	}

	mr := miniredis.RunT(t)
	s, err = Open(ctx, Options{Kind: "redis", RedisAddr: mr.Addr(), RedisKey: "k"})
	if err != nil {
		t.Fatalf("Open redis: %v", err)
	}
	defer s.Close()
	if err := s.Save(ctx, testSnapshot(time.Now())); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !mr.Exists("k") {
		t.Error("expected the configured key to be written")
	}
}
