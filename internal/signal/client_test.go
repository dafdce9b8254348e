package signal

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"fest_router/native/internal/domain"

	"github.com/gorilla/websocket"
)

// mockHandler records feed callbacks for verification.
type mockHandler struct {
	mu           sync.Mutex
	states       []domain.State
	events       []domain.StatusEvent
	disconnected chan error
}

func newMockHandler() *mockHandler {
	return &mockHandler{disconnected: make(chan error, 1)}
}

func (m *mockHandler) OnState(st domain.State) {
	m.mu.Lock()
	m.states = append(m.states, st)
	m.mu.Unlock()
}

func (m *mockHandler) OnStatus(ev domain.StatusEvent) {
	m.mu.Lock()
	m.events = append(m.events, ev)
	m.mu.Unlock()
}

func (m *mockHandler) OnDisconnect(err error) { m.disconnected <- err }

func (m *mockHandler) counts() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.states), len(m.events)
}

// feedServer writes frames to the first client and then closes.
func feedServer(t *testing.T, gotAuth chan<- string, frames ...any) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ws/status" {
			http.NotFound(w, r)
			return
		}
		gotAuth <- r.Header.Get("Authorization")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, f := range frames {
			if err := conn.WriteJSON(f); err != nil {
				return
			}
		}
		conn.WriteMessage(websocket.TextMessage, []byte("{not json"))
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "bye"),
			time.Now().Add(time.Second))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_DispatchesFrames(t *testing.T) {
	auth := make(chan string, 1)
	srv := feedServer(t, auth,
		domain.FeedMessage{Type: domain.FeedState, State: &domain.State{
			Sources: []domain.SourceView{{ID: "cam1", Status: domain.SourceStreaming}},
		}},
		domain.FeedMessage{Type: domain.FeedStatus, Event: &domain.StatusEvent{SessionID: "mon1", Status: "connected"}},
		domain.FeedMessage{Type: "unknown"},
	)

	h := newMockHandler()
	c := NewClient(srv.URL, "tok", h)
	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	select {
	case err := <-h.disconnected:
		if err == nil {
			t.Error("expected the server close to be reported")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for disconnect")
	}

	states, events := h.counts()
	if states != 1 || events != 1 {
		t.Errorf("expected 1 state and 1 event, got %d and %d", states, events)
	}
	if got := <-auth; got != "Bearer tok" {
		t.Errorf("expected bearer token, got %q", got)
	}
	select {
	case <-c.Done():
	default:
		t.Error("expected Done to be closed after disconnect")
	}
}

func TestClient_CloseIsQuiet(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	h := newMockHandler()
	c := NewClient(srv.URL, "", h)
	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	c.Close()
	c.Close()

	select {
	case err := <-h.disconnected:
		if err != nil {
			t.Errorf("expected no error after a local close, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for disconnect")
	}
}

func TestClient_DialFailure(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", "", newMockHandler())
	if err := c.Connect(); err == nil {
		t.Error("expected dial to fail")
	}
}
