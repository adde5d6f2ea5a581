package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/worldwidesoldier/sales-coach-ai/internal/domain"
	"github.com/worldwidesoldier/sales-coach-ai/internal/middleware"
	"github.com/worldwidesoldier/sales-coach-ai/internal/session"
)

type fakeSessions struct {
	mu           sync.Mutex
	hub          *Hub
	active       map[string]string
	transcripts  []domain.TranscriptEvent
	audio        [][]byte
	disconnected chan string
}

func newFakeSessions(hub *Hub) *fakeSessions {
	return &fakeSessions{
		hub:          hub,
		active:       make(map[string]string),
		disconnected: make(chan string, 1),
	}
}

func (f *fakeSessions) StartSession(_ context.Context, connID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.active[connID]; ok {
		return "", session.ErrCallActive
	}
	f.active[connID] = "call_test"
	f.hub.Deliver(connID, session.Event{Type: session.EventCallStarted, Data: session.CallStartedData{SessionID: "call_test"}})
	return "call_test", nil
}

func (f *fakeSessions) EndSession(_ context.Context, id string) (*domain.Call, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for conn, sid := range f.active {
		if sid == id {
			delete(f.active, conn)
			f.hub.Deliver(conn, session.Event{Type: session.EventCallEnded, Data: session.CallEndedData{SessionID: id}})
		}
	}
	return &domain.Call{ID: id}, nil
}

func (f *fakeSessions) HandleTranscriptEvent(_ string, ev domain.TranscriptEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transcripts = append(f.transcripts, ev)
	return nil
}

func (f *fakeSessions) SendAudio(_ string, chunk []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audio = append(f.audio, chunk)
	return nil
}

func (f *fakeSessions) OnTransportDisconnect(_ context.Context, connID string) {
	f.disconnected <- connID
}

func (f *fakeSessions) SessionForConnection(connID string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.active[connID]
	return id, ok
}

func (f *fakeSessions) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.transcripts), len(f.audio)
}

type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func readFrame(t *testing.T, ctx context.Context, conn *websocket.Conn) frame {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("decode frame %s: %v", data, err)
	}
	return f
}

func writeJSON(t *testing.T, ctx context.Context, conn *websocket.Conn, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestHandler_CallProtocol(t *testing.T) {
	hub := NewHub(nil)
	sessions := newFakeSessions(hub)
	limiter := middleware.NewRateLimiter(100, time.Second)
	defer limiter.Stop()

	srv := httptest.NewServer(NewHandler(sessions, hub, limiter, []string{"http://localhost:5173"}, nil))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+srv.URL[len("http"):], nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	hello := readFrame(t, ctx, conn)
	if hello.Type != EventConnectionEstablished {
		t.Fatalf("first frame = %s", hello.Type)
	}
	var est connectionData
	if err := json.Unmarshal(hello.Data, &est); err != nil || est.ConnectionID == "" {
		t.Fatalf("connection data = %s (%v)", hello.Data, err)
	}

	writeJSON(t, ctx, conn, map[string]string{"type": "start_call"})
	if f := readFrame(t, ctx, conn); f.Type != session.EventCallStarted {
		t.Fatalf("after start_call got %s", f.Type)
	}

	writeJSON(t, ctx, conn, map[string]string{"type": "start_call"})
	if f := readFrame(t, ctx, conn); f.Type != session.EventError {
		t.Fatalf("second start_call got %s, want error", f.Type)
	}

	writeJSON(t, ctx, conn, map[string]any{
		"type": "transcript", "text": "How many calls per day?", "is_final": true, "timestamp": 1.5, "speaker": "Speaker 0",
	})
	writeJSON(t, ctx, conn, map[string]string{"type": "audio", "audio": "AQID"})
	if err := conn.Write(ctx, websocket.MessageBinary, []byte{4, 5, 6}); err != nil {
		t.Fatalf("write binary: %v", err)
	}

	writeJSON(t, ctx, conn, map[string]string{"type": "ping"})
	if f := readFrame(t, ctx, conn); f.Type != EventPong {
		t.Fatalf("after ping got %s", f.Type)
	}

	transcripts, audio := sessions.counts()
	if transcripts != 1 || audio != 2 {
		t.Errorf("transcripts=%d audio=%d, want 1 and 2", transcripts, audio)
	}
	sessions.mu.Lock()
	ev := sessions.transcripts[0]
	sessions.mu.Unlock()
	if !ev.IsFinal || ev.SpeakerHint != "Speaker 0" || ev.Timestamp != 1.5 {
		t.Errorf("transcript event = %+v", ev)
	}

	writeJSON(t, ctx, conn, map[string]string{"type": "end_call"})
	if f := readFrame(t, ctx, conn); f.Type != session.EventCallEnded {
		t.Fatalf("after end_call got %s", f.Type)
	}

	writeJSON(t, ctx, conn, map[string]string{"type": "dance"})
	if f := readFrame(t, ctx, conn); f.Type != session.EventError {
		t.Fatalf("unknown type got %s", f.Type)
	}

	_ = conn.Close(websocket.StatusNormalClosure, "bye")
	select {
	case id := <-sessions.disconnected:
		if id != est.ConnectionID {
			t.Errorf("disconnect for %q, want %q", id, est.ConnectionID)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("OnTransportDisconnect not called")
	}
}

func TestHandler_RejectsOrigin(t *testing.T) {
	hub := NewHub(nil)
	h := NewHandler(newFakeSessions(hub), hub, nil, []string{"http://localhost:5173"}, nil)

	req := httptest.NewRequest(http.MethodGet, "/ws/call", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestHub_DeliverToUnknownConnection(t *testing.T) {
	hub := NewHub(nil)
	hub.Deliver("missing", session.Event{Type: session.EventSuggestion})
	hub.Unregister("missing")
	if hub.Count() != 0 {
		t.Errorf("Count = %d", hub.Count())
	}
}
