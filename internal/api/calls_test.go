package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/worldwidesoldier/sales-coach-ai/internal/domain"
	"github.com/worldwidesoldier/sales-coach-ai/internal/playbook"
	"github.com/worldwidesoldier/sales-coach-ai/internal/store"
)

type fakeRepo struct {
	mu       sync.Mutex
	calls    map[string]*domain.Call
	pingErr  error
	analyzed map[string]domain.CallAnalysis
}

func newFakeRepo(calls ...*domain.Call) *fakeRepo {
	r := &fakeRepo{
		calls:    make(map[string]*domain.Call),
		analyzed: make(map[string]domain.CallAnalysis),
	}
	for _, c := range calls {
		r.calls[c.ID] = c
	}
	return r
}

func (r *fakeRepo) SaveCall(_ context.Context, call *domain.Call) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[call.ID] = call
	return nil
}

func (r *fakeRepo) GetCall(_ context.Context, id string) (*domain.Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[id], nil
}

func (r *fakeRepo) ListCalls(_ context.Context, _ int) ([]domain.CallSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.CallSummary, 0, len(r.calls))
	for _, c := range r.calls {
		out = append(out, c.Summary())
	}
	return out, nil
}

func (r *fakeRepo) DeleteCall(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.calls[id]; !ok {
		return store.ErrNotFound
	}
	delete(r.calls, id)
	return nil
}

func (r *fakeRepo) SaveAnalysis(_ context.Context, id string, analysis domain.CallAnalysis) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.calls[id]; !ok {
		return store.ErrNotFound
	}
	r.analyzed[id] = analysis
	return nil
}

func (r *fakeRepo) Ping(context.Context) error { return r.pingErr }
func (r *fakeRepo) Close() error               { return nil }

type fakeAnalyzer struct {
	calls int
}

func (a *fakeAnalyzer) Analyze(_ context.Context, _ *domain.Call) domain.CallAnalysis {
	a.calls++
	return domain.CallAnalysis{
		WhatWorked:      []string{"Clear opener"},
		ImprovementTips: []string{"Ask about budget"},
		SuccessScore:    7,
	}
}

type fakeLive struct {
	calls map[string]*domain.Call
}

func (l *fakeLive) Snapshot(id string) (*domain.Call, bool) {
	c, ok := l.calls[id]
	return c, ok
}

func (l *fakeLive) ActiveCount() int { return len(l.calls) }

func savedCall(id string) *domain.Call {
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	ended := started.Add(5 * time.Minute)
	return &domain.Call{
		ID:        id,
		StartedAt: started,
		EndedAt:   &ended,
		Status:    domain.CallEnded,
		Transcripts: []domain.Utterance{
			{Text: "Hi, this is Dana from Acme", Speaker: domain.SpeakerSalesperson, IsFinal: true},
		},
	}
}

func newTestRouter(t *testing.T, repo *fakeRepo, analyzer *fakeAnalyzer, live *fakeLive, checks map[string]HealthCheck) http.Handler {
	t.Helper()
	pb, err := playbook.Default()
	if err != nil {
		t.Fatalf("playbook.Default() error = %v", err)
	}
	var lc LiveCalls
	if live != nil {
		lc = live
	}
	h := NewHandler(repo, analyzer, lc, pb, checks)
	r := chi.NewRouter()
	h.RegisterRoutes(r, nil)
	return r
}

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestGetCall(t *testing.T) {
	repo := newFakeRepo(savedCall("call_1"))
	router := newTestRouter(t, repo, &fakeAnalyzer{}, nil, nil)

	w := do(t, router, http.MethodGet, "/api/calls/call_1")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body=%s", w.Code, w.Body.String())
	}
	var got domain.Call
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != "call_1" || len(got.Transcripts) != 1 {
		t.Errorf("got %+v", got)
	}
}

func TestGetCall_NotFound(t *testing.T) {
	router := newTestRouter(t, newFakeRepo(), &fakeAnalyzer{}, nil, nil)

	w := do(t, router, http.MethodGet, "/api/calls/missing")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestGetCall_FallsBackToLive(t *testing.T) {
	live := &fakeLive{calls: map[string]*domain.Call{
		"call_live": {ID: "call_live", Status: domain.CallActive},
	}}
	router := newTestRouter(t, newFakeRepo(), &fakeAnalyzer{}, live, nil)

	w := do(t, router, http.MethodGet, "/api/calls/call_live")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestListCalls(t *testing.T) {
	repo := newFakeRepo(savedCall("call_a"), savedCall("call_b"))
	router := newTestRouter(t, repo, &fakeAnalyzer{}, nil, nil)

	w := do(t, router, http.MethodGet, "/api/calls")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body struct {
		Calls []domain.CallSummary `json:"calls"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Calls) != 2 {
		t.Errorf("len(calls) = %d, want 2", len(body.Calls))
	}
}

func TestDeleteCall(t *testing.T) {
	repo := newFakeRepo(savedCall("call_1"))
	router := newTestRouter(t, repo, &fakeAnalyzer{}, nil, nil)

	w := do(t, router, http.MethodDelete, "/api/calls/call_1")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["message"] == "" {
		t.Error("expected a message in the response")
	}

	w = do(t, router, http.MethodDelete, "/api/calls/call_1")
	if w.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", w.Code)
	}
}

func TestAnalyzeCall(t *testing.T) {
	repo := newFakeRepo(savedCall("call_1"))
	analyzer := &fakeAnalyzer{}
	router := newTestRouter(t, repo, analyzer, nil, nil)

	w := do(t, router, http.MethodPost, "/api/calls/call_1/analyze")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body=%s", w.Code, w.Body.String())
	}
	var body struct {
		CallID   string              `json:"call_id"`
		Analysis domain.CallAnalysis `json:"analysis"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.CallID != "call_1" || body.Analysis.SuccessScore != 7 {
		t.Errorf("got %+v", body)
	}
	if _, ok := repo.analyzed["call_1"]; !ok {
		t.Error("analysis was not stored")
	}
}

func TestAnalyzeCall_Errors(t *testing.T) {
	empty := savedCall("call_empty")
	empty.Transcripts = nil
	repo := newFakeRepo(empty)
	analyzer := &fakeAnalyzer{}
	router := newTestRouter(t, repo, analyzer, nil, nil)

	if w := do(t, router, http.MethodPost, "/api/calls/nope/analyze"); w.Code != http.StatusNotFound {
		t.Errorf("missing call status = %d, want 404", w.Code)
	}
	if w := do(t, router, http.MethodPost, "/api/calls/call_empty/analyze"); w.Code != http.StatusBadRequest {
		t.Errorf("empty transcript status = %d, want 400", w.Code)
	}
	if analyzer.calls != 0 {
		t.Errorf("analyzer called %d times, want 0", analyzer.calls)
	}
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		pingErr    error
		coachOK    bool
		wantCode   int
		wantStatus string
	}{
		{"healthy", nil, true, http.StatusOK, "healthy"},
		{"degraded", nil, false, http.StatusOK, "degraded"},
		{"unhealthy", errors.New("db gone"), true, http.StatusServiceUnavailable, "unhealthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newFakeRepo()
			repo.pingErr = tt.pingErr
			coachOK := tt.coachOK
			checks := map[string]HealthCheck{
				"coach": func(context.Context) bool { return coachOK },
			}
			live := &fakeLive{calls: map[string]*domain.Call{"c": {ID: "c"}}}
			router := newTestRouter(t, repo, &fakeAnalyzer{}, live, checks)

			w := do(t, router, http.MethodGet, "/api/health")
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantCode)
			}
			var body struct {
				Status      string          `json:"status"`
				Services    map[string]bool `json:"services"`
				ActiveCalls int             `json:"active_calls"`
			}
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", body.Status, tt.wantStatus)
			}
			if body.Services["coach"] != tt.coachOK {
				t.Errorf("services[coach] = %v, want %v", body.Services["coach"], tt.coachOK)
			}
			if body.ActiveCalls != 1 {
				t.Errorf("active_calls = %d, want 1", body.ActiveCalls)
			}
		})
	}
}

func TestToolkit(t *testing.T) {
	router := newTestRouter(t, newFakeRepo(), &fakeAnalyzer{}, nil, nil)

	w := do(t, router, http.MethodGet, "/api/toolkit")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body map[string]playbook.ToolkitCategory
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body["opener"].Scripts) == 0 {
		t.Error("expected opener scripts in toolkit")
	}
}

func TestSanitizeID(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"call_20260301_100000_ab12cd34", "call_20260301_100000_ab12cd34"},
		{"../etc/passwd", ".._etc_passwd"},
		{`a\b`, "a_b"},
		{"a b;c", "abc"},
		{"", "unknown"},
		{"$$$", "unknown"},
	}
	for _, tt := range tests {
		if got := sanitizeID(tt.in); got != tt.want {
			t.Errorf("sanitizeID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
