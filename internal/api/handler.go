// Package api provides HTTP handlers for the coaching API.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/worldwidesoldier/sales-coach-ai/internal/domain"
	"github.com/worldwidesoldier/sales-coach-ai/internal/playbook"
	"github.com/worldwidesoldier/sales-coach-ai/internal/store"
)

// CallAnalyzer reviews a completed call.
type CallAnalyzer interface {
	Analyze(ctx context.Context, call *domain.Call) domain.CallAnalysis
}

// LiveCalls exposes in-progress calls.
type LiveCalls interface {
	Snapshot(id string) (*domain.Call, bool)
	ActiveCount() int
}

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) bool

// Handler provides the REST endpoints.
type Handler struct {
	repo     store.Repository
	analyzer CallAnalyzer
	live     LiveCalls
	playbook *playbook.Playbook
	checks   map[string]HealthCheck
}

// NewHandler creates a new Handler with its dependencies.
func NewHandler(repo store.Repository, analyzer CallAnalyzer, live LiveCalls, pb *playbook.Playbook, checks map[string]HealthCheck) *Handler {
	if checks == nil {
		checks = map[string]HealthCheck{}
	}
	return &Handler{
		repo:     repo,
		analyzer: analyzer,
		live:     live,
		playbook: pb,
		checks:   checks,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
