package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/worldwidesoldier/sales-coach-ai/internal/store"
)

const maxIDLength = 255

var unsafeIDChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// sanitizeID makes a call id safe for lookups.
func sanitizeID(id string) string {
	id = strings.NewReplacer("/", "_", `\`, "_").Replace(id)
	id = unsafeIDChars.ReplaceAllString(id, "")
	if len(id) > maxIDLength {
		id = id[:maxIDLength]
	}
	if id == "" {
		return "unknown"
	}
	return id
}

// RegisterRoutes registers the REST routes. analyzeLimit, when non-nil,
// wraps the analyze endpoint.
func (h *Handler) RegisterRoutes(r chi.Router, analyzeLimit func(http.Handler) http.Handler) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)
		r.Get("/toolkit", h.Toolkit)
		r.Get("/calls", h.ListCalls)
		r.Get("/calls/{id}", h.GetCall)
		r.Delete("/calls/{id}", h.DeleteCall)
		if analyzeLimit != nil {
			r.With(analyzeLimit).Post("/calls/{id}/analyze", h.AnalyzeCall)
		} else {
			r.Post("/calls/{id}/analyze", h.AnalyzeCall)
		}
	})
}

// Health reports dependency status and the number of live calls.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	services := make(map[string]bool, len(h.checks)+1)
	healthy := true
	for name, check := range h.checks {
		ok := check(ctx)
		services[name] = ok
		healthy = healthy && ok
	}
	dbOK := h.repo.Ping(ctx) == nil
	services["database"] = dbOK

	status := "healthy"
	code := http.StatusOK
	switch {
	case !dbOK:
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	case !healthy:
		status = "degraded"
	}

	active := 0
	if h.live != nil {
		active = h.live.ActiveCount()
	}

	JSON(w, code, map[string]interface{}{
		"status":       status,
		"timestamp":    time.Now().UTC(),
		"services":     services,
		"active_calls": active,
	})
}

// Toolkit returns the static backup toolkit.
func (h *Handler) Toolkit(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, h.playbook.Toolkit)
}

// ListCalls returns saved call summaries, newest first.
func (h *Handler) ListCalls(w http.ResponseWriter, r *http.Request) {
	calls, err := h.repo.ListCalls(r.Context(), 0)
	if err != nil {
		slog.Error("Failed to list calls", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list calls")
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"calls": calls})
}

// GetCall returns a saved call, or the live record while it is in progress.
func (h *Handler) GetCall(w http.ResponseWriter, r *http.Request) {
	id := sanitizeID(chi.URLParam(r, "id"))

	call, err := h.repo.GetCall(r.Context(), id)
	if err != nil {
		slog.Error("Failed to load call", "call_id", id, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load call")
		return
	}
	if call == nil && h.live != nil {
		call, _ = h.live.Snapshot(id)
	}
	if call == nil {
		Error(w, http.StatusNotFound, "call not found")
		return
	}
	JSON(w, http.StatusOK, call)
}

// DeleteCall removes a saved call.
func (h *Handler) DeleteCall(w http.ResponseWriter, r *http.Request) {
	id := sanitizeID(chi.URLParam(r, "id"))

	err := h.repo.DeleteCall(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		Error(w, http.StatusNotFound, "call not found")
		return
	}
	if err != nil {
		slog.Error("Failed to delete call", "call_id", id, "error", err)
		Error(w, http.StatusInternalServerError, "failed to delete call")
		return
	}
	slog.Info("Call deleted", "call_id", id)
	JSON(w, http.StatusOK, map[string]string{"message": "Call " + id + " deleted"})
}

// AnalyzeCall runs post-call analysis and stores it on the record.
func (h *Handler) AnalyzeCall(w http.ResponseWriter, r *http.Request) {
	id := sanitizeID(chi.URLParam(r, "id"))
	ctx := r.Context()

	call, err := h.repo.GetCall(ctx, id)
	if err != nil {
		slog.Error("Failed to load call for analysis", "call_id", id, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load call")
		return
	}
	if call == nil {
		Error(w, http.StatusNotFound, "call not found")
		return
	}
	if len(call.FinalUtterances()) == 0 {
		Error(w, http.StatusBadRequest, "call has no transcript to analyze")
		return
	}

	analysis := h.analyzer.Analyze(ctx, call)
	if err := h.repo.SaveAnalysis(ctx, id, analysis); err != nil {
		slog.Error("Failed to save analysis", "call_id", id, "error", err)
		Error(w, http.StatusInternalServerError, "failed to save analysis")
		return
	}

	slog.Info("Call analyzed", "call_id", id, "score", analysis.SuccessScore, "fallback", analysis.Fallback)
	JSON(w, http.StatusOK, map[string]interface{}{
		"call_id":  id,
		"analysis": analysis,
	})
}
