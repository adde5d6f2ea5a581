package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/worldwidesoldier/sales-coach-ai/internal/domain"
)

func TestJSON_CallSummaries(t *testing.T) {
	started := time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC)
	calls := []domain.CallSummary{
		{ID: "call_20260402_093000_aa11bb22", StartedAt: started, TranscriptCount: 12, SuggestionCount: 4, FinalStage: domain.StageClose, Analyzed: true},
		{ID: "call_20260402_080000_cc33dd44", StartedAt: started.Add(-90 * time.Minute)},
	}

	w := httptest.NewRecorder()
	JSON(w, http.StatusOK, map[string]interface{}{"calls": calls})

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	var body struct {
		Calls []map[string]interface{} `json:"calls"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Calls) != 2 {
		t.Fatalf("len(calls) = %d, want 2", len(body.Calls))
	}
	first := body.Calls[0]
	if first["final_stage"] != "close" || first["analyzed"] != true || first["transcript_count"] != float64(12) {
		t.Errorf("first summary = %v", first)
	}
	if _, ok := body.Calls[1]["end_time"]; ok {
		t.Error("end_time present for call without end")
	}
	if _, ok := body.Calls[1]["final_stage"]; ok {
		t.Error("empty final_stage should be omitted")
	}
}

func TestError(t *testing.T) {
	tests := []struct {
		status  int
		message string
	}{
		{http.StatusNotFound, "call not found"},
		{http.StatusTooManyRequests, "rate limit exceeded"},
		{http.StatusInternalServerError, "failed to save analysis"},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		Error(w, tt.status, tt.message)

		if w.Code != tt.status {
			t.Errorf("status = %d, want %d", w.Code, tt.status)
		}
		var body map[string]string
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(body) != 1 || body["error"] != tt.message {
			t.Errorf("body = %v, want error=%q", body, tt.message)
		}
	}
}
