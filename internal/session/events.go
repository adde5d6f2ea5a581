package session

import (
	"context"
	"time"

	"github.com/worldwidesoldier/sales-coach-ai/internal/domain"
)

// Event types delivered to the connection that owns a call.
const (
	EventCallStarted   = "call_started"
	EventTranscription = "transcription"
	EventSuggestion    = "suggestion"
	EventCallEnded     = "call_ended"
	EventError         = "error"
)

// Event is an asynchronous notification routed to a transport connection.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Notifier routes events to transport connections. Delivering to a
// connection that no longer exists must be a no-op.
type Notifier interface {
	Deliver(connectionID string, ev Event)
}

// CallSaver persists completed calls.
type CallSaver interface {
	SaveCall(ctx context.Context, call *domain.Call) error
}

// CallStartedData is the payload of EventCallStarted.
type CallStartedData struct {
	SessionID   string    `json:"session_id"`
	Timestamp   time.Time `json:"timestamp"`
	Transcriber string    `json:"transcriber"`
}

// TranscriptionData is the payload of EventTranscription.
type TranscriptionData struct {
	SessionID string `json:"session_id"`
	domain.Utterance
}

// SuggestionData is the payload of EventSuggestion.
type SuggestionData struct {
	SessionID string `json:"session_id"`
	domain.Suggestion
}

// CallEndedData is the payload of EventCallEnded.
type CallEndedData struct {
	SessionID       string  `json:"session_id"`
	Duration        float64 `json:"duration"`
	TranscriptCount int     `json:"transcript_count"`
	SuggestionCount int     `json:"suggestion_count"`
	Saved           bool    `json:"saved"`
}

// ErrorData is the payload of EventError.
type ErrorData struct {
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
}

type discardNotifier struct{}

func (discardNotifier) Deliver(string, Event) {}
