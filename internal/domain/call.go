package domain

import "time"

// Speaker is the role attributed to an utterance.
type Speaker string

const (
	SpeakerSalesperson Speaker = "Salesperson"
	SpeakerCustomer    Speaker = "Customer"
)

// Other returns the opposite conversational role.
func (s Speaker) Other() Speaker {
	if s == SpeakerSalesperson {
		return SpeakerCustomer
	}
	return SpeakerSalesperson
}

// CallStatus is the lifecycle status of a call.
type CallStatus string

const (
	CallActive CallStatus = "active"
	CallEnded  CallStatus = "ended"
)

// TranscriptEvent is one fragment emitted by a transcription source.
type TranscriptEvent struct {
	Text        string  `json:"text"`
	IsFinal     bool    `json:"is_final"`
	SpeakerHint string  `json:"speaker,omitempty"`
	Timestamp   float64 `json:"timestamp"`
	Confidence  float64 `json:"confidence"`
}

// Utterance is a transcribed fragment with an attributed speaker.
type Utterance struct {
	Text        string  `json:"text"`
	Speaker     Speaker `json:"speaker"`
	SpeakerHint string  `json:"speaker_hint,omitempty"`
	IsFinal     bool    `json:"is_final"`
	Timestamp   float64 `json:"timestamp"`
	Confidence  float64 `json:"confidence"`
}

// Call is the record of one active or completed sales call.
type Call struct {
	ID           string        `json:"id"`
	ConnectionID string        `json:"connection_id,omitempty"`
	StartedAt    time.Time     `json:"start_time"`
	EndedAt      *time.Time    `json:"end_time,omitempty"`
	Status       CallStatus    `json:"status"`
	Transcripts  []Utterance   `json:"transcripts"`
	Suggestions  []Suggestion  `json:"suggestions"`
	Stage        StageState    `json:"stage"`
	Analysis     *CallAnalysis `json:"analysis,omitempty"`
	AnalyzedAt   *time.Time    `json:"analyzed_at,omitempty"`
}

// Duration returns the elapsed time between start and end, zero while active.
func (c *Call) Duration() time.Duration {
	if c.EndedAt == nil {
		return 0
	}
	return c.EndedAt.Sub(c.StartedAt)
}

// FinalUtterances returns only the finalized transcript fragments.
func (c *Call) FinalUtterances() []Utterance {
	out := make([]Utterance, 0, len(c.Transcripts))
	for _, u := range c.Transcripts {
		if u.IsFinal {
			out = append(out, u)
		}
	}
	return out
}

// Summary returns the list view of the call.
func (c *Call) Summary() CallSummary {
	return CallSummary{
		ID:              c.ID,
		StartedAt:       c.StartedAt,
		EndedAt:         c.EndedAt,
		TranscriptCount: len(c.Transcripts),
		SuggestionCount: len(c.Suggestions),
		FinalStage:      c.Stage.Stage,
		Analyzed:        c.Analysis != nil,
	}
}

// CallSummary is the condensed listing entry for a saved call.
type CallSummary struct {
	ID              string     `json:"id"`
	StartedAt       time.Time  `json:"start_time"`
	EndedAt         *time.Time `json:"end_time,omitempty"`
	TranscriptCount int        `json:"transcript_count"`
	SuggestionCount int        `json:"suggestion_count"`
	FinalStage      Stage      `json:"final_stage,omitempty"`
	Analyzed        bool       `json:"analyzed"`
}

// MissedOpportunity is one moment the salesperson could have handled better.
type MissedOpportunity struct {
	Timestamp   string `json:"timestamp"`
	Opportunity string `json:"opportunity"`
	WhatToDo    string `json:"what_to_do"`
}

// CallAnalysis is the post-call coaching review.
type CallAnalysis struct {
	WhatWorked          []string            `json:"what_worked"`
	MissedOpportunities []MissedOpportunity `json:"missed_opportunities"`
	ImprovementTips     []string            `json:"improvement_tips"`
	SuccessScore        int                 `json:"success_score"`
	CallOutcome         string              `json:"call_outcome,omitempty"`
	KeyInsights         string              `json:"key_insights,omitempty"`
	Fallback            bool                `json:"fallback,omitempty"`
}
