package domain

import (
	"testing"
	"time"
)

func TestParseStage(t *testing.T) {
	t.Parallel()

	if st, ok := ParseStage("pitch"); !ok || st != StagePitch {
		t.Fatalf("ParseStage(pitch) = %q, %v", st, ok)
	}
	if _, ok := ParseStage("negotiation"); ok {
		t.Fatal("expected unknown stage to fail")
	}
	if StageClose.Index() != 4 || Stage("nope").Index() != -1 {
		t.Fatalf("unexpected stage index")
	}
}

func TestSpeakerOther(t *testing.T) {
	t.Parallel()

	if SpeakerSalesperson.Other() != SpeakerCustomer {
		t.Errorf("expected Customer")
	}
	if SpeakerCustomer.Other() != SpeakerSalesperson {
		t.Errorf("expected Salesperson")
	}
}

func TestCallSummaryAndFinals(t *testing.T) {
	t.Parallel()

	start := time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC)
	end := start.Add(90 * time.Second)
	c := &Call{
		ID:        "call_1",
		StartedAt: start,
		EndedAt:   &end,
		Transcripts: []Utterance{
			{Text: "hel", IsFinal: false},
			{Text: "hello there", IsFinal: true},
		},
		Suggestions: []Suggestion{{Mode: ModeLegacy}},
		Stage:       StageState{Stage: StageOpening},
	}

	if got := c.Duration(); got != 90*time.Second {
		t.Errorf("Duration() = %v", got)
	}
	finals := c.FinalUtterances()
	if len(finals) != 1 || finals[0].Text != "hello there" {
		t.Errorf("FinalUtterances() = %+v", finals)
	}
	s := c.Summary()
	if s.TranscriptCount != 2 || s.SuggestionCount != 1 || s.FinalStage != StageOpening {
		t.Errorf("Summary() = %+v", s)
	}
}
