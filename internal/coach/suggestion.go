package coach

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/worldwidesoldier/sales-coach-ai/internal/domain"
)

// ParseError reports a generator response that does not conform to the
// payload schema of its mode.
type ParseError struct {
	Mode   domain.CoachingMode
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse %s payload: %s: %v", e.Mode, e.Reason, e.Err)
	}
	return fmt.Sprintf("parse %s payload: %s", e.Mode, e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }

var (
	urgencyLegacy   = map[string]bool{"normal": true, "high": true, "critical": true}
	urgencyGuidance = map[string]bool{"low": true, "medium": true, "high": true, "critical": true}
)

type rawPrimary struct {
	Text       *string  `json:"text"`
	Reasoning  *string  `json:"reasoning"`
	Confidence *float64 `json:"confidence"`
	Urgency    string   `json:"urgency"`
}

type rawContext struct {
	CallStage         string `json:"call_stage"`
	ObjectionDetected bool   `json:"objection_detected"`
	ObjectionType     string `json:"objection_type"`
	BuyingSignal      bool   `json:"buying_signal"`
	Sentiment         string `json:"sentiment"`
}

type rawLegacy struct {
	PrimarySuggestion *rawPrimary `json:"primary_suggestion"`
	Context           *rawContext `json:"context"`
	HighlightToolkit  []string    `json:"highlight_toolkit"`
	NextMove          string      `json:"next_move"`
}

type rawStageValidation struct {
	CurrentStage *string  `json:"current_stage"`
	Confidence   *float64 `json:"confidence"`
	Reasoning    string   `json:"reasoning"`
}

type rawFocus struct {
	What    *string `json:"what"`
	Why     string  `json:"why"`
	Urgency string  `json:"urgency"`
}

type rawGuidance struct {
	StageValidation *rawStageValidation  `json:"stage_validation"`
	Focus           *rawFocus            `json:"focus"`
	KeyQuestions    []domain.KeyQuestion `json:"key_questions"`
	TalkingPoints   *[]string            `json:"talking_points"`
	Objectives      json.RawMessage      `json:"objectives"`
}

// Parse validates a raw generator response against the payload schema of
// mode. The response must be exactly one JSON object, optionally surrounded
// by whitespace. Anything else yields a *ParseError.
func Parse(mode domain.CoachingMode, raw []byte) (domain.Payload, error) {
	switch mode {
	case domain.ModeLegacy:
		var r rawLegacy
		if err := decodeStrict(raw, &r); err != nil {
			return nil, &ParseError{Mode: mode, Reason: "invalid json", Err: err}
		}
		return r.validate()
	case domain.ModeGuidance:
		var r rawGuidance
		if err := decodeStrict(raw, &r); err != nil {
			return nil, &ParseError{Mode: mode, Reason: "invalid json", Err: err}
		}
		return r.validate()
	default:
		return nil, &ParseError{Mode: mode, Reason: "unknown coaching mode"}
	}
}

func (r *rawLegacy) validate() (domain.Payload, error) {
	fail := func(reason string) (domain.Payload, error) {
		return nil, &ParseError{Mode: domain.ModeLegacy, Reason: reason}
	}

	p := r.PrimarySuggestion
	switch {
	case p == nil:
		return fail("missing primary_suggestion")
	case p.Text == nil || *p.Text == "":
		return fail("missing primary_suggestion.text")
	case p.Reasoning == nil:
		return fail("missing primary_suggestion.reasoning")
	case p.Confidence == nil:
		return fail("missing primary_suggestion.confidence")
	case r.Context == nil:
		return fail("missing context")
	}

	confidence, ok := percent(*p.Confidence)
	if !ok {
		return fail("primary_suggestion.confidence out of range")
	}
	urgency := p.Urgency
	if urgency == "" {
		urgency = "normal"
	}
	if !urgencyLegacy[urgency] {
		return fail(fmt.Sprintf("invalid urgency %q", p.Urgency))
	}

	var stage domain.Stage
	if r.Context.CallStage != "" {
		s, ok := domain.ParseStage(r.Context.CallStage)
		if !ok {
			return fail(fmt.Sprintf("invalid context.call_stage %q", r.Context.CallStage))
		}
		stage = s
	}

	highlights := r.HighlightToolkit
	if highlights == nil {
		highlights = []string{}
	}

	return &domain.LegacySuggestion{
		PrimarySuggestion: domain.PrimarySuggestion{
			Text:       *p.Text,
			Reasoning:  *p.Reasoning,
			Confidence: confidence,
			Urgency:    urgency,
		},
		Context: domain.SuggestionContext{
			CallStage:         stage,
			ObjectionDetected: r.Context.ObjectionDetected,
			ObjectionType:     r.Context.ObjectionType,
			BuyingSignal:      r.Context.BuyingSignal,
			Sentiment:         r.Context.Sentiment,
		},
		HighlightToolkit: highlights,
		NextMove:         r.NextMove,
	}, nil
}

func (r *rawGuidance) validate() (domain.Payload, error) {
	fail := func(reason string) (domain.Payload, error) {
		return nil, &ParseError{Mode: domain.ModeGuidance, Reason: reason}
	}

	sv := r.StageValidation
	switch {
	case sv == nil:
		return fail("missing stage_validation")
	case sv.CurrentStage == nil:
		return fail("missing stage_validation.current_stage")
	case r.Focus == nil:
		return fail("missing focus")
	case r.Focus.What == nil || *r.Focus.What == "":
		return fail("missing focus.what")
	case len(r.KeyQuestions) == 0:
		return fail("missing key_questions")
	case r.TalkingPoints == nil:
		return fail("missing talking_points")
	case len(r.Objectives) == 0 || string(r.Objectives) == "null":
		return fail("missing objectives")
	}

	stage, ok := domain.ParseStage(*sv.CurrentStage)
	if !ok {
		return fail(fmt.Sprintf("invalid stage_validation.current_stage %q", *sv.CurrentStage))
	}
	confidence := 0
	if sv.Confidence != nil {
		c, ok := percent(*sv.Confidence)
		if !ok {
			return fail("stage_validation.confidence out of range")
		}
		confidence = c
	}
	urgency := r.Focus.Urgency
	if urgency == "" {
		urgency = "medium"
	}
	if !urgencyGuidance[urgency] {
		return fail(fmt.Sprintf("invalid focus.urgency %q", r.Focus.Urgency))
	}

	questions := make([]domain.KeyQuestion, len(r.KeyQuestions))
	for i, q := range r.KeyQuestions {
		if q.Primary == "" {
			return fail(fmt.Sprintf("key_questions[%d] missing primary", i))
		}
		if q.Alternatives == nil {
			q.Alternatives = []string{}
		}
		questions[i] = q
	}

	return &domain.GuidanceSuggestion{
		StageValidation: domain.StageValidation{
			CurrentStage: stage,
			Confidence:   confidence,
			Reasoning:    sv.Reasoning,
		},
		Focus: domain.Focus{
			What:    *r.Focus.What,
			Why:     r.Focus.Why,
			Urgency: urgency,
		},
		KeyQuestions:  questions,
		TalkingPoints: *r.TalkingPoints,
	}, nil
}

type rawAnalysis struct {
	WhatWorked          *[]string                   `json:"what_worked"`
	MissedOpportunities *[]domain.MissedOpportunity `json:"missed_opportunities"`
	ImprovementTips     *[]string                   `json:"improvement_tips"`
	SuccessScore        *float64                    `json:"success_score"`
	CallOutcome         string                      `json:"call_outcome"`
	KeyInsights         string                      `json:"key_insights"`
}

// ParseAnalysis validates a post-call analysis response.
func ParseAnalysis(raw []byte) (domain.CallAnalysis, error) {
	var r rawAnalysis
	if err := decodeStrict(raw, &r); err != nil {
		return domain.CallAnalysis{}, fmt.Errorf("parse analysis: %w", err)
	}
	switch {
	case r.WhatWorked == nil:
		return domain.CallAnalysis{}, errors.New("parse analysis: missing what_worked")
	case r.MissedOpportunities == nil:
		return domain.CallAnalysis{}, errors.New("parse analysis: missing missed_opportunities")
	case r.ImprovementTips == nil:
		return domain.CallAnalysis{}, errors.New("parse analysis: missing improvement_tips")
	case r.SuccessScore == nil:
		return domain.CallAnalysis{}, errors.New("parse analysis: missing success_score")
	}
	score := int(math.Round(*r.SuccessScore))
	if score < 0 || score > 10 {
		return domain.CallAnalysis{}, fmt.Errorf("parse analysis: success_score %d out of range", score)
	}
	return domain.CallAnalysis{
		WhatWorked:          *r.WhatWorked,
		MissedOpportunities: *r.MissedOpportunities,
		ImprovementTips:     *r.ImprovementTips,
		SuccessScore:        score,
		CallOutcome:         r.CallOutcome,
		KeyInsights:         r.KeyInsights,
	}, nil
}

// FallbackAnalysis is returned when the generator cannot review a call.
func FallbackAnalysis() domain.CallAnalysis {
	return domain.CallAnalysis{
		WhatWorked:          []string{"Call was attempted"},
		MissedOpportunities: []domain.MissedOpportunity{},
		ImprovementTips:     []string{"Practice active listening", "Ask more discovery questions"},
		SuccessScore:        5,
		CallOutcome:         "neutral",
		KeyInsights:         "Analysis unavailable - review transcript manually",
		Fallback:            true,
	}
}

// decodeStrict decodes exactly one JSON object from raw.
func decodeStrict(raw []byte, v any) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return errors.New("empty response")
	}
	if trimmed[0] != '{' {
		return errors.New("response is not a json object")
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	if err := dec.Decode(v); err != nil {
		return err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return errors.New("unexpected data after json object")
	}
	return nil
}

func percent(v float64) (int, bool) {
	if math.IsNaN(v) || v < 0 || v > 100 {
		return 0, false
	}
	return int(math.Round(v)), true
}
