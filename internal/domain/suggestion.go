package domain

import "time"

// CoachingMode selects the shape of coaching payloads.
type CoachingMode string

const (
	// ModeLegacy produces a single "what to say next" suggestion.
	ModeLegacy CoachingMode = "suggestions"
	// ModeGuidance produces strategic direction with key questions.
	ModeGuidance CoachingMode = "guidance"
)

// StageState is the classified stage of a call plus how long it has held.
type StageState struct {
	Stage        Stage     `json:"stage"`
	Confidence   int       `json:"confidence"`
	TurnsInStage int       `json:"turns_in_stage"`
	EnteredAt    time.Time `json:"entered_at"`
}

// ObjectiveRef identifies a checklist objective in a completion list.
type ObjectiveRef struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Priority    string `json:"priority,omitempty"`
}

// Objectives splits a stage checklist into completed and remaining items.
type Objectives struct {
	Completed []ObjectiveRef `json:"completed"`
	Remaining []ObjectiveRef `json:"remaining"`
}

// Payload is a validated coaching payload: *LegacySuggestion or *GuidanceSuggestion.
type Payload interface {
	Mode() CoachingMode
}

// PrimarySuggestion is the line the salesperson should say next.
type PrimarySuggestion struct {
	Text       string `json:"text" yaml:"text"`
	Reasoning  string `json:"reasoning" yaml:"reasoning"`
	Confidence int    `json:"confidence" yaml:"confidence"`
	Urgency    string `json:"urgency" yaml:"urgency"`
}

// SuggestionContext is the conversational read accompanying a legacy suggestion.
type SuggestionContext struct {
	CallStage         Stage  `json:"call_stage" yaml:"call_stage"`
	ObjectionDetected bool   `json:"objection_detected" yaml:"objection_detected"`
	ObjectionType     string `json:"objection_type" yaml:"objection_type"`
	BuyingSignal      bool   `json:"buying_signal" yaml:"buying_signal"`
	Sentiment         string `json:"sentiment" yaml:"sentiment"`
}

// LegacySuggestion is the "primary suggestion" coaching payload.
type LegacySuggestion struct {
	PrimarySuggestion PrimarySuggestion `json:"primary_suggestion" yaml:"primary_suggestion"`
	Context           SuggestionContext `json:"context" yaml:"context"`
	HighlightToolkit  []string          `json:"highlight_toolkit" yaml:"highlight_toolkit"`
	NextMove          string            `json:"next_move,omitempty" yaml:"next_move"`
}

// Mode implements Payload.
func (*LegacySuggestion) Mode() CoachingMode { return ModeLegacy }

// StageValidation is the generator's confirmation of the current stage.
type StageValidation struct {
	CurrentStage Stage  `json:"current_stage" yaml:"current_stage"`
	Confidence   int    `json:"confidence" yaml:"confidence"`
	Reasoning    string `json:"reasoning" yaml:"reasoning"`
}

// Focus is the strategic aim for the next part of the call.
type Focus struct {
	What    string `json:"what" yaml:"what"`
	Why     string `json:"why" yaml:"why"`
	Urgency string `json:"urgency" yaml:"urgency"`
}

// KeyQuestion is a question to ask with alternative phrasings.
type KeyQuestion struct {
	Primary      string   `json:"primary" yaml:"primary"`
	Alternatives []string `json:"alternatives" yaml:"alternatives"`
	Context      string   `json:"context" yaml:"context"`
}

// GuidanceSuggestion is the strategic guidance coaching payload.
type GuidanceSuggestion struct {
	StageValidation StageValidation `json:"stage_validation" yaml:"stage_validation"`
	Focus           Focus           `json:"focus" yaml:"focus"`
	KeyQuestions    []KeyQuestion   `json:"key_questions" yaml:"key_questions"`
	TalkingPoints   []string        `json:"talking_points" yaml:"talking_points"`
}

// Mode implements Payload.
func (*GuidanceSuggestion) Mode() CoachingMode { return ModeGuidance }

// Suggestion is the envelope delivered to the caller and stored on the call.
// Exactly one of Legacy or Guidance is set, matching Mode.
type Suggestion struct {
	Mode       CoachingMode        `json:"mode"`
	Stage      StageState          `json:"stage"`
	Objectives Objectives          `json:"objectives"`
	Fallback   bool                `json:"fallback"`
	CreatedAt  time.Time           `json:"created_at"`
	Legacy     *LegacySuggestion   `json:"legacy,omitempty"`
	Guidance   *GuidanceSuggestion `json:"guidance,omitempty"`
}
