// Package coach implements live call coaching: speaker attribution,
// conversation context, stage classification, objective tracking and
// suggestion generation with deterministic fallbacks.
package coach

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/worldwidesoldier/sales-coach-ai/internal/agent"
	"github.com/worldwidesoldier/sales-coach-ai/internal/domain"
	"github.com/worldwidesoldier/sales-coach-ai/internal/playbook"
)

// DefaultTimeout bounds a single generator request.
const DefaultTimeout = 15 * time.Second

// State is the coaching state of one session.
type State int

const (
	StateIdle State = iota
	StateClassified
	StateSuggestionPending
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateClassified:
		return "classified"
	case StateSuggestionPending:
		return "suggestion_pending"
	default:
		return "unknown"
	}
}

// EngineConfig configures an Engine.
type EngineConfig struct {
	Mode    domain.CoachingMode
	Timeout time.Duration
}

// Engine turns conversation context into coaching suggestions. It holds no
// per-session state; callers own the StageState they pass in.
type Engine struct {
	classifier StageClassifier
	tracker    *ObjectiveTracker
	generator  agent.Generator
	pb         *playbook.Playbook
	mode       domain.CoachingMode
	timeout    time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// NewEngine wires an Engine. A nil generator makes every suggestion a fallback.
func NewEngine(cfg EngineConfig, pb *playbook.Playbook, classifier StageClassifier, generator agent.Generator, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Mode == "" {
		cfg.Mode = domain.ModeLegacy
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if classifier == nil {
		classifier = NewKeywordClassifier(pb)
	}
	return &Engine{
		classifier: classifier,
		tracker:    NewObjectiveTracker(pb),
		generator:  generator,
		pb:         pb,
		mode:       cfg.Mode,
		timeout:    cfg.Timeout,
		logger:     logger,
		now:        time.Now,
	}
}

// Mode returns the configured payload mode.
func (e *Engine) Mode() domain.CoachingMode { return e.mode }

// Assess classifies the stage from the recent window and tracks objectives
// over the whole conversation.
func (e *Engine) Assess(recent, all []Message, prev domain.StageState) (domain.StageState, domain.Objectives) {
	r := e.classifier.Classify(recent, prev.Stage)
	state := AdvanceStage(prev, r, e.now())
	return state, e.tracker.Track(JoinText(all), state.Stage)
}

// Suggest requests a payload from the generator. Any failure, timeout or
// malformed response produces the stage fallback instead; Suggest never
// returns an error.
func (e *Engine) Suggest(ctx context.Context, sessionID string, recent []Message, stage domain.StageState, objectives domain.Objectives) domain.Suggestion {
	if e.generator == nil {
		return e.Fallback(stage, objectives)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	raw, err := e.generator.Suggest(ctx, agent.SuggestRequest{
		SessionID:  sessionID,
		Mode:       e.mode,
		Turns:      Turns(recent),
		Stage:      stage,
		Objectives: objectives,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			e.logger.Warn("suggestion generator timed out", "session_id", sessionID, "timeout", e.timeout)
		} else {
			e.logger.Warn("suggestion generator failed", "session_id", sessionID, "error", err)
		}
		return e.Fallback(stage, objectives)
	}

	payload, err := Parse(e.mode, raw)
	if err != nil {
		e.logger.Warn("rejected generator response", "session_id", sessionID, "error", err)
		return e.Fallback(stage, objectives)
	}

	s := e.envelope(stage, objectives)
	switch p := payload.(type) {
	case *domain.LegacySuggestion:
		s.Legacy = p
	case *domain.GuidanceSuggestion:
		s.Guidance = p
	}
	return s
}

// Fallback returns the deterministic playbook payload for the stage.
func (e *Engine) Fallback(stage domain.StageState, objectives domain.Objectives) domain.Suggestion {
	s := e.envelope(stage, objectives)
	s.Fallback = true
	if e.mode == domain.ModeGuidance {
		g := e.pb.GuidanceFallbackFor(stage.Stage)
		s.Guidance = &g
	} else {
		l := e.pb.LegacyFallbackFor(stage.Stage)
		s.Legacy = &l
	}
	return s
}

func (e *Engine) envelope(stage domain.StageState, objectives domain.Objectives) domain.Suggestion {
	return domain.Suggestion{
		Mode:       e.mode,
		Stage:      stage,
		Objectives: objectives,
		CreatedAt:  e.now(),
	}
}

// Analyzer produces post-call reviews.
type Analyzer struct {
	generator agent.Generator
	timeout   time.Duration
	logger    *slog.Logger
}

// NewAnalyzer creates an Analyzer. A nil generator always yields FallbackAnalysis.
func NewAnalyzer(generator agent.Generator, timeout time.Duration, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Analyzer{generator: generator, timeout: timeout, logger: logger}
}

// Analyze reviews the final transcript of a call.
func (a *Analyzer) Analyze(ctx context.Context, call *domain.Call) domain.CallAnalysis {
	if a.generator == nil {
		return FallbackAnalysis()
	}

	finals := call.FinalUtterances()
	turns := make([]agent.Turn, len(finals))
	for i, u := range finals {
		turns[i] = agent.Turn{Speaker: u.Speaker, Text: u.Text}
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	raw, err := a.generator.Analyze(ctx, agent.AnalyzeRequest{
		CallID:          call.ID,
		Turns:           turns,
		DurationSeconds: call.Duration().Seconds(),
	})
	if err != nil {
		a.logger.Warn("call analysis failed", "call_id", call.ID, "error", err)
		return FallbackAnalysis()
	}
	analysis, err := ParseAnalysis(raw)
	if err != nil {
		a.logger.Warn("rejected analysis response", "call_id", call.ID, "error", err)
		return FallbackAnalysis()
	}
	return analysis
}
