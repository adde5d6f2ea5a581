package coach

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/worldwidesoldier/sales-coach-ai/internal/agent"
	"github.com/worldwidesoldier/sales-coach-ai/internal/domain"
)

type fakeGenerator struct {
	mu       sync.Mutex
	suggest  func(ctx context.Context, req agent.SuggestRequest) ([]byte, error)
	analyze  func(ctx context.Context, req agent.AnalyzeRequest) ([]byte, error)
	requests []agent.SuggestRequest
}

func (f *fakeGenerator) Suggest(ctx context.Context, req agent.SuggestRequest) ([]byte, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return f.suggest(ctx, req)
}

func (f *fakeGenerator) Analyze(ctx context.Context, req agent.AnalyzeRequest) ([]byte, error) {
	return f.analyze(ctx, req)
}

func (f *fakeGenerator) Healthy(context.Context) bool { return true }
func (f *fakeGenerator) Close() error                 { return nil }

func failing() *fakeGenerator {
	err := errors.New("generator down")
	return &fakeGenerator{
		suggest: func(context.Context, agent.SuggestRequest) ([]byte, error) { return nil, err },
		analyze: func(context.Context, agent.AnalyzeRequest) ([]byte, error) { return nil, err },
	}
}

func blocking() *fakeGenerator {
	return &fakeGenerator{
		suggest: func(ctx context.Context, _ agent.SuggestRequest) ([]byte, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
		analyze: func(ctx context.Context, _ agent.AnalyzeRequest) ([]byte, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
}

func TestEngine_FailureYieldsStageFallback(t *testing.T) {
	pb := testPlaybook(t)
	stage := domain.StageState{Stage: domain.StageObjection, Confidence: 40, TurnsInStage: 2}
	objectives := domain.Objectives{Completed: []domain.ObjectiveRef{}, Remaining: []domain.ObjectiveRef{}}

	t.Run("legacy", func(t *testing.T) {
		e := NewEngine(EngineConfig{Mode: domain.ModeLegacy}, pb, nil, failing(), nil)
		s := e.Suggest(context.Background(), "call-x", msgs("too expensive"), stage, objectives)

		if !s.Fallback || s.Legacy == nil || s.Guidance != nil {
			t.Fatalf("suggestion = %+v", s)
		}
		want := pb.LegacyFallbackFor(domain.StageObjection)
		if !reflect.DeepEqual(*s.Legacy, want) {
			t.Errorf("legacy = %+v, want %+v", *s.Legacy, want)
		}
		if s.Legacy.PrimarySuggestion.Confidence != 50 {
			t.Errorf("confidence = %d, want 50", s.Legacy.PrimarySuggestion.Confidence)
		}
		if s.Stage != stage {
			t.Errorf("envelope stage = %+v", s.Stage)
		}
	})

	t.Run("guidance", func(t *testing.T) {
		e := NewEngine(EngineConfig{Mode: domain.ModeGuidance}, pb, nil, failing(), nil)
		s := e.Suggest(context.Background(), "call-x", msgs("too expensive"), stage, objectives)

		if !s.Fallback || s.Guidance == nil || s.Legacy != nil {
			t.Fatalf("suggestion = %+v", s)
		}
		want := pb.GuidanceFallbackFor(domain.StageObjection)
		if !reflect.DeepEqual(*s.Guidance, want) {
			t.Errorf("guidance = %+v, want %+v", *s.Guidance, want)
		}
		if s.Guidance.StageValidation.Confidence != 70 {
			t.Errorf("confidence = %d, want 70", s.Guidance.StageValidation.Confidence)
		}
	})
}

func TestEngine_TimeoutYieldsFallback(t *testing.T) {
	pb := testPlaybook(t)
	e := NewEngine(EngineConfig{Mode: domain.ModeGuidance, Timeout: 20 * time.Millisecond}, pb, nil, blocking(), nil)

	start := time.Now()
	s := e.Suggest(context.Background(), "call-x", nil, domain.StageState{Stage: domain.StageClose}, domain.Objectives{})
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("Suggest took %s, timeout not applied", elapsed)
	}
	if !s.Fallback || s.Guidance == nil || s.Guidance.StageValidation.Confidence != 70 {
		t.Errorf("suggestion = %+v", s)
	}
	if s.Guidance.StageValidation.CurrentStage != domain.StageClose {
		t.Errorf("fallback stage = %s, want close", s.Guidance.StageValidation.CurrentStage)
	}
}

func TestEngine_MalformedResponseYieldsFallback(t *testing.T) {
	gen := &fakeGenerator{
		suggest: func(context.Context, agent.SuggestRequest) ([]byte, error) {
			return []byte("```json\n" + validLegacy + "\n```"), nil
		},
	}
	e := NewEngine(EngineConfig{Mode: domain.ModeLegacy}, testPlaybook(t), nil, gen, nil)
	s := e.Suggest(context.Background(), "c", nil, domain.StageState{Stage: domain.StageDiscovery}, domain.Objectives{})
	if !s.Fallback {
		t.Errorf("fenced response was accepted: %+v", s.Legacy)
	}
}

func TestEngine_ValidResponse(t *testing.T) {
	gen := &fakeGenerator{
		suggest: func(context.Context, agent.SuggestRequest) ([]byte, error) {
			return []byte(validGuidance), nil
		},
	}
	pb := testPlaybook(t)
	e := NewEngine(EngineConfig{Mode: domain.ModeGuidance}, pb, nil, gen, nil)

	recent := msgs("We get 100 calls per week", "What's the problem?")
	stage, objectives := e.Assess(recent, recent, domain.StageState{})
	s := e.Suggest(context.Background(), "call-1", recent, stage, objectives)

	if s.Fallback || s.Guidance == nil {
		t.Fatalf("suggestion = %+v", s)
	}
	if !reflect.DeepEqual(s.Objectives, objectives) {
		t.Errorf("envelope objectives = %+v, want local tracker result %+v", s.Objectives, objectives)
	}
	if len(gen.requests) != 1 {
		t.Fatalf("generator called %d times", len(gen.requests))
	}
	req := gen.requests[0]
	if req.SessionID != "call-1" || req.Mode != domain.ModeGuidance || len(req.Turns) != 2 {
		t.Errorf("request = %+v", req)
	}
}

func TestEngine_Assess(t *testing.T) {
	e := NewEngine(EngineConfig{}, testPlaybook(t), nil, nil, nil)
	if e.Mode() != domain.ModeLegacy {
		t.Errorf("default mode = %s", e.Mode())
	}

	all := msgs("We get about 100 calls per week", "okay", "sure", "What's your biggest problem?")
	stage, objectives := e.Assess(all[len(all)-1:], all, domain.StageState{})

	if stage.Stage != domain.StageDiscovery || stage.TurnsInStage != 1 {
		t.Errorf("stage = %+v", stage)
	}
	if ids := refIDs(objectives.Completed); len(ids) != 2 {
		t.Errorf("completed = %v, want whole-conversation evidence", ids)
	}
}

func TestEngine_NilGeneratorFallsBack(t *testing.T) {
	e := NewEngine(EngineConfig{Mode: domain.ModeLegacy}, testPlaybook(t), nil, nil, nil)
	s := e.Suggest(context.Background(), "c", nil, domain.StageState{Stage: domain.StageOpening}, domain.Objectives{})
	if !s.Fallback || s.Legacy == nil {
		t.Errorf("suggestion = %+v", s)
	}
}

func TestState_String(t *testing.T) {
	if StateSuggestionPending.String() != "suggestion_pending" || StateIdle.String() != "idle" {
		t.Error("unexpected state names")
	}
}

func TestAnalyzer(t *testing.T) {
	started := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	ended := started.Add(90 * time.Second)
	call := &domain.Call{
		ID:        "call_1",
		StartedAt: started,
		EndedAt:   &ended,
		Transcripts: []domain.Utterance{
			{Text: "Hel", Speaker: domain.SpeakerSalesperson},
			{Text: "Hello there", Speaker: domain.SpeakerSalesperson, IsFinal: true},
			{Text: "Who is this", Speaker: domain.SpeakerCustomer, IsFinal: true},
		},
	}

	t.Run("success", func(t *testing.T) {
		var got agent.AnalyzeRequest
		gen := &fakeGenerator{analyze: func(_ context.Context, req agent.AnalyzeRequest) ([]byte, error) {
			got = req
			return []byte(`{"what_worked":["a"],"missed_opportunities":[],"improvement_tips":["b"],"success_score":8}`), nil
		}}
		a := NewAnalyzer(gen, time.Second, nil).Analyze(context.Background(), call)
		if a.Fallback || a.SuccessScore != 8 {
			t.Errorf("analysis = %+v", a)
		}
		if len(got.Turns) != 2 || got.DurationSeconds != 90 || got.CallID != "call_1" {
			t.Errorf("request = %+v", got)
		}
	})

	t.Run("failure", func(t *testing.T) {
		a := NewAnalyzer(failing(), time.Second, nil).Analyze(context.Background(), call)
		if !reflect.DeepEqual(a, FallbackAnalysis()) {
			t.Errorf("analysis = %+v", a)
		}
	})

	t.Run("timeout", func(t *testing.T) {
		a := NewAnalyzer(blocking(), 10*time.Millisecond, nil).Analyze(context.Background(), call)
		if !a.Fallback {
			t.Errorf("analysis = %+v", a)
		}
	})
}
