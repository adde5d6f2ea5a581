package coach

import (
	"strings"
	"time"

	"github.com/worldwidesoldier/sales-coach-ai/internal/domain"
	"github.com/worldwidesoldier/sales-coach-ai/internal/playbook"
)

const (
	classifierWindow = 3
	keywordScore     = 10
	progressionBias  = 15
	biasLookahead    = 2
	defaultScore     = 50
)

// StageResult is the output of a stage classification.
type StageResult struct {
	Stage      domain.Stage
	Confidence int
}

// StageClassifier labels the current phase of a call from recent messages.
// previous is empty when no stage is known yet.
type StageClassifier interface {
	Classify(recent []Message, previous domain.Stage) StageResult
}

// KeywordClassifier scores keyword hits in the last few messages, biased
// toward the previous stage and the stages that naturally follow it.
type KeywordClassifier struct {
	stages []playbook.StageKeywords
}

// NewKeywordClassifier builds a classifier from the playbook keyword tables.
func NewKeywordClassifier(pb *playbook.Playbook) *KeywordClassifier {
	return &KeywordClassifier{stages: pb.Stages}
}

// Classify implements StageClassifier.
func (k *KeywordClassifier) Classify(recent []Message, previous domain.Stage) StageResult {
	if len(recent) == 0 {
		return StageResult{Stage: domain.StageOpening, Confidence: 100}
	}

	window := recent
	if len(window) > classifierWindow {
		window = window[len(window)-classifierWindow:]
	}
	parts := make([]string, len(window))
	for i, m := range window {
		parts[i] = m.Text
	}
	text := strings.ToLower(strings.Join(parts, " "))

	scores := make([]int, len(k.stages))
	for i, sk := range k.stages {
		for _, kw := range sk.Keywords {
			if strings.Contains(text, kw) {
				scores[i] += keywordScore
			}
		}
	}

	if prev := k.indexOf(previous); prev >= 0 {
		for i := prev; i <= prev+biasLookahead && i < len(scores); i++ {
			scores[i] += progressionBias
		}
	}

	best := 0
	for i := range scores {
		if scores[i] > scores[best] {
			best = i
		}
	}
	if scores[best] == 0 {
		return StageResult{Stage: domain.StageDiscovery, Confidence: defaultScore}
	}
	return StageResult{Stage: k.stages[best].Stage, Confidence: min(100, scores[best])}
}

func (k *KeywordClassifier) indexOf(stage domain.Stage) int {
	if stage == "" {
		return -1
	}
	for i, sk := range k.stages {
		if sk.Stage == stage {
			return i
		}
	}
	return -1
}

// AdvanceStage folds a new classification into the running stage state,
// counting turns spent in the stage.
func AdvanceStage(prev domain.StageState, r StageResult, now time.Time) domain.StageState {
	if prev.Stage == r.Stage && prev.Stage != "" {
		return domain.StageState{
			Stage:        r.Stage,
			Confidence:   r.Confidence,
			TurnsInStage: prev.TurnsInStage + 1,
			EnteredAt:    prev.EnteredAt,
		}
	}
	return domain.StageState{
		Stage:        r.Stage,
		Confidence:   r.Confidence,
		TurnsInStage: 1,
		EnteredAt:    now,
	}
}
