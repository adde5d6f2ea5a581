// Package playbook loads the static coaching configuration: stage keyword
// tables, objective checklists, fallback payloads, prompts and the toolkit.
package playbook

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/worldwidesoldier/sales-coach-ai/internal/domain"
	"gopkg.in/yaml.v3"
)

const (
	// LegacyFallbackConfidence is the confidence carried by legacy fallback payloads.
	LegacyFallbackConfidence = 50
	// GuidanceFallbackConfidence is the confidence carried by guidance fallback payloads.
	GuidanceFallbackConfidence = 70
	// DefaultStage is used when a lookup names an unknown stage.
	DefaultStage = domain.StageDiscovery
)

//go:embed playbook.yaml
var defaultPlaybook []byte

//go:embed prompts/legacy_system.md
var legacySystemPrompt string

//go:embed prompts/guidance_system.md
var guidanceSystemPrompt string

//go:embed prompts/analysis.md
var analysisPrompt string

// StageKeywords is the keyword list scored for one stage.
type StageKeywords struct {
	Stage    domain.Stage `yaml:"stage"`
	Keywords []string     `yaml:"keywords"`
}

// Objective is a stage-scoped checklist item.
type Objective struct {
	ID       string   `yaml:"id" json:"id"`
	Text     string   `yaml:"text" json:"text"`
	Keywords []string `yaml:"keywords" json:"keywords"`
}

// Script is one canned line in the toolkit.
type Script struct {
	Name      string `yaml:"name" json:"name"`
	Text      string `yaml:"text" json:"text"`
	WhenToUse string `yaml:"when_to_use" json:"when_to_use"`
}

// ToolkitCategory groups scripts for one situation.
type ToolkitCategory struct {
	Title   string   `yaml:"title" json:"title"`
	Scripts []Script `yaml:"scripts" json:"scripts"`
}

// Prompts are the instruction texts sent to the suggestion generator.
type Prompts struct {
	LegacySystem   string
	GuidanceSystem string
	Analysis       string
}

// Playbook is the full static configuration consumed by the coaching core.
type Playbook struct {
	Stages           []StageKeywords                            `yaml:"stages"`
	Objectives       map[domain.Stage][]Objective               `yaml:"objectives"`
	LegacyFallback   map[domain.Stage]domain.LegacySuggestion   `yaml:"legacy_fallback"`
	GuidanceFallback map[domain.Stage]domain.GuidanceSuggestion `yaml:"guidance_fallback"`
	Toolkit          map[string]ToolkitCategory                 `yaml:"toolkit"`
	Prompts          Prompts                                    `yaml:"-"`
}

// Default returns the embedded playbook.
func Default() (*Playbook, error) {
	return Parse(defaultPlaybook)
}

// Load reads a playbook from path, or the embedded one when path is empty.
func Load(path string) (*Playbook, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read playbook: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a playbook document.
func Parse(data []byte) (*Playbook, error) {
	var pb Playbook
	if err := yaml.Unmarshal(data, &pb); err != nil {
		return nil, fmt.Errorf("decode playbook: %w", err)
	}
	for i := range pb.Stages {
		pb.Stages[i].Keywords = lowerAll(pb.Stages[i].Keywords)
	}
	for st, objs := range pb.Objectives {
		for i := range objs {
			objs[i].Keywords = lowerAll(objs[i].Keywords)
		}
		pb.Objectives[st] = objs
	}
	pb.Prompts = Prompts{
		LegacySystem:   legacySystemPrompt,
		GuidanceSystem: guidanceSystemPrompt,
		Analysis:       analysisPrompt,
	}
	if err := pb.Validate(); err != nil {
		return nil, err
	}
	return &pb, nil
}

// Validate checks that every stage is declared once, in canonical order,
// and that the default fallback entries exist.
func (p *Playbook) Validate() error {
	if len(p.Stages) != len(domain.Stages) {
		return fmt.Errorf("playbook declares %d stages, want %d", len(p.Stages), len(domain.Stages))
	}
	for i, sk := range p.Stages {
		if sk.Stage != domain.Stages[i] {
			return fmt.Errorf("playbook stage %d is %q, want %q", i, sk.Stage, domain.Stages[i])
		}
		if len(sk.Keywords) == 0 {
			return fmt.Errorf("stage %q has no keywords", sk.Stage)
		}
	}
	for st := range p.Objectives {
		if !st.Valid() {
			return fmt.Errorf("objectives declared for unknown stage %q", st)
		}
	}
	if _, ok := p.LegacyFallback[DefaultStage]; !ok {
		return errors.New("legacy fallback missing default stage entry")
	}
	if _, ok := p.GuidanceFallback[DefaultStage]; !ok {
		return errors.New("guidance fallback missing default stage entry")
	}
	return nil
}

// ObjectivesFor returns the checklist for a stage, empty for unknown stages.
func (p *Playbook) ObjectivesFor(stage domain.Stage) []Objective {
	return p.Objectives[stage]
}

// LegacyFallbackFor returns the canned legacy payload for a stage.
// Unknown stages resolve to the discovery entry.
func (p *Playbook) LegacyFallbackFor(stage domain.Stage) domain.LegacySuggestion {
	entry, ok := p.LegacyFallback[stage]
	if !ok {
		entry = p.LegacyFallback[DefaultStage]
	}
	entry.HighlightToolkit = append([]string(nil), entry.HighlightToolkit...)
	entry.PrimarySuggestion.Confidence = LegacyFallbackConfidence
	return entry
}

// GuidanceFallbackFor returns the canned guidance payload for a stage.
// Unknown stages resolve to the discovery entry.
func (p *Playbook) GuidanceFallbackFor(stage domain.Stage) domain.GuidanceSuggestion {
	entry, ok := p.GuidanceFallback[stage]
	if !ok {
		entry = p.GuidanceFallback[DefaultStage]
	}
	questions := make([]domain.KeyQuestion, len(entry.KeyQuestions))
	for i, q := range entry.KeyQuestions {
		q.Alternatives = append([]string(nil), q.Alternatives...)
		questions[i] = q
	}
	entry.KeyQuestions = questions
	entry.TalkingPoints = append([]string(nil), entry.TalkingPoints...)
	entry.StageValidation.Confidence = GuidanceFallbackConfidence
	return entry
}

// SystemPrompt returns the generator instructions for a coaching mode.
func (p *Playbook) SystemPrompt(mode domain.CoachingMode) string {
	if mode == domain.ModeGuidance {
		return p.Prompts.GuidanceSystem
	}
	return p.Prompts.LegacySystem
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}
