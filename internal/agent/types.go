// Package agent implements clients for the external suggestion generator.
package agent

import (
	"fmt"
	"strings"

	"github.com/worldwidesoldier/sales-coach-ai/internal/domain"
)

// PromptTurns is the number of most recent turns shown to the generator.
const PromptTurns = 10

// Turn is one speaker-attributed line of conversation context.
type Turn struct {
	Speaker domain.Speaker `json:"speaker"`
	Text    string         `json:"text"`
}

// SuggestRequest asks the generator for one live coaching payload.
type SuggestRequest struct {
	SessionID  string
	Mode       domain.CoachingMode
	Turns      []Turn
	Stage      domain.StageState
	Objectives domain.Objectives
}

// AnalyzeRequest asks the generator for a post-call review.
type AnalyzeRequest struct {
	CallID          string
	Turns           []Turn
	DurationSeconds float64
}

// FormatConversation renders the last limit turns as "Speaker: text" lines.
// A non-positive limit renders every turn.
func FormatConversation(turns []Turn, limit int) string {
	if len(turns) == 0 {
		return "No conversation yet."
	}
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		lines = append(lines, fmt.Sprintf("%s: %s", t.Speaker, t.Text))
	}
	return strings.Join(lines, "\n")
}

func objectiveIDs(refs []domain.ObjectiveRef) []string {
	ids := make([]string, len(refs))
	for i, r := range refs {
		ids[i] = r.ID
	}
	return ids
}
