package coach

import (
	"strings"

	"github.com/worldwidesoldier/sales-coach-ai/internal/domain"
	"github.com/worldwidesoldier/sales-coach-ai/internal/playbook"
)

// RemainingPriority marks every objective not yet completed.
const RemainingPriority = "high"

// ObjectiveTracker evaluates stage checklists against the conversation.
type ObjectiveTracker struct {
	pb *playbook.Playbook
}

// NewObjectiveTracker creates a tracker over the playbook checklists.
func NewObjectiveTracker(pb *playbook.Playbook) *ObjectiveTracker {
	return &ObjectiveTracker{pb: pb}
}

// Track splits the stage checklist by whether any trigger phrase appears
// anywhere in allText. It is recomputed from scratch on every call.
func (t *ObjectiveTracker) Track(allText string, stage domain.Stage) domain.Objectives {
	text := strings.ToLower(allText)
	out := domain.Objectives{
		Completed: []domain.ObjectiveRef{},
		Remaining: []domain.ObjectiveRef{},
	}
	for _, obj := range t.pb.ObjectivesFor(stage) {
		if containsAny(text, obj.Keywords) {
			out.Completed = append(out.Completed, domain.ObjectiveRef{ID: obj.ID, Description: obj.Text})
			continue
		}
		out.Remaining = append(out.Remaining, domain.ObjectiveRef{
			ID:          obj.ID,
			Description: obj.Text,
			Priority:    RemainingPriority,
		})
	}
	return out
}

// JoinText concatenates message texts with single spaces.
func JoinText(msgs []Message) string {
	parts := make([]string, len(msgs))
	for i, m := range msgs {
		parts[i] = m.Text
	}
	return strings.Join(parts, " ")
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
