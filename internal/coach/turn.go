package coach

import (
	"sync"

	"github.com/worldwidesoldier/sales-coach-ai/internal/domain"
)

// DefaultSwitchThreshold is the pause, in seconds, after which the
// speaker is presumed to have changed.
const DefaultSwitchThreshold = 1.5

type turnState struct {
	speaker       domain.Speaker
	lastTimestamp float64
}

// Attributor assigns speakers to transcript fragments from timestamp gaps.
// It keeps one turn cursor per session.
type Attributor struct {
	mu        sync.Mutex
	threshold float64
	turns     map[string]*turnState
}

// NewAttributor creates an attributor. A non-positive threshold selects
// DefaultSwitchThreshold.
func NewAttributor(threshold float64) *Attributor {
	if threshold <= 0 {
		threshold = DefaultSwitchThreshold
	}
	return &Attributor{
		threshold: threshold,
		turns:     make(map[string]*turnState),
	}
}

// Attribute returns the speaker for a fragment at timestamp seconds.
// The first fragment of a session is always the salesperson; afterwards the
// speaker flips whenever the gap since the previous fragment exceeds the
// threshold. Providers that report no timing never trigger a flip.
func (a *Attributor) Attribute(sessionID string, timestamp float64) domain.Speaker {
	a.mu.Lock()
	defer a.mu.Unlock()

	st, ok := a.turns[sessionID]
	if !ok {
		a.turns[sessionID] = &turnState{speaker: domain.SpeakerSalesperson, lastTimestamp: timestamp}
		return domain.SpeakerSalesperson
	}

	if timestamp-st.lastTimestamp > a.threshold {
		st.speaker = st.speaker.Other()
	}
	st.lastTimestamp = timestamp
	return st.speaker
}

// Remove discards the turn cursor for a session.
func (a *Attributor) Remove(sessionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.turns, sessionID)
}

// Len returns the number of tracked sessions.
func (a *Attributor) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.turns)
}
