// Package session owns the lifecycle of live calls: it maps calls to their
// transport connections, feeds transcript events through the coaching
// pipeline and hands finished calls off for persistence.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/worldwidesoldier/sales-coach-ai/internal/coach"
	"github.com/worldwidesoldier/sales-coach-ai/internal/domain"
	"github.com/worldwidesoldier/sales-coach-ai/internal/transcribe"
)

var (
	// ErrSessionNotFound is returned for ids with no live session.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionEnded is returned for events that race with session end.
	ErrSessionEnded = errors.New("session ended")
	// ErrCallActive is returned when a connection starts a second call.
	ErrCallActive = errors.New("connection already has an active call")
)

// QueuePolicy decides what happens to coaching requests that arrive while
// one is in flight for the same call.
type QueuePolicy string

const (
	// PolicyQueue runs pending requests in order, up to the queue depth. A
	// full queue evicts its oldest request.
	PolicyQueue QueuePolicy = "queue"
	// PolicyLatest keeps only the newest pending request.
	PolicyLatest QueuePolicy = "latest"
)

const (
	defaultQueueDepth  = 4
	workerDrainTimeout = 5 * time.Second
)

// Config tunes the session manager.
type Config struct {
	ContextMessages int
	QueuePolicy     QueuePolicy
	QueueDepth      int
	IdleTimeout     time.Duration
}

// Deps are the collaborators a Manager drives.
type Deps struct {
	Engine        *coach.Engine
	Conversations *coach.ConversationStore
	Attributor    *coach.Attributor
	Transcriber   transcribe.Provider
	Saver         CallSaver
	Notifier      Notifier
}

type coachRequest struct {
	recent []coach.Message
	all    []coach.Message
}

// call is the in-memory state of one live session. Fields below mu are
// guarded by it; ConnectionID and ID on rec never change.
type call struct {
	id     string
	connID string
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu           sync.Mutex
	rec          *domain.Call
	state        coach.State
	objectives   domain.Objectives
	lastActivity time.Time
	stream       transcribe.Stream
	requests     chan coachRequest
	ended        bool
}

// Manager tracks live calls by id and by connection id.
type Manager struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger
	now    func() time.Time
	// classified runs between classification and the generator call.
	classified func(id string)

	mu      sync.Mutex
	byID    map[string]*call
	byConn  map[string]string
	unsaved map[string]*domain.Call
}

// NewManager creates a Manager.
func NewManager(cfg Config, deps Deps, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ContextMessages <= 0 {
		cfg.ContextMessages = coach.DefaultContextMessages
	}
	if cfg.QueuePolicy == "" {
		cfg.QueuePolicy = PolicyQueue
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = defaultQueueDepth
	}
	if cfg.QueuePolicy == PolicyLatest {
		cfg.QueueDepth = 1
	}
	if deps.Conversations == nil {
		deps.Conversations = coach.NewConversationStore(logger)
	}
	if deps.Attributor == nil {
		deps.Attributor = coach.NewAttributor(coach.DefaultSwitchThreshold)
	}
	if deps.Transcriber == nil {
		deps.Transcriber = transcribe.Disabled{}
	}
	if deps.Notifier == nil {
		deps.Notifier = discardNotifier{}
	}
	return &Manager{
		cfg:     cfg,
		deps:    deps,
		logger:  logger,
		now:     time.Now,
		byID:    make(map[string]*call),
		byConn:  make(map[string]string),
		unsaved: make(map[string]*domain.Call),
	}
}

func newCallID(now time.Time) string {
	return fmt.Sprintf("call_%s_%s", now.Format("20060102_150405"), uuid.NewString()[:8])
}

// StartSession opens a new call for the connection and returns its id.
// Failing to open the transcription stream is reported to the connection
// but does not fail the call.
func (m *Manager) StartSession(ctx context.Context, connID string) (string, error) {
	now := m.now()

	m.mu.Lock()
	if _, ok := m.byConn[connID]; ok {
		m.mu.Unlock()
		return "", ErrCallActive
	}
	id := newCallID(now)
	for _, taken := m.byID[id]; taken; _, taken = m.byID[id] {
		id = newCallID(now)
	}
	if err := m.deps.Conversations.Start(id); err != nil {
		m.mu.Unlock()
		return "", fmt.Errorf("start conversation %s: %w", id, err)
	}

	cctx, cancel := context.WithCancel(context.Background())
	c := &call{
		id:     id,
		connID: connID,
		ctx:    cctx,
		cancel: cancel,
		done:   make(chan struct{}),
		rec: &domain.Call{
			ID:           id,
			ConnectionID: connID,
			StartedAt:    now,
			Status:       domain.CallActive,
			Transcripts:  []domain.Utterance{},
			Suggestions:  []domain.Suggestion{},
		},
		state:        coach.StateIdle,
		lastActivity: now,
		requests:     make(chan coachRequest, m.cfg.QueueDepth),
	}
	m.byID[id] = c
	m.byConn[connID] = id
	m.mu.Unlock()

	go m.runWorker(c)

	m.logger.Info("Call started", "call_id", id, "connection_id", connID)
	m.deps.Notifier.Deliver(connID, Event{Type: EventCallStarted, Data: CallStartedData{
		SessionID:   id,
		Timestamp:   now,
		Transcriber: m.deps.Transcriber.Name(),
	}})

	m.openStream(ctx, c)
	return id, nil
}

func (m *Manager) openStream(ctx context.Context, c *call) {
	stream, err := m.deps.Transcriber.Open(ctx, c.id,
		func(ev domain.TranscriptEvent) {
			if err := m.HandleTranscriptEvent(c.id, ev); err != nil {
				m.logger.Debug("Dropped transcript event", "call_id", c.id, "error", err)
			}
		},
		func(err error) {
			m.deps.Notifier.Deliver(c.connID, Event{Type: EventError, Data: ErrorData{
				SessionID: c.id,
				Message:   "Transcription failed: " + err.Error(),
			}})
		},
	)
	if errors.Is(err, transcribe.ErrDisabled) {
		m.logger.Debug("Transcription disabled, expecting client transcripts", "call_id", c.id)
		return
	}
	if err != nil {
		m.logger.Error("Failed to open transcription stream", "call_id", c.id, "error", err)
		m.deps.Notifier.Deliver(c.connID, Event{Type: EventError, Data: ErrorData{
			SessionID: c.id,
			Message:   "Transcription unavailable: " + err.Error(),
		}})
		return
	}

	c.mu.Lock()
	if c.ended {
		c.mu.Unlock()
		_ = stream.Close()
		return
	}
	c.stream = stream
	c.mu.Unlock()
}

// HandleTranscriptEvent attributes a speaker to the fragment and forwards it
// for display. Final fragments are appended to the conversation and queue
// a coaching request.
func (m *Manager) HandleTranscriptEvent(sessionID string, ev domain.TranscriptEvent) error {
	text := strings.TrimSpace(ev.Text)
	if text == "" {
		return nil
	}

	c, ok := m.lookup(sessionID)
	if !ok {
		m.logger.Warn("Transcript for unknown session", "session_id", sessionID)
		return ErrSessionNotFound
	}

	c.mu.Lock()
	if c.ended {
		c.mu.Unlock()
		return ErrSessionEnded
	}
	c.lastActivity = m.now()
	u := domain.Utterance{
		Text:        text,
		Speaker:     m.deps.Attributor.Attribute(sessionID, ev.Timestamp),
		SpeakerHint: ev.SpeakerHint,
		IsFinal:     ev.IsFinal,
		Timestamp:   ev.Timestamp,
		Confidence:  ev.Confidence,
	}
	if ev.IsFinal {
		c.rec.Transcripts = append(c.rec.Transcripts, u)
		m.deps.Conversations.Append(sessionID, text, u.Speaker)
		m.enqueueLocked(c, coachRequest{
			recent: m.deps.Conversations.RecentContext(sessionID, m.cfg.ContextMessages),
			all:    m.deps.Conversations.Full(sessionID),
		})
	}
	c.mu.Unlock()

	m.deps.Notifier.Deliver(c.connID, Event{Type: EventTranscription, Data: TranscriptionData{
		SessionID: sessionID,
		Utterance: u,
	}})
	return nil
}

// enqueueLocked hands a request to the call worker. c.mu must be held.
// When the queue is full the oldest pending request is evicted, so the
// newest context always runs.
func (m *Manager) enqueueLocked(c *call, req coachRequest) {
	select {
	case c.requests <- req:
		return
	default:
	}

	select {
	case <-c.requests:
		if m.cfg.QueuePolicy == PolicyQueue {
			m.logger.Warn("Coaching queue full, evicting oldest request", "call_id", c.id, "depth", m.cfg.QueueDepth)
		}
	default:
	}
	// Producers hold c.mu, so the slot freed above cannot be taken by another send.
	c.requests <- req
}

// runWorker serves coaching requests for one call, one at a time.
func (m *Manager) runWorker(c *call) {
	defer close(c.done)

	for req := range c.requests {
		if c.ctx.Err() != nil {
			continue
		}

		c.mu.Lock()
		if c.ended {
			c.mu.Unlock()
			continue
		}
		stage, objectives := m.deps.Engine.Assess(req.recent, req.all, c.rec.Stage)
		c.rec.Stage = stage
		c.objectives = objectives
		c.state = coach.StateClassified
		c.mu.Unlock()

		if m.classified != nil {
			m.classified(c.id)
		}

		c.mu.Lock()
		if c.ended {
			c.mu.Unlock()
			continue
		}
		c.state = coach.StateSuggestionPending
		c.mu.Unlock()

		s := m.deps.Engine.Suggest(c.ctx, c.id, req.recent, stage, objectives)

		c.mu.Lock()
		if c.ended {
			c.mu.Unlock()
			m.logger.Debug("Discarding suggestion for ended call", "call_id", c.id)
			continue
		}
		c.rec.Suggestions = append(c.rec.Suggestions, s)
		c.state = coach.StateClassified
		c.mu.Unlock()

		m.deps.Notifier.Deliver(c.connID, Event{Type: EventSuggestion, Data: SuggestionData{
			SessionID:  c.id,
			Suggestion: s,
		}})
	}
}

// SendAudio forwards an audio chunk to the transcription stream of the
// connection's active call.
func (m *Manager) SendAudio(connID string, chunk []byte) error {
	m.mu.Lock()
	id, ok := m.byConn[connID]
	var c *call
	if ok {
		c = m.byID[id]
	}
	m.mu.Unlock()
	if c == nil {
		return ErrSessionNotFound
	}

	c.mu.Lock()
	if c.ended {
		c.mu.Unlock()
		return ErrSessionEnded
	}
	c.lastActivity = m.now()
	stream := c.stream
	c.mu.Unlock()

	if stream == nil {
		return transcribe.ErrDisabled
	}
	return stream.SendAudio(chunk)
}

// EndSession stops the call, waits for in-flight coaching to settle and
// persists the record. On persistence failure the record is kept for
// RetryUnsaved and the error is returned.
func (m *Manager) EndSession(ctx context.Context, sessionID string) (*domain.Call, error) {
	c, ok := m.detach(sessionID)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return m.finish(ctx, c)
}

// OnTransportDisconnect ends the call owned by the connection, if any.
// Persistence failures are logged and the record retained.
func (m *Manager) OnTransportDisconnect(ctx context.Context, connID string) {
	m.mu.Lock()
	id, ok := m.byConn[connID]
	m.mu.Unlock()
	if !ok {
		return
	}

	c, ok := m.detach(id)
	if !ok {
		return
	}
	m.logger.Info("Connection closed with active call, ending it", "call_id", id, "connection_id", connID)
	if _, err := m.finish(ctx, c); err != nil {
		m.logger.Error("Failed to save call after disconnect", "call_id", id, "error", err)
	}
}

// detach removes the call from both indexes.
func (m *Manager) detach(id string) (*call, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.byID[id]
	if !ok {
		return nil, false
	}
	delete(m.byID, id)
	if m.byConn[c.connID] == id {
		delete(m.byConn, c.connID)
	}
	return c, true
}

func (m *Manager) finish(ctx context.Context, c *call) (*domain.Call, error) {
	c.mu.Lock()
	c.ended = true
	endedAt := m.now()
	c.rec.EndedAt = &endedAt
	c.rec.Status = domain.CallEnded
	stream := c.stream
	c.stream = nil
	close(c.requests)
	c.mu.Unlock()

	c.cancel()
	if stream != nil {
		if err := stream.Close(); err != nil {
			m.logger.Warn("Failed to close transcription stream", "call_id", c.id, "error", err)
		}
	}

	select {
	case <-c.done:
	case <-time.After(workerDrainTimeout):
		m.logger.Warn("Coaching worker still busy after call end", "call_id", c.id)
	}

	m.deps.Attributor.Remove(c.id)
	m.deps.Conversations.End(c.id)

	snap := c.snapshot()
	saved := true
	var saveErr error
	if m.deps.Saver != nil {
		if err := m.deps.Saver.SaveCall(ctx, snap); err != nil {
			saved = false
			saveErr = fmt.Errorf("persist call %s: %w", c.id, err)
			m.mu.Lock()
			m.unsaved[c.id] = snap
			m.mu.Unlock()
			m.logger.Error("Failed to persist call, keeping it in memory", "call_id", c.id, "error", err)
		}
	}
	if saved {
		m.deps.Conversations.Clear(c.id)
	}

	m.logger.Info("Call ended",
		"call_id", c.id,
		"duration", snap.Duration().Round(time.Second),
		"transcripts", len(snap.Transcripts),
		"suggestions", len(snap.Suggestions),
		"saved", saved)

	m.deps.Notifier.Deliver(c.connID, Event{Type: EventCallEnded, Data: CallEndedData{
		SessionID:       c.id,
		Duration:        snap.Duration().Seconds(),
		TranscriptCount: len(snap.Transcripts),
		SuggestionCount: len(snap.Suggestions),
		Saved:           saved,
	}})
	return snap, saveErr
}

func (c *call) snapshot() *domain.Call {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec := *c.rec
	rec.Transcripts = append([]domain.Utterance{}, c.rec.Transcripts...)
	rec.Suggestions = append([]domain.Suggestion{}, c.rec.Suggestions...)
	if c.rec.EndedAt != nil {
		ended := *c.rec.EndedAt
		rec.EndedAt = &ended
	}
	return &rec
}

// RetryUnsaved attempts to persist calls whose save failed earlier.
// It returns how many are still unsaved.
func (m *Manager) RetryUnsaved(ctx context.Context) int {
	if m.deps.Saver == nil {
		return 0
	}

	m.mu.Lock()
	pending := make([]*domain.Call, 0, len(m.unsaved))
	for _, c := range m.unsaved {
		pending = append(pending, c)
	}
	m.mu.Unlock()

	for _, rec := range pending {
		if err := m.deps.Saver.SaveCall(ctx, rec); err != nil {
			m.logger.Warn("Retry of unsaved call failed", "call_id", rec.ID, "error", err)
			continue
		}
		m.mu.Lock()
		delete(m.unsaved, rec.ID)
		m.mu.Unlock()
		m.deps.Conversations.Clear(rec.ID)
		m.logger.Info("Saved previously unsaved call", "call_id", rec.ID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.unsaved)
}

// Shutdown ends every live call and makes a last attempt at saving calls
// whose persistence failed.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.byID))
	for id := range m.byID {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		if _, err := m.EndSession(ctx, id); err != nil && !errors.Is(err, ErrSessionNotFound) {
			m.logger.Error("Failed to end call during shutdown", "call_id", id, "error", err)
		}
	}
	m.RetryUnsaved(ctx)
}

func (m *Manager) lookup(id string) (*call, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byID[id]
	return c, ok
}

// SessionForConnection returns the live call id owned by a connection.
func (m *Manager) SessionForConnection(connID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byConn[connID]
	return id, ok
}

// Snapshot returns a copy of a live call record, or of an ended call still
// waiting to be persisted.
func (m *Manager) Snapshot(id string) (*domain.Call, bool) {
	m.mu.Lock()
	c, live := m.byID[id]
	pending, unsaved := m.unsaved[id]
	m.mu.Unlock()

	switch {
	case live:
		return c.snapshot(), true
	case unsaved:
		cp := *pending
		return &cp, true
	}
	return nil, false
}

// State returns the coaching state of a live call.
func (m *Manager) State(id string) (coach.State, bool) {
	c, ok := m.lookup(id)
	if !ok {
		return coach.StateIdle, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, true
}

// Objectives returns the last objective evaluation of a live call.
func (m *Manager) Objectives(id string) (domain.Objectives, bool) {
	c, ok := m.lookup(id)
	if !ok {
		return domain.Objectives{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.objectives, true
}

// ActiveCount returns the number of live calls.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}

// UnsavedCount returns the number of ended calls awaiting persistence.
func (m *Manager) UnsavedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.unsaved)
}
