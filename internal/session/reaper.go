package session

import (
	"context"
	"time"
)

// DefaultReapInterval is how often the reaper sweeps for idle calls.
const DefaultReapInterval = time.Minute

// StartReaper runs a background goroutine that periodically ends calls idle
// for longer than the configured timeout and retries unsaved calls.
func (m *Manager) StartReaper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultReapInterval
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		m.logger.Info("Session reaper started", "interval", interval, "idle_timeout", m.cfg.IdleTimeout)

		for {
			select {
			case <-ticker.C:
				m.reap(ctx)
			case <-ctx.Done():
				m.logger.Info("Session reaper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func (m *Manager) reap(ctx context.Context) {
	expired := m.idleSessions()
	if len(expired) > 0 {
		m.logger.Info("Reaper found idle calls", "count", len(expired))
	}
	for _, id := range expired {
		c, ok := m.detach(id)
		if !ok {
			continue
		}
		m.deps.Notifier.Deliver(c.connID, Event{Type: EventError, Data: ErrorData{
			SessionID: id,
			Message:   "Call ended after inactivity",
		}})
		if _, err := m.finish(ctx, c); err != nil {
			m.logger.Error("Reaper failed to save idle call", "call_id", id, "error", err)
		}
	}

	if remaining := m.RetryUnsaved(ctx); remaining > 0 {
		m.logger.Warn("Calls still awaiting persistence", "count", remaining)
	}
}

func (m *Manager) idleSessions() []string {
	if m.cfg.IdleTimeout <= 0 {
		return nil
	}
	cutoff := m.now().Add(-m.cfg.IdleTimeout)

	m.mu.Lock()
	calls := make([]*call, 0, len(m.byID))
	for _, c := range m.byID {
		calls = append(calls, c)
	}
	m.mu.Unlock()

	var ids []string
	for _, c := range calls {
		c.mu.Lock()
		idle := c.lastActivity.Before(cutoff)
		c.mu.Unlock()
		if idle {
			ids = append(ids, c.id)
		}
	}
	return ids
}
