// Package store provides persistence for completed call records.
package store

import (
	"context"
	"errors"

	"github.com/worldwidesoldier/sales-coach-ai/internal/domain"
)

// ErrNotFound is returned when a mutation targets a call that does not exist.
var ErrNotFound = errors.New("call not found")

// Repository defines the interface for persisting call records.
type Repository interface {
	// SaveCall creates or replaces the record of a call.
	SaveCall(ctx context.Context, call *domain.Call) error

	// GetCall retrieves a call by id. Returns nil, nil when absent.
	GetCall(ctx context.Context, id string) (*domain.Call, error)

	// ListCalls returns summaries of saved calls, most recent first.
	ListCalls(ctx context.Context, limit int) ([]domain.CallSummary, error)

	// DeleteCall removes a call record.
	DeleteCall(ctx context.Context, id string) error

	// SaveAnalysis attaches a post-call analysis to a saved call.
	SaveAnalysis(ctx context.Context, id string, analysis domain.CallAnalysis) error

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
