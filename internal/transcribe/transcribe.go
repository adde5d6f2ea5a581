// Package transcribe streams call audio to a speech-to-text provider and
// reports transcript fragments back to the caller.
package transcribe

import (
	"context"
	"errors"

	"github.com/worldwidesoldier/sales-coach-ai/internal/domain"
)

var (
	// ErrDisabled is returned by Open when no provider is configured.
	ErrDisabled = errors.New("transcription disabled")
	// ErrClosed is returned when sending audio on a closed stream.
	ErrClosed = errors.New("transcription stream closed")
)

// EventFunc receives transcript fragments in arrival order.
type EventFunc func(domain.TranscriptEvent)

// ErrorFunc receives terminal stream errors. It is not called after Close.
type ErrorFunc func(error)

// Provider opens per-call transcription streams.
type Provider interface {
	Open(ctx context.Context, sessionID string, onEvent EventFunc, onError ErrorFunc) (Stream, error)
	Name() string
}

// Stream is a live transcription connection for one call.
type Stream interface {
	SendAudio(chunk []byte) error
	Close() error
}

// Disabled is the provider used when STT is turned off. Callers can still
// push transcript events directly.
type Disabled struct{}

// Open always fails with ErrDisabled.
func (Disabled) Open(context.Context, string, EventFunc, ErrorFunc) (Stream, error) {
	return nil, ErrDisabled
}

// Name implements Provider.
func (Disabled) Name() string { return "none" }
