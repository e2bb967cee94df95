// Package store defines the trace storage interface and implementations.
//
// The trace is an append-only audit of turn lifecycles and model calls.
// Session state itself never lives here; sessions are in-process only.
package store

import (
	"context"

	"github.com/medgaze/medgaze/domain"
)

// TraceStore records and reads trace events.
type TraceStore interface {
	RecordEvent(ctx context.Context, event *domain.Event) error
	GetEvents(ctx context.Context, sessionID string, afterTs int64, limit int) ([]domain.Event, error)
	Close() error
}

// NopStore discards every event. Used when tracing is disabled.
type NopStore struct{}

func (NopStore) RecordEvent(ctx context.Context, event *domain.Event) error { return nil }

func (NopStore) GetEvents(ctx context.Context, sessionID string, afterTs int64, limit int) ([]domain.Event, error) {
	return nil, nil
}

func (NopStore) Close() error { return nil }
