// ABOUTME: Journal interface and record types for coagent-demo persistence
// ABOUTME: Records interrupt decisions, frontend action calls, and shared state snapshots

package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// Decision is one resolved interrupt.
type Decision struct {
	ID          string
	SessionID   string
	InterruptID string
	ToolName    string
	ToolArgs    json.RawMessage
	Decision    string // "approve" or "reject"
	CreatedAt   time.Time
}

// Invocation is one frontend action call made on behalf of the agent.
type Invocation struct {
	ID        string
	SessionID string
	Action    string
	Args      json.RawMessage
	Result    string
	Error     string // empty on success
	CreatedAt time.Time
}

// Snapshot is the shared state document of an agent at a point in time.
type Snapshot struct {
	ID        string
	SessionID string
	Agent     string
	State     json.RawMessage
	CreatedAt time.Time
}

// Filter narrows List queries. Zero values match everything.
type Filter struct {
	SessionID string
	Since     *time.Time
	Limit     int // default 100, max 1000
}

// Journal persists what happened in shell sessions.
type Journal interface {
	RecordDecision(ctx context.Context, d *Decision) error
	ListDecisions(ctx context.Context, f Filter) ([]Decision, error)

	RecordInvocation(ctx context.Context, inv *Invocation) error
	ListInvocations(ctx context.Context, f Filter) ([]Invocation, error)

	SaveSnapshot(ctx context.Context, s *Snapshot) error
	// LatestSnapshot returns ErrNotFound if the agent has no snapshot.
	LatestSnapshot(ctx context.Context, agent string) (*Snapshot, error)

	Close() error
}

// NopJournal discards everything. Used when no database is configured.
type NopJournal struct{}

var _ Journal = NopJournal{}

func (NopJournal) RecordDecision(context.Context, *Decision) error { return nil }

func (NopJournal) ListDecisions(context.Context, Filter) ([]Decision, error) {
	return []Decision{}, nil
}

func (NopJournal) RecordInvocation(context.Context, *Invocation) error { return nil }

func (NopJournal) ListInvocations(context.Context, Filter) ([]Invocation, error) {
	return []Invocation{}, nil
}

func (NopJournal) SaveSnapshot(context.Context, *Snapshot) error { return nil }

func (NopJournal) LatestSnapshot(context.Context, string) (*Snapshot, error) {
	return nil, ErrNotFound
}

func (NopJournal) Close() error { return nil }

// normalizeLimit applies default (100) and cap (1000) to a list limit.
func normalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return 100
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}
