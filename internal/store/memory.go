// ABOUTME: In-memory Journal used when no database path is configured
// ABOUTME: Keeps a bounded tail of decisions and invocations plus the latest snapshot per agent

package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultMemoryRetention bounds how many decisions and invocations a
// MemoryJournal keeps.
const DefaultMemoryRetention = 1000

// MemoryJournal is an in-memory Journal. Nothing survives a restart.
type MemoryJournal struct {
	mu          sync.RWMutex
	retain      int
	decisions   []Decision           // oldest first
	interrupts  map[string]bool      // interrupt IDs already recorded
	invocations []Invocation         // oldest first
	snapshots   map[string]*Snapshot // keyed by agent
}

var _ Journal = (*MemoryJournal)(nil)

// NewMemoryJournal creates a MemoryJournal keeping at most retain decisions
// and retain invocations. A non-positive retain uses DefaultMemoryRetention.
func NewMemoryJournal(retain int) *MemoryJournal {
	if retain <= 0 {
		retain = DefaultMemoryRetention
	}
	return &MemoryJournal{
		retain:     retain,
		interrupts: make(map[string]bool),
		snapshots:  make(map[string]*Snapshot),
	}
}

func stamp(id *string, at *time.Time) {
	if *id == "" {
		*id = uuid.New().String()
	}
	if at.IsZero() {
		*at = time.Now().UTC()
	}
}

func matches(f Filter, sessionID string, at time.Time) bool {
	if f.SessionID != "" && f.SessionID != sessionID {
		return false
	}
	if f.Since != nil && at.Before(*f.Since) {
		return false
	}
	return true
}

// RecordDecision stores a resolved interrupt. An interrupt can be recorded once.
func (m *MemoryJournal) RecordDecision(ctx context.Context, d *Decision) error {
	if d.Decision != "approve" && d.Decision != "reject" {
		return fmt.Errorf("inserting decision: invalid decision %q", d.Decision)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.interrupts[d.InterruptID] {
		return fmt.Errorf("inserting decision: interrupt %s already recorded", d.InterruptID)
	}
	stamp(&d.ID, &d.CreatedAt)

	m.decisions = append(m.decisions, *d)
	m.interrupts[d.InterruptID] = true
	if len(m.decisions) > m.retain {
		dropped := m.decisions[0]
		m.decisions = m.decisions[1:]
		delete(m.interrupts, dropped.InterruptID)
	}
	return nil
}

// ListDecisions returns decisions newest first.
func (m *MemoryJournal) ListDecisions(ctx context.Context, f Filter) ([]Decision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	limit := normalizeLimit(f.Limit)
	out := []Decision{}
	for i := len(m.decisions) - 1; i >= 0 && len(out) < limit; i-- {
		d := m.decisions[i]
		if matches(f, d.SessionID, d.CreatedAt) {
			out = append(out, d)
		}
	}
	return out, nil
}

// RecordInvocation stores a frontend action call.
func (m *MemoryJournal) RecordInvocation(ctx context.Context, inv *Invocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stamp(&inv.ID, &inv.CreatedAt)
	m.invocations = append(m.invocations, *inv)
	if len(m.invocations) > m.retain {
		m.invocations = m.invocations[1:]
	}
	return nil
}

// ListInvocations returns invocations newest first.
func (m *MemoryJournal) ListInvocations(ctx context.Context, f Filter) ([]Invocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	limit := normalizeLimit(f.Limit)
	out := []Invocation{}
	for i := len(m.invocations) - 1; i >= 0 && len(out) < limit; i-- {
		inv := m.invocations[i]
		if matches(f, inv.SessionID, inv.CreatedAt) {
			out = append(out, inv)
		}
	}
	return out, nil
}

// SaveSnapshot replaces the agent's latest snapshot.
func (m *MemoryJournal) SaveSnapshot(ctx context.Context, snap *Snapshot) error {
	if len(snap.State) == 0 {
		return errors.New("snapshot state is empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stamp(&snap.ID, &snap.CreatedAt)
	c := *snap
	c.State = append([]byte(nil), snap.State...)
	m.snapshots[snap.Agent] = &c
	return nil
}

// LatestSnapshot returns the agent's most recent snapshot.
func (m *MemoryJournal) LatestSnapshot(ctx context.Context, agent string) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap, ok := m.snapshots[agent]
	if !ok {
		return nil, ErrNotFound
	}
	c := *snap
	return &c, nil
}

// Close is a no-op.
func (m *MemoryJournal) Close() error { return nil }
