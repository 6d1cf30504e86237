// ABOUTME: Tracks interrupts awaiting a human approve/reject decision
// ABOUTME: Routes each decision to the waiting run exactly once

package shell

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coagent-demo/internal/agui"
	"github.com/2389/coagent-demo/internal/dedupe"
	"github.com/2389/coagent-demo/internal/metrics"
)

var (
	// ErrInterruptNotFound indicates no interrupt with the given ID was raised.
	ErrInterruptNotFound = errors.New("interrupt not found")

	// ErrInterruptResolved indicates the interrupt already has a decision.
	ErrInterruptResolved = errors.New("interrupt already resolved")

	// ErrInvalidDecision indicates a decision other than approve or reject.
	ErrInvalidDecision = errors.New("decision must be approve or reject")

	// ErrInterruptDiscarded indicates the interrupt was dropped before a decision.
	ErrInterruptDiscarded = errors.New("interrupt discarded")
)

// Pending is an interrupt awaiting a decision.
type Pending struct {
	ID        string
	SessionID string
	Interrupt *agui.Interrupt
	RaisedAt  time.Time

	decision chan string   // buffered 1
	done     chan struct{} // closed on resolve or discard
}

// Wait blocks until the interrupt is resolved, discarded, or ctx ends.
// There is no timeout and no default decision.
func (p *Pending) Wait(ctx context.Context) (string, error) {
	select {
	case d := <-p.decision:
		return d, nil
	case <-p.done:
		// done closes after the decision is buffered, so check once more
		select {
		case d := <-p.decision:
			return d, nil
		default:
			return "", ErrInterruptDiscarded
		}
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// InterruptRouter registers interrupts and delivers decisions to waiters.
type InterruptRouter struct {
	mu       sync.Mutex
	pending  map[string]*Pending // interruptID -> pending
	resolved *dedupe.Cache
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewInterruptRouter creates a router. resolved remembers past decisions so
// repeats are reported as ErrInterruptResolved rather than ErrInterruptNotFound.
func NewInterruptRouter(resolved *dedupe.Cache, logger *slog.Logger, m *metrics.Metrics) *InterruptRouter {
	if logger == nil {
		logger = slog.Default()
	}
	return &InterruptRouter{
		pending:  make(map[string]*Pending),
		resolved: resolved,
		logger:   logger.With("component", "interrupts"),
		metrics:  m,
	}
}

// Raise registers an interrupt for a session. The interrupt is dropped if
// ctx ends before a decision arrives.
func (r *InterruptRouter) Raise(ctx context.Context, sessionID string, in *agui.Interrupt) *Pending {
	p := &Pending{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Interrupt: in,
		RaisedAt:  time.Now(),
		decision:  make(chan string, 1),
		done:      make(chan struct{}),
	}

	r.mu.Lock()
	r.pending[p.ID] = p
	r.mu.Unlock()

	r.metrics.RecordInterrupt("raised")
	r.logger.Info("interrupt raised",
		"interrupt_id", p.ID,
		"session_id", sessionID,
		"tool", in.ToolName)

	go func() {
		select {
		case <-ctx.Done():
			r.drop(p.ID)
		case <-p.done:
		}
	}()

	return p
}

// Resolve delivers decision to the waiter of interrupt id.
func (r *InterruptRouter) Resolve(id, decision string) error {
	if !agui.ValidDecision(decision) {
		return fmt.Errorf("%w: %q", ErrInvalidDecision, decision)
	}

	r.mu.Lock()
	p, ok := r.pending[id]
	if !ok {
		r.mu.Unlock()
		if prev, seen := r.resolved.Lookup(id); seen {
			return fmt.Errorf("%w: %s", ErrInterruptResolved, prev)
		}
		return fmt.Errorf("%w: %s", ErrInterruptNotFound, id)
	}
	if prev, dup := r.resolved.Claim(id, decision); dup {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrInterruptResolved, prev)
	}
	delete(r.pending, id)
	r.mu.Unlock()

	p.decision <- decision
	close(p.done)

	r.metrics.RecordInterrupt(decision)
	r.logger.Info("interrupt resolved",
		"interrupt_id", id,
		"session_id", p.SessionID,
		"decision", decision)
	return nil
}

// PendingFor lists the pending interrupts of a session.
func (r *InterruptRouter) PendingFor(sessionID string) []*Pending {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*Pending
	for _, p := range r.pending {
		if p.SessionID == sessionID {
			out = append(out, p)
		}
	}
	return out
}

// Discard drops every pending interrupt of a session. Waiters get
// ErrInterruptDiscarded. Returns how many were dropped.
func (r *InterruptRouter) Discard(sessionID string) int {
	r.mu.Lock()
	var dropped []*Pending
	for id, p := range r.pending {
		if p.SessionID == sessionID {
			delete(r.pending, id)
			dropped = append(dropped, p)
		}
	}
	r.mu.Unlock()

	for _, p := range dropped {
		close(p.done)
		r.metrics.RecordInterrupt("discarded")
	}
	if len(dropped) > 0 {
		r.logger.Info("discarded pending interrupts", "session_id", sessionID, "count", len(dropped))
	}
	return len(dropped)
}

// drop removes one interrupt without a decision.
func (r *InterruptRouter) drop(id string) {
	r.mu.Lock()
	p, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	r.mu.Unlock()

	if ok {
		close(p.done)
		r.metrics.RecordInterrupt("discarded")
	}
}
