// ABOUTME: In-memory fan-out broadcaster for browser-bound shell updates
// ABOUTME: Publishes UIEvents to every event stream subscribed to a session

package conversation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coagent-demo/internal/metrics"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 64
)

// UI event types understood by the page script.
const (
	UIAppend  = "append"  // append HTML inside Target
	UIReplace = "replace" // replace the element with id Target
	UIAlert   = "alert"   // show Data as a blocking browser alert
	UIState   = "state"   // Data carries the mirrored agent state
	UIBusy    = "busy"    // Data is true while a run is in flight
)

// UIEvent is one update pushed to a browser page.
type UIEvent struct {
	ID     string    `json:"id"`
	Type   string    `json:"type"`
	Target string    `json:"target,omitempty"`
	HTML   string    `json:"html,omitempty"`
	Data   any       `json:"data,omitempty"`
	At     time.Time `json:"at"`
}

// NewUIEvent stamps a UIEvent with an ID and time.
func NewUIEvent(typ, target, html string, data any) *UIEvent {
	return &UIEvent{
		ID:     uuid.New().String(),
		Type:   typ,
		Target: target,
		HTML:   html,
		Data:   data,
		At:     time.Now(),
	}
}

// EventBroadcaster provides in-memory pub/sub for UIEvents. Subscribers
// register for a session ID and receive events as the session produces them.
type EventBroadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan *UIEvent // sessionID -> subID -> ch
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// NewEventBroadcaster creates a broadcaster. Pass nil logger for default.
func NewEventBroadcaster(logger *slog.Logger, m *metrics.Metrics) *EventBroadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBroadcaster{
		subscribers: make(map[string]map[string]chan *UIEvent),
		logger:      logger.With("component", "broadcaster"),
		metrics:     m,
	}
}

// Subscribe registers a subscriber for events on the given session.
// Returns a channel that receives events and a subscription ID. The
// subscription is cleaned up when ctx is cancelled.
func (b *EventBroadcaster) Subscribe(ctx context.Context, sessionID string) (<-chan *UIEvent, string) {
	subID := uuid.New().String()
	ch := make(chan *UIEvent, subscriberBufferSize)

	b.mu.Lock()
	if _, ok := b.subscribers[sessionID]; !ok {
		b.subscribers[sessionID] = make(map[string]chan *UIEvent)
	}
	b.subscribers[sessionID][subID] = ch
	b.mu.Unlock()

	b.metrics.SubscriberConnected()
	b.logger.Debug("subscriber added", "session_id", sessionID, "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(sessionID, subID)
	}()

	return ch, subID
}

// Publish sends an event to all subscribers of the session.
// Non-blocking: events are dropped for subscribers whose channels are full.
func (b *EventBroadcaster) Publish(sessionID string, event *UIEvent) {
	b.mu.RLock()
	subs, ok := b.subscribers[sessionID]
	if !ok || len(subs) == 0 {
		b.mu.RUnlock()
		return
	}

	targets := make([]chan *UIEvent, 0, len(subs))
	for _, ch := range subs {
		targets = append(targets, ch)
	}

	// Sends happen under the read lock so Unsubscribe cannot close a
	// channel mid-send.
	for _, ch := range targets {
		select {
		case ch <- event:
		default:
			b.logger.Debug("dropped event for slow subscriber",
				"session_id", sessionID,
				"event_id", event.ID)
		}
	}
	b.mu.RUnlock()
}

// Subscribers returns the number of subscribers for a session.
func (b *EventBroadcaster) Subscribers(sessionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[sessionID])
}

// Unsubscribe removes a subscription and closes its channel.
func (b *EventBroadcaster) Unsubscribe(sessionID, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[sessionID]
	if !ok {
		return
	}

	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)
	b.metrics.SubscriberDisconnected()

	if len(subs) == 0 {
		delete(b.subscribers, sessionID)
	}

	b.logger.Debug("subscriber removed", "session_id", sessionID, "sub_id", subID)
}

// Close shuts down the broadcaster and closes all subscriber channels.
func (b *EventBroadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sessionID, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
			b.metrics.SubscriberDisconnected()
		}
		delete(b.subscribers, sessionID)
	}

	b.logger.Debug("broadcaster closed")
}
