// ABOUTME: Delivers user-visible alerts from frontend actions to the owning browser page
// ABOUTME: Carries the session ID through context so handlers stay session-agnostic

package shell

import (
	"context"
	"errors"

	"github.com/2389/coagent-demo/internal/conversation"
)

type contextKey int

const sessionIDKey contextKey = iota

// WithSessionID returns a context carrying the session ID.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey, id)
}

// SessionIDFromContext returns the session ID carried by ctx.
func SessionIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(sessionIDKey).(string)
	return id, ok && id != ""
}

// Publisher sends UI events to the pages of a session.
type Publisher interface {
	Publish(sessionID string, event *conversation.UIEvent)
}

// Notifier shows a blocking alert to the user.
type Notifier interface {
	Alert(ctx context.Context, message string) error
}

var errNoSession = errors.New("no session in context")

// BroadcastNotifier publishes alerts as UI events to the session in ctx.
type BroadcastNotifier struct {
	Publisher Publisher
}

func (n BroadcastNotifier) Alert(ctx context.Context, message string) error {
	id, ok := SessionIDFromContext(ctx)
	if !ok {
		return errNoSession
	}
	n.Publisher.Publish(id, conversation.NewUIEvent(conversation.UIAlert, "", "", message))
	return nil
}
