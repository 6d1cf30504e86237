// Package conversation carries shell output to browser pages.
//
// # Event Broadcasting
//
// Each browser page owns a shell session. Everything the session renders
// (chat bubbles, tool cards, interrupt widgets, alerts) is published as a
// UIEvent keyed by the session ID:
//
//	b := conversation.NewEventBroadcaster(logger, metrics)
//	ch, subID := b.Subscribe(ctx, sessionID)
//	b.Publish(sessionID, conversation.NewUIEvent(conversation.UIAppend, "transcript", html, nil))
//
// Event types:
//   - append: add HTML inside the target element
//   - replace: swap the element with the target id
//   - alert: show a blocking browser alert
//   - state: the mirrored agent state changed
//   - busy: a run started or finished
//
// Publishing never blocks. A subscriber whose buffer (64 events) is full
// misses events rather than stalling the session. Subscriptions end when
// the subscribing context is cancelled.
package conversation
