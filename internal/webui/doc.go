// Package webui serves the demo's browser surface.
//
// # Routes
//
//	GET  /                        host page with the chat widget; opens a shell session
//	GET  /static/*                embedded script and stylesheet
//	GET  /shell/events?session=   SSE stream of UI events for the session
//	POST /shell/send              {"session", "message"}; 202, the run proceeds in the background
//	POST /shell/interrupts/{id}   {"decision": "approve"|"reject"}; 200, 400, 404 or 409
//	GET  /shell/state[?session=]  mirrored state, or the latest journaled snapshot
//	GET  /shell/journal           decisions and action calls, newest first
//
// # Session Lifecycle
//
// Rendering the page creates a session. The page's script opens the event
// stream; when the last stream for a session ends the session is closed and
// any interrupt it was waiting on is discarded. A stream that attaches while an
// interrupt is pending receives its widget again. Pages that never open a stream
// are reaped after the attach timeout.
//
// # Event Stream
//
// Each UI event is written as
//
//	event: <type>
//	data: <UIEvent JSON>
//
// with a comment heartbeat every 30 seconds.
package webui
