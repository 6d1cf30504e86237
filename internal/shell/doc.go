// Package shell is the server-side presentation shell: it plays the role of a
// chat widget for each browser page and talks to the agent through the
// gateway endpoint.
//
// # Sessions
//
// Every page load opens a Session. Send appends the user message and starts
// a run: the session posts a RunAgentInput to the gateway endpoint and reads
// the agent's event stream. Runs of one session never overlap.
//
// While reading, the session:
//
//   - renders assistant text as markdown bubbles
//   - mirrors STATE_SNAPSHOT and STATE_DELTA into its StateMirror
//   - renders tool calls through the matching Action
//   - remembers an on_interrupt event for after the stream ends
//
// When the stream ends, an interrupt takes priority: the widget is shown and
// the session waits for Resolve, then resumes the agent with
// forwardedProps.command.resume. Otherwise enabled actions the agent called
// are executed locally and their results are sent back in a follow-up run.
//
// # Actions
//
// Enabled actions are advertised to the agent as tools and run in the
// shell. Disabled actions are render-only: they draw the agent's own tool
// calls (a pending status, then a card once the result arrives) and reject
// invocation with ErrActionDisabled.
//
// # Interrupts
//
// InterruptRouter holds pending interrupts. Each accepts exactly one of
// "approve" or "reject". A repeated decision fails with ErrInterruptResolved
// and never resumes the agent twice. Closing a session discards its pending
// interrupts without a decision.
//
// # Output
//
// All rendering goes out as conversation.UIEvents through the Publisher,
// including alerts raised by action handlers via the Notifier.
package shell
