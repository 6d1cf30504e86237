// Package gateway orchestrates the coagent-demo server components.
//
// # Overview
//
// The gateway owns every long-lived component of the demo: the agent
// endpoint that relays runs to the remote agent, the presentation shell
// that drives one chat session per open page, the browser routes, the
// optional SQLite journal, and the Prometheus registry.
//
// # HTTP Surface
//
//   - POST /api/copilotkit (and sub-paths) - relay to the remote agent
//   - GET / - demo page with the chat panel
//   - GET /shell/events - SSE stream of rendered fragments for a session
//   - POST /shell/send - submit a chat message
//   - POST /shell/interrupts/{id} - approve or reject a pending tool call
//   - GET /shell/state - mirrored or journaled shared state
//   - GET /shell/journal - journaled decisions and action calls
//   - GET /health - liveness check
//   - GET /health/ready - remote agent reachability
//   - GET /metrics - Prometheus metrics, when enabled
//
// The endpoint path is taken from runtime.endpoint in the config.
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
//	err = gw.Run(ctx)
//
// Run listens on server.http_addr and points the shell at the address it
// actually bound, so port 0 works. When ctx is canceled, Run shuts down:
// browser streams and in-flight runs end first, then the HTTP server
// drains, then the journal and the interrupt cache are closed.
package gateway
