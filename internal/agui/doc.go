// Package agui implements the agent/UI event protocol spoken between the
// shell and a remote agent process.
//
// A run is started by POSTing a RunAgentInput; the agent answers with a
// Server-Sent Events stream of Events:
//
//	data: {"type":"RUN_STARTED","threadId":"t1","runId":"r1"}
//
//	data: {"type":"STATE_SNAPSHOT","snapshot":{"search_history":[]}}
//
//	data: {"type":"CUSTOM","name":"on_interrupt","value":{"tool_name":"delete_file","tool_args":{}}}
//
//	data: {"type":"RUN_FINISHED","threadId":"t1","runId":"r1"}
//
// Interrupted runs are resumed with ResumeCommand in forwardedProps.
package agui
