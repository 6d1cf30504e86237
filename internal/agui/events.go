// ABOUTME: Agent/UI event protocol types exchanged between the shell and the remote agent
// ABOUTME: Flat event envelope, run input, messages, tools, and interrupt payloads

package agui

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType names an event on the agent stream.
type EventType string

const (
	EventRunStarted         EventType = "RUN_STARTED"
	EventRunFinished        EventType = "RUN_FINISHED"
	EventRunError           EventType = "RUN_ERROR"
	EventStepStarted        EventType = "STEP_STARTED"
	EventStepFinished       EventType = "STEP_FINISHED"
	EventTextMessageStart   EventType = "TEXT_MESSAGE_START"
	EventTextMessageContent EventType = "TEXT_MESSAGE_CONTENT"
	EventTextMessageEnd     EventType = "TEXT_MESSAGE_END"
	EventToolCallStart      EventType = "TOOL_CALL_START"
	EventToolCallArgs       EventType = "TOOL_CALL_ARGS"
	EventToolCallEnd        EventType = "TOOL_CALL_END"
	EventToolCallResult     EventType = "TOOL_CALL_RESULT"
	EventStateSnapshot      EventType = "STATE_SNAPSHOT"
	EventStateDelta         EventType = "STATE_DELTA"
	EventMessagesSnapshot   EventType = "MESSAGES_SNAPSHOT"
	EventCustom             EventType = "CUSTOM"
)

// CustomInterrupt is the CUSTOM event name agents use to pause for a human decision.
const CustomInterrupt = "on_interrupt"

// Interrupt resolution tokens.
const (
	DecisionApprove = "approve"
	DecisionReject  = "reject"
)

// Message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

// Event is the flat envelope for every event on the stream. Only the fields
// relevant to Type are populated.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp int64     `json:"timestamp,omitempty"`

	ThreadID string `json:"threadId,omitempty"`
	RunID    string `json:"runId,omitempty"`
	StepName string `json:"stepName,omitempty"`

	MessageID string `json:"messageId,omitempty"`
	Role      string `json:"role,omitempty"`

	// Delta is a string for TEXT_MESSAGE_CONTENT/TOOL_CALL_ARGS and a JSON
	// Patch array for STATE_DELTA.
	Delta json.RawMessage `json:"delta,omitempty"`

	ToolCallID      string `json:"toolCallId,omitempty"`
	ToolCallName    string `json:"toolCallName,omitempty"`
	ParentMessageID string `json:"parentMessageId,omitempty"`
	Content         string `json:"content,omitempty"`

	Snapshot json.RawMessage `json:"snapshot,omitempty"`
	Messages []Message       `json:"messages,omitempty"`

	Name  string          `json:"name,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`

	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
}

// DeltaText decodes a string delta (text content or tool call args).
func (e *Event) DeltaText() string {
	if len(e.Delta) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(e.Delta, &s); err != nil {
		return ""
	}
	return s
}

// Interrupt decodes a CUSTOM on_interrupt event. The value may be a JSON
// object or a JSON string holding an encoded object.
func (e *Event) Interrupt() (*Interrupt, bool) {
	if e.Type != EventCustom || e.Name != CustomInterrupt {
		return nil, false
	}
	raw := e.Value
	var encoded string
	if err := json.Unmarshal(raw, &encoded); err == nil {
		raw = json.RawMessage(encoded)
	}
	var in Interrupt
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, false
	}
	in.Raw = append(json.RawMessage(nil), raw...)
	return &in, true
}

// Interrupt is the opaque envelope an agent raises when it needs a human
// decision. Only ToolName and ToolArgs are interpreted by the shell.
type Interrupt struct {
	Type     string          `json:"type,omitempty"`
	ToolName string          `json:"tool_name"`
	ToolArgs json.RawMessage `json:"tool_args,omitempty"`
	ToolID   string          `json:"tool_id,omitempty"`

	// Raw keeps the full payload as received.
	Raw json.RawMessage `json:"-"`
}

// Message is one entry of the conversation sent with each run.
type Message struct {
	ID         string     `json:"id"`
	Role       string     `json:"role"`
	Content    string     `json:"content,omitempty"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"toolCalls,omitempty"`
	ToolCallID string     `json:"toolCallId,omitempty"`
}

// ToolCall is an assistant request to run a named tool.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall holds a tool name and its JSON-encoded arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Tool describes a frontend capability the agent may call.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ContextItem is free-form context supplied with a run.
type ContextItem struct {
	Description string `json:"description"`
	Value       string `json:"value"`
}

// RunAgentInput is the request body that starts or resumes a run.
type RunAgentInput struct {
	ThreadID       string          `json:"threadId"`
	RunID          string          `json:"runId"`
	State          json.RawMessage `json:"state,omitempty"`
	Messages       []Message       `json:"messages"`
	Tools          []Tool          `json:"tools"`
	Context        []ContextItem   `json:"context"`
	ForwardedProps map[string]any  `json:"forwardedProps,omitempty"`
}

// ResumeCommand returns the forwardedProps that resume an interrupted run
// with the given decision.
func ResumeCommand(decision string) map[string]any {
	return map[string]any{
		"command": map[string]any{
			"resume": decision,
		},
	}
}

// ResumeDecision extracts the resume decision from forwardedProps, if any.
func ResumeDecision(props map[string]any) (string, bool) {
	cmd, ok := props["command"].(map[string]any)
	if !ok {
		return "", false
	}
	decision, ok := cmd["resume"].(string)
	return decision, ok
}

// ValidDecision reports whether d is one of the two resolution tokens.
func ValidDecision(d string) bool {
	return d == DecisionApprove || d == DecisionReject
}

// TextDelta builds a TEXT_MESSAGE_CONTENT event.
func TextDelta(messageID, text string) *Event {
	return &Event{Type: EventTextMessageContent, MessageID: messageID, Delta: mustString(text)}
}

// ToolArgsDelta builds a TOOL_CALL_ARGS event.
func ToolArgsDelta(toolCallID, args string) *Event {
	return &Event{Type: EventToolCallArgs, ToolCallID: toolCallID, Delta: mustString(args)}
}

// InterruptEvent builds a CUSTOM on_interrupt event carrying value.
func InterruptEvent(value any) (*Event, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encoding interrupt: %w", err)
	}
	return &Event{Type: EventCustom, Name: CustomInterrupt, Value: raw}, nil
}

// Stamp sets the event timestamp to now in milliseconds.
func (e *Event) Stamp() *Event {
	e.Timestamp = time.Now().UnixMilli()
	return e
}

func mustString(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}
