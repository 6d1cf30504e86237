// ABOUTME: One chat session: posts runs to the gateway endpoint and consumes the event stream
// ABOUTME: Executes frontend actions, renders tool calls, and resumes runs after interrupts

package shell

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coagent-demo/internal/agui"
	"github.com/2389/coagent-demo/internal/conversation"
	"github.com/2389/coagent-demo/internal/store"
)

// TranscriptTarget is the element id chat fragments are appended to.
const TranscriptTarget = "transcript"

// HistoryTarget is the element id of the host page's search history panel.
const HistoryTarget = "search-history"

// Session is the chat state of one browser page.
type Session struct {
	ID       string
	ThreadID string

	sh     *Shell
	mirror *StateMirror
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	runMu sync.Mutex // serializes runs

	mu       sync.Mutex
	messages []agui.Message
	closed   bool
}

// Mirror returns the session's shared state mirror.
func (s *Session) Mirror() *StateMirror {
	return s.mirror
}

// Messages returns a copy of the conversation so far.
func (s *Session) Messages() []agui.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]agui.Message(nil), s.messages...)
}

func (s *Session) appendMessage(m agui.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, m)
}

// attachToolCall adds a tool call to the assistant message with parentID,
// creating the message if the agent streamed no text for it.
func (s *Session) attachToolCall(parentID string, tc agui.ToolCall) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if parentID != "" {
		for i := range s.messages {
			if s.messages[i].ID == parentID && s.messages[i].Role == agui.RoleAssistant {
				s.messages[i].ToolCalls = append(s.messages[i].ToolCalls, tc)
				return
			}
		}
	} else {
		parentID = uuid.New().String()
	}
	s.messages = append(s.messages, agui.Message{
		ID:        parentID,
		Role:      agui.RoleAssistant,
		ToolCalls: []agui.ToolCall{tc},
	})
}

func (s *Session) replaceMessages(msgs []agui.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append([]agui.Message(nil), msgs...)
}

// Send appends a user message and starts a run in the background.
func (s *Session) Send(text string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	msg := agui.Message{ID: uuid.New().String(), Role: agui.RoleUser, Content: text}
	s.messages = append(s.messages, msg)
	s.wg.Add(1)
	s.mu.Unlock()

	s.appendFragment(s.sh.renderer.Bubble(msg.ID, agui.RoleUser, text))

	go func() {
		defer s.wg.Done()
		s.runLoop(nil)
	}()
	return nil
}

// Close cancels in-flight runs, discards pending interrupts, and waits for
// run goroutines to exit.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.sh.interrupts.Discard(s.ID)
	s.cancel()
	s.wg.Wait()
	s.logger.Debug("session closed")
}

// runLoop executes a run and any follow-ups it triggers (tool results,
// interrupt resumes) until the agent has nothing more to do.
func (s *Session) runLoop(props map[string]any) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	s.sh.publish(s.ID, conversation.NewUIEvent(conversation.UIBusy, "", "", true))
	defer s.sh.publish(s.ID, conversation.NewUIEvent(conversation.UIBusy, "", "", false))

	for {
		next, err := s.run(props)
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, ErrInterruptDiscarded) {
				return
			}
			s.logger.Warn("run failed", "error", err)
			s.appendFragment(s.sh.renderer.Error("Error: " + err.Error()))
			return
		}
		if next == nil {
			return
		}
		props = next.props
	}
}

// followUp describes the run to start after the current one.
type followUp struct {
	props map[string]any
}

// toolCall accumulates one streamed tool call.
type toolCall struct {
	id       string
	name     string
	parentID string
	args     strings.Builder
	action   *Action
	done     bool
}

func (tc *toolCall) parsedArgs() map[string]any {
	args, err := decodeArgs(json.RawMessage(tc.args.String()))
	if err != nil {
		return map[string]any{}
	}
	return args
}

// runState is the per-run bookkeeping of stream consumption.
type runState struct {
	runID     string
	texts     map[string]*strings.Builder
	calls     map[string]*toolCall
	order     []string
	interrupt *agui.Interrupt
	stateID   string
}

func (s *Session) buildInput(runID string, props map[string]any) agui.RunAgentInput {
	messages := s.Messages()
	if instr := s.sh.cfg.Instructions; instr != "" {
		messages = append([]agui.Message{{ID: "instructions", Role: agui.RoleSystem, Content: instr}}, messages...)
	}
	return agui.RunAgentInput{
		ThreadID:       s.ThreadID,
		RunID:          runID,
		State:          s.mirror.Snapshot(),
		Messages:       messages,
		Tools:          s.sh.registry.Tools(),
		Context:        []agui.ContextItem{},
		ForwardedProps: props,
	}
}

// run posts one RunAgentInput and consumes its event stream.
func (s *Session) run(props map[string]any) (*followUp, error) {
	rs := &runState{
		runID: uuid.New().String(),
		texts: make(map[string]*strings.Builder),
		calls: make(map[string]*toolCall),
	}

	body, err := json.Marshal(s.buildInput(rs.runID, props))
	if err != nil {
		return nil, fmt.Errorf("encoding run input: %w", err)
	}

	req, err := http.NewRequestWithContext(s.ctx, http.MethodPost, s.sh.EndpointURL(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	s.logger.Debug("starting run", "run_id", rs.runID, "resume", props != nil)
	resp, err := s.sh.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("posting run: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("agent endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	reader := agui.NewReader(resp.Body)
	for {
		ev, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading event stream: %w", err)
		}
		if err := s.handleEvent(rs, ev); err != nil {
			return nil, err
		}
	}

	return s.finishRun(rs)
}

func (s *Session) handleEvent(rs *runState, ev *agui.Event) error {
	switch ev.Type {
	case agui.EventTextMessageStart:
		rs.texts[ev.MessageID] = &strings.Builder{}
		s.appendFragment(s.sh.renderer.Bubble(ev.MessageID, agui.RoleAssistant, ""))

	case agui.EventTextMessageContent:
		buf, ok := rs.texts[ev.MessageID]
		if !ok {
			buf = &strings.Builder{}
			rs.texts[ev.MessageID] = buf
			s.appendFragment(s.sh.renderer.Bubble(ev.MessageID, agui.RoleAssistant, ""))
		}
		buf.WriteString(ev.DeltaText())
		html, err := s.sh.renderer.Bubble(ev.MessageID, agui.RoleAssistant, buf.String())
		s.replaceFragment(ev.MessageID, html, err)

	case agui.EventTextMessageEnd:
		if buf, ok := rs.texts[ev.MessageID]; ok {
			s.appendMessage(agui.Message{ID: ev.MessageID, Role: agui.RoleAssistant, Content: buf.String()})
			delete(rs.texts, ev.MessageID)
		}

	case agui.EventToolCallStart:
		tc := &toolCall{id: ev.ToolCallID, name: ev.ToolCallName, parentID: ev.ParentMessageID}
		if a, ok := s.sh.registry.Lookup(ev.ToolCallName); ok {
			tc.action = a
		}
		rs.calls[tc.id] = tc
		rs.order = append(rs.order, tc.id)
		s.renderToolCall(tc, StatusInProgress, nil, true)

	case agui.EventToolCallArgs:
		if tc, ok := rs.calls[ev.ToolCallID]; ok {
			tc.args.WriteString(ev.DeltaText())
		}

	case agui.EventToolCallEnd:
		tc, ok := rs.calls[ev.ToolCallID]
		if !ok {
			return nil
		}
		tc.done = true
		s.attachToolCall(tc.parentID, agui.ToolCall{
			ID:   tc.id,
			Type: "function",
			Function: agui.FunctionCall{
				Name:      tc.name,
				Arguments: tc.args.String(),
			},
		})
		s.renderToolCall(tc, StatusExecuting, nil, false)

	case agui.EventToolCallResult:
		s.appendMessage(agui.Message{
			ID:         ev.MessageID,
			Role:       agui.RoleTool,
			Content:    ev.Content,
			ToolCallID: ev.ToolCallID,
		})
		if tc, ok := rs.calls[ev.ToolCallID]; ok {
			result, _ := json.Marshal(ev.Content)
			s.renderToolCall(tc, StatusComplete, result, false)
		}

	case agui.EventStateSnapshot:
		if err := s.mirror.ApplySnapshot(ev.Snapshot); err != nil {
			s.logger.Warn("ignoring state snapshot", "error", err)
			return nil
		}
		s.renderState(rs)

	case agui.EventStateDelta:
		if err := s.mirror.ApplyDelta(ev.Delta); err != nil {
			s.logger.Warn("ignoring state delta", "error", err)
			return nil
		}
		s.renderState(rs)

	case agui.EventMessagesSnapshot:
		s.replaceMessages(ev.Messages)

	case agui.EventCustom:
		if in, ok := ev.Interrupt(); ok {
			rs.interrupt = in
		}

	case agui.EventRunError:
		return fmt.Errorf("agent error: %s", ev.Message)
	}
	return nil
}

// finishRun decides what follows a completed stream: an interrupt wait and
// resume, local execution of enabled actions, or nothing.
func (s *Session) finishRun(rs *runState) (*followUp, error) {
	if rs.interrupt != nil {
		return s.awaitInterrupt(rs.interrupt)
	}

	executed := false
	for _, id := range rs.order {
		tc := rs.calls[id]
		if tc.action == nil || !tc.action.Enabled() || !tc.done {
			continue
		}
		s.executeAction(tc)
		executed = true
	}
	if executed {
		return &followUp{}, nil
	}
	return nil, nil
}

func (s *Session) awaitInterrupt(in *agui.Interrupt) (*followUp, error) {
	p := s.sh.interrupts.Raise(s.ctx, s.ID, in)

	widget, err := s.sh.renderInterrupt(p)
	if err != nil {
		return nil, err
	}
	s.sh.publish(s.ID, conversation.NewUIEvent(conversation.UIAppend, TranscriptTarget, string(widget), nil))

	decision, err := p.Wait(s.ctx)
	if err != nil {
		return nil, err
	}

	resolved, err := s.sh.renderer.InterruptResolved(p, decision)
	s.replaceFragment("interrupt-"+p.ID, resolved, err)

	if err := s.sh.journal.RecordDecision(context.Background(), &store.Decision{
		SessionID:   s.ID,
		InterruptID: p.ID,
		ToolName:    in.ToolName,
		ToolArgs:    in.ToolArgs,
		Decision:    decision,
	}); err != nil {
		s.logger.Warn("failed to journal decision", "error", err)
	}

	return &followUp{props: agui.ResumeCommand(decision)}, nil
}

// executeAction runs an enabled frontend action and records its result as
// a tool message for the follow-up run.
func (s *Session) executeAction(tc *toolCall) {
	ctx := WithSessionID(s.ctx, s.ID)
	args := json.RawMessage(tc.args.String())

	start := time.Now()
	result, err := s.sh.registry.Invoke(ctx, tc.name, args)
	outcome := "ok"
	inv := &store.Invocation{SessionID: s.ID, Action: tc.name, Args: nullableJSON(args)}
	if err != nil {
		outcome = "error"
		inv.Error = err.Error()
		result = "Error: " + err.Error()
		s.logger.Warn("action failed", "action", tc.name, "error", err)
	} else {
		inv.Result = result
		s.logger.Debug("action executed", "action", tc.name, "elapsed", time.Since(start))
	}
	s.sh.metrics.RecordAction(tc.name, outcome)
	if jerr := s.sh.journal.RecordInvocation(context.Background(), inv); jerr != nil {
		s.logger.Warn("failed to journal invocation", "error", jerr)
	}

	s.appendMessage(agui.Message{
		ID:         uuid.New().String(),
		Role:       agui.RoleTool,
		Content:    result,
		ToolCallID: tc.id,
	})

	encoded, _ := json.Marshal(result)
	s.renderToolCall(tc, StatusComplete, encoded, false)
}

// renderToolCall draws a tool call container. Tool calls with no matching
// action are not shown.
func (s *Session) renderToolCall(tc *toolCall, status string, result json.RawMessage, first bool) {
	if tc.action == nil {
		return
	}

	var (
		inner template.HTML
		err   error
	)
	switch {
	case tc.action.RenderFunc != nil:
		inner, err = tc.action.RenderFunc(RenderProps{Status: status, Args: tc.parsedArgs(), Result: result})
	case status == StatusComplete && tc.action.Enabled():
		var text string
		_ = json.Unmarshal(result, &text)
		inner, err = s.sh.renderer.ActionResult(text)
	case tc.action.Render != "":
		inner, err = s.sh.renderer.ActionStatus(tc.action.Render)
	default:
		return
	}
	if err != nil {
		s.logger.Warn("failed to render tool call", "tool", tc.name, "error", err)
		return
	}

	id := "tool-" + tc.id
	if first {
		s.appendFragment(s.sh.renderer.ToolCall(id, tc.name, inner))
		return
	}
	html, err := s.sh.renderer.ToolCall(id, tc.name, inner)
	s.replaceFragment(id, html, err)
}

// renderState draws the in-chat state render for this run.
func (s *Session) renderState(rs *runState) {
	fn, ok := s.sh.stateRender(s.mirror.Agent())
	if !ok {
		return
	}
	state, err := s.mirror.State()
	if err != nil {
		s.logger.Warn("state does not match expected shape", "error", err)
		return
	}
	inner, err := fn(state)
	if err != nil {
		s.logger.Warn("failed to render state", "error", err)
		return
	}

	html := fmt.Sprintf(`<div class="agent-state" id="state-%s">%s</div>`, rs.runID, inner)
	if rs.stateID == "" {
		rs.stateID = "state-" + rs.runID
		s.sh.publish(s.ID, conversation.NewUIEvent(conversation.UIAppend, TranscriptTarget, html, nil))
		return
	}
	s.sh.publish(s.ID, conversation.NewUIEvent(conversation.UIReplace, rs.stateID, html, nil))
}

// stateChanged runs after every mirror update: it refreshes the host page
// panel, pushes the raw state, and journals the snapshot.
func (s *Session) stateChanged(doc json.RawMessage) {
	s.sh.metrics.RecordStateUpdate(s.mirror.Agent())
	s.sh.publish(s.ID, conversation.NewUIEvent(conversation.UIState, "", "", doc))

	var state AgentState
	if err := json.Unmarshal(doc, &state); err == nil {
		if html, err := s.sh.renderer.History(state); err == nil {
			s.sh.publish(s.ID, conversation.NewUIEvent(conversation.UIReplace, HistoryTarget, string(html), nil))
		}
	}

	s.sh.saveSnapshot(s.ID, doc)
}

func (s *Session) appendFragment(html template.HTML, err error) {
	if err != nil {
		s.logger.Warn("failed to render fragment", "error", err)
		return
	}
	s.sh.publish(s.ID, conversation.NewUIEvent(conversation.UIAppend, TranscriptTarget, string(html), nil))
}

func (s *Session) replaceFragment(target string, html template.HTML, err error) {
	if err != nil {
		s.logger.Warn("failed to render fragment", "error", err)
		return
	}
	s.sh.publish(s.ID, conversation.NewUIEvent(conversation.UIReplace, target, string(html), nil))
}

func nullableJSON(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || !json.Valid(raw) {
		return nil
	}
	return raw
}
