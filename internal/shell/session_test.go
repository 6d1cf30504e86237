// ABOUTME: End-to-end tests of a shell session against a scripted agent stream
// ABOUTME: Covers text runs, state sync, frontend actions, interrupts, and failures

package shell

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/2389/coagent-demo/internal/agui"
	"github.com/2389/coagent-demo/internal/config"
	"github.com/2389/coagent-demo/internal/conversation"
	"github.com/2389/coagent-demo/internal/dedupe"
	"github.com/2389/coagent-demo/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

// recorder is a Publisher that keeps every event.
type recorder struct {
	mu     sync.Mutex
	events []*conversation.UIEvent
}

func (r *recorder) Publish(_ string, ev *conversation.UIEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) all() []*conversation.UIEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*conversation.UIEvent(nil), r.events...)
}

func (r *recorder) has(pred func(*conversation.UIEvent) bool) bool {
	for _, ev := range r.all() {
		if pred(ev) {
			return true
		}
	}
	return false
}

func (r *recorder) htmlContains(s string) bool {
	return r.has(func(ev *conversation.UIEvent) bool { return strings.Contains(ev.HTML, s) })
}

// idleCount counts busy=false events, one per finished run loop.
func (r *recorder) idleCount() int {
	n := 0
	for _, ev := range r.all() {
		if ev.Type == conversation.UIBusy && ev.Data == false {
			n++
		}
	}
	return n
}

// scriptedAgent serves one scripted event list per request.
type scriptedAgent struct {
	mu     sync.Mutex
	inputs []agui.RunAgentInput
	script func(call int, in agui.RunAgentInput) []*agui.Event
}

func (a *scriptedAgent) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var in agui.RunAgentInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	a.mu.Lock()
	call := len(a.inputs)
	a.inputs = append(a.inputs, in)
	a.mu.Unlock()

	agui.SetStreamHeaders(w.Header())
	_ = agui.WriteEvent(w, &agui.Event{Type: agui.EventRunStarted, ThreadID: in.ThreadID, RunID: in.RunID})
	for _, ev := range a.script(call, in) {
		_ = agui.WriteEvent(w, ev)
	}
	_ = agui.WriteEvent(w, &agui.Event{Type: agui.EventRunFinished, ThreadID: in.ThreadID, RunID: in.RunID})
}

func (a *scriptedAgent) calls() []agui.RunAgentInput {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]agui.RunAgentInput(nil), a.inputs...)
}

type testShell struct {
	sh    *Shell
	rec   *recorder
	agent *scriptedAgent
	srv   *httptest.Server
}

func newTestShell(t *testing.T, script func(int, agui.RunAgentInput) []*agui.Event) *testShell {
	t.Helper()

	agent := &scriptedAgent{script: script}
	srv := httptest.NewServer(agent)
	cache := dedupe.New(time.Hour, 100)
	rec := &recorder{}

	sh := New(Options{
		Config:      config.Default().Shell,
		EndpointURL: srv.URL,
		Publisher:   rec,
		Resolved:    cache,
	})
	require.NoError(t, RegisterDemo(sh))

	t.Cleanup(func() {
		sh.Close()
		srv.Close()
		cache.Close()
	})
	return &testShell{sh: sh, rec: rec, agent: agent, srv: srv}
}

func textEvents(id, text string) []*agui.Event {
	return []*agui.Event{
		{Type: agui.EventTextMessageStart, MessageID: id, Role: agui.RoleAssistant},
		agui.TextDelta(id, text),
		{Type: agui.EventTextMessageEnd, MessageID: id},
	}
}

func waitIdle(t *testing.T, ts *testShell, runs int) {
	t.Helper()
	require.Eventually(t, func() bool { return ts.rec.idleCount() >= runs },
		2*time.Second, 10*time.Millisecond)
}

func TestSession_TextRun(t *testing.T) {
	ts := newTestShell(t, func(int, agui.RunAgentInput) []*agui.Event {
		return textEvents("a1", "**你好**")
	})
	s := ts.sh.NewSession()

	require.NoError(t, s.Send("hi"))
	waitIdle(t, ts, 1)

	assert.True(t, ts.rec.htmlContains("<strong>你好</strong>"))

	msgs := s.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, agui.RoleUser, msgs[0].Role)
	assert.Equal(t, "hi", msgs[0].Content)
	assert.Equal(t, agui.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "**你好**", msgs[1].Content)

	calls := ts.agent.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, s.ThreadID, calls[0].ThreadID)
	assert.Equal(t, agui.RoleSystem, calls[0].Messages[0].Role, "instructions lead the conversation")
	assert.JSONEq(t, `{"search_history":[]}`, string(calls[0].State))

	var toolNames []string
	for _, tool := range calls[0].Tools {
		toolNames = append(toolNames, tool.Name)
	}
	assert.Equal(t, []string{ActionSayHello}, toolNames, "render-only actions are not offered")
}

func TestSession_StateSync(t *testing.T) {
	ts := newTestShell(t, func(int, agui.RunAgentInput) []*agui.Event {
		return []*agui.Event{
			{Type: agui.EventStateSnapshot, Snapshot: json.RawMessage(`{"search_history":[{"query":"北京天气","completed":false}]}`)},
			{Type: agui.EventStateDelta, Delta: json.RawMessage(`[{"op":"replace","path":"/search_history/0/completed","value":true}]`)},
		}
	})
	s := ts.sh.NewSession()

	require.NoError(t, s.Send("查天气"))
	waitIdle(t, ts, 1)

	state, err := s.Mirror().State()
	require.NoError(t, err)
	require.Len(t, state.SearchHistory, 1)
	assert.True(t, state.SearchHistory[0].IsCompleted())

	assert.True(t, ts.rec.has(func(ev *conversation.UIEvent) bool {
		return ev.Type == conversation.UIReplace && ev.Target == HistoryTarget && strings.Contains(ev.HTML, "✅ 已完成")
	}), "host page panel is refreshed")
	assert.True(t, ts.rec.htmlContains("✅ 正在执行：北京天气"), "in-chat state render")
	assert.True(t, ts.rec.has(func(ev *conversation.UIEvent) bool { return ev.Type == conversation.UIState }))
}

func TestSession_FrontendAction(t *testing.T) {
	ts := newTestShell(t, func(call int, in agui.RunAgentInput) []*agui.Event {
		if call == 0 {
			return []*agui.Event{
				{Type: agui.EventToolCallStart, ToolCallID: "tc1", ToolCallName: ActionSayHello},
				agui.ToolArgsDelta("tc1", `{"name":`),
				agui.ToolArgsDelta("tc1", `"Bob"}`),
				{Type: agui.EventToolCallEnd, ToolCallID: "tc1"},
			}
		}
		return textEvents("a2", "已问候")
	})
	s := ts.sh.NewSession()

	require.NoError(t, s.Send("向Bob问好"))
	waitIdle(t, ts, 1)

	assert.True(t, ts.rec.has(func(ev *conversation.UIEvent) bool {
		return ev.Type == conversation.UIAlert && ev.Data == "Hello, Bob!"
	}))
	assert.True(t, ts.rec.htmlContains("正在发送问候..."))
	assert.True(t, ts.rec.htmlContains("问候已发送给Bob"))

	calls := ts.agent.calls()
	require.Len(t, calls, 2, "the tool result triggers exactly one follow-up run")

	var toolMsg *agui.Message
	for i, m := range calls[1].Messages {
		if m.Role == agui.RoleTool {
			toolMsg = &calls[1].Messages[i]
		}
	}
	require.NotNil(t, toolMsg)
	assert.Equal(t, "tc1", toolMsg.ToolCallID)
	assert.Equal(t, "问候已发送给Bob", toolMsg.Content)
}

func TestSession_InterruptApproveResumesOnce(t *testing.T) {
	journal, err := store.NewSQLiteStore(t.TempDir() + "/journal.db")
	require.NoError(t, err)
	defer journal.Close()

	ts := newTestShell(t, func(call int, in agui.RunAgentInput) []*agui.Event {
		if call == 0 {
			ev, _ := agui.InterruptEvent(map[string]any{
				"tool_name": "get_weather",
				"tool_args": map[string]any{"location": "北京"},
			})
			return []*agui.Event{ev}
		}
		if d, _ := agui.ResumeDecision(in.ForwardedProps); d != agui.DecisionApprove {
			return textEvents("x", "unexpected")
		}
		return []*agui.Event{
			{Type: agui.EventToolCallStart, ToolCallID: "w1", ToolCallName: ActionGetWeather},
			agui.ToolArgsDelta("w1", `{"location":"北京"}`),
			{Type: agui.EventToolCallEnd, ToolCallID: "w1"},
			{Type: agui.EventToolCallResult, ToolCallID: "w1", MessageID: "r1",
				Content: `{"temperature":"25°C","condition":"晴","humidity":"60%","wind":{"speed":3},"updated_at":"2023-06-15 14:30"}`},
		}
	})
	ts.sh.journal = journal
	s := ts.sh.NewSession()

	require.NoError(t, s.Send("北京天气"))

	var pending []*Pending
	require.Eventually(t, func() bool {
		pending = ts.sh.Interrupts().PendingFor(s.ID)
		return len(pending) == 1
	}, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return ts.rec.htmlContains(`data-interrupt="` + pending[0].ID + `"`)
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, ts.sh.Interrupts().Resolve(pending[0].ID, agui.DecisionApprove))
	assert.ErrorIs(t, ts.sh.Interrupts().Resolve(pending[0].ID, agui.DecisionReject), ErrInterruptResolved)

	waitIdle(t, ts, 1)

	calls := ts.agent.calls()
	require.Len(t, calls, 2)
	decision, ok := agui.ResumeDecision(calls[1].ForwardedProps)
	require.True(t, ok)
	assert.Equal(t, agui.DecisionApprove, decision)

	assert.True(t, ts.rec.htmlContains("Calling weather API..."))
	assert.True(t, ts.rec.htmlContains("3级"))
	assert.True(t, ts.rec.htmlContains("已通过"))

	decisions, err := journal.ListDecisions(t.Context(), store.Filter{SessionID: s.ID})
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.Equal(t, agui.DecisionApprove, decisions[0].Decision)
	assert.Equal(t, "get_weather", decisions[0].ToolName)
}

func TestSession_CloseDiscardsPendingInterrupt(t *testing.T) {
	ts := newTestShell(t, func(call int, in agui.RunAgentInput) []*agui.Event {
		ev, _ := agui.InterruptEvent(`{"tool_name":"get_weather","tool_args":{}}`)
		return []*agui.Event{ev}
	})
	s := ts.sh.NewSession()
	require.NoError(t, s.Send("天气"))

	require.Eventually(t, func() bool {
		return len(ts.sh.Interrupts().PendingFor(s.ID)) == 1
	}, 2*time.Second, 10*time.Millisecond)
	id := ts.sh.Interrupts().PendingFor(s.ID)[0].ID

	require.NoError(t, ts.sh.CloseSession(s.ID))

	assert.Empty(t, ts.sh.Interrupts().PendingFor(s.ID))
	assert.ErrorIs(t, ts.sh.Interrupts().Resolve(id, agui.DecisionApprove), ErrInterruptNotFound)
	assert.Len(t, ts.agent.calls(), 1, "a discarded interrupt never resumes the agent")
	assert.ErrorIs(t, s.Send("again"), ErrSessionClosed)
	assert.ErrorIs(t, ts.sh.CloseSession(s.ID), ErrSessionNotFound)
}

func TestSession_UpstreamFailureRendersError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":"remote agent unavailable"}`))
	}))
	defer srv.Close()

	cache := dedupe.New(time.Hour, 10)
	defer cache.Close()

	rec := &recorder{}
	sh := New(Options{Config: config.Default().Shell, EndpointURL: srv.URL, Publisher: rec, Resolved: cache})
	defer sh.Close()

	s := sh.NewSession()
	require.NoError(t, s.Send("hi"))

	require.Eventually(t, func() bool {
		return rec.htmlContains("502") && rec.htmlContains("remote agent unavailable")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSession_RunErrorEvent(t *testing.T) {
	ts := newTestShell(t, func(int, agui.RunAgentInput) []*agui.Event {
		return []*agui.Event{{Type: agui.EventRunError, Message: "model overloaded"}}
	})
	s := ts.sh.NewSession()

	require.NoError(t, s.Send("hi"))
	waitIdle(t, ts, 1)
	assert.True(t, ts.rec.htmlContains("model overloaded"))
}
