// ABOUTME: Tests for the browser routes
// ABOUTME: Covers page render, event streaming, send, interrupt resolution, and state lookups

package webui

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coagent-demo/internal/agui"
	"github.com/2389/coagent-demo/internal/config"
	"github.com/2389/coagent-demo/internal/conversation"
	"github.com/2389/coagent-demo/internal/dedupe"
	"github.com/2389/coagent-demo/internal/shell"
	"github.com/2389/coagent-demo/internal/store"
)

type fixture struct {
	ui     *UI
	shell  *shell.Shell
	events *conversation.EventBroadcaster
	mux    *http.ServeMux
}

func newFixture(t *testing.T, journal store.Journal) *fixture {
	t.Helper()

	agent := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agui.SetStreamHeaders(w.Header())
		_ = agui.WriteEvent(w, &agui.Event{Type: agui.EventRunStarted})
		_ = agui.WriteEvent(w, &agui.Event{Type: agui.EventRunFinished})
	}))

	cache := dedupe.New(time.Hour, 100)
	events := conversation.NewEventBroadcaster(nil, nil)
	sh := shell.New(shell.Options{
		Config:      config.Default().Shell,
		EndpointURL: agent.URL,
		Publisher:   events,
		Journal:     journal,
		Resolved:    cache,
	})
	require.NoError(t, shell.RegisterDemo(sh))

	ui := New(Options{Shell: sh, Events: events})
	mux := http.NewServeMux()
	ui.RegisterRoutes(mux)

	t.Cleanup(func() {
		ui.Close()
		sh.Close()
		events.Close()
		cache.Close()
		agent.Close()
	})
	return &fixture{ui: ui, shell: sh, events: events, mux: mux}
}

func (f *fixture) do(method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, req)
	return w
}

var sessionAttr = regexp.MustCompile(`data-session="([^"]+)"`)

func (f *fixture) openPage(t *testing.T) string {
	t.Helper()
	w := f.do(http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, w.Code)
	m := sessionAttr.FindStringSubmatch(w.Body.String())
	require.Len(t, m, 2)
	return m[1]
}

func errorBody(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body["error"]
}

func TestPage(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/html; charset=utf-8", w.Header().Get("Content-Type"))

	body := w.Body.String()
	for _, want := range []string{
		"CopilotKit演示主应用",
		"这里可以是你的任何现有的企业应用！",
		"搜索历史",
		"暂无搜索历史。",
		`id="search-history"`,
		"智能AI Copilot",
		"<h1>👋 您好！</h1>",
		"chat-sidebar open",
	} {
		assert.Contains(t, body, want)
	}
	assert.Equal(t, 1, f.shell.Sessions())
}

func TestPage_UnknownPathIsNotFound(t *testing.T) {
	f := newFixture(t, nil)
	w := f.do(http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, 0, f.shell.Sessions())
}

func TestStatic(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(http.MethodGet, "/static/shell.js", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "EventSource")

	w = f.do(http.MethodGet, "/static/shell.css", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSend(t *testing.T) {
	f := newFixture(t, nil)
	session := f.openPage(t)

	tests := []struct {
		name string
		body string
		code int
	}{
		{"invalid json", `{`, http.StatusBadRequest},
		{"missing session", `{"message":"hi"}`, http.StatusBadRequest},
		{"missing message", `{"session":"` + session + `"}`, http.StatusBadRequest},
		{"unknown session", `{"session":"nope","message":"hi"}`, http.StatusNotFound},
		{"accepted", `{"session":"` + session + `","message":"hi"}`, http.StatusAccepted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(http.MethodPost, "/shell/send", tt.body)
			assert.Equal(t, tt.code, w.Code, w.Body.String())
		})
	}

	sess, ok := f.shell.Session(session)
	require.True(t, ok)
	assert.Eventually(t, func() bool { return len(sess.Messages()) == 1 }, time.Second, 10*time.Millisecond)
}

func TestResolveInterrupt(t *testing.T) {
	f := newFixture(t, nil)
	p := f.shell.Interrupts().Raise(t.Context(), "s1", &agui.Interrupt{ToolName: "get_weather"})

	w := f.do(http.MethodPost, "/shell/interrupts/"+p.ID, `{"decision":"maybe"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodPost, "/shell/interrupts/unknown", `{"decision":"approve"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(http.MethodPost, "/shell/interrupts/"+p.ID, `{"decision":"approve"}`)
	require.Equal(t, http.StatusOK, w.Code)

	decision, err := p.Wait(t.Context())
	require.NoError(t, err)
	assert.Equal(t, agui.DecisionApprove, decision)

	w = f.do(http.MethodPost, "/shell/interrupts/"+p.ID, `{"decision":"reject"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, errorBody(t, w), "approve")
}

func TestState_Session(t *testing.T) {
	f := newFixture(t, nil)
	session := f.openPage(t)

	w := f.do(http.MethodGet, "/shell/state?session="+session, "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp stateResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "sample_agent", resp.Agent)
	assert.Equal(t, session, resp.Session)
	assert.JSONEq(t, `{"search_history":[]}`, string(resp.State))

	w = f.do(http.MethodGet, "/shell/state?session=nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestState_Journal(t *testing.T) {
	journal, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer journal.Close()

	f := newFixture(t, journal)

	w := f.do(http.MethodGet, "/shell/state", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	require.NoError(t, journal.SaveSnapshot(t.Context(), &store.Snapshot{
		SessionID: "s1",
		Agent:     "sample_agent",
		State:     json.RawMessage(`{"search_history":[{"query":"北京天气","completed":true}]}`),
	}))

	w = f.do(http.MethodGet, "/shell/state", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp stateResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "s1", resp.Session)
	assert.NotNil(t, resp.SavedAt)
	assert.Contains(t, string(resp.State), "北京天气")
}

func TestEvents_StreamAndCloseOnDisconnect(t *testing.T) {
	f := newFixture(t, nil)
	srv := httptest.NewServer(f.mux)
	defer srv.Close()

	session := f.openPage(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/shell/events?session="+session, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: connected\n", line)
	_, _ = reader.ReadString('\n') // data
	_, _ = reader.ReadString('\n') // blank

	require.Eventually(t, func() bool { return f.events.Subscribers(session) == 1 }, time.Second, 10*time.Millisecond)
	f.events.Publish(session, conversation.NewUIEvent(conversation.UIAlert, "", "", "Hello, Bob!"))

	line, err = reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: alert\n", line)
	line, err = reader.ReadString('\n')
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(line, "data: "))

	var ev conversation.UIEvent
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
	assert.Equal(t, "Hello, Bob!", ev.Data)

	cancel()
	_, _ = io.Copy(io.Discard, resp.Body)

	assert.Eventually(t, func() bool {
		_, ok := f.shell.Session(session)
		return !ok
	}, 2*time.Second, 10*time.Millisecond, "session closes with its last stream")
}

func TestEvents_Errors(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(http.MethodGet, "/shell/events", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodGet, "/shell/events?session=nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "session not found", errorBody(t, w))
}

func TestReapUnattached(t *testing.T) {
	f := newFixture(t, nil)
	session := f.openPage(t)

	assert.Equal(t, 0, f.ui.reapUnattached(time.Now()))
	assert.Equal(t, 1, f.ui.reapUnattached(time.Now().Add(DefaultAttachTimeout+time.Second)))

	_, ok := f.shell.Session(session)
	assert.False(t, ok)
}

func TestEvents_ReplaysPendingInterrupt(t *testing.T) {
	f := newFixture(t, nil)
	srv := httptest.NewServer(f.mux)
	defer srv.Close()

	session := f.openPage(t)
	p := f.shell.Interrupts().Raise(t.Context(), session, &agui.Interrupt{
		ToolName: "delete_file",
		ToolArgs: json.RawMessage(`{"path":"/tmp/x"}`),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/shell/events?session="+session, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	for range 3 {
		_, err := reader.ReadString('\n') // connected frame
		require.NoError(t, err)
	}

	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: replace\n", line)
	line, err = reader.ReadString('\n')
	require.NoError(t, err)

	var ev conversation.UIEvent
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
	assert.Equal(t, "interrupt-"+p.ID, ev.Target)
	assert.Contains(t, ev.HTML, "delete_file")

	cancel()
	_, _ = io.Copy(io.Discard, resp.Body)
}

func TestJournal(t *testing.T) {
	journal, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer journal.Close()

	f := newFixture(t, journal)
	ctx := t.Context()

	require.NoError(t, journal.RecordDecision(ctx, &store.Decision{
		SessionID:   "s1",
		InterruptID: "i1",
		ToolName:    "get_weather",
		ToolArgs:    json.RawMessage(`{"location":"北京"}`),
		Decision:    agui.DecisionApprove,
	}))
	require.NoError(t, journal.RecordDecision(ctx, &store.Decision{
		SessionID:   "s2",
		InterruptID: "i2",
		ToolName:    "get_weather",
		Decision:    agui.DecisionReject,
	}))
	require.NoError(t, journal.RecordInvocation(ctx, &store.Invocation{
		SessionID: "s1",
		Action:    "sayHello",
		Args:      json.RawMessage(`{"name":"Bob"}`),
		Result:    "问候已发送给Bob",
	}))

	w := f.do(http.MethodGet, "/shell/journal", "")
	require.Equal(t, http.StatusOK, w.Code)

	var all journalResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &all))
	assert.Len(t, all.Decisions, 2)
	require.Len(t, all.Invocations, 1)
	assert.Equal(t, "sayHello", all.Invocations[0].Action)
	assert.JSONEq(t, `{"name":"Bob"}`, string(all.Invocations[0].Args))

	w = f.do(http.MethodGet, "/shell/journal?session=s1&limit=10", "")
	require.Equal(t, http.StatusOK, w.Code)

	var s1 journalResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &s1))
	require.Len(t, s1.Decisions, 1)
	assert.Equal(t, "i1", s1.Decisions[0].InterruptID)
	assert.Equal(t, agui.DecisionApprove, s1.Decisions[0].Decision)
	assert.JSONEq(t, `{"location":"北京"}`, string(s1.Decisions[0].ToolArgs))

	future := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	w = f.do(http.MethodGet, "/shell/journal?since="+future, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"decisions":[],"invocations":[]}`, w.Body.String())

	w = f.do(http.MethodGet, "/shell/journal?since=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = f.do(http.MethodGet, "/shell/journal?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestJournal_NothingRecorded(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(http.MethodGet, "/shell/journal", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"decisions":[],"invocations":[]}`, w.Body.String())
}
