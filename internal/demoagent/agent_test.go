// ABOUTME: Tests for the scripted demo agent
// ABOUTME: Covers echo, greeting tool calls, approval interrupts, resume, and the HTTP stream

package demoagent

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coagent-demo/internal/agui"
)

func newTestAgent() *Agent {
	a := New(nil)
	a.now = func() time.Time { return time.Date(2025, 7, 8, 10, 0, 0, 0, time.UTC) }
	a.weather = func(location string) Weather {
		return Weather{
			Location:    location,
			Condition:   "晴朗",
			Temperature: 25.3,
			Humidity:    60,
			Wind:        Wind{Speed: 3.2, Direction: "东"},
			UpdatedAt:   "2023-06-15 14:30",
		}
	}
	return a
}

func userInput(thread, text string) agui.RunAgentInput {
	return agui.RunAgentInput{
		ThreadID: thread,
		State:    json.RawMessage(`{"search_history":[]}`),
		Messages: []agui.Message{
			{ID: "sys", Role: agui.RoleSystem, Content: "instructions"},
			{ID: "u1", Role: agui.RoleUser, Content: text},
		},
	}
}

func eventTypes(events []*agui.Event) []agui.EventType {
	types := make([]agui.EventType, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	return types
}

func textOf(events []*agui.Event) string {
	var out string
	for _, ev := range events {
		if ev.Type == agui.EventTextMessageContent {
			out += ev.DeltaText()
		}
	}
	return out
}

func TestRespond_Echo(t *testing.T) {
	a := newTestAgent()
	events := a.Respond(userInput("t1", "你好"))

	assert.Equal(t, []agui.EventType{
		agui.EventTextMessageStart, agui.EventTextMessageContent, agui.EventTextMessageEnd,
	}, eventTypes(events))
	assert.Equal(t, "Echo: **你好**", textOf(events))
}

func TestRespond_Greeting(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"向Bob问好", "Bob"},
		{"hello Carol", "Carol"},
		{"say hello to Dave", "Dave"},
		{"HELLO Ȼarl", "Ȼarl"},
		{"问好", "Alice"},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			events := newTestAgent().Respond(userInput("t1", tt.text))
			require.Len(t, events, 3)
			assert.Equal(t, agui.EventToolCallStart, events[0].Type)
			assert.Equal(t, "sayHello", events[0].ToolCallName)
			assert.JSONEq(t, `{"name":"`+tt.want+`"}`, events[1].DeltaText())
			assert.Equal(t, agui.EventToolCallEnd, events[2].Type)
		})
	}
}

func TestRespond_ToolResultFollowUp(t *testing.T) {
	in := userInput("t1", "向Bob问好")
	in.Messages = append(in.Messages, agui.Message{ID: "r1", Role: agui.RoleTool, Content: "问候已发送给Bob", ToolCallID: "c1"})

	events := newTestAgent().Respond(in)
	assert.Equal(t, "好的，问候已发送给Bob。", textOf(events))
}

func TestRespond_WeatherRaisesInterrupt(t *testing.T) {
	tests := []struct {
		text     string
		location string
	}{
		{"北京天气", "北京"},
		{"查询上海的天气", "上海"},
		{"天气怎么样", "北京"},
		{"weather in Paris", "Paris"},
		{"WEATHER in Rome", "Rome"},
		{"ȺȺȺȺȺȺȺȺweather", "ȺȺȺȺȺȺȺȺ"},
		{"İİİİweather", "İİİİ"},
		{"Ⱥ城天气", "Ⱥ城"},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			a := newTestAgent()
			events := a.Respond(userInput("t1", tt.text))
			require.Equal(t, []agui.EventType{agui.EventStateSnapshot, agui.EventCustom}, eventTypes(events))

			var state struct {
				SearchHistory []map[string]any `json:"search_history"`
			}
			require.NoError(t, json.Unmarshal(events[0].Snapshot, &state))
			require.Len(t, state.SearchHistory, 1)
			assert.Equal(t, tt.text, state.SearchHistory[0]["query"])
			assert.Equal(t, false, state.SearchHistory[0]["completed"])
			assert.Equal(t, "get_weather", state.SearchHistory[0]["tool_name"])

			in, ok := events[1].Interrupt()
			require.True(t, ok)
			assert.Equal(t, "tool_approval_request", in.Type)
			assert.Equal(t, "get_weather", in.ToolName)
			assert.JSONEq(t, `{"location":"`+tt.location+`"}`, string(in.ToolArgs))
		})
	}
}

func TestRespond_ResumeApprove(t *testing.T) {
	a := newTestAgent()
	a.Respond(userInput("t1", "北京天气"))

	in := userInput("t1", "北京天气")
	in.State = json.RawMessage(`{"search_history":[{"query":"北京天气","completed":false,"tool_name":"get_weather"}]}`)
	in.ForwardedProps = agui.ResumeCommand(agui.DecisionApprove)

	events := a.Respond(in)
	require.GreaterOrEqual(t, len(events), 6)
	assert.Equal(t, []agui.EventType{
		agui.EventToolCallStart, agui.EventToolCallArgs, agui.EventToolCallEnd,
		agui.EventToolCallResult, agui.EventStateDelta,
	}, eventTypes(events[:5]))

	assert.Equal(t, "get_weather", events[0].ToolCallName)

	var report Weather
	require.NoError(t, json.Unmarshal([]byte(events[3].Content), &report))
	assert.Equal(t, "北京", report.Location)
	assert.Equal(t, "2023-06-15 14:30", report.UpdatedAt)

	var patch []map[string]any
	require.NoError(t, json.Unmarshal(events[4].Delta, &patch))
	assert.Equal(t, "/search_history/0/completed", patch[0]["path"])
	assert.Equal(t, true, patch[0]["value"])

	assert.Contains(t, textOf(events), "北京当前天气：晴朗")

	// The decision is consumed
	assert.Equal(t, "没有待审核的工具调用。", textOf(a.Respond(in)))
}

func TestRespond_ResumeReject(t *testing.T) {
	a := newTestAgent()
	a.Respond(userInput("t1", "北京天气"))

	in := userInput("t1", "北京天气")
	in.ForwardedProps = agui.ResumeCommand(agui.DecisionReject)

	events := a.Respond(in)
	assert.Equal(t, "工具调用被用户拒绝执行。", textOf(events))
	for _, ev := range events {
		assert.NotEqual(t, agui.EventToolCallStart, ev.Type)
	}
}

func TestRespond_PendingIsPerThread(t *testing.T) {
	a := newTestAgent()
	a.Respond(userInput("t1", "北京天气"))

	in := userInput("t2", "x")
	in.ForwardedProps = agui.ResumeCommand(agui.DecisionApprove)
	assert.Equal(t, "没有待审核的工具调用。", textOf(a.Respond(in)))
}

func TestServeHTTP_Stream(t *testing.T) {
	srv := httptest.NewServer(newTestAgent())
	defer srv.Close()

	body, err := json.Marshal(userInput("t1", "hi"))
	require.NoError(t, err)

	resp, err := http.Post(srv.URL, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := agui.NewReader(resp.Body)
	var types []agui.EventType
	for {
		ev, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		assert.NotZero(t, ev.Timestamp)
		types = append(types, ev.Type)
	}

	require.NotEmpty(t, types)
	assert.Equal(t, agui.EventRunStarted, types[0])
	assert.Equal(t, agui.EventRunFinished, types[len(types)-1])
}

func TestServeHTTP_NonASCIIInputCompletes(t *testing.T) {
	body, err := json.Marshal(userInput("t1", "ȺȺȺȺȺȺȺȺweather"))
	require.NoError(t, err)

	w := httptest.NewRecorder()
	newTestAgent().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/copilotkit", bytes.NewReader(body)))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), string(agui.EventRunFinished))
}

// brokenWriter fails every body write and counts the attempts.
type brokenWriter struct {
	header http.Header
	writes int
}

func (b *brokenWriter) Header() http.Header { return b.header }
func (b *brokenWriter) WriteHeader(int) {}
func (b *brokenWriter) Write([]byte) (int, error) {
	b.writes++
	return 0, errors.New("connection reset")
}

func TestServeHTTP_StopsAfterWriteError(t *testing.T) {
	body, err := json.Marshal(userInput("t1", "hi"))
	require.NoError(t, err)

	w := &brokenWriter{header: http.Header{}}
	newTestAgent().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/copilotkit", bytes.NewReader(body)))
	assert.Equal(t, 1, w.writes)
}

func TestIndexFold(t *testing.T) {
	assert.Equal(t, 0, indexFold("Weather", "weather"))
	assert.Equal(t, len("ȺȺ"), indexFold("ȺȺweather", "weather"))
	assert.Equal(t, len("İ"), indexFold("İ天气", "天气"))
	assert.Equal(t, -1, indexFold("wea", "weather"))
	assert.Equal(t, -1, indexFold("", "天气"))
}

func TestServeHTTP_Errors(t *testing.T) {
	a := newTestAgent()

	w := httptest.NewRecorder()
	a.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/copilotkit", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)

	w = httptest.NewRecorder()
	a.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/copilotkit", bytes.NewBufferString("{")))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
