// ABOUTME: Scripted remote agent speaking the AG-UI event stream over HTTP
// ABOUTME: Weather requests pause for approval, greetings call sayHello, everything else echoes

package demoagent

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/2389/coagent-demo/internal/agui"
)

const (
	weatherTool  = "get_weather"
	greetingTool = "sayHello"

	defaultLocation = "北京"
	defaultName     = "Alice"

	rejectedReply = "工具调用被用户拒绝执行。"
)

var (
	weatherKeywords  = []string{"天气", "weather"}
	greetingKeywords = []string{"问好", "打招呼", "hello"}
)

// Weather is the payload returned by the weather tool.
type Weather struct {
	Location    string  `json:"location"`
	Condition   string  `json:"condition"`
	Temperature float64 `json:"temperature"`
	Humidity    int     `json:"humidity"`
	Wind        Wind    `json:"wind"`
	UpdatedAt   string  `json:"updated_at"`
}

// Wind is part of a Weather report.
type Wind struct {
	Speed     float64 `json:"speed"`
	Direction string  `json:"direction"`
}

// pendingCall is a tool call waiting for a human decision.
type pendingCall struct {
	toolID   string
	location string
}

// Agent serves scripted runs. It keeps pending approvals per thread.
type Agent struct {
	logger  *slog.Logger
	weather func(location string) Weather
	now     func() time.Time

	mu      sync.Mutex
	pending map[string]*pendingCall // threadID -> call awaiting resume
}

// New creates an Agent with randomized weather.
func New(logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		logger:  logger.With("component", "demo-agent"),
		weather: randomWeather,
		now:     time.Now,
		pending: make(map[string]*pendingCall),
	}
}

func randomWeather(location string) Weather {
	conditions := []string{"晴朗", "多云", "阴天", "小雨", "大雨", "雷阵雨", "小雪", "大雪"}
	directions := []string{"东", "南", "西", "北", "东北", "西北", "东南", "西南"}
	return Weather{
		Location:    location,
		Condition:   conditions[rand.IntN(len(conditions))],
		Temperature: round1(5 + rand.Float64()*30),
		Humidity:    30 + rand.IntN(66),
		Wind: Wind{
			Speed:     round1(rand.Float64() * 10),
			Direction: directions[rand.IntN(len(directions))],
		},
		UpdatedAt: "2023-06-15 14:30",
	}
}

func round1(f float64) float64 {
	return float64(int(f*10+0.5)) / 10
}

// ServeHTTP runs one scripted turn and streams its events.
func (a *Agent) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var in agui.RunAgentInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "invalid run input", http.StatusBadRequest)
		return
	}
	if in.ThreadID == "" {
		in.ThreadID = uuid.New().String()
	}
	if in.RunID == "" {
		in.RunID = uuid.New().String()
	}

	agui.SetStreamHeaders(w.Header())
	w.WriteHeader(http.StatusOK)

	events := append([]*agui.Event{{Type: agui.EventRunStarted, ThreadID: in.ThreadID, RunID: in.RunID}}, a.Respond(in)...)
	events = append(events, &agui.Event{Type: agui.EventRunFinished, ThreadID: in.ThreadID, RunID: in.RunID})

	for _, ev := range events {
		if err := agui.WriteEvent(w, ev.Stamp()); err != nil {
			a.logger.Debug("client went away", "error", err)
			return
		}
	}
}

// Respond computes the events of one run.
func (a *Agent) Respond(in agui.RunAgentInput) []*agui.Event {
	if decision, ok := agui.ResumeDecision(in.ForwardedProps); ok {
		return a.resume(in, decision)
	}

	last, ok := lastMessage(in.Messages)
	if !ok {
		return textMessage("有什么可以帮你的吗？")
	}

	if last.Role == agui.RoleTool {
		return textMessage("好的，" + last.Content + "。")
	}

	text := strings.TrimSpace(last.Content)
	switch {
	case containsAny(text, weatherKeywords):
		return a.requestWeather(in, text)
	case containsAny(text, greetingKeywords):
		return greet(text)
	default:
		return textMessage(echoReply(text))
	}
}

// requestWeather records the query in the shared state and pauses for approval.
func (a *Agent) requestWeather(in agui.RunAgentInput, query string) []*agui.Event {
	location := extractAfter(query, weatherKeywords, defaultLocation)
	call := &pendingCall{toolID: "call_" + uuid.New().String()[:8], location: location}

	history := searchHistory(in.State)
	history = append(history, map[string]any{
		"query":     query,
		"completed": false,
		"timestamp": a.now().UTC().Format(time.RFC3339),
		"tool_name": weatherTool,
	})
	snapshot, _ := json.Marshal(map[string]any{"search_history": history})

	interrupt, err := agui.InterruptEvent(map[string]any{
		"type":      "tool_approval_request",
		"tool_name": weatherTool,
		"tool_args": map[string]any{"location": location},
		"tool_id":   call.toolID,
		"timestamp": a.now().Format("2006-01-02"),
		"instructions": map[string]string{
			"approve": "输入 'approve' 或 '通过' 来批准此工具调用",
			"reject":  "输入 'reject' 或 '拒绝' 来拒绝此工具调用",
		},
	})
	if err != nil {
		return errorEvents(err)
	}

	a.mu.Lock()
	a.pending[in.ThreadID] = call
	a.mu.Unlock()

	a.logger.Info("awaiting approval", "thread_id", in.ThreadID, "tool", weatherTool, "location", location)
	return []*agui.Event{
		{Type: agui.EventStateSnapshot, Snapshot: snapshot},
		interrupt,
	}
}

// resume finishes a paused weather call with the human decision.
func (a *Agent) resume(in agui.RunAgentInput, decision string) []*agui.Event {
	a.mu.Lock()
	call, ok := a.pending[in.ThreadID]
	delete(a.pending, in.ThreadID)
	a.mu.Unlock()

	if !ok {
		return textMessage("没有待审核的工具调用。")
	}

	a.logger.Info("approval received", "thread_id", in.ThreadID, "decision", decision)
	if decision != agui.DecisionApprove {
		return textMessage(rejectedReply)
	}

	report := a.weather(call.location)
	result, err := json.Marshal(report)
	if err != nil {
		return errorEvents(err)
	}
	args, _ := json.Marshal(map[string]string{"location": call.location})

	parentID := uuid.New().String()
	events := []*agui.Event{
		{Type: agui.EventToolCallStart, ToolCallID: call.toolID, ToolCallName: weatherTool, ParentMessageID: parentID},
		agui.ToolArgsDelta(call.toolID, string(args)),
		{Type: agui.EventToolCallEnd, ToolCallID: call.toolID},
		{Type: agui.EventToolCallResult, ToolCallID: call.toolID, MessageID: uuid.New().String(), Content: string(result), Role: agui.RoleTool},
	}

	if idx := pendingEntry(searchHistory(in.State)); idx >= 0 {
		patch, _ := json.Marshal([]map[string]any{
			{"op": "replace", "path": fmt.Sprintf("/search_history/%d/completed", idx), "value": true},
			{"op": "add", "path": fmt.Sprintf("/search_history/%d/completed_at", idx), "value": a.now().UTC().Format(time.RFC3339)},
		})
		events = append(events, &agui.Event{Type: agui.EventStateDelta, Delta: patch})
	}

	summary := fmt.Sprintf("%s当前天气：%s，气温 %.1f°C，湿度 %d%%，风速 %.1f级。",
		report.Location, report.Condition, report.Temperature, report.Humidity, report.Wind.Speed)
	return append(events, textMessage(summary)...)
}

// greet asks the frontend to run sayHello.
func greet(text string) []*agui.Event {
	name := extractAfter(text, greetingKeywords, "")
	if name == "" {
		name = extractBefore(text, greetingKeywords, defaultName)
	}
	args, _ := json.Marshal(map[string]string{"name": name})

	id := "call_" + uuid.New().String()[:8]
	return []*agui.Event{
		{Type: agui.EventToolCallStart, ToolCallID: id, ToolCallName: greetingTool},
		agui.ToolArgsDelta(id, string(args)),
		{Type: agui.EventToolCallEnd, ToolCallID: id},
	}
}

func textMessage(text string) []*agui.Event {
	id := uuid.New().String()
	return []*agui.Event{
		{Type: agui.EventTextMessageStart, MessageID: id, Role: agui.RoleAssistant},
		agui.TextDelta(id, text),
		{Type: agui.EventTextMessageEnd, MessageID: id},
	}
}

func errorEvents(err error) []*agui.Event {
	return []*agui.Event{{Type: agui.EventRunError, Message: err.Error()}}
}

func echoReply(input string) string {
	lower := strings.ToLower(input)
	if strings.Contains(lower, "markdown") || strings.Contains(lower, "list") {
		return "Here is a **markdown** response:\n\n- First item\n- Second item with `code`\n- Third item\n\n> This is a blockquote.\n"
	}
	return fmt.Sprintf("Echo: **%s**", input)
}

func lastMessage(msgs []agui.Message) (agui.Message, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == agui.RoleSystem {
			continue
		}
		return msgs[i], true
	}
	return agui.Message{}, false
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if indexFold(s, w) >= 0 {
			return true
		}
	}
	return false
}

// indexFold returns the byte offset in s of the first case-insensitive
// match of w, or -1. The match spans exactly len(w) bytes of s.
func indexFold(s, w string) int {
	for i := range s {
		if len(s)-i < len(w) {
			break
		}
		if strings.EqualFold(s[i:i+len(w)], w) {
			return i
		}
	}
	return -1
}

// extractAfter returns the trimmed text following the first keyword found,
// falling back to the text before it.
func extractAfter(s string, words []string, fallback string) string {
	for _, w := range words {
		i := indexFold(s, w)
		if i < 0 {
			continue
		}
		if after := cleanName(s[i+len(w):]); after != "" {
			return after
		}
		if before := cleanName(s[:i]); before != "" && fallback != "" {
			return before
		}
	}
	return fallback
}

// extractBefore returns the trimmed text preceding the first keyword found.
func extractBefore(s string, words []string, fallback string) string {
	for _, w := range words {
		if i := indexFold(s, w); i >= 0 {
			if before := cleanName(s[:i]); before != "" {
				return before
			}
		}
	}
	return fallback
}

var (
	fillerPrefixes = []string{"查询", "查一下", "查", "请", "帮我", "向", "给", "跟", "对", "和", "the", "in", "for", "to"}
	fillerSuffixes = []string{"怎么样", "如何", "咋样", "吧"}
)

func trimFiller(r rune) bool {
	return unicode.IsSpace(r) || unicode.IsPunct(r) || r == '的'
}

// cleanName strips punctuation and filler words around a name or place.
func cleanName(s string) string {
	s = strings.TrimFunc(s, trimFiller)
	for changed := true; changed; {
		changed = false
		for _, p := range fillerPrefixes {
			if rest, ok := strings.CutPrefix(s, p); ok && (rest == "" || !isASCIILetter(p) || rest[0] == ' ') {
				s = strings.TrimFunc(rest, trimFiller)
				changed = true
			}
		}
		for _, suffix := range fillerSuffixes {
			if rest, ok := strings.CutSuffix(s, suffix); ok {
				s = strings.TrimFunc(rest, trimFiller)
				changed = true
			}
		}
	}
	return s
}

func isASCIILetter(s string) bool {
	for _, r := range s {
		if r > unicode.MaxASCII || !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}

func searchHistory(state json.RawMessage) []any {
	var doc struct {
		SearchHistory []any `json:"search_history"`
	}
	if len(state) == 0 || json.Unmarshal(state, &doc) != nil {
		return []any{}
	}
	if doc.SearchHistory == nil {
		return []any{}
	}
	return doc.SearchHistory
}

// pendingEntry returns the index of the newest unfinished weather record.
func pendingEntry(history []any) int {
	for i := len(history) - 1; i >= 0; i-- {
		rec, ok := history[i].(map[string]any)
		if !ok {
			continue
		}
		if done, _ := rec["completed"].(bool); !done && rec["tool_name"] == weatherTool {
			return i
		}
	}
	return -1
}
