// ABOUTME: Renders chat bubbles, tool cards, interrupt widgets, and state panels as HTML
// ABOUTME: Templates are embedded; markdown is converted with goldmark

package shell

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/2389/coagent-demo/internal/agui"
	"github.com/2389/coagent-demo/internal/config"
)

//go:embed templates/*.html
var templateFS embed.FS

// Renderer produces HTML fragments for the chat widget and host page.
type Renderer struct {
	tmpl       *template.Template
	md         goldmark.Markdown
	themeColor string
	variant    string
}

// NewRenderer parses the embedded templates.
func NewRenderer(themeColor, historyVariant string) *Renderer {
	if historyVariant == "" {
		historyVariant = config.HistoryRecords
	}
	return &Renderer{
		tmpl:       template.Must(template.ParseFS(templateFS, "templates/*.html")),
		md:         goldmark.New(goldmark.WithExtensions(extension.GFM)),
		themeColor: themeColor,
		variant:    historyVariant,
	}
}

func (r *Renderer) execute(name string, data any) (template.HTML, error) {
	var buf bytes.Buffer
	if err := r.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("rendering %s: %w", name, err)
	}
	return template.HTML(buf.String()), nil
}

// Markdown converts markdown to HTML. Raw HTML in the source is not passed through.
func (r *Renderer) Markdown(src string) template.HTML {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(src), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(src))
	}
	return template.HTML(buf.String())
}

// Bubble renders one chat message. Assistant and greeting text is markdown.
func (r *Renderer) Bubble(id, role, text string) (template.HTML, error) {
	var body template.HTML
	if role == agui.RoleUser {
		body = template.HTML("<p>" + template.HTMLEscapeString(text) + "</p>")
	} else {
		body = r.Markdown(text)
	}
	return r.execute("bubble", struct {
		ID   string
		Role string
		HTML template.HTML
	}{id, role, body})
}

// ToolCall wraps a rendered tool call fragment in its addressable container.
func (r *Renderer) ToolCall(id, name string, inner template.HTML) (template.HTML, error) {
	return r.execute("tool_call", struct {
		ID   string
		Name string
		HTML template.HTML
	}{id, name, inner})
}

// ActionStatus renders the static hint shown while a frontend action runs.
func (r *Renderer) ActionStatus(hint string) (template.HTML, error) {
	return r.execute("action_status", hint)
}

// ActionResult renders the value a frontend action returned.
func (r *Renderer) ActionResult(result string) (template.HTML, error) {
	return r.execute("action_result", result)
}

// Error renders a run failure in the transcript.
func (r *Renderer) Error(msg string) (template.HTML, error) {
	return r.execute("error", msg)
}

// History renders the host page's search history panel.
func (r *Renderer) History(state AgentState) (template.HTML, error) {
	return r.execute("history", struct {
		Entries []SearchEntry
		Flat    bool
	}{state.SearchHistory, r.variant == config.HistoryStrings})
}

// StateCompact renders the in-chat view of the agent's state.
func (r *Renderer) StateCompact(state AgentState) (template.HTML, error) {
	return r.execute("state_compact", state.SearchHistory)
}

// InterruptView is the data behind an interrupt widget.
type InterruptView struct {
	ID       string
	ToolName string
	Args     string
	Decision string
}

// Interrupt renders the approve/reject widget for a pending interrupt.
func (r *Renderer) Interrupt(p *Pending) (template.HTML, error) {
	return r.execute("interrupt", InterruptView{
		ID:       p.ID,
		ToolName: p.Interrupt.ToolName,
		Args:     prettyJSON(p.Interrupt.ToolArgs),
	})
}

// InterruptResolved replaces a widget once a decision is made.
func (r *Renderer) InterruptResolved(p *Pending, decision string) (template.HTML, error) {
	return r.execute("interrupt_resolved", InterruptView{
		ID:       p.ID,
		ToolName: p.Interrupt.ToolName,
		Decision: decision,
	})
}

// prettyJSON indents raw with two spaces. Invalid JSON is shown as is.
func prettyJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}
