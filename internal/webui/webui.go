// ABOUTME: Browser-facing routes: the host page, the shell event stream, and chat controls
// ABOUTME: Sessions are created on page render and closed when their event stream ends

package webui

import (
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/2389/coagent-demo/internal/conversation"
	"github.com/2389/coagent-demo/internal/shell"
	"github.com/2389/coagent-demo/internal/store"
)

const (
	// DefaultAttachTimeout is how long a rendered page may go without
	// opening its event stream before its session is closed.
	DefaultAttachTimeout = 2 * time.Minute

	heartbeatInterval = 30 * time.Second
	maxBodyBytes      = 1 << 20
)

// Options configures the UI.
type Options struct {
	Shell         *shell.Shell
	Events        *conversation.EventBroadcaster
	Logger        *slog.Logger
	AttachTimeout time.Duration
}

// UI serves the demo page and the endpoints its script talks to.
type UI struct {
	shell   *shell.Shell
	events  *conversation.EventBroadcaster
	logger  *slog.Logger
	page    *template.Template
	timeout time.Duration

	mu         sync.Mutex
	unattached map[string]time.Time // sessionID -> rendered at

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// New creates the UI and starts the reaper for pages that never attach.
func New(opts Options) *UI {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.AttachTimeout
	if timeout <= 0 {
		timeout = DefaultAttachTimeout
	}

	u := &UI{
		shell:      opts.Shell,
		events:     opts.Events,
		logger:     logger.With("component", "webui"),
		page:       template.Must(template.ParseFS(templateFS, "templates/page.html")),
		timeout:    timeout,
		unattached: make(map[string]time.Time),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	go u.cleanupLoop()
	return u
}

// Close stops the reaper.
func (u *UI) Close() {
	u.once.Do(func() {
		close(u.stop)
		<-u.done
	})
}

// RegisterRoutes mounts the UI routes on mux.
func (u *UI) RegisterRoutes(mux *http.ServeMux) {
	static, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(fmt.Sprintf("webui: static assets: %v", err))
	}

	mux.HandleFunc("GET /{$}", u.handlePage)
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServerFS(static)))
	mux.HandleFunc("GET /shell/events", u.handleEvents)
	mux.HandleFunc("POST /shell/send", u.handleSend)
	mux.HandleFunc("POST /shell/interrupts/{id}", u.handleResolve)
	mux.HandleFunc("GET /shell/state", u.handleState)
	mux.HandleFunc("GET /shell/journal", u.handleJournal)
}

type pageData struct {
	Title       string
	SessionID   string
	Mode        string
	DefaultOpen bool
	ThemeColor  string
	Greeting    template.HTML
	History     template.HTML
}

func (u *UI) handlePage(w http.ResponseWriter, r *http.Request) {
	sess := u.shell.NewSession()

	state, err := sess.Mirror().State()
	if err != nil {
		u.logger.Warn("initial state does not match expected shape", "error", err)
	}
	history, err := u.shell.Renderer().History(state)
	if err != nil {
		u.logger.Error("failed to render search history", "error", err)
	}

	cfg := u.shell.Config()
	data := pageData{
		Title:       cfg.Labels.Title,
		SessionID:   sess.ID,
		Mode:        cfg.Mode,
		DefaultOpen: cfg.DefaultOpen,
		ThemeColor:  cfg.ThemeColor,
		Greeting:    u.shell.Greeting(),
		History:     history,
	}

	u.mu.Lock()
	u.unattached[sess.ID] = time.Now()
	u.mu.Unlock()

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := u.page.Execute(w, data); err != nil {
		u.logger.Error("failed to render page", "error", err)
	}
}

// handleEvents streams UIEvents for one session. When the last stream for a
// session ends the session is closed and its pending interrupts discarded.
func (u *UI) handleEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		sendJSONError(w, http.StatusBadRequest, "session required")
		return
	}
	if _, ok := u.shell.Session(sessionID); !ok {
		sendJSONError(w, http.StatusNotFound, "session not found")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	events, subID := u.events.Subscribe(r.Context(), sessionID)
	u.markAttached(sessionID)
	if n := u.shell.ReplayInterrupts(sessionID); n > 0 {
		u.logger.Debug("replayed pending interrupts", "session_id", sessionID, "count", n)
	}
	defer func() {
		u.events.Unsubscribe(sessionID, subID)
		if u.events.Subscribers(sessionID) == 0 {
			if err := u.shell.CloseSession(sessionID); err == nil {
				u.logger.Debug("session closed with its last stream", "session_id", sessionID)
			}
		}
	}()

	fmt.Fprintf(w, "event: connected\ndata: {\"session\": %q}\n\n", sessionID)
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()

		case ev, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				u.logger.Error("failed to marshal ui event", "error", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
			flusher.Flush()
		}
	}
}

type sendRequest struct {
	Session string `json:"session"`
	Message string `json:"message"`
}

func (u *UI) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		sendJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Session == "" {
		sendJSONError(w, http.StatusBadRequest, "session required")
		return
	}
	if req.Message == "" {
		sendJSONError(w, http.StatusBadRequest, "message required")
		return
	}

	sess, ok := u.shell.Session(req.Session)
	if !ok {
		sendJSONError(w, http.StatusNotFound, "session not found")
		return
	}
	if err := sess.Send(req.Message); err != nil {
		if errors.Is(err, shell.ErrSessionClosed) {
			sendJSONError(w, http.StatusNotFound, "session closed")
			return
		}
		u.logger.Error("failed to send message", "session_id", req.Session, "error", err)
		sendJSONError(w, http.StatusInternalServerError, "failed to send message")
		return
	}

	sendJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

type resolveRequest struct {
	Decision string `json:"decision"`
}

func (u *UI) handleResolve(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req resolveRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		sendJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := u.shell.Interrupts().Resolve(id, req.Decision)
	switch {
	case err == nil:
		sendJSON(w, http.StatusOK, map[string]string{"status": "resolved", "decision": req.Decision})
	case errors.Is(err, shell.ErrInvalidDecision):
		sendJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, shell.ErrInterruptNotFound):
		sendJSONError(w, http.StatusNotFound, "interrupt not found")
	case errors.Is(err, shell.ErrInterruptResolved):
		sendJSONError(w, http.StatusConflict, err.Error())
	default:
		u.logger.Error("failed to resolve interrupt", "interrupt_id", id, "error", err)
		sendJSONError(w, http.StatusInternalServerError, "failed to resolve interrupt")
	}
}

type stateResponse struct {
	Agent   string          `json:"agent"`
	Session string          `json:"session,omitempty"`
	Version uint64          `json:"version"`
	State   json.RawMessage `json:"state"`
	SavedAt *time.Time      `json:"saved_at,omitempty"`
}

// handleState returns a session's mirrored state, or the most recently
// journaled state when no session is given.
func (u *UI) handleState(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session")
	if sessionID != "" {
		sess, ok := u.shell.Session(sessionID)
		if !ok {
			sendJSONError(w, http.StatusNotFound, "session not found")
			return
		}
		mirror := sess.Mirror()
		sendJSON(w, http.StatusOK, stateResponse{
			Agent:   mirror.Agent(),
			Session: sess.ID,
			Version: mirror.Version(),
			State:   mirror.Snapshot(),
		})
		return
	}

	agent := u.shell.Config().Agent
	snap, err := u.shell.Journal().LatestSnapshot(r.Context(), agent)
	if errors.Is(err, store.ErrNotFound) {
		sendJSONError(w, http.StatusNotFound, "no state recorded")
		return
	}
	if err != nil {
		u.logger.Error("failed to load state snapshot", "error", err)
		sendJSONError(w, http.StatusInternalServerError, "failed to load state")
		return
	}
	sendJSON(w, http.StatusOK, stateResponse{
		Agent:   snap.Agent,
		Session: snap.SessionID,
		State:   snap.State,
		SavedAt: &snap.CreatedAt,
	})
}

type decisionView struct {
	ID          string          `json:"id"`
	Session     string          `json:"session"`
	InterruptID string          `json:"interrupt_id"`
	ToolName    string          `json:"tool_name"`
	ToolArgs    json.RawMessage `json:"tool_args,omitempty"`
	Decision    string          `json:"decision"`
	CreatedAt   time.Time       `json:"created_at"`
}

type invocationView struct {
	ID        string          `json:"id"`
	Session   string          `json:"session"`
	Action    string          `json:"action"`
	Args      json.RawMessage `json:"args,omitempty"`
	Result    string          `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

type journalResponse struct {
	Decisions   []decisionView   `json:"decisions"`
	Invocations []invocationView `json:"invocations"`
}

// handleJournal lists journaled decisions and action calls, newest first.
// Optional query parameters: session, since (RFC 3339), limit.
func (u *UI) handleJournal(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.Filter{SessionID: q.Get("session")}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			sendJSONError(w, http.StatusBadRequest, "since must be an RFC 3339 time")
			return
		}
		f.Since = &since
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			sendJSONError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		f.Limit = limit
	}

	journal := u.shell.Journal()
	decisions, err := journal.ListDecisions(r.Context(), f)
	if err != nil {
		u.logger.Error("failed to list decisions", "error", err)
		sendJSONError(w, http.StatusInternalServerError, "failed to load journal")
		return
	}
	invocations, err := journal.ListInvocations(r.Context(), f)
	if err != nil {
		u.logger.Error("failed to list invocations", "error", err)
		sendJSONError(w, http.StatusInternalServerError, "failed to load journal")
		return
	}

	resp := journalResponse{
		Decisions:   make([]decisionView, 0, len(decisions)),
		Invocations: make([]invocationView, 0, len(invocations)),
	}
	for _, d := range decisions {
		resp.Decisions = append(resp.Decisions, decisionView{
			ID:          d.ID,
			Session:     d.SessionID,
			InterruptID: d.InterruptID,
			ToolName:    d.ToolName,
			ToolArgs:    d.ToolArgs,
			Decision:    d.Decision,
			CreatedAt:   d.CreatedAt,
		})
	}
	for _, inv := range invocations {
		resp.Invocations = append(resp.Invocations, invocationView{
			ID:        inv.ID,
			Session:   inv.SessionID,
			Action:    inv.Action,
			Args:      inv.Args,
			Result:    inv.Result,
			Error:     inv.Error,
			CreatedAt: inv.CreatedAt,
		})
	}
	sendJSON(w, http.StatusOK, resp)
}

func (u *UI) markAttached(sessionID string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	delete(u.unattached, sessionID)
}

// cleanupLoop periodically closes sessions whose page never opened a stream.
func (u *UI) cleanupLoop() {
	defer close(u.done)

	ticker := time.NewTicker(u.timeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-u.stop:
			return
		case <-ticker.C:
			u.reapUnattached(time.Now())
		}
	}
}

func (u *UI) reapUnattached(now time.Time) int {
	u.mu.Lock()
	var stale []string
	for id, at := range u.unattached {
		if now.Sub(at) > u.timeout {
			stale = append(stale, id)
			delete(u.unattached, id)
		}
	}
	u.mu.Unlock()

	for _, id := range stale {
		if err := u.shell.CloseSession(id); err == nil {
			u.logger.Debug("closed unattached session", "session_id", id)
		}
	}
	return len(stale)
}

func sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func sendJSONError(w http.ResponseWriter, status int, message string) {
	sendJSON(w, status, map[string]string{"error": message})
}
