// ABOUTME: Presentation shell holding actions, renderers, interrupts, and live sessions
// ABOUTME: Each browser page gets its own Session bound to the configured agent

package shell

import (
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coagent-demo/internal/config"
	"github.com/2389/coagent-demo/internal/conversation"
	"github.com/2389/coagent-demo/internal/dedupe"
	"github.com/2389/coagent-demo/internal/metrics"
	"github.com/2389/coagent-demo/internal/store"
)

// ErrSessionNotFound indicates no live session has the given ID.
var ErrSessionNotFound = errors.New("session not found")

// ErrSessionClosed indicates the session was closed.
var ErrSessionClosed = errors.New("session closed")

// StateRenderFunc renders an agent's state inside the chat.
type StateRenderFunc func(state AgentState) (template.HTML, error)

// InterruptRenderFunc renders the decision widget for an interrupt.
type InterruptRenderFunc func(p *Pending) (template.HTML, error)

const (
	resolvedTTL  = time.Hour
	resolvedSize = 10_000
)

// Options configures a Shell.
type Options struct {
	Config config.ShellConfig

	// EndpointURL is the absolute URL of the gateway endpoint runs are posted to.
	EndpointURL string
	Client      *http.Client

	Publisher Publisher
	Journal   store.Journal
	// Resolved remembers decided interrupts. When nil the Shell creates
	// and closes its own.
	Resolved  *dedupe.Cache
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
}

// Shell is the server-side rendition of the chat widget.
type Shell struct {
	cfg       config.ShellConfig
	client    *http.Client
	publisher Publisher
	journal   store.Journal
	logger    *slog.Logger
	metrics   *metrics.Metrics

	registry   *Registry
	interrupts *InterruptRouter
	renderer   *Renderer
	notifier   Notifier
	ownedCache *dedupe.Cache // non-nil when New created the resolved cache

	mu              sync.RWMutex
	endpointURL     string
	sessions        map[string]*Session
	stateRenders    map[string]StateRenderFunc
	interruptRender InterruptRenderFunc
}

// New creates a Shell. A caller-supplied opts.Resolved stays owned by the caller.
func New(opts Options) *Shell {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "shell")

	journal := opts.Journal
	if journal == nil {
		journal = store.NopJournal{}
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}
	publisher := opts.Publisher
	if publisher == nil {
		publisher = conversation.NewEventBroadcaster(logger, opts.Metrics)
	}

	var owned *dedupe.Cache
	resolved := opts.Resolved
	if resolved == nil {
		resolved = dedupe.New(resolvedTTL, resolvedSize)
		owned = resolved
	}

	renderer := NewRenderer(opts.Config.ThemeColor, opts.Config.HistoryVariant)
	return &Shell{
		cfg:             opts.Config,
		endpointURL:     opts.EndpointURL,
		client:          client,
		publisher:       publisher,
		journal:         journal,
		logger:          logger,
		metrics:         opts.Metrics,
		registry:        NewRegistry(logger),
		interrupts:      NewInterruptRouter(resolved, logger, opts.Metrics),
		renderer:        renderer,
		notifier:        BroadcastNotifier{Publisher: publisher},
		ownedCache:      owned,
		sessions:        make(map[string]*Session),
		stateRenders:    make(map[string]StateRenderFunc),
		interruptRender: renderer.Interrupt,
	}
}

// Config returns the shell configuration.
func (sh *Shell) Config() config.ShellConfig { return sh.cfg }

// Registry returns the frontend action registry.
func (sh *Shell) Registry() *Registry { return sh.registry }

// Interrupts returns the router holding interrupts awaiting a decision.
func (sh *Shell) Interrupts() *InterruptRouter { return sh.interrupts }

// Renderer returns the fragment renderer.
func (sh *Shell) Renderer() *Renderer { return sh.renderer }

// Notifier returns the notifier actions use to reach the user's page.
func (sh *Shell) Notifier() Notifier { return sh.notifier }

// Journal returns the journal sessions record into.
func (sh *Shell) Journal() store.Journal { return sh.journal }

// RegisterStateRender sets the in-chat render of an agent's state.
func (sh *Shell) RegisterStateRender(agent string, fn StateRenderFunc) {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.stateRenders[agent] = fn
}

// SetInterruptRender replaces the interrupt widget renderer.
func (sh *Shell) SetInterruptRender(fn InterruptRenderFunc) {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.interruptRender = fn
}

func (sh *Shell) stateRender(agent string) (StateRenderFunc, bool) {
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	fn, ok := sh.stateRenders[agent]
	return fn, ok
}

func (sh *Shell) renderInterrupt(p *Pending) (template.HTML, error) {
	sh.mu.RLock()
	fn := sh.interruptRender
	sh.mu.RUnlock()
	return fn(p)
}

// NewSession opens a session for a browser page.
func (sh *Shell) NewSession() *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:       uuid.New().String(),
		ThreadID: uuid.New().String(),
		sh:       sh,
		mirror:   NewStateMirror(sh.cfg.Agent, InitialState),
		ctx:      ctx,
		cancel:   cancel,
		logger:   sh.logger,
	}
	s.logger = sh.logger.With("session_id", s.ID)
	s.mirror.OnChange(s.stateChanged)

	sh.mu.Lock()
	sh.sessions[s.ID] = s
	sh.mu.Unlock()

	s.logger.Debug("session opened", "thread_id", s.ThreadID)
	return s
}

// Session returns a live session.
func (sh *Shell) Session(id string) (*Session, bool) {
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	s, ok := sh.sessions[id]
	return s, ok
}

// Sessions returns the number of live sessions.
func (sh *Shell) Sessions() int {
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return len(sh.sessions)
}

// CloseSession closes and forgets a session.
func (sh *Shell) CloseSession(id string) error {
	sh.mu.Lock()
	s, ok := sh.sessions[id]
	delete(sh.sessions, id)
	sh.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	s.Close()
	return nil
}

// Close closes every session and releases the resolved cache if the Shell created it.
func (sh *Shell) Close() {
	if sh.ownedCache != nil {
		defer sh.ownedCache.Close()
	}

	sh.mu.Lock()
	sessions := make([]*Session, 0, len(sh.sessions))
	for id, s := range sh.sessions {
		sessions = append(sessions, s)
		delete(sh.sessions, id)
	}
	sh.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}

// EndpointURL returns the URL runs are posted to.
func (sh *Shell) EndpointURL() string {
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return sh.endpointURL
}

// SetEndpointURL changes the URL later runs are posted to. Used once the
// gateway knows its listening address.
func (sh *Shell) SetEndpointURL(u string) {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.endpointURL = u
}

// Greeting renders the configured initial chat message.
func (sh *Shell) Greeting() template.HTML {
	return sh.renderer.Markdown(sh.cfg.Labels.Initial)
}

// ReplayInterrupts republishes the widgets of a session's pending
// interrupts, oldest first, so a reattached page can still decide them.
// Widgets already on the page are replaced in place.
func (sh *Shell) ReplayInterrupts(sessionID string) int {
	pending := sh.interrupts.PendingFor(sessionID)
	slices.SortFunc(pending, func(a, b *Pending) int { return a.RaisedAt.Compare(b.RaisedAt) })

	n := 0
	for _, p := range pending {
		widget, err := sh.renderInterrupt(p)
		if err != nil {
			sh.logger.Warn("failed to render pending interrupt", "interrupt_id", p.ID, "error", err)
			continue
		}
		sh.publish(sessionID, conversation.NewUIEvent(conversation.UIReplace, "interrupt-"+p.ID, string(widget), nil))
		n++
	}
	return n
}

// publish sends an event to a session's pages.
func (sh *Shell) publish(sessionID string, ev *conversation.UIEvent) {
	sh.publisher.Publish(sessionID, ev)
}

// saveSnapshot journals a state document, logging failures.
func (sh *Shell) saveSnapshot(sessionID string, doc json.RawMessage) {
	err := sh.journal.SaveSnapshot(context.Background(), &store.Snapshot{
		SessionID: sessionID,
		Agent:     sh.cfg.Agent,
		State:     doc,
	})
	if err != nil {
		sh.logger.Warn("failed to journal state snapshot", "error", err)
	}
}
