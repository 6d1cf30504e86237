// ABOUTME: Local mirror of an agent's shared state, updated by snapshots and JSON patches
// ABOUTME: Decodes search history entries in both record and plain string form

package shell

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	jsonpatch "github.com/evanphx/json-patch/v5"
)

// SearchEntry is one item of the agent's search history. Agents emit either
// records or plain query strings; both decode into this type.
type SearchEntry struct {
	Query       string `json:"query"`
	Completed   *bool  `json:"completed,omitempty"`
	Timestamp   string `json:"timestamp,omitempty"`
	ToolName    string `json:"tool_name,omitempty"`
	CompletedAt string `json:"completed_at,omitempty"`

	// Plain is set when the entry arrived as a bare string.
	Plain bool `json:"-"`
}

func (e *SearchEntry) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var q string
		if err := json.Unmarshal(trimmed, &q); err != nil {
			return err
		}
		*e = SearchEntry{Query: q, Plain: true}
		return nil
	}

	type record SearchEntry
	var r record
	if err := json.Unmarshal(trimmed, &r); err != nil {
		return err
	}
	*e = SearchEntry(r)
	return nil
}

// IsCompleted reports the completed flag; absent means not completed.
func (e SearchEntry) IsCompleted() bool {
	return e.Completed != nil && *e.Completed
}

// AgentState is the typed view of the shared state document.
type AgentState struct {
	SearchHistory []SearchEntry `json:"search_history"`
}

// InitialState is the state a mirror starts with before the agent reports any.
var InitialState = json.RawMessage(`{"search_history":[]}`)

// StateMirror holds the latest shared state document of one agent. Each
// update replaces the document wholesale.
type StateMirror struct {
	mu      sync.RWMutex
	agent   string
	doc     json.RawMessage
	version uint64
	watch   []func(doc json.RawMessage)
}

// NewStateMirror creates a mirror for agent holding initial (InitialState if nil).
func NewStateMirror(agent string, initial json.RawMessage) *StateMirror {
	if len(initial) == 0 {
		initial = InitialState
	}
	return &StateMirror{
		agent: agent,
		doc:   append(json.RawMessage(nil), initial...),
	}
}

// Agent returns the agent name the mirror is keyed by.
func (m *StateMirror) Agent() string {
	return m.agent
}

// Version counts applied updates.
func (m *StateMirror) Version() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.version
}

// Snapshot returns a copy of the current document.
func (m *StateMirror) Snapshot() json.RawMessage {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append(json.RawMessage(nil), m.doc...)
}

// State decodes the current document.
func (m *StateMirror) State() (AgentState, error) {
	var s AgentState
	if err := json.Unmarshal(m.Snapshot(), &s); err != nil {
		return AgentState{}, fmt.Errorf("decoding agent state: %w", err)
	}
	return s, nil
}

// OnChange registers fn to run after every update with the new document.
func (m *StateMirror) OnChange(fn func(doc json.RawMessage)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watch = append(m.watch, fn)
}

// ApplySnapshot replaces the document with raw.
func (m *StateMirror) ApplySnapshot(raw json.RawMessage) error {
	if !json.Valid(raw) {
		return errors.New("state snapshot is not valid JSON")
	}
	m.mu.Lock()
	m.notify(m.replaceLocked(raw))
	return nil
}

// ApplyDelta applies an RFC 6902 patch to the current document.
func (m *StateMirror) ApplyDelta(patch json.RawMessage) error {
	p, err := jsonpatch.DecodePatch(patch)
	if err != nil {
		return fmt.Errorf("decoding state delta: %w", err)
	}

	m.mu.Lock()
	next, err := p.Apply(m.doc)
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("applying state delta: %w", err)
	}
	m.notify(m.replaceLocked(next))
	return nil
}

// SetState writes a document from the UI side.
func (m *StateMirror) SetState(raw json.RawMessage) error {
	return m.ApplySnapshot(raw)
}

// replaceLocked swaps the document and returns the watchers to notify.
// Must be called with mu held.
func (m *StateMirror) replaceLocked(doc json.RawMessage) []func(json.RawMessage) {
	m.doc = append(json.RawMessage(nil), doc...)
	m.version++
	return append([]func(json.RawMessage){}, m.watch...)
}

// notify releases mu and runs watchers with a copy of the document.
func (m *StateMirror) notify(watchers []func(json.RawMessage)) {
	snapshot := append(json.RawMessage(nil), m.doc...)
	m.mu.Unlock()

	for _, fn := range watchers {
		fn(snapshot)
	}
}
