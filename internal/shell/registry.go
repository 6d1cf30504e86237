// ABOUTME: Registry of frontend actions the agent may call or that only render in chat
// ABOUTME: Compiles a JSON schema per action and validates arguments before invoking handlers

package shell

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/2389/coagent-demo/internal/agui"
)

// ErrActionExists indicates an action with the same name is already registered.
var ErrActionExists = errors.New("action already registered")

// ErrActionNotFound indicates no action has the requested name.
var ErrActionNotFound = errors.New("action not found")

// ErrActionDisabled indicates the action is render-only and cannot be invoked.
var ErrActionDisabled = errors.New("action is render-only")

// Availability controls whether an action is offered to the agent as a tool.
type Availability string

const (
	AvailabilityEnabled  Availability = "enabled"
	AvailabilityDisabled Availability = "disabled"
)

// Parameter is one named argument of an action. Parameters are required
// unless Optional is set.
type Parameter struct {
	Name        string
	Type        string // JSON schema type: string, number, boolean, object, array
	Description string
	Optional    bool
}

// Render status values passed to RenderFunc.
const (
	StatusInProgress = "inProgress"
	StatusExecuting  = "executing"
	StatusComplete   = "complete"
)

// RenderProps is what a render function sees for one tool call.
type RenderProps struct {
	Status string
	Args   map[string]any
	Result json.RawMessage
}

// ActionHandler runs a frontend action with validated arguments.
type ActionHandler func(ctx context.Context, args map[string]any) (string, error)

// RenderFunc renders a tool call into the chat transcript.
type RenderFunc func(props RenderProps) (template.HTML, error)

// Action is a frontend capability. Enabled actions are advertised to the
// agent and executed locally; disabled actions only render the agent's own
// tool calls.
type Action struct {
	Name        string
	Description string
	Parameters  []Parameter
	// Render is a static hint shown while the handler runs.
	Render     string
	Available  Availability
	Handler    ActionHandler
	RenderFunc RenderFunc
}

// Enabled reports whether the agent may call the action.
func (a *Action) Enabled() bool {
	return a.Available != AvailabilityDisabled
}

type registeredAction struct {
	action    *Action
	schemaRaw json.RawMessage
	schema    *jsonschema.Schema
}

// Registry holds the actions of one shell.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]*registeredAction
	order   []string
	logger  *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		actions: make(map[string]*registeredAction),
		logger:  logger.With("component", "actions"),
	}
}

// Register adds an action. Returns ErrActionExists for duplicate names.
func (r *Registry) Register(a Action) error {
	if a.Name == "" {
		return errors.New("action name is required")
	}
	if a.Available == "" {
		a.Available = AvailabilityEnabled
	}
	if a.Enabled() && a.Handler == nil {
		return fmt.Errorf("action %q: enabled actions need a handler", a.Name)
	}

	raw, err := parameterSchema(a.Parameters)
	if err != nil {
		return fmt.Errorf("action %q: %w", a.Name, err)
	}
	compiled, err := jsonschema.CompileString(a.Name+".schema.json", string(raw))
	if err != nil {
		return fmt.Errorf("action %q: compiling schema: %w", a.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.actions[a.Name]; exists {
		return fmt.Errorf("%w: %s", ErrActionExists, a.Name)
	}
	r.actions[a.Name] = &registeredAction{action: &a, schemaRaw: raw, schema: compiled}
	r.order = append(r.order, a.Name)

	r.logger.Debug("registered action", "name", a.Name, "available", a.Available)
	return nil
}

// parameterSchema builds an object schema from the parameter list.
func parameterSchema(params []Parameter) (json.RawMessage, error) {
	props := make(map[string]any, len(params))
	required := []string{}
	for _, p := range params {
		if p.Name == "" {
			return nil, errors.New("parameter name is required")
		}
		typ := p.Type
		if typ == "" {
			typ = "string"
		}
		props[p.Name] = map[string]any{
			"type":        typ,
			"description": p.Description,
		}
		if !p.Optional {
			required = append(required, p.Name)
		}
	}
	return json.Marshal(map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	})
}

// Lookup returns the action registered under name.
func (r *Registry) Lookup(name string) (*Action, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ra, ok := r.actions[name]
	if !ok {
		return nil, false
	}
	return ra.action, true
}

// Tools lists enabled actions as agent tools, in registration order.
func (r *Registry) Tools() []agui.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]agui.Tool, 0, len(r.order))
	for _, name := range r.order {
		ra := r.actions[name]
		if !ra.action.Enabled() {
			continue
		}
		tools = append(tools, agui.Tool{
			Name:        name,
			Description: ra.action.Description,
			Parameters:  ra.schemaRaw,
		})
	}
	return tools
}

// Invoke validates args against the action schema and runs its handler.
func (r *Registry) Invoke(ctx context.Context, name string, args json.RawMessage) (string, error) {
	r.mu.RLock()
	ra, ok := r.actions[name]
	r.mu.RUnlock()

	if !ok {
		return "", fmt.Errorf("%w: %s", ErrActionNotFound, name)
	}
	if !ra.action.Enabled() {
		return "", fmt.Errorf("%w: %s", ErrActionDisabled, name)
	}

	decoded, err := decodeArgs(args)
	if err != nil {
		return "", fmt.Errorf("action %q: %w", name, err)
	}
	if err := ra.schema.Validate(decoded); err != nil {
		return "", fmt.Errorf("action %q: invalid arguments: %w", name, err)
	}

	return ra.action.Handler(ctx, decoded)
}

// decodeArgs parses tool call arguments. Empty input is an empty object.
func decodeArgs(args json.RawMessage) (map[string]any, error) {
	if len(args) == 0 {
		return map[string]any{}, nil
	}
	var out map[string]any
	if err := json.Unmarshal(args, &out); err != nil {
		return nil, fmt.Errorf("decoding arguments: %w", err)
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}
