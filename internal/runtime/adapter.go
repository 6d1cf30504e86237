// ABOUTME: Service adapters hook into requests before they are relayed
// ABOUTME: EmptyAdapter leaves orchestration entirely to the remote agent

package runtime

import (
	"context"
	"net/http"
)

// ServiceAdapter prepares a relayed request. Adapters may add headers or
// reject a request; they never rewrite the payload.
type ServiceAdapter interface {
	Name() string
	Prepare(ctx context.Context, upstream *http.Request) error
}

// EmptyAdapter is a no-op adapter for deployments where the remote agent
// does all model and tool orchestration.
type EmptyAdapter struct{}

func (EmptyAdapter) Name() string { return "empty" }

func (EmptyAdapter) Prepare(context.Context, *http.Request) error { return nil }

// NewAdapter returns the adapter registered under name.
func NewAdapter(name string) (ServiceAdapter, bool) {
	switch name {
	case "", "empty":
		return EmptyAdapter{}, true
	default:
		return nil, false
	}
}
