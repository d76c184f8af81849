// ABOUTME: Adapter interface and namespace registry for messaging frontends
// ABOUTME: Thread ids carry an adapter prefix that routes outbound calls

package frontend

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrUnknownFrontend means a thread id names an adapter that was never
// registered. This is a deployment defect, not a user-recoverable failure,
// and is never retried.
var ErrUnknownFrontend = errors.New("unknown frontend")

// Thread status values pushed to adapters. Adapters with no visual status
// concept may ignore these.
const (
	StatusConnecting = "connecting"
	StatusConnected  = "connected"
	StatusClosed     = "closed"
)

// EventHandler receives inbound events from adapters. The router implements
// this; adapters get it handed to them at startup, so the event vocabulary
// stays a fixed, typed surface instead of a generic bus.
type EventHandler interface {
	// HandleNewThread reports a new conversation attempt. ownerToken is an
	// optional opaque identity used only for anti-repeat matching; "" means
	// unknown. Delivery is at-least-once.
	HandleNewThread(ctx context.Context, threadID, ownerToken string) error

	// HandleMessage reports a message on an existing thread. eventID is
	// the platform's unique message id, used for dedupe; "" skips dedupe.
	HandleMessage(ctx context.Context, threadID, eventID, text string) error

	// HandleCloseThread reports that the participant or the platform ended
	// the conversation from their side.
	HandleCloseThread(ctx context.Context, threadID string) error
}

// Adapter is one messaging platform integration. All adapters expose the
// same capability set; the router never cares which platform is behind a
// thread beyond the id's namespace prefix.
type Adapter interface {
	// Name returns the adapter's namespace prefix (e.g. "matrix").
	Name() string

	// Start connects to the platform and blocks, emitting events to the
	// handler, until ctx is cancelled or a fatal error occurs.
	Start(ctx context.Context) error

	// SendMessage delivers text to the participant behind the thread.
	SendMessage(ctx context.Context, threadID, text string) error

	// SetStatus reflects the thread's lifecycle state on the platform.
	// Adapters may no-op.
	SetStatus(ctx context.Context, threadID, status string) error

	// CloseChat performs adapter-side cleanup for an ended thread, e.g.
	// deleting a transient contact.
	CloseChat(ctx context.Context, threadID string) error
}

// ThreadID builds a namespaced thread id from an adapter name and a
// platform-local id.
func ThreadID(adapter, localID string) string {
	return adapter + "|" + localID
}

// Split returns the adapter prefix and the platform-local remainder of a
// thread id.
func Split(threadID string) (adapter, localID string) {
	adapter, localID, _ = strings.Cut(threadID, "|")
	return adapter, localID
}

// Registry maps namespace prefixes to adapters. Registration happens once
// at startup; lookups are concurrent.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds an adapter under its name. Registering the same name twice
// is a programming error.
func (r *Registry) Register(a Adapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.adapters[a.Name()]; ok {
		return fmt.Errorf("frontend %q already registered", a.Name())
	}
	r.adapters[a.Name()] = a
	return nil
}

// Lookup resolves the adapter owning the given thread id.
// Returns ErrUnknownFrontend if no adapter claims the id's prefix.
func (r *Registry) Lookup(threadID string) (Adapter, error) {
	name, _ := Split(threadID)

	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q (thread %s)", ErrUnknownFrontend, name, threadID)
	}
	return a, nil
}

// All returns the registered adapters.
func (r *Registry) All() []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, a)
	}
	return out
}
