package dock

import (
	"context"
	"errors"
	"sync"
)

// ErrNotInitialized indicates OpenChatWith was invoked through the registry
// before any implementation registered itself. Callers must treat this as
// recoverable ("chat unavailable"), never fatal.
var ErrNotInitialized = errors.New("chat dock not initialised")

// OpenChatOptions tunes the resolve-or-create behaviour of OpenChatWith.
type OpenChatOptions struct {
	// CreateIfMissing allows creating a brand-new conversation when none
	// exists with the target user. When false, OpenChatWith only operates on
	// pre-existing threads.
	CreateIfMissing bool
}

// OpenChatFunc opens (or focuses) a chat with the target user on behalf of
// the acting user carried in ctx. It reports whether a thread was opened.
type OpenChatFunc func(ctx context.Context, userID string, opts OpenChatOptions) (bool, error)

// Registry is a process-wide slot holding the active OpenChatWith
// implementation. Arbitrary surfaces (profile cards, share dialogs,
// notification links) invoke it without holding a reference to the dock
// itself. Registration is last-wins and there is no unregister; the slot
// lives for the process lifetime.
type Registry struct {
	mu   sync.RWMutex
	impl OpenChatFunc
}

// NewRegistry creates an empty registry. Production code uses Default; tests
// construct their own to avoid cross-test state.
func NewRegistry() *Registry {
	return &Registry{}
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry instance.
func Default() *Registry {
	return defaultRegistry
}

// Register installs the implementation, replacing any previous one. A nil
// implementation is ignored so a sloppy caller cannot reset the slot.
func (r *Registry) Register(impl OpenChatFunc) {
	if impl == nil {
		return
	}

	r.mu.Lock()
	r.impl = impl
	r.mu.Unlock()
}

// Ready reports whether an implementation has registered.
func (r *Registry) Ready() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.impl != nil
}

// Invoke delegates to the registered implementation. It holds no dock state
// of its own.
func (r *Registry) Invoke(ctx context.Context, userID string, opts OpenChatOptions) (bool, error) {
	r.mu.RLock()
	impl := r.impl
	r.mu.RUnlock()

	if impl == nil {
		return false, ErrNotInitialized
	}

	return impl(ctx, userID, opts)
}
