package session

import (
	"context"
	"sync"

	"ai-companion-demo/backend/internal/conversation"
	"ai-companion-demo/backend/shared/observability"
)

// Registry maps live connection identifiers to their conversation handles.
// Entries exist only in memory and only for the life of a connection.
type Registry struct {
	provider conversation.Provider
	metrics  *observability.Metrics

	mu      sync.RWMutex
	entries map[string]conversation.Handle
}

// NewRegistry creates an empty registry drawing handles from provider
func NewRegistry(provider conversation.Provider, metrics *observability.Metrics) *Registry {
	return &Registry{
		provider: provider,
		metrics:  metrics,
		entries:  make(map[string]conversation.Handle),
	}
}

// Create obtains a new handle and installs it for connectionID, replacing any
// previous entry. The provider is called without holding the lock.
func (r *Registry) Create(ctx context.Context, connectionID, userID, companionID string) error {
	handle, err := r.provider.NewHandle(ctx, userID, companionID)
	if err != nil {
		return err
	}

	r.mu.Lock()
	_, replaced := r.entries[connectionID]
	r.entries[connectionID] = handle
	r.mu.Unlock()

	if !replaced {
		r.metrics.SessionDelta(ctx, 1)
	}
	return nil
}

// Lookup returns the handle for connectionID
func (r *Registry) Lookup(connectionID string) (conversation.Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handle, ok := r.entries[connectionID]
	return handle, ok
}

// Remove drops the entry for connectionID; removing an absent key is a no-op
func (r *Registry) Remove(connectionID string) {
	r.mu.Lock()
	_, existed := r.entries[connectionID]
	delete(r.entries, connectionID)
	r.mu.Unlock()

	if existed {
		r.metrics.SessionDelta(context.Background(), -1)
	}
}

// Len returns the number of live entries
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.entries)
}
