// Package actions manages blocked workflow action callbacks: registering
// the custom action definition, remembering which portal and deal a
// callback id belongs to, and replaying the deal update before completing
// the blocked execution.
package actions

import (
	"context"
	"sync"

	"hubbridge/pkg/platform/sentinel"
)

// Callback is a blocked workflow execution waiting to be completed.
type Callback struct {
	ID       string `json:"callbackId"`
	PortalID int64  `json:"portalId"`
	ObjectID string `json:"objectId"`
}

// Registry stores pending callbacks by id.
//
// Error Contract:
//   - Get returns sentinel.ErrNotFound for an unknown callback id.
//   - Put overwrites: HubSpot redelivers the same callback id on retry
//     and the latest origin wins.
type Registry interface {
	Put(ctx context.Context, cb Callback) error
	Get(ctx context.Context, id string) (Callback, error)
	Delete(ctx context.Context, id string) error
}

// InMemoryRegistry keeps callbacks in a map, for tests and local
// development only. Blocked executions can wait days for a retry, so
// production deployments use a durable backend.
type InMemoryRegistry struct {
	mu        sync.RWMutex
	callbacks map[string]Callback
}

func NewInMemoryRegistry() *InMemoryRegistry {
	return &InMemoryRegistry{callbacks: make(map[string]Callback)}
}

func (r *InMemoryRegistry) Put(_ context.Context, cb Callback) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks[cb.ID] = cb
	return nil
}

func (r *InMemoryRegistry) Get(_ context.Context, id string) (Callback, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cb, ok := r.callbacks[id]
	if !ok {
		return Callback{}, sentinel.ErrNotFound
	}
	return cb, nil
}

func (r *InMemoryRegistry) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.callbacks, id)
	return nil
}
