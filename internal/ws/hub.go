package ws

import (
	"sync"

	"github.com/jrmce/VersionLifecycle-sub000/internal/tenant"
)

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Hub fans deployment events out to subscribers keyed by tenant.
// Subscribers registered under a cross-tenant scope receive every tenant's events.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[Subscriber]struct{}
}

// NewHub creates an initialized Hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[string]map[Subscriber]struct{})}
}

// Register adds a client to the stream of the scope's tenant.
func (h *Hub) Register(scope tenant.Scope, client Subscriber) {
	key := scope.Key()
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[key]; !ok {
		h.clients[key] = make(map[Subscriber]struct{})
	}
	h.clients[key][client] = struct{}{}
}

// Unregister removes a client.
func (h *Hub) Unregister(scope tenant.Scope, client Subscriber) {
	key := scope.Key()
	h.mu.Lock()
	defer h.mu.Unlock()
	h.remove(key, client)
}

func (h *Hub) remove(key string, client Subscriber) {
	if clients, ok := h.clients[key]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.clients, key)
		}
	}
}

// Broadcast sends payload to the tenant's clients and to cross-tenant clients.
// Clients whose Send fails are closed and dropped.
func (h *Hub) Broadcast(tenantID int64, payload []byte) {
	keys := []string{tenant.KeyFor(tenantID), tenant.Operator(0).Key()}

	h.mu.RLock()
	type target struct {
		key    string
		client Subscriber
	}
	targets := make([]target, 0)
	for _, key := range keys {
		for c := range h.clients[key] {
			targets = append(targets, target{key: key, client: c})
		}
	}
	h.mu.RUnlock()

	var failed []target
	for _, t := range targets {
		if err := t.client.Send(payload); err != nil {
			t.client.Close()
			failed = append(failed, t)
		}
	}
	if len(failed) == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, t := range failed {
		h.remove(t.key, t.client)
	}
}

// Count reports the number of clients subscribed under the scope's key.
func (h *Hub) Count(scope tenant.Scope) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[scope.Key()])
}
