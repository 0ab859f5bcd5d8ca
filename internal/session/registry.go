package session

import (
	"sync"

	"snakeserver/internal/types"
)

// Registry maps client ids to live connections and caps the number of
// concurrent connections.
type Registry struct {
	mu      sync.Mutex
	max     int
	open    int
	clients map[string]*types.Client
}

func NewRegistry(maxUsers int) *Registry {
	return &Registry{
		max:     maxUsers,
		clients: make(map[string]*types.Client),
	}
}

// Admit reserves a slot for a new transport connection. It runs before the
// client has sent its id.
func (r *Registry) Admit() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.open >= r.max {
		return ErrServerFull
	}
	r.open++
	return nil
}

// Leave releases a slot taken by Admit.
func (r *Registry) Leave() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.open > 0 {
		r.open--
	}
}

// Register binds clientID to c. Binding the same pair twice is a no-op.
func (r *Registry) Register(clientID string, c *types.Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.clients[clientID]; ok {
		if existing == c {
			return nil
		}
		return ErrDuplicateClientID
	}
	// Admit already caps transports at max, so this only guards the
	// Len() <= max invariant for callers that skip Admit.
	if len(r.clients) >= r.max {
		return ErrServerFull
	}
	r.clients[clientID] = c
	return nil
}

func (r *Registry) Unregister(clientID string) {
	r.mu.Lock()
	delete(r.clients, clientID)
	r.mu.Unlock()
}

// UnregisterClient removes c only if it still owns its id, so a closing
// connection never drops somebody else's registration. It reports whether
// anything was removed.
func (r *Registry) UnregisterClient(c *types.Client) bool {
	id := c.ID()
	if id == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.clients[id] != c {
		return false
	}
	delete(r.clients, id)
	return true
}

func (r *Registry) Lookup(clientID string) (*types.Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.clients[clientID]
	return c, ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// Open is the number of admitted transport connections.
func (r *Registry) Open() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.open
}

func (r *Registry) Max() int { return r.max }
