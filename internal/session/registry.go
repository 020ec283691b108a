package session

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Registry is the id->Client map with a capacity cap; it is the sole owner
// of every Client it holds. Multi-reader/single-writer.
type Registry struct {
	mu         sync.RWMutex
	clients    map[uint32]*Client
	nextID     atomic.Uint32
	maxClients int
	logger     zerolog.Logger
}

// ErrFull is returned by Add when the registry is at capacity.
var ErrFull = fmt.Errorf("client registry at capacity")

// NewRegistry creates an empty registry that rejects Add once it holds
// maxClients clients.
func NewRegistry(maxClients int, logger zerolog.Logger) *Registry {
	return &Registry{
		clients:    make(map[uint32]*Client),
		maxClients: maxClients,
		logger:     logger,
	}
}

// Add allocates a new monotonically-id'd Client for conn and inserts it,
// unless the registry is at capacity.
func (r *Registry) Add(conn net.Conn) (*Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.clients) >= r.maxClients {
		return nil, ErrFull
	}

	id := r.nextID.Add(1)
	client := New(id, conn, r.logger)
	r.clients[id] = client
	return client, nil
}

// Find looks up a client by id. The returned pointer must not be retained
// past the caller's current handler invocation's worth of work if the
// caller cares about the client's liveness; channels always re-resolve
// through Find rather than caching a *Client.
func (r *Registry) Find(id uint32) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[id]
	return c, ok
}

// Remove deletes the client from the registry. It does not close the
// socket; callers are expected to call Client.Close themselves (the
// disconnect path does both).
func (r *Registry) Remove(id uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, id)
}

// Len returns the number of registered clients.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Range calls fn for a snapshot of every currently registered client. Used
// by shutdown to force-close stragglers after the grace period; fn must not
// call back into the registry.
func (r *Registry) Range(fn func(*Client)) {
	r.mu.RLock()
	snapshot := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		snapshot = append(snapshot, c)
	}
	r.mu.RUnlock()

	for _, c := range snapshot {
		fn(c)
	}
}
