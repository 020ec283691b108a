package channel

import (
	"fmt"
	"sync"
	"sync/atomic"

	"chatrelay/internal/protocol"
	"chatrelay/internal/session"
	"chatrelay/internal/workerpool"
)

// ErrRegistryFull is returned by Create when the registry is at capacity.
var ErrRegistryFull = fmt.Errorf("%w: channel registry at capacity", protocol.ErrCapacity)

// Registry is the id->Channel map with a capacity cap; it holds the sole
// strong reference to each Channel.
type Registry struct {
	mu          sync.RWMutex
	channels    map[uint32]*Channel
	nextID      atomic.Uint32
	maxChannels int
	resolver    ClientResolver
	pool        *workerpool.Pool
}

// NewRegistry creates an empty channel registry. resolver is used by every
// channel it creates to resolve member ids to live clients at broadcast
// time; pool is the shared worker pool channels submit drain tasks to.
func NewRegistry(maxChannels int, resolver ClientResolver, pool *workerpool.Pool) *Registry {
	return &Registry{
		channels:    make(map[uint32]*Channel),
		maxChannels: maxChannels,
		resolver:    resolver,
		pool:        pool,
	}
}

// Create allocates a new channel owned by creator and joins creator to it:
// emperor=creator and members=[creator], the channel id added to creator's
// joined set, inserted into the map.
func (r *Registry) Create(creator *session.Client) (*Channel, error) {
	r.mu.Lock()
	if len(r.channels) >= r.maxChannels {
		r.mu.Unlock()
		return nil, ErrRegistryFull
	}
	id := r.nextID.Add(1)
	name := fmt.Sprintf("#channel%d", id)
	ch := New(id, name, creator.ID, r.resolver, r.pool)
	r.channels[id] = ch
	r.mu.Unlock()

	creator.Join(id)
	return ch, nil
}

// Find looks up a channel by id.
func (r *Registry) Find(id uint32) (*Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[id]
	return ch, ok
}

// Drop removes a channel from the registry. Callers must not hold the
// channel's own lock when calling this; Channel.Leave/Kick never call Drop
// themselves for exactly this reason.
func (r *Registry) Drop(id uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.channels, id)
}

// Len returns the number of registered channels.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}
