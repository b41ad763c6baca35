package signaling

import (
	"cmp"
	"errors"
	"iter"
	"slices"
	"sync"
)

var ErrDuplicateID = errors.New("duplicate client id")

// Channel is the send half of a client connection. The registry only borrows
// it; the gateway owns the underlying WebSocket.
type Channel interface {
	Send(msg Outbound) error
}

// Client is one registered peer.
type Client struct {
	ID          string
	Role        Role
	DisplayName string
	Channel     Channel
}

type registryEntry struct {
	client Client
	seq    uint64
}

// Registry is the authoritative set of registered clients.
//
// Each method is individually safe for concurrent use. Callers that need a
// multi-step operation to be atomic (notify-then-remove) serialize through
// the Hub.
type Registry struct {
	mu      sync.RWMutex
	seq     uint64
	clients map[string]registryEntry
}

func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]registryEntry)}
}

func (r *Registry) Insert(id string, role Role, displayName string, ch Channel) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.clients[id]; ok {
		return ErrDuplicateID
	}
	r.seq++
	r.clients[id] = registryEntry{
		client: Client{ID: id, Role: role, DisplayName: displayName, Channel: ch},
		seq:    r.seq,
	}
	return nil
}

// Remove deletes id. Removing an unknown id is a no-op.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.clients, id)
	r.mu.Unlock()
}

func (r *Registry) Get(id string) (Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.clients[id]
	return e.client, ok
}

func (r *Registry) Contains(id string) bool {
	_, ok := r.Get(id)
	return ok
}

// ListByRole returns the clients registered with role at the time of the call,
// in registration order. The sequence can be ranged over any number of times
// and is unaffected by later inserts or removals.
func (r *Registry) ListByRole(role Role) iter.Seq[Client] {
	r.mu.RLock()
	entries := make([]registryEntry, 0, len(r.clients))
	for _, e := range r.clients {
		if e.client.Role == role {
			entries = append(entries, e)
		}
	}
	r.mu.RUnlock()

	slices.SortFunc(entries, func(a, b registryEntry) int {
		return cmp.Compare(a.seq, b.seq)
	})

	return func(yield func(Client) bool) {
		for _, e := range entries {
			if !yield(e.client) {
				return
			}
		}
	}
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

func (r *Registry) CountByRole(role Role) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, e := range r.clients {
		if e.client.Role == role {
			n++
		}
	}
	return n
}
