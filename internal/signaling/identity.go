package signaling

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const maxIDAttempts = 3

// IdentityGenerator hands out client ids. Ids are UUIDv7 strings: a
// millisecond timestamp followed by random bits.
type IdentityGenerator struct {
	source   func() (uuid.UUID, error)
	fallback atomic.Uint64
}

func NewIdentityGenerator() *IdentityGenerator {
	return &IdentityGenerator{source: uuid.NewV7}
}

// Next returns an id for which inUse reports false. inUse may be nil.
//
// Next never fails: if the random source errors it falls back to a v4 UUID and
// finally to a timestamp plus process-local counter.
func (g *IdentityGenerator) Next(inUse func(id string) bool) string {
	var id string
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id = g.candidate()
		if inUse == nil || !inUse(id) {
			return id
		}
	}
	// Three collisions in a row means the source is broken; the counter suffix
	// is unique within this process.
	return fmt.Sprintf("%s-%d", id, g.fallback.Add(1))
}

func (g *IdentityGenerator) candidate() string {
	source := g.source
	if source == nil {
		source = uuid.NewV7
	}
	if u, err := source(); err == nil {
		return u.String()
	}
	if u, err := uuid.NewRandom(); err == nil {
		return u.String()
	}
	return fmt.Sprintf("%x-%d", time.Now().UnixNano(), g.fallback.Add(1))
}
