// Package flake generates unique, roughly time-ordered int64 identifiers.
//
// Identifiers are composed of a millisecond timestamp, a per-process random
// instance tag and a sequence counter. They are allocated without touching
// any store, which lets domain code mint ids for freshly cloned tree nodes
// before anything is persisted.
package flake

import (
	"math/rand"
	"sync"
	"time"
)

const (
	instanceBits = 8
	sequenceBits = 12

	sequenceMask = (1 << sequenceBits) - 1
)

// Generator mints unique int64 ids. The zero value is not usable; construct
// with New.
type Generator struct {
	mu       sync.Mutex
	instance int64
	lastMs   int64
	seq      int64
}

// New creates a Generator with a random instance tag.
func New() *Generator {
	return &Generator{
		instance: rand.Int63n(1 << instanceBits),
	}
}

// NextID returns a new unique id. Ids from one generator are strictly
// increasing; ids from different generators may interleave but cannot
// collide within the same millisecond thanks to the instance tag.
func (g *Generator) NextID() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now().UnixMilli()
	if now == g.lastMs {
		g.seq = (g.seq + 1) & sequenceMask
		if g.seq == 0 {
			// Sequence exhausted for this millisecond; spin to the next one.
			for now <= g.lastMs {
				now = time.Now().UnixMilli()
			}
		}
	} else {
		g.seq = 0
	}
	g.lastMs = now

	return now<<(instanceBits+sequenceBits) | g.instance<<sequenceBits | g.seq
}
