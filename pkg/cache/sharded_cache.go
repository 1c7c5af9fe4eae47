// Package cache holds the latest mark price per symbol.
package cache

import (
	"hash/fnv"
	"sync"
	"time"
)

const numShards = 16

// Mark is the last traded price seen for a symbol.
type Mark struct {
	Price float64   `json:"price"`
	At    time.Time `json:"at"`
}

// MarkCache is a sharded symbol -> Mark map. Older marks never replace
// newer ones, so out-of-order ticks are harmless.
type MarkCache struct {
	shards [numShards]*markShard
	now    func() time.Time
}

type markShard struct {
	mu    sync.RWMutex
	items map[string]Mark
}

// NewMarkCache creates an empty cache.
func NewMarkCache() *MarkCache {
	c := &MarkCache{now: time.Now}
	for i := 0; i < numShards; i++ {
		c.shards[i] = &markShard{items: make(map[string]Mark)}
	}
	return c
}

func (c *MarkCache) shard(symbol string) *markShard {
	h := fnv.New32a()
	h.Write([]byte(symbol))
	return c.shards[h.Sum32()%numShards]
}

// Set records price for symbol observed at at. It reports whether the
// mark was stored.
func (c *MarkCache) Set(symbol string, price float64, at time.Time) bool {
	if symbol == "" || !(price > 0) {
		return false
	}
	if at.IsZero() {
		at = c.now()
	}
	s := c.shard(symbol)
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.items[symbol]; ok && at.Before(cur.At) {
		return false
	}
	s.items[symbol] = Mark{Price: price, At: at}
	return true
}

// Get returns the mark for symbol.
func (c *MarkCache) Get(symbol string) (Mark, bool) {
	s := c.shard(symbol)
	s.mu.RLock()
	m, ok := s.items[symbol]
	s.mu.RUnlock()
	return m, ok
}

// Fresh returns the mark only when it is younger than maxAge.
func (c *MarkCache) Fresh(symbol string, maxAge time.Duration) (Mark, bool) {
	m, ok := c.Get(symbol)
	if !ok || c.now().Sub(m.At) > maxAge {
		return Mark{}, false
	}
	return m, true
}

// Len returns the number of symbols tracked.
func (c *MarkCache) Len() int {
	total := 0
	for _, s := range c.shards {
		s.mu.RLock()
		total += len(s.items)
		s.mu.RUnlock()
	}
	return total
}

// Evict removes marks older than maxAge and returns how many were dropped.
func (c *MarkCache) Evict(maxAge time.Duration) int {
	removed := 0
	cutoff := c.now().Add(-maxAge)
	for _, s := range c.shards {
		s.mu.Lock()
		for sym, m := range s.items {
			if m.At.Before(cutoff) {
				delete(s.items, sym)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// All copies every mark.
func (c *MarkCache) All() map[string]Mark {
	out := make(map[string]Mark)
	for _, s := range c.shards {
		s.mu.RLock()
		for sym, m := range s.items {
			out[sym] = m
		}
		s.mu.RUnlock()
	}
	return out
}
