// Package cache holds an in-process cache for terminal job status payloads.
// A completed or failed job never changes again, so its rendered status can
// be served without touching the store.
package cache

import (
	"encoding/json"
	"sort"
	"sync"
	"time"
)

type Entry struct {
	Payload   json.RawMessage
	CreatedAt time.Time
	ExpiresAt time.Time
}

type Config struct {
	TTL        time.Duration
	MaxEntries int
}

type StatusCache struct {
	mu         sync.RWMutex
	entries    map[string]Entry
	ttl        time.Duration
	maxEntries int
}

func NewStatusCache(config Config) *StatusCache {
	if config.TTL <= 0 {
		config.TTL = time.Hour
	}
	if config.MaxEntries <= 0 {
		config.MaxEntries = 5000
	}
	return &StatusCache{
		entries:    make(map[string]Entry),
		ttl:        config.TTL,
		maxEntries: config.MaxEntries,
	}
}

func (c *StatusCache) Get(jobID string) (json.RawMessage, bool) {
	c.mu.RLock()
	entry, exists := c.entries[jobID]
	c.mu.RUnlock()

	if !exists {
		return nil, false
	}
	if time.Now().UTC().After(entry.ExpiresAt) {
		c.mu.Lock()
		delete(c.entries, jobID)
		c.mu.Unlock()
		return nil, false
	}
	return append(json.RawMessage(nil), entry.Payload...), true
}

func (c *StatusCache) Set(jobID string, payload json.RawMessage) {
	now := time.Now().UTC()
	entry := Entry{
		Payload:   append(json.RawMessage(nil), payload...),
		CreatedAt: now,
		ExpiresAt: now.Add(c.ttl),
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.maxEntries {
		c.evictOldest()
	}
	c.entries[jobID] = entry
}

func (c *StatusCache) evictOldest() {
	if len(c.entries) == 0 {
		return
	}

	type pair struct {
		key   string
		value Entry
	}
	pairs := make([]pair, 0, len(c.entries))
	for key, value := range c.entries {
		pairs = append(pairs, pair{key: key, value: value})
	}
	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].value.CreatedAt.Before(pairs[j].value.CreatedAt)
	})
	delete(c.entries, pairs[0].key)
}
