// Package cache implements the worker's idempotency cache. Coordinator
// retries reuse the same (request_id, event_fingerprint) pair, so a
// retry after a timed-out-but-completed first attempt returns the stored
// result instead of re-running the detector.
package cache

import (
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/tradewatch/surveillance-engine/pkg/models"
)

// Key identifies one detection request.
type Key struct {
	RequestID   string
	Fingerprint string
}

// IdempotencyCache is a bounded LRU from request identity to detector
// output. Safe for concurrent use; eviction is least-recently-used.
// Process-local: a worker restart clears it.
type IdempotencyCache struct {
	lru *lru.Cache[Key, []models.SuspiciousSequence]

	hits   atomic.Int64
	misses atomic.Int64
}

// New creates a cache with the given capacity (entries).
func New(capacity int) (*IdempotencyCache, error) {
	inner, err := lru.New[Key, []models.SuspiciousSequence](capacity)
	if err != nil {
		return nil, err
	}
	return &IdempotencyCache{lru: inner}, nil
}

// Get returns the cached result for the key, if present.
func (c *IdempotencyCache) Get(key Key) ([]models.SuspiciousSequence, bool) {
	results, ok := c.lru.Get(key)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return results, ok
}

// Put stores a detector result under the key.
func (c *IdempotencyCache) Put(key Key, results []models.SuspiciousSequence) {
	c.lru.Add(key, results)
}

// Len returns the number of cached entries.
func (c *IdempotencyCache) Len() int { return c.lru.Len() }

// Hits returns the lifetime hit count, exposed on the health endpoint.
func (c *IdempotencyCache) Hits() int64 { return c.hits.Load() }

// Misses returns the lifetime miss count.
func (c *IdempotencyCache) Misses() int64 { return c.misses.Load() }
