// Package ristretto implements the permission decision cache using
// dgraph-io/ristretto as an in-process TTL cache.
package ristretto

import (
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// DecisionCache caches boolean policy decisions keyed by
// (project, action, target) with a fixed TTL.
type DecisionCache struct {
	c   *ristretto.Cache[string, bool]
	ttl time.Duration
}

// NewDecisionCache creates a decision cache holding up to maxEntries
// decisions, each expiring after ttl.
func NewDecisionCache(maxEntries int64, ttl time.Duration) (*DecisionCache, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, bool]{
		NumCounters: maxEntries * 10, // ~10x expected items
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &DecisionCache{c: c, ttl: ttl}, nil
}

// Get retrieves a cached decision.
func (c *DecisionCache) Get(key string) (decision bool, ok bool) {
	return c.c.Get(key)
}

// Set stores a decision with the cache TTL. Writes are buffered; Wait
// makes them visible to subsequent Gets, which policy checks rely on.
func (c *DecisionCache) Set(key string, decision bool) {
	c.c.SetWithTTL(key, decision, 1, c.ttl)
	c.c.Wait()
}

// Clear drops every cached decision. Called on any permission mutation.
func (c *DecisionCache) Clear() {
	c.c.Clear()
}

// Close shuts down the cache and releases resources.
func (c *DecisionCache) Close() {
	c.c.Close()
}
