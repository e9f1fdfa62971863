package correlation

import (
	"sort"
	"sync"
	"time"
)

// ResultCache holds final verification results keyed by local thread id.
// Lookups cross-check the PendingRegistry to distinguish "still waiting" from
// "never existed".
type ResultCache struct {
	mu      sync.RWMutex
	results map[string]VerificationResult
	pending *PendingRegistry
}

// NewResultCache returns an empty cache that consults pending on misses.
func NewResultCache(pending *PendingRegistry) *ResultCache {
	return &ResultCache{
		results: make(map[string]VerificationResult),
		pending: pending,
	}
}

// Put stores result under localID, replacing any previous value.
func (c *ResultCache) Put(localID string, result VerificationResult) {
	result.UserAttributes = cloneAttributes(result.UserAttributes)
	c.mu.Lock()
	c.results[localID] = result
	c.mu.Unlock()
}

// Get returns the stored result (StatusResolved) regardless of pending state;
// otherwise StatusPending when the registry still holds a marker, else
// StatusNotFound.
func (c *ResultCache) Get(localID string) (VerificationResult, Status) {
	c.mu.RLock()
	res, ok := c.results[localID]
	c.mu.RUnlock()
	if ok {
		res.UserAttributes = cloneAttributes(res.UserAttributes)
		return res, StatusResolved
	}
	if c.pending != nil && c.pending.IsPending(localID) {
		return VerificationResult{}, StatusPending
	}
	return VerificationResult{}, StatusNotFound
}

// Len returns the number of cached results.
func (c *ResultCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.results)
}

// SweepExpired drops results recorded more than ttl before now and returns
// the removed ids in sorted order. Results without RecordedAt are skipped.
func (c *ResultCache) SweepExpired(now time.Time, ttl time.Duration) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var removed []string
	for id, r := range c.results {
		if r.RecordedAt.IsZero() {
			continue
		}
		if now.Sub(r.RecordedAt) > ttl {
			delete(c.results, id)
			removed = append(removed, id)
		}
	}
	sort.Strings(removed)
	return removed
}
