package correlation

import (
	"sort"
	"sync"
	"time"
)

// PendingRegistry tracks in-flight local thread ids and when they were minted.
type PendingRegistry struct {
	mu      sync.Mutex
	markers map[string]time.Time
}

// NewPendingRegistry returns an empty registry.
func NewPendingRegistry() *PendingRegistry {
	return &PendingRegistry{markers: make(map[string]time.Time)}
}

// MarkPending records localID as pending since now.
func (p *PendingRegistry) MarkPending(localID string, now time.Time) {
	p.mu.Lock()
	p.markers[localID] = now
	p.mu.Unlock()
}

// IsPending reports whether localID has a live marker.
func (p *PendingRegistry) IsPending(localID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.markers[localID]
	return ok
}

// Clear removes localID. Clearing an absent id is a no-op.
func (p *PendingRegistry) Clear(localID string) {
	p.mu.Lock()
	delete(p.markers, localID)
	p.mu.Unlock()
}

// Len returns the number of pending markers.
func (p *PendingRegistry) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.markers)
}

// SweepExpired removes every marker older than ttl and returns the removed
// ids in sorted order. Markers without a timestamp are skipped.
func (p *PendingRegistry) SweepExpired(now time.Time, ttl time.Duration) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var removed []string
	for id, createdAt := range p.markers {
		if createdAt.IsZero() {
			continue
		}
		if now.Sub(createdAt) > ttl {
			delete(p.markers, id)
			removed = append(removed, id)
		}
	}
	sort.Strings(removed)
	return removed
}
