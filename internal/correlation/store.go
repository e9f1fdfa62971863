package correlation

import (
	"strings"
	"sync"
)

// CorrelationStore maps local thread ids to provider thread ids. A reverse
// index is maintained alongside the forward map so ResolveLocal is O(1).
//
// Attached entries are never evicted: a duplicate webhook that arrives after
// the pending marker is gone still has to resolve.
type CorrelationStore struct {
	mu      sync.RWMutex
	forward map[string]string // local -> provider ("" until attached)
	reverse map[string]string // provider -> local
}

// NewCorrelationStore returns an empty store.
func NewCorrelationStore() *CorrelationStore {
	return &CorrelationStore{
		forward: make(map[string]string),
		reverse: make(map[string]string),
	}
}

// Create registers localID with no provider mapping.
func (s *CorrelationStore) Create(localID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.forward[localID]; ok {
		return ErrDuplicateID
	}
	s.forward[localID] = ""
	return nil
}

// AttachProvider sets the provider thread id for localID. Re-attaching
// replaces the previous mapping and its reverse entry.
func (s *CorrelationStore) AttachProvider(localID, providerID string) error {
	if strings.TrimSpace(providerID) == "" {
		return ErrEmptyProviderID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.forward[localID]
	if !ok {
		return ErrUnknownLocalID
	}
	if prev != "" && prev != providerID {
		delete(s.reverse, prev)
	}
	s.forward[localID] = providerID
	s.reverse[providerID] = localID
	return nil
}

// RemoveUnattached deletes localID if no provider thread was ever attached to
// it, reporting whether it did.
func (s *CorrelationStore) RemoveUnattached(localID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.forward[localID]
	if !ok || p != "" {
		return false
	}
	delete(s.forward, localID)
	return true
}

// ResolveLocal returns the local thread id that was attached to providerID.
func (s *CorrelationStore) ResolveLocal(providerID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	local, ok := s.reverse[providerID]
	return local, ok
}

// Provider returns the provider thread id attached to localID, if any.
func (s *CorrelationStore) Provider(localID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.forward[localID]
	if !ok || p == "" {
		return "", false
	}
	return p, true
}

// Len returns the number of local ids known to the store.
func (s *CorrelationStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.forward)
}
