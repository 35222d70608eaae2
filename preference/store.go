// Package preference learns per-user payment method affinity from
// transaction outcomes: success nudges a method's score up, failure down,
// and scores decay linearly while a method goes unused. State is persisted
// through a pluggable store keyed by user id.
package preference

import (
	"context"
	"sync"

	"github.com/vitwit/payrank/types"
)

// Store persists per-user preference state. Implementations must be safe
// for concurrent use.
type Store interface {
	Get(ctx context.Context, userID string) (*types.UserPreferences, bool, error)
	Put(ctx context.Context, userID string, prefs *types.UserPreferences) error
}

// InMemoryStore keeps preference state in a process-local map. It is the
// default store; swap in a persistent implementation for multi-instance
// deployments.
type InMemoryStore struct {
	mu    sync.RWMutex
	users map[string]*types.UserPreferences
}

var _ Store = (*InMemoryStore)(nil)

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{users: make(map[string]*types.UserPreferences)}
}

// Get returns a copy of the stored state so callers can mutate freely.
func (s *InMemoryStore) Get(_ context.Context, userID string) (*types.UserPreferences, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prefs, ok := s.users[userID]
	if !ok {
		return nil, false, nil
	}
	return clonePreferences(prefs), true, nil
}

func (s *InMemoryStore) Put(_ context.Context, userID string, prefs *types.UserPreferences) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.users[userID] = clonePreferences(prefs)
	return nil
}

func clonePreferences(p *types.UserPreferences) *types.UserPreferences {
	if p == nil {
		return nil
	}

	out := *p
	out.PreferredMethods = append([]types.MethodPreference(nil), p.PreferredMethods...)
	out.AvoidedMethods = append([]types.MethodType(nil), p.AvoidedMethods...)
	out.LastUsedMethods = append([]types.TransactionOutcome(nil), p.LastUsedMethods...)
	return &out
}
