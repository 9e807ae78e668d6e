// Package store persists worlds' rule sets. It implements the
// automation.Repository interface over a JSON document on disk, plus an
// in-memory variant for tests and ephemeral sessions.
package store

import (
	"sync"

	"github.com/mudlark/mudlark/automation"
)

// MemStore is an in-memory rule repository. Rules are returned by
// pointer, so engine mutations (match counters, one-shot disables) are
// visible on subsequent fetches; RecordFire is a no-op beyond that.
type MemStore struct {
	mu sync.Mutex

	triggers map[string][]*automation.Trigger
	aliases  map[string][]*automation.Alias
	gags     map[string][]*automation.Gag
	tickers  map[string][]*automation.Ticker
}

var _ automation.Repository = (*MemStore)(nil)

// NewMemStore creates an empty in-memory repository.
func NewMemStore() *MemStore {
	return &MemStore{
		triggers: make(map[string][]*automation.Trigger),
		aliases:  make(map[string][]*automation.Alias),
		gags:     make(map[string][]*automation.Gag),
		tickers:  make(map[string][]*automation.Ticker),
	}
}

// AddTrigger registers a trigger in its world, preserving creation order.
func (s *MemStore) AddTrigger(t *automation.Trigger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.triggers[t.World] = append(s.triggers[t.World], t)
}

// AddAlias registers an alias in its world.
func (s *MemStore) AddAlias(a *automation.Alias) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aliases[a.World] = append(s.aliases[a.World], a)
}

// AddGag registers a gag in its world.
func (s *MemStore) AddGag(g *automation.Gag) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gags[g.World] = append(s.gags[g.World], g)
}

// AddTicker registers a ticker in its world.
func (s *MemStore) AddTicker(t *automation.Ticker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickers[t.World] = append(s.tickers[t.World], t)
}

func (s *MemStore) ActiveTriggers(world string) []*automation.Trigger {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.triggers[world]
}

func (s *MemStore) Aliases(world string) []*automation.Alias {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aliases[world]
}

func (s *MemStore) Gags(world string) []*automation.Gag {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gags[world]
}

func (s *MemStore) Tickers(world string) []*automation.Ticker {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tickers[world]
}

func (s *MemStore) RecordFire(world, id string, matchCount int, enabled bool) error {
	return nil
}
