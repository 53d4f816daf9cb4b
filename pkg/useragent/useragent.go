// Package useragent holds the immutable set of user-agent strings scraped
// once at process startup (§4.1, §9: re-scraping on refresh is not done),
// and a uniform-random picker over that set.
package useragent

import (
	"math/rand"
	"sync"
	"time"
)

// Store holds the current user-agent set. It is populated once at startup
// and never mutated afterward, per the spec's resolution of the re-scrape
// timing question.
type Store struct {
	mu     sync.RWMutex
	agents []string
	rng    *rand.Rand
	rngMu  sync.Mutex
}

// NewStore creates a Store over agents. Callers pass the result of
// sourcelists.ScrapeUserAgents (already falls back to a built-in default
// list internally when every source fails).
func NewStore(agents []string) *Store {
	return &Store{
		agents: agents,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Random returns a uniformly random user agent, or "" if the set is empty.
func (s *Store) Random() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.agents) == 0 {
		return ""
	}
	s.rngMu.Lock()
	i := s.rng.Intn(len(s.agents))
	s.rngMu.Unlock()
	return s.agents[i]
}

// Len returns the number of agents currently held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.agents)
}
