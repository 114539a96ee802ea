package resilience

import "sync"

// Set lazily creates one [Breaker] per name, all sharing a base config.
// The answer gateway keeps a Set keyed by provider id so an outage at
// one vendor never blocks requests to the others.
type Set struct {
	cfg BreakerConfig

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewSet creates an empty Set. cfg.Name is ignored; each breaker is
// named after the key it is fetched with.
func NewSet(cfg BreakerConfig) *Set {
	return &Set{
		cfg:      cfg,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for name, creating it on first use.
func (s *Set) Get(name string) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.breakers[name]
	if !ok {
		cfg := s.cfg
		cfg.Name = name
		b = NewBreaker(cfg)
		s.breakers[name] = b
	}
	return b
}

// ResetAll forces every breaker in the set back to closed.
func (s *Set) ResetAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.breakers {
		b.Reset()
	}
}
