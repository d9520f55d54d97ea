package breaker

import "sync"

// Set lazily creates and holds one Breaker per key. The map lock is held only for
// lookup and insertion; breaker state updates take the per-breaker lock, so
// unrelated operation classes never serialize against each other.
type Set struct {
	config Config

	// Observer, when non-nil, is notified of every state transition. Set before
	// the Set sees traffic.
	Observer func(key string, state State)

	lock     sync.RWMutex
	breakers map[string]*Breaker
}

// NewSet creates a Set using config for every breaker it creates.
func NewSet(config Config) *Set {
	return &Set{
		config:   config,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for key, creating it in CLOSED state on first use.
func (s *Set) Get(key string) *Breaker {
	s.lock.RLock()
	b, ok := s.breakers[key]
	s.lock.RUnlock()
	if ok {
		return b
	}

	s.lock.Lock()
	defer s.lock.Unlock()
	if b, ok := s.breakers[key]; ok {
		return b
	}
	b = New(key, s.config)
	b.onTransition = s.Observer
	s.breakers[key] = b
	return b
}

// Snapshots returns the state of every breaker created so far.
func (s *Set) Snapshots() []Snapshot {
	s.lock.RLock()
	defer s.lock.RUnlock()
	snaps := make([]Snapshot, 0, len(s.breakers))
	for _, b := range s.breakers {
		snaps = append(snaps, b.Snapshot())
	}
	return snaps
}
