package proxy

import "sync"

// specLocks stripes a mutex per canonical routespec so operations on
// distinct specs never block each other, while operations on the same
// spec are strictly serialized.
type specLocks struct {
	mu     sync.Mutex
	perKey map[string]*sync.Mutex
}

func newSpecLocks() *specLocks {
	return &specLocks{perKey: map[string]*sync.Mutex{}}
}

// lock acquires the mutex for canonical, creating it on first use, and
// returns an unlock function.
func (s *specLocks) lock(canonical string) func() {
	s.mu.Lock()
	m, ok := s.perKey[canonical]
	if !ok {
		m = &sync.Mutex{}
		s.perKey[canonical] = m
	}
	s.mu.Unlock()

	m.Lock()
	return m.Unlock
}
