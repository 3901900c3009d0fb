package chunkindex

import (
	"strconv"
	"sync"

	"github.com/dedupv1/dedupv1-go/pkg/fp"
)

// inCombatSet is a thread-safe set of (fingerprint, container id) pairs
// currently being considered for garbage collection. Lookup consults this
// set so that a block write can never pick up a reference to a chunk the
// GC is about to delete out from under it, per spec.md §4.5 "In-combats".
type inCombatSet struct {
	mu  sync.RWMutex
	set map[string]struct{}
}

func newInCombatSet() *inCombatSet {
	return &inCombatSet{set: make(map[string]struct{})}
}

func combatKey(f fp.Fingerprint, containerID uint64) string {
	return f.Key() + ":" + strconv.FormatUint(containerID, 10)
}

// Enter marks (f, containerID) as in-combat.
func (s *inCombatSet) Enter(f fp.Fingerprint, containerID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set[combatKey(f, containerID)] = struct{}{}
}

// Leave clears the in-combat marker for (f, containerID), e.g. once GC
// decides against collecting it or finishes collecting it.
func (s *inCombatSet) Leave(f fp.Fingerprint, containerID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.set, combatKey(f, containerID))
}

// Contains reports whether (f, containerID) is currently in-combat.
func (s *inCombatSet) Contains(f fp.Fingerprint, containerID uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.set[combatKey(f, containerID)]
	return ok
}
