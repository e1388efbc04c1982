package engine

import (
	"fmt"
	"sync"
)

// executingSet tracks which suggestion ids have an operation in flight and
// which operation owns each. Only the owner may remove its id.
type executingSet struct {
	mu     sync.Mutex
	owners map[string]string
}

func newExecutingSet() *executingSet {
	return &executingSet{owners: make(map[string]string)}
}

// acquire claims suggestionID for opID.
func (s *executingSet) acquire(suggestionID, opID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if owner, busy := s.owners[suggestionID]; busy {
		return fmt.Errorf("%w: %s (operation %s)", ErrAlreadyExecuting, suggestionID, owner)
	}
	s.owners[suggestionID] = opID
	return nil
}

// release frees suggestionID if opID still owns it.
func (s *executingSet) release(suggestionID, opID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.owners[suggestionID] == opID {
		delete(s.owners, suggestionID)
	}
}

func (s *executingSet) owner(suggestionID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.owners[suggestionID]
	return id, ok
}

func (s *executingSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.owners)
}
