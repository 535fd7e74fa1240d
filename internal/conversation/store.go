// Package conversation holds the ordered log of turns for the active problem
// and the helpers that derive views from turn content.
package conversation

import (
	"sync"
	"time"

	"github.com/ashureev/visual-study-buddy/internal/domain"
	"github.com/google/uuid"
)

// Store is an append-only, ordered log of turns. It is cleared as a whole and
// never edits a turn in place.
type Store struct {
	mu    sync.RWMutex
	turns []domain.Turn
	now   func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{now: time.Now}
}

// Append creates a turn with a fresh ID and timestamp and adds it to the end
// of the log.
func (s *Store) Append(role domain.Role, content, imageURL string) domain.Turn {
	turn := domain.Turn{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		ImageURL:  imageURL,
		Timestamp: s.now(),
	}

	s.mu.Lock()
	s.turns = append(s.turns, turn)
	s.mu.Unlock()

	return turn
}

// AppendError appends a model turn reporting message as a failure.
func (s *Store) AppendError(message string) domain.Turn {
	return s.Append(domain.RoleModel, domain.ErrorPrefix+message, "")
}

// Turns returns a copy of the log in append order.
func (s *Store) Turns() []domain.Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.turns) == 0 {
		return nil
	}
	out := make([]domain.Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// Last returns the most recent turn.
func (s *Store) Last() (domain.Turn, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.turns) == 0 {
		return domain.Turn{}, false
	}
	return s.turns[len(s.turns)-1], true
}

// LastExplanation returns the most recent model turn that has text content and
// is not an error turn.
func (s *Store) LastExplanation() (domain.Turn, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.turns) - 1; i >= 0; i-- {
		if isExplanation(s.turns[i]) {
			return s.turns[i], true
		}
	}
	return domain.Turn{}, false
}

// Explanation looks up a turn by ID. found is false for an unknown ID; ok is
// false when the turn exists but is not a model explanation.
func (s *Store) Explanation(id string) (turn domain.Turn, found, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.turns {
		if t.ID == id {
			return t, true, isExplanation(t)
		}
	}
	return domain.Turn{}, false, false
}

func isExplanation(t domain.Turn) bool {
	return t.Role == domain.RoleModel && t.Content != "" && !t.IsError()
}

// Len returns the number of turns.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.turns)
}

// Clear drops every turn.
func (s *Store) Clear() {
	s.mu.Lock()
	s.turns = nil
	s.mu.Unlock()
}
