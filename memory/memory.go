// Package memory implements per-person conversation memory: an
// append-only message log keyed by person_id, with keyword/recency-based
// selection for prompt composition.
package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/sorryhyun/DiPeO-sub018/services"
)

// Store is an in-memory, process-local implementation of
// services.ConversationPort.
type Store struct {
	mu   sync.RWMutex
	logs map[string][]services.ConversationMessage
}

// New creates an empty conversation memory store.
func New() *Store {
	return &Store{logs: make(map[string][]services.ConversationMessage)}
}

// Append adds a message to a person's conversation log in arrival order.
func (s *Store) Append(_ context.Context, personID string, msg services.ConversationMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs[personID] = append(s.logs[personID], msg)
	return nil
}

// All returns every message for a person in insertion order.
func (s *Store) All(_ context.Context, personID string) ([]services.ConversationMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log := s.logs[personID]
	out := make([]services.ConversationMessage, len(log))
	copy(out, log)
	return out, nil
}

// Select applies SelectionCriteria to a person's log: an optional keyword
// filter (a message matches if it contains any keyword, case-insensitive),
// an optional exclusion of the most recent message (the "task preview",
// typically the prompt that triggered the current activation, excluded so a
// PersonJob doesn't see its own not-yet-answered prompt as history), and an
// AtMost cap applied to the most recent matching messages.
func (s *Store) Select(ctx context.Context, personID string, criteria services.SelectionCriteria) ([]services.ConversationMessage, error) {
	all, err := s.All(ctx, personID)
	if err != nil {
		return nil, err
	}

	if criteria.ExcludeTaskPreview && len(all) > 0 {
		all = all[:len(all)-1]
	}

	if len(criteria.Keywords) > 0 {
		filtered := all[:0:0]
		for _, msg := range all {
			if containsAnyKeyword(msg.Content, criteria.Keywords) {
				filtered = append(filtered, msg)
			}
		}
		all = filtered
	}

	if criteria.AtMost > 0 && len(all) > criteria.AtMost {
		all = all[len(all)-criteria.AtMost:]
	}

	return all, nil
}

func containsAnyKeyword(content string, keywords []string) bool {
	lower := strings.ToLower(content)
	for _, kw := range keywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

var _ services.ConversationPort = (*Store)(nil)
