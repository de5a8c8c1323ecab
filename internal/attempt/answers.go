package attempt

import (
	"slices"
	"strconv"
)

// Selection is the set of canonical choice indices picked for a question,
// encoded as strings so multi-select can be added without a format change.
type Selection []string

// Single builds a single-choice selection.
func Single(canonical int) Selection {
	return Selection{strconv.Itoa(canonical)}
}

// Empty reports whether nothing is selected.
func (s Selection) Empty() bool { return len(s) == 0 }

// Equal compares two selections element by element.
func (s Selection) Equal(other Selection) bool { return slices.Equal(s, other) }

// Clone returns an independent copy.
func (s Selection) Clone() Selection {
	if s == nil {
		return nil
	}
	return slices.Clone(s)
}

// AnswerStore keeps two tiers per question: the locally authoritative
// selection the UI renders, and the last selection the backing store
// acknowledged. The tiers diverge between an edit and its persist.
// AnswerStore is not safe for concurrent use; the orchestrator guards it.
type AnswerStore struct {
	local     map[string]Selection
	persisted map[string]Selection
}

// NewAnswerStore creates a store seeded with selections the backing store
// already holds (for a resumed attempt). Seeded values count as persisted.
func NewAnswerStore(seed map[string]Selection) *AnswerStore {
	s := &AnswerStore{
		local:     make(map[string]Selection, len(seed)),
		persisted: make(map[string]Selection, len(seed)),
	}
	for id, sel := range seed {
		if sel.Empty() {
			continue
		}
		s.local[id] = sel.Clone()
		s.persisted[id] = sel.Clone()
	}
	return s
}

// Set replaces the local selection of a question.
func (s *AnswerStore) Set(questionID string, sel Selection) {
	if sel.Empty() {
		delete(s.local, questionID)
		return
	}
	s.local[questionID] = sel.Clone()
}

// Local returns the selection the UI should show.
func (s *AnswerStore) Local(questionID string) Selection {
	return s.local[questionID].Clone()
}

// Persisted returns the last selection acknowledged by the backing store.
func (s *AnswerStore) Persisted(questionID string) Selection {
	return s.persisted[questionID].Clone()
}

// MarkPersisted records that sel was stored remotely for the question.
func (s *AnswerStore) MarkPersisted(questionID string, sel Selection) {
	s.persisted[questionID] = sel.Clone()
}

// Dirty reports whether the local selection differs from the persisted one.
func (s *AnswerStore) Dirty(questionID string) bool {
	return !s.local[questionID].Equal(s.persisted[questionID])
}

// AnsweredCount counts questions with a non-empty local selection.
func (s *AnswerStore) AnsweredCount() int {
	n := 0
	for _, sel := range s.local {
		if !sel.Empty() {
			n++
		}
	}
	return n
}

// Snapshot copies the local tier.
func (s *AnswerStore) Snapshot() map[string]Selection {
	out := make(map[string]Selection, len(s.local))
	for id, sel := range s.local {
		out[id] = sel.Clone()
	}
	return out
}
