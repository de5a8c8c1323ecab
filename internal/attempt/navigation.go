package attempt

import "sync"

// Navigation tracks the question on screen and the questions flagged for review.
// Every out-of-range move is a no-op: navigation input arrives in bursts
// (double clicks, key repeat) and must never fail.
type Navigation struct {
	mu      sync.Mutex
	ids     []string
	current int
	flagged map[string]struct{}
}

// NewNavigation creates a controller over the given question order.
func NewNavigation(questionIDs []string) *Navigation {
	ids := make([]string, len(questionIDs))
	copy(ids, questionIDs)
	return &Navigation{
		ids:     ids,
		flagged: make(map[string]struct{}),
	}
}

// Count returns the number of questions.
func (n *Navigation) Count() int {
	return len(n.ids)
}

// Current returns the zero-based index of the question on screen.
func (n *Navigation) Current() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.current
}

// CurrentID returns the ID of the question on screen, or "" when there are none.
func (n *Navigation) CurrentID() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.ids) == 0 {
		return ""
	}
	return n.ids[n.current]
}

// GoTo jumps to index. Out-of-range indexes are ignored.
func (n *Navigation) GoTo(index int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if index < 0 || index >= len(n.ids) {
		return
	}
	n.current = index
}

// Next moves forward unless already on the last question.
func (n *Navigation) Next() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.current+1 < len(n.ids) {
		n.current++
	}
}

// Prev moves back unless already on the first question.
func (n *Navigation) Prev() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.current > 0 {
		n.current--
	}
}

func (n *Navigation) IsFirst() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.current == 0
}

func (n *Navigation) IsLast() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.ids) == 0 || n.current == len(n.ids)-1
}

// ToggleFlag flips the review flag of a question.
func (n *Navigation) ToggleFlag(questionID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.flagged[questionID]; ok {
		delete(n.flagged, questionID)
		return
	}
	n.flagged[questionID] = struct{}{}
}

func (n *Navigation) IsFlagged(questionID string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.flagged[questionID]
	return ok
}

func (n *Navigation) FlaggedCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.flagged)
}

// Flagged returns the flagged question IDs in question order.
func (n *Navigation) Flagged() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.flagged))
	for _, id := range n.ids {
		if _, ok := n.flagged[id]; ok {
			out = append(out, id)
		}
	}
	return out
}
