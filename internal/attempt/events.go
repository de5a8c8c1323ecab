package attempt

// EventKind enumerates attempt lifecycle events.
type EventKind int

const (
	EventAnswerChanged EventKind = iota + 1
	EventAnswerPersisted
	EventPersistFailed
	EventExpired
	EventSubmitStarted
	EventSubmitted
	EventSubmitFailed
)

func (k EventKind) String() string {
	switch k {
	case EventAnswerChanged:
		return "answer_changed"
	case EventAnswerPersisted:
		return "answer_persisted"
	case EventPersistFailed:
		return "persist_failed"
	case EventExpired:
		return "expired"
	case EventSubmitStarted:
		return "submit_started"
	case EventSubmitted:
		return "submitted"
	case EventSubmitFailed:
		return "submit_failed"
	default:
		return "unknown"
	}
}

// Event is delivered to the observer outside of any lock. Which fields are
// set depends on Kind:
//
//	answer_*, persist_failed: QuestionID, Selection (Err on failure)
//	submit_*:                 Trigger (Outcome on success, Err on failure)
type Event struct {
	Kind       EventKind
	AttemptID  string
	QuestionID string
	Selection  Selection
	Trigger    Trigger
	Outcome    *SubmitOutcome
	Err        error
}

// Observer receives lifecycle events. It must not block.
type Observer func(Event)
