// Package attempt runs one student's timed attempt: countdown, navigation,
// choice shuffling, debounced answer persistence and the single guarded
// submission triggered either by the student or by time expiry.
package attempt

import (
	"context"
	"errors"
	"fmt"
)

// Question is immutable for the lifetime of an attempt.
type Question struct {
	ID      string
	Content string
	Choices []string
}

// Attempt is the hydration data for one attempt, computed by the backing store.
type Attempt struct {
	ID               string
	ActivityID       string
	TotalSeconds     int
	RemainingSeconds int
	Questions        []Question
	// ShuffleMaps optionally carries a stored display order per question ID.
	ShuffleMaps map[string][]int
	// Answers optionally carries selections already persisted remotely.
	Answers map[string]Selection
}

// Persister stores one question's selection remotely. It must be idempotent.
type Persister interface {
	PersistAnswer(ctx context.Context, attemptID, questionID string, sel Selection) error
}

// Submitter finalizes the attempt remotely.
type Submitter interface {
	SubmitAttempt(ctx context.Context, attemptID string) (SubmitOutcome, error)
}

// SubmitOutcome is the collaborator's verdict on a submission.
type SubmitOutcome struct {
	Success bool
	Error   string
	Score   *float64
}

// State is the submission state of an attempt.
type State string

const (
	StateActive     State = "ACTIVE"
	StateSubmitting State = "SUBMITTING"
	StateSubmitted  State = "SUBMITTED"
)

// Trigger records what started a submission. It is informational only:
// both triggers run the same code path.
type Trigger string

const (
	TriggerUser   Trigger = "user"
	TriggerExpiry Trigger = "expiry"
)

var (
	ErrUnknownQuestion = errors.New("unknown question")
	ErrInvalidChoice   = errors.New("choice index out of range")
	ErrSubmitted       = errors.New("attempt already submitted")
	ErrClosed          = errors.New("attempt closed")
)

// SubmitError is returned when the submit collaborator fails or rejects the
// submission. The attempt is active again and submission may be retried.
type SubmitError struct {
	AttemptID string
	Trigger   Trigger
	Reason    string
	Err       error
}

func (e *SubmitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("submit attempt %s: %v", e.AttemptID, e.Err)
	}
	return fmt.Sprintf("submit attempt %s: %s", e.AttemptID, e.Reason)
}

func (e *SubmitError) Unwrap() error { return e.Err }
