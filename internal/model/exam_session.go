package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus enumerates exam session (attempt) states.
type SessionStatus string

const (
	SessionStatusInProgress SessionStatus = "IN_PROGRESS"
	SessionStatusCompleted  SessionStatus = "COMPLETED"
)

// ExamSession is a student's attempt at an exam.
type ExamSession struct {
	ID          uuid.UUID        `json:"id"`
	ExamID      uuid.UUID        `json:"exam_id"`
	StudentID   int              `json:"student_id"`
	StartedAt   time.Time        `json:"started_at"`
	FinishedAt  *time.Time       `json:"finished_at,omitempty"`
	Status      SessionStatus    `json:"status"`
	FinalScore  *float64         `json:"final_score,omitempty"`
	ChoiceOrder map[string][]int `json:"-"`
}

// ExamSessionState is the hydration payload for an attempt. It covers page
// reloads: the client gets the autosaved selections, the stable choice
// order and the time left on the server clock.
type ExamSessionState struct {
	AttemptID        uuid.UUID            `json:"attempt_id"`
	ExamID           uuid.UUID            `json:"exam_id"`
	Title            string               `json:"title"`
	Status           SessionStatus        `json:"status"`
	TotalSeconds     int                  `json:"total_seconds"`
	RemainingSeconds int                  `json:"remaining_seconds"`
	Questions        []QuestionForStudent `json:"questions"`
	AutosavedAnswers map[string][]string  `json:"autosaved_answers"`
	ShuffleMaps      map[string][]int     `json:"shuffle_maps,omitempty"`
	FinalScore       *float64             `json:"final_score,omitempty"`
}

// SubmitResult is the graded outcome of a submission. Duplicate submissions
// receive the stored result.
type SubmitResult struct {
	Status  SessionStatus `json:"status"`
	Score   float64       `json:"score"`
	Correct int           `json:"correct"`
	Total   int           `json:"total"`
}
