package model

import (
	"github.com/google/uuid"
)

// Question is a single-choice exam question. Choices are stored in canonical
// order; CorrectOption is the canonical index of the right choice.
type Question struct {
	ID            uuid.UUID `json:"id"`
	ExamID        uuid.UUID `json:"exam_id"`
	QuestionText  string    `json:"question_text"`
	Choices       []string  `json:"choices"`
	CorrectOption int       `json:"correct_option"`
	OrderNum      int       `json:"order_num"`
}

// StudentAnswer is the durable copy of one autosaved selection.
type StudentAnswer struct {
	ExamID     uuid.UUID `json:"exam_id"`
	StudentID  int       `json:"student_id"`
	QuestionID uuid.UUID `json:"question_id"`
	Selection  []string  `json:"selection"`
}
