package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-attempt/internal/model"
)

// ExamStore is the exam persistence the services need. The pgx repositories
// satisfy these interfaces; tests use in-memory fakes.
type ExamStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error)
	ListPublished(ctx context.Context) ([]model.Exam, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status model.ExamStatus) error
}

type QuestionStore interface {
	ListByExam(ctx context.Context, examID uuid.UUID) ([]model.Question, error)
}

type SessionStore interface {
	GetByExamAndStudent(ctx context.Context, examID uuid.UUID, studentID int) (*model.ExamSession, error)
	Create(ctx context.Context, s *model.ExamSession) error
}

type AnswerStore interface {
	ListSelections(ctx context.Context, examID uuid.UUID, studentID int) (map[string][]string, error)
}
