package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-attempt/internal/model"
)

// ExamSessionRepository handles attempt data access.
type ExamSessionRepository struct {
	pool *pgxpool.Pool
}

// NewExamSessionRepository creates a new ExamSessionRepository.
func NewExamSessionRepository(pool *pgxpool.Pool) *ExamSessionRepository {
	return &ExamSessionRepository{pool: pool}
}

// GetByExamAndStudent retrieves the attempt of a student at an exam.
func (r *ExamSessionRepository) GetByExamAndStudent(ctx context.Context, examID uuid.UUID, studentID int) (*model.ExamSession, error) {
	s := &model.ExamSession{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, exam_id, student_id, started_at, finished_at, status, final_score, COALESCE(choice_order, '{}'::jsonb)
		 FROM exam_sessions
		 WHERE exam_id = $1 AND student_id = $2`, examID, studentID,
	).Scan(&s.ID, &s.ExamID, &s.StudentID, &s.StartedAt, &s.FinishedAt, &s.Status, &s.FinalScore, &s.ChoiceOrder)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Create inserts a new attempt. A concurrent start for the same student hits
// the unique constraint and surfaces as pgx.ErrNoRows.
func (r *ExamSessionRepository) Create(ctx context.Context, s *model.ExamSession) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO exam_sessions (exam_id, student_id, status)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (exam_id, student_id) DO NOTHING
		 RETURNING id, started_at, status`,
		s.ExamID, s.StudentID, model.SessionStatusInProgress,
	).Scan(&s.ID, &s.StartedAt, &s.Status)
}

// Complete marks an attempt as completed with a final score.
func (r *ExamSessionRepository) Complete(ctx context.Context, examID uuid.UUID, studentID int, score float64) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE exam_sessions
		 SET status = $1, final_score = $2, finished_at = $3
		 WHERE exam_id = $4 AND student_id = $5 AND status <> $1`,
		model.SessionStatusCompleted, score, time.Now(), examID, studentID)
	return err
}

// SessionScore is one row of a batched completion.
type SessionScore struct {
	ExamID    uuid.UUID
	StudentID int
	Score     float64
}

// CompleteBatch marks many attempts completed in one statement.
func (r *ExamSessionRepository) CompleteBatch(ctx context.Context, batch []SessionScore) error {
	n := len(batch)
	examIDs := make([]uuid.UUID, 0, n)
	students := make([]int, 0, n)
	scores := make([]float64, 0, n)
	for _, b := range batch {
		examIDs = append(examIDs, b.ExamID)
		students = append(students, b.StudentID)
		scores = append(scores, b.Score)
	}

	_, err := r.pool.Exec(ctx, `
		UPDATE exam_sessions AS s
		SET status = $4,
		    final_score = t.score,
		    finished_at = NOW()
		FROM UNNEST($1::uuid[], $2::int[], $3::float8[]) AS t (exam_id, student_id, score)
		WHERE s.exam_id = t.exam_id
		  AND s.student_id = t.student_id
		  AND s.status <> $4`,
		examIDs, students, scores, model.SessionStatusCompleted)
	return err
}

// SessionChoiceOrder is one row of a batched choice order update.
type SessionChoiceOrder struct {
	ExamID    uuid.UUID
	StudentID int
	Order     map[string][]int
}

// SetChoiceOrder stores the display order of an attempt unless one is
// already stored; the first generated order wins.
func (r *ExamSessionRepository) SetChoiceOrder(ctx context.Context, examID uuid.UUID, studentID int, order map[string][]int) error {
	raw, err := json.Marshal(order)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx,
		`UPDATE exam_sessions
		 SET choice_order = $1
		 WHERE exam_id = $2 AND student_id = $3 AND choice_order IS NULL`,
		raw, examID, studentID)
	return err
}

// SetChoiceOrderBatch is SetChoiceOrder for many attempts in one statement.
func (r *ExamSessionRepository) SetChoiceOrderBatch(ctx context.Context, batch []SessionChoiceOrder) error {
	n := len(batch)
	examIDs := make([]uuid.UUID, 0, n)
	students := make([]int, 0, n)
	orders := make([][]byte, 0, n)
	for _, b := range batch {
		raw, err := json.Marshal(b.Order)
		if err != nil {
			return err
		}
		examIDs = append(examIDs, b.ExamID)
		students = append(students, b.StudentID)
		orders = append(orders, raw)
	}

	_, err := r.pool.Exec(ctx, `
		UPDATE exam_sessions AS s
		SET choice_order = t.co
		FROM UNNEST($1::uuid[], $2::int[], $3::jsonb[]) AS t (exam_id, student_id, co)
		WHERE s.exam_id = t.exam_id
		  AND s.student_id = t.student_id
		  AND s.choice_order IS NULL`,
		examIDs, students, orders)
	return err
}
