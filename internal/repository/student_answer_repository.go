package repository

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// StudentAnswerRepository holds the durable copy of autosaved selections.
// Writes come from the autosave worker.
type StudentAnswerRepository struct {
	pool *pgxpool.Pool
}

// NewStudentAnswerRepository creates a new StudentAnswerRepository.
func NewStudentAnswerRepository(pool *pgxpool.Pool) *StudentAnswerRepository {
	return &StudentAnswerRepository{pool: pool}
}

// ListSelections returns question ID -> selection for one attempt.
func (r *StudentAnswerRepository) ListSelections(ctx context.Context, examID uuid.UUID, studentID int) (map[string][]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT question_id, selection
		 FROM student_answers
		 WHERE exam_id = $1 AND student_id = $2`, examID, studentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]string)
	for rows.Next() {
		var (
			qid uuid.UUID
			sel []string
		)
		if err := rows.Scan(&qid, &sel); err != nil {
			return nil, err
		}
		if len(sel) > 0 {
			out[qid.String()] = sel
		}
	}
	return out, rows.Err()
}

// UpsertSelection stores one selection while the attempt is in progress.
// Writes to a completed attempt are ignored.
func (r *StudentAnswerRepository) UpsertSelection(ctx context.Context, examID uuid.UUID, studentID int, questionID uuid.UUID, sel []string) error {
	raw, err := json.Marshal(sel)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO student_answers (exam_id, student_id, question_id, selection)
		 SELECT $1::uuid, $2::int, $3::uuid, $4::jsonb
		 WHERE EXISTS (
		     SELECT 1 FROM exam_sessions
		     WHERE exam_id = $1 AND student_id = $2 AND status = 'IN_PROGRESS'
		 )
		 ON CONFLICT (exam_id, student_id, question_id) DO UPDATE
		 SET selection = EXCLUDED.selection, updated_at = NOW()`,
		examID, studentID, questionID, raw,
	)
	return err
}

// DeleteSelection clears one answer of an in-progress attempt.
func (r *StudentAnswerRepository) DeleteSelection(ctx context.Context, examID uuid.UUID, studentID int, questionID uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM student_answers AS a
		 USING exam_sessions AS s
		 WHERE a.exam_id = $1 AND a.student_id = $2 AND a.question_id = $3
		   AND s.exam_id = a.exam_id AND s.student_id = a.student_id
		   AND s.status = 'IN_PROGRESS'`,
		examID, studentID, questionID,
	)
	return err
}
