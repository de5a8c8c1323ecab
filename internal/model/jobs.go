package model

// Queue payloads pushed by the attempt service and consumed by the workers.

// AnswerJob is one autosaved selection. An empty Selection clears the answer.
type AnswerJob struct {
	StudentID int      `json:"student_id"`
	ExamID    string   `json:"exam_id"`
	QID       string   `json:"q_id"`
	Selection []string `json:"selection"`
}

// ScoreJob is the graded outcome of a submitted attempt.
type ScoreJob struct {
	StudentID int     `json:"student_id"`
	ExamID    string  `json:"exam_id"`
	Score     float64 `json:"score"`
}

// ChoiceOrderJob is the per-question display order generated for an attempt.
type ChoiceOrderJob struct {
	ExamID    string           `json:"exam_id"`
	StudentID int              `json:"student_id"`
	Order     map[string][]int `json:"order"`
}
