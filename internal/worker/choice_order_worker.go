package worker

import (
	"context"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/repository"
)

// ChoiceOrderWriter stores generated choice orders.
type ChoiceOrderWriter interface {
	SetChoiceOrderBatch(ctx context.Context, batch []repository.SessionChoiceOrder) error
	SetChoiceOrder(ctx context.Context, examID uuid.UUID, studentID int, order map[string][]int) error
}

// ChoiceOrderWorker copies each attempt's generated choice order to
// PostgreSQL so it survives a Redis flush.
type ChoiceOrderWorker struct {
	sessions ChoiceOrderWriter
	log      zerolog.Logger
	loop     batchLoop[model.ChoiceOrderJob]
}

func NewChoiceOrderWorker(sessions ChoiceOrderWriter, rdb *redis.Client, log zerolog.Logger) *ChoiceOrderWorker {
	w := &ChoiceOrderWorker{
		sessions: sessions,
		log:      log.With().Str("component", "choice_order_worker").Logger(),
	}
	w.loop = batchLoop[model.ChoiceOrderJob]{
		rdb:     rdb,
		queue:   config.WorkerKey.PersistChoiceOrderQueue,
		size:    DefaultBatchSize,
		timeout: DefaultBatchTimeout,
		poll:    DefaultPollTimeout,
		log:     w.log,
		flush:   w.flush,
	}
	return w
}

// Start runs the worker until ctx is done. Call in a goroutine.
func (w *ChoiceOrderWorker) Start(ctx context.Context) {
	w.loop.run(ctx)
}

func (w *ChoiceOrderWorker) flush(ctx context.Context, batch []model.ChoiceOrderJob) []model.ChoiceOrderJob {
	rows := make([]repository.SessionChoiceOrder, 0, len(batch))
	valid := make([]model.ChoiceOrderJob, 0, len(batch))
	for _, job := range batch {
		examID, err := uuid.Parse(job.ExamID)
		if err != nil {
			w.log.Error().Err(err).Str("exam_id", job.ExamID).Msg("Dropping choice order with invalid exam id")
			continue
		}
		rows = append(rows, repository.SessionChoiceOrder{ExamID: examID, StudentID: job.StudentID, Order: job.Order})
		valid = append(valid, job)
	}
	if len(rows) == 0 {
		return nil
	}

	err := w.sessions.SetChoiceOrderBatch(ctx, rows)
	if err == nil {
		return nil
	}
	w.log.Warn().Err(err).Msg("bulk choice order update failed, using fallback")

	var failed []model.ChoiceOrderJob
	for i, row := range rows {
		if err := w.sessions.SetChoiceOrder(ctx, row.ExamID, row.StudentID, row.Order); err != nil {
			failed = append(failed, valid[i])
		}
	}
	return failed
}
