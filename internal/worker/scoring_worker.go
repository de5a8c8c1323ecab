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

// ScoreWriter completes attempts in PostgreSQL.
type ScoreWriter interface {
	CompleteBatch(ctx context.Context, batch []repository.SessionScore) error
	Complete(ctx context.Context, examID uuid.UUID, studentID int, score float64) error
}

// ScoringWorker persists graded submissions in batches and then drops the
// attempt's Redis autosave buffer.
type ScoringWorker struct {
	sessions ScoreWriter
	rdb      *redis.Client
	log      zerolog.Logger
	loop     batchLoop[model.ScoreJob]
}

func NewScoringWorker(sessions ScoreWriter, rdb *redis.Client, log zerolog.Logger) *ScoringWorker {
	w := &ScoringWorker{
		sessions: sessions,
		rdb:      rdb,
		log:      log.With().Str("component", "scoring_worker").Logger(),
	}
	w.loop = batchLoop[model.ScoreJob]{
		rdb:     rdb,
		queue:   config.WorkerKey.PersistScoresQueue,
		size:    DefaultBatchSize,
		timeout: DefaultBatchTimeout,
		poll:    DefaultPollTimeout,
		log:     w.log,
		flush:   w.flush,
	}
	return w
}

// Start runs the worker until ctx is done. Call in a goroutine.
func (w *ScoringWorker) Start(ctx context.Context) {
	w.loop.run(ctx)
}

func (w *ScoringWorker) flush(ctx context.Context, batch []model.ScoreJob) []model.ScoreJob {
	rows := make([]repository.SessionScore, 0, len(batch))
	valid := make([]model.ScoreJob, 0, len(batch))
	for _, job := range batch {
		examID, err := uuid.Parse(job.ExamID)
		if err != nil {
			w.log.Error().Err(err).Str("exam_id", job.ExamID).Msg("Dropping score with invalid exam id")
			continue
		}
		rows = append(rows, repository.SessionScore{ExamID: examID, StudentID: job.StudentID, Score: job.Score})
		valid = append(valid, job)
	}
	if len(rows) == 0 {
		return nil
	}

	var failed []model.ScoreJob
	var done []model.ScoreJob
	if err := w.sessions.CompleteBatch(ctx, rows); err != nil {
		w.log.Warn().Err(err).Msg("bulk score update failed, using fallback")
		for i, row := range rows {
			if err := w.sessions.Complete(ctx, row.ExamID, row.StudentID, row.Score); err != nil {
				w.log.Error().Err(err).Str("exam_id", valid[i].ExamID).Msg("Single score update failed")
				failed = append(failed, valid[i])
				continue
			}
			done = append(done, valid[i])
		}
	} else {
		done = valid
	}

	w.clearBuffers(ctx, done)
	return failed
}

// clearBuffers deletes the autosave state of completed attempts. The submit
// result and guard stay until they expire.
func (w *ScoringWorker) clearBuffers(ctx context.Context, jobs []model.ScoreJob) {
	if len(jobs) == 0 {
		return
	}
	pipe := w.rdb.Pipeline()
	for _, job := range jobs {
		pipe.Del(ctx,
			config.CacheKey.AttemptAnswersKey(job.ExamID, job.StudentID),
			config.CacheKey.AttemptChoiceOrderKey(job.ExamID, job.StudentID),
			config.CacheKey.AttemptStartKey(job.ExamID, job.StudentID),
		)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		w.log.Warn().Err(err).Msg("Failed to clear autosave buffers")
	}
}
