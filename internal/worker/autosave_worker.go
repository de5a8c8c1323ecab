package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/model"
)

// AnswerWriter is the durable answer store.
type AnswerWriter interface {
	UpsertSelection(ctx context.Context, examID uuid.UUID, studentID int, questionID uuid.UUID, sel []string) error
	DeleteSelection(ctx context.Context, examID uuid.UUID, studentID int, questionID uuid.UUID) error
}

// AutosaveWorker consumes the answers queue and writes each selection to
// PostgreSQL. Jobs for one question arrive in save order, so the last write wins.
type AutosaveWorker struct {
	answers    AnswerWriter
	rdb        *redis.Client
	log        zerolog.Logger
	poll       time.Duration
	retryDelay time.Duration
}

// NewAutosaveWorker creates a new AutosaveWorker.
func NewAutosaveWorker(answers AnswerWriter, rdb *redis.Client, log zerolog.Logger) *AutosaveWorker {
	return &AutosaveWorker{
		answers:    answers,
		rdb:        rdb,
		log:        log.With().Str("component", "autosave_worker").Logger(),
		poll:       DefaultPollTimeout,
		retryDelay: 5 * time.Second,
	}
}

// Start begins the worker loop. Call in a goroutine.
func (w *AutosaveWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopping...")
			w.drain(context.Background())
			w.log.Info().Msg("Worker stopped")
			return
		default:
			w.processNext(ctx)
		}
	}
}

func (w *AutosaveWorker) processNext(ctx context.Context) {
	result, err := w.rdb.BLPop(ctx, w.poll, config.WorkerKey.PersistAnswersQueue).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("BLPop error")
		}
		return
	}
	if len(result) < 2 {
		return
	}

	var job model.AnswerJob
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		w.log.Error().Err(err).Msg("Unmarshal error")
		return
	}

	if err := w.persist(ctx, &job); err != nil {
		w.log.Error().Err(err).
			Int("student_id", job.StudentID).
			Str("exam_id", job.ExamID).
			Msg("Persist error, retrying")
		// Back to the head so later saves of the same question stay behind it.
		w.rdb.LPush(ctx, config.WorkerKey.PersistAnswersQueue, result[1])
		select {
		case <-ctx.Done():
		case <-time.After(w.retryDelay):
		}
	}
}

func (w *AutosaveWorker) persist(ctx context.Context, job *model.AnswerJob) error {
	examID, err := uuid.Parse(job.ExamID)
	if err != nil {
		return fmt.Errorf("exam id: %w", err)
	}
	questionID, err := uuid.Parse(job.QID)
	if err != nil {
		return fmt.Errorf("question id: %w", err)
	}

	if len(job.Selection) == 0 {
		return w.answers.DeleteSelection(ctx, examID, job.StudentID, questionID)
	}
	return w.answers.UpsertSelection(ctx, examID, job.StudentID, questionID, job.Selection)
}

// drain processes all remaining items in the queue before shutdown.
func (w *AutosaveWorker) drain(ctx context.Context) {
	drained := 0
	for {
		result, err := w.rdb.LPop(ctx, config.WorkerKey.PersistAnswersQueue).Result()
		if err != nil {
			break
		}

		var job model.AnswerJob
		if err := json.Unmarshal([]byte(result), &job); err != nil {
			w.log.Error().Err(err).Msg("Drain unmarshal error")
			continue
		}

		if err := w.persist(ctx, &job); err != nil {
			w.log.Error().Err(err).Msg("Drain persist error")
			w.rdb.LPush(ctx, config.WorkerKey.PersistAnswersQueue, result)
			break
		}
		drained++
	}

	if drained > 0 {
		w.log.Info().Int("count", drained).Msg("Drained remaining items")
	}
}
