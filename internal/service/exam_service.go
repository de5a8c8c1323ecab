package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/model"
)

// Domain Errors
var (
	ErrNoQuestions      = errors.New("exam has no questions, cannot publish")
	ErrExamNotDraft     = errors.New("exam status is not DRAFT")
	ErrExamNotPublished = errors.New("exam status is not PUBLISHED")
	ErrInvalidQuestion  = errors.New("question has an invalid correct option")
)

// ExamService keeps the student payload, duration and answer key of
// published exams in Redis so attempts never read PostgreSQL on the hot path.
type ExamService struct {
	exams     ExamStore
	questions QuestionStore
	rdb       *redis.Client
	log       zerolog.Logger
}

// NewExamService creates a new ExamService.
func NewExamService(exams ExamStore, questions QuestionStore, rdb *redis.Client, log zerolog.Logger) *ExamService {
	return &ExamService{
		exams:     exams,
		questions: questions,
		rdb:       rdb,
		log:       log.With().Str("component", "exam_service").Logger(),
	}
}

// GetByID retrieves an exam by its UUID.
func (s *ExamService) GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	return s.exams.GetByID(ctx, id)
}

// Publish warms the caches of a draft exam and marks it PUBLISHED.
func (s *ExamService) Publish(ctx context.Context, examID uuid.UUID) error {
	exam, err := s.exams.GetByID(ctx, examID)
	if err != nil {
		return fmt.Errorf("get exam: %w", err)
	}
	if exam.Status != model.ExamStatusDraft {
		return ErrExamNotDraft
	}

	if err := s.WarmExamCache(ctx, exam); err != nil {
		return err
	}

	if err := s.exams.UpdateStatus(ctx, examID, model.ExamStatusPublished); err != nil {
		return fmt.Errorf("update status: %w", err)
	}

	s.log.Info().Str("exam_id", examID.String()).Msg("Exam published")
	return nil
}

// WarmExamCache loads an exam's payload, duration and answer key from
// PostgreSQL into Redis in one pipeline.
func (s *ExamService) WarmExamCache(ctx context.Context, exam *model.Exam) error {
	questions, err := s.questions.ListByExam(ctx, exam.ID)
	if err != nil {
		return fmt.Errorf("list questions: %w", err)
	}
	if len(questions) == 0 {
		return ErrNoQuestions
	}

	studentQuestions := make([]model.QuestionForStudent, len(questions))
	answerKey := make(map[string]any, len(questions))
	for i, q := range questions {
		if q.CorrectOption < 0 || q.CorrectOption >= len(q.Choices) {
			return fmt.Errorf("question %s: %w", q.ID, ErrInvalidQuestion)
		}
		studentQuestions[i] = model.QuestionForStudent{
			ID:           q.ID,
			QuestionText: q.QuestionText,
			Choices:      q.Choices,
			OrderNum:     q.OrderNum,
		}
		answerKey[q.ID.String()] = strconv.Itoa(q.CorrectOption)
	}

	payloadJSON, err := json.Marshal(model.ExamPayload{
		ExamID:         exam.ID,
		Title:          exam.Title,
		Duration:       exam.DurationMinutes,
		ShuffleChoices: exam.ShuffleChoices,
		Questions:      studentQuestions,
	})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	id := exam.ID.String()
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, config.CacheKey.ExamPayloadKey(id), payloadJSON, 0)
	pipe.Set(ctx, config.CacheKey.ExamDurationKey(id), exam.DurationMinutes, 0)
	pipe.Del(ctx, config.CacheKey.ExamAnswerKey(id))
	pipe.HSet(ctx, config.CacheKey.ExamAnswerKey(id), answerKey)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache to redis: %w", err)
	}

	s.log.Debug().
		Str("exam_id", id).
		Int("questions", len(questions)).
		Msg("Cache warmed")
	return nil
}

// PrewarmAllCaches loads all published exams into Redis on application startup.
func (s *ExamService) PrewarmAllCaches(ctx context.Context) error {
	exams, err := s.exams.ListPublished(ctx)
	if err != nil {
		return fmt.Errorf("list published exams: %w", err)
	}

	if len(exams) == 0 {
		s.log.Info().Msg("No published exams to prewarm")
		return nil
	}

	warmed := 0
	for i := range exams {
		if err := s.WarmExamCache(ctx, &exams[i]); err != nil {
			s.log.Warn().
				Err(err).
				Str("exam_id", exams[i].ID.String()).
				Msg("Failed to warm exam, skipping")
			continue
		}
		warmed++
	}

	s.log.Info().
		Int("warmed", warmed).
		Int("total", len(exams)).
		Msg("Prewarming complete")
	return nil
}

// GetExamPayload retrieves the cached student payload. A cache miss on a
// published exam re-warms it from PostgreSQL.
func (s *ExamService) GetExamPayload(ctx context.Context, examID uuid.UUID) (*model.ExamPayload, error) {
	data, err := s.rdb.Get(ctx, config.CacheKey.ExamPayloadKey(examID.String())).Bytes()
	if errors.Is(err, redis.Nil) {
		if err := s.rewarm(ctx, examID); err != nil {
			return nil, err
		}
		data, err = s.rdb.Get(ctx, config.CacheKey.ExamPayloadKey(examID.String())).Bytes()
	}
	if err != nil {
		return nil, fmt.Errorf("get payload: %w", err)
	}

	var payload model.ExamPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return &payload, nil
}

// GetAnswerKey retrieves question ID -> canonical correct index for grading.
func (s *ExamService) GetAnswerKey(ctx context.Context, examID uuid.UUID) (map[string]string, error) {
	key := config.CacheKey.ExamAnswerKey(examID.String())
	result, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("get answer key: %w", err)
	}
	if len(result) == 0 {
		if err := s.rewarm(ctx, examID); err != nil {
			return nil, err
		}
		if result, err = s.rdb.HGetAll(ctx, key).Result(); err != nil {
			return nil, fmt.Errorf("get answer key: %w", err)
		}
	}
	return result, nil
}

// GetDurationMinutes returns the cached exam duration.
func (s *ExamService) GetDurationMinutes(ctx context.Context, examID uuid.UUID) (int, error) {
	minutes, err := s.rdb.Get(ctx, config.CacheKey.ExamDurationKey(examID.String())).Int()
	if err == nil {
		return minutes, nil
	}
	if !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("get exam duration: %w", err)
	}
	payload, err := s.GetExamPayload(ctx, examID)
	if err != nil {
		return 0, err
	}
	return payload.Duration, nil
}

func (s *ExamService) rewarm(ctx context.Context, examID uuid.UUID) error {
	exam, err := s.exams.GetByID(ctx, examID)
	if err != nil {
		return fmt.Errorf("get exam: %w", err)
	}
	if exam.Status != model.ExamStatusPublished {
		return ErrExamNotPublished
	}
	s.log.Warn().Str("exam_id", examID.String()).Msg("Exam cache miss, rewarming")
	return s.WarmExamCache(ctx, exam)
}
