package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/attempt"
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/model"
)

var (
	ErrExamNotAvailable = errors.New("exam is not available")
	ErrNoActiveSession  = errors.New("no active session for this exam")
	ErrSessionCompleted = errors.New("exam session is already completed")
	ErrUnknownQuestion  = errors.New("question does not belong to this exam")
	ErrInvalidSelection = errors.New("selection is not a valid choice")
	ErrSubmitInProgress = errors.New("submission already in progress")
)

// AttemptConfig tunes the attempt service.
type AttemptConfig struct {
	ShuffleChoices  bool
	SubmitResultTTL time.Duration
	SubmitLockTTL   time.Duration
	// DeadlineGrace admits autosaves that were in flight when time ran out.
	DeadlineGrace time.Duration
}

// AttemptService is the server side of an attempt: start, hydration,
// autosave and the idempotent submission.
type AttemptService struct {
	sessions SessionStore
	answers  AnswerStore
	exams    *ExamService
	rdb      *redis.Client
	cfg      AttemptConfig
	log      zerolog.Logger

	now  func() time.Time
	perm func(n int) []int
}

// NewAttemptService creates a new AttemptService.
func NewAttemptService(
	sessions SessionStore,
	answers AnswerStore,
	exams *ExamService,
	rdb *redis.Client,
	cfg AttemptConfig,
	log zerolog.Logger,
) *AttemptService {
	if cfg.SubmitResultTTL <= 0 {
		cfg.SubmitResultTTL = 24 * time.Hour
	}
	if cfg.SubmitLockTTL <= 0 {
		cfg.SubmitLockTTL = 30 * time.Second
	}
	if cfg.DeadlineGrace < 0 {
		cfg.DeadlineGrace = 0
	}
	return &AttemptService{
		sessions: sessions,
		answers:  answers,
		exams:    exams,
		rdb:      rdb,
		cfg:      cfg,
		log:      log.With().Str("component", "attempt_service").Logger(),
		now:      time.Now,
		perm: func(n int) []int {
			return attempt.Generate(n, rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())))
		},
	}
}

// StartAttempt creates the student's attempt at a published exam, or returns
// the existing one. The start time is cached for the remaining-time math.
func (s *AttemptService) StartAttempt(ctx context.Context, examID uuid.UUID, studentID int) (*model.ExamSession, error) {
	exam, err := s.exams.GetByID(ctx, examID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrExamNotAvailable
		}
		return nil, fmt.Errorf("get exam: %w", err)
	}

	existing, err := s.sessions.GetByExamAndStudent(ctx, examID, studentID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("check existing session: %w", err)
	}
	if existing != nil {
		s.cacheStart(ctx, existing)
		return existing, nil
	}

	if !s.examOpen(exam) {
		return nil, ErrExamNotAvailable
	}

	sess := &model.ExamSession{ExamID: examID, StudentID: studentID}
	if err := s.sessions.Create(ctx, sess); err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("create session: %w", err)
		}
		// Concurrent start from another device won the insert.
		sess, err = s.sessions.GetByExamAndStudent(ctx, examID, studentID)
		if err != nil {
			return nil, fmt.Errorf("concurrent start detected, but fetch failed: %w", err)
		}
	}

	s.cacheStart(ctx, sess)
	s.log.Info().
		Str("exam_id", examID.String()).
		Int("student_id", studentID).
		Str("attempt_id", sess.ID.String()).
		Msg("Attempt started")
	return sess, nil
}

func (s *AttemptService) examOpen(exam *model.Exam) bool {
	if exam.Status != model.ExamStatusPublished {
		return false
	}
	now := s.now()
	if exam.ScheduledStart != nil && now.Before(*exam.ScheduledStart) {
		return false
	}
	if exam.ScheduledEnd != nil && now.After(*exam.ScheduledEnd) {
		return false
	}
	return true
}

func (s *AttemptService) cacheStart(ctx context.Context, sess *model.ExamSession) {
	key := config.CacheKey.AttemptStartKey(sess.ExamID.String(), sess.StudentID)
	if err := s.rdb.Set(ctx, key, sess.StartedAt.Unix(), 0).Err(); err != nil {
		s.log.Warn().Err(err).Str("attempt_id", sess.ID.String()).Msg("Failed to cache start time")
	}
}

// GetSession returns the student's attempt at an exam.
func (s *AttemptService) GetSession(ctx context.Context, examID uuid.UUID, studentID int) (*model.ExamSession, error) {
	sess, err := s.sessions.GetByExamAndStudent(ctx, examID, studentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoActiveSession
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// GetAttemptState builds the hydration payload: questions, autosaved
// selections, stable choice order and the remaining time on the server clock.
func (s *AttemptService) GetAttemptState(ctx context.Context, sess *model.ExamSession) (*model.ExamSessionState, error) {
	payload, err := s.exams.GetExamPayload(ctx, sess.ExamID)
	if err != nil {
		return nil, fmt.Errorf("get exam payload: %w", err)
	}

	state := &model.ExamSessionState{
		AttemptID:    sess.ID,
		ExamID:       sess.ExamID,
		Title:        payload.Title,
		Status:       sess.Status,
		TotalSeconds: payload.Duration * 60,
		Questions:    payload.Questions,
		FinalScore:   sess.FinalScore,
	}

	if result, err := s.storedResult(ctx, sess.ExamID, sess.StudentID); err != nil {
		return nil, err
	} else if result != nil {
		state.Status = model.SessionStatusCompleted
		score := result.Score
		state.FinalScore = &score
	}

	if state.Status == model.SessionStatusCompleted {
		state.AutosavedAnswers = map[string][]string{}
		return state, nil
	}

	start, err := s.startTime(ctx, sess)
	if err != nil {
		return nil, err
	}
	remaining := start.Add(time.Duration(state.TotalSeconds) * time.Second).Sub(s.now())
	state.RemainingSeconds = clampSeconds(remaining, state.TotalSeconds)

	if state.AutosavedAnswers, err = s.autosaved(ctx, sess); err != nil {
		return nil, err
	}

	if payload.ShuffleChoices && s.cfg.ShuffleChoices {
		if state.ShuffleMaps, err = s.choiceOrder(ctx, sess, payload); err != nil {
			return nil, err
		}
	}
	return state, nil
}

func clampSeconds(d time.Duration, total int) int {
	secs := int(d / time.Second)
	if secs < 0 {
		return 0
	}
	if secs > total {
		return total
	}
	return secs
}

// startTime reads the cached start, falling back to the session row and
// putting it back in Redis.
func (s *AttemptService) startTime(ctx context.Context, sess *model.ExamSession) (time.Time, error) {
	key := config.CacheKey.AttemptStartKey(sess.ExamID.String(), sess.StudentID)
	unix, err := s.rdb.Get(ctx, key).Int64()
	switch {
	case err == nil:
		return time.Unix(unix, 0), nil
	case errors.Is(err, redis.Nil):
		s.cacheStart(ctx, sess)
		return sess.StartedAt, nil
	default:
		return time.Time{}, fmt.Errorf("redis error getting start time: %w", err)
	}
}

func (s *AttemptService) autosaved(ctx context.Context, sess *model.ExamSession) (map[string][]string, error) {
	key := config.CacheKey.AttemptAnswersKey(sess.ExamID.String(), sess.StudentID)
	raw, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("get autosaved answers: %w", err)
	}

	out := make(map[string][]string, len(raw))
	for qid, v := range raw {
		var sel []string
		if err := json.Unmarshal([]byte(v), &sel); err != nil {
			s.log.Warn().Err(err).Str("question_id", qid).Msg("Dropping malformed autosave")
			continue
		}
		if len(sel) > 0 {
			out[qid] = sel
		}
	}
	if len(out) > 0 || s.answers == nil {
		return out, nil
	}

	// Redis lost the buffer; the worker's durable copy is the fallback.
	durable, err := s.answers.ListSelections(ctx, sess.ExamID, sess.StudentID)
	if err != nil {
		return nil, fmt.Errorf("list durable answers: %w", err)
	}
	if len(durable) > 0 {
		fields := make(map[string]any, len(durable))
		for qid, sel := range durable {
			b, _ := json.Marshal(sel)
			fields[qid] = string(b)
		}
		_ = s.rdb.HSet(ctx, key, fields).Err()
	}
	return durable, nil
}

// choiceOrder returns the per-question display permutations of an attempt.
// They are generated once and claimed with SETNX, so concurrent hydrations
// from two tabs agree on the same order.
func (s *AttemptService) choiceOrder(ctx context.Context, sess *model.ExamSession, payload *model.ExamPayload) (map[string][]int, error) {
	key := config.CacheKey.AttemptChoiceOrderKey(sess.ExamID.String(), sess.StudentID)

	if order, err := s.loadChoiceOrder(ctx, key); err != nil || order != nil {
		return order, err
	}

	order := sess.ChoiceOrder
	generated := len(order) == 0
	if generated {
		order = make(map[string][]int, len(payload.Questions))
		for _, q := range payload.Questions {
			order[q.ID.String()] = s.perm(len(q.Choices))
		}
	}

	raw, err := json.Marshal(order)
	if err != nil {
		return nil, fmt.Errorf("marshal choice order: %w", err)
	}
	won, err := s.rdb.SetNX(ctx, key, raw, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("store choice order: %w", err)
	}
	if !won {
		return s.loadChoiceOrder(ctx, key)
	}

	if generated {
		job, _ := json.Marshal(model.ChoiceOrderJob{
			ExamID:    sess.ExamID.String(),
			StudentID: sess.StudentID,
			Order:     order,
		})
		if err := s.rdb.RPush(ctx, config.WorkerKey.PersistChoiceOrderQueue, job).Err(); err != nil {
			s.log.Warn().Err(err).Msg("Failed to queue choice order persistence")
		}
	}
	return order, nil
}

func (s *AttemptService) loadChoiceOrder(ctx context.Context, key string) (map[string][]int, error) {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get choice order: %w", err)
	}
	var order map[string][]int
	if err := json.Unmarshal(data, &order); err != nil {
		return nil, fmt.Errorf("unmarshal choice order: %w", err)
	}
	return order, nil
}

// SaveAnswer stores one question's selection in the Redis buffer and queues
// it for durable persistence. It is idempotent; an empty selection clears
// the answer.
func (s *AttemptService) SaveAnswer(ctx context.Context, examID uuid.UUID, studentID int, questionID string, sel []string) error {
	examKey := examID.String()
	payload, err := s.exams.GetExamPayload(ctx, examID)
	if err != nil {
		return fmt.Errorf("get exam payload: %w", err)
	}
	if err := validateSelection(payload, questionID, sel); err != nil {
		return err
	}

	start, err := s.cachedStart(ctx, examID, studentID)
	if err != nil {
		return err
	}
	deadline := start.Add(time.Duration(payload.Duration)*time.Minute + s.cfg.DeadlineGrace)
	if s.now().After(deadline) {
		return ErrSessionCompleted
	}

	var encoded []byte
	if len(sel) > 0 {
		encoded, _ = json.Marshal(sel)
	}
	job, _ := json.Marshal(model.AnswerJob{
		StudentID: studentID,
		ExamID:    examKey,
		QID:       questionID,
		Selection: sel,
	})

	keys := []string{
		config.CacheKey.AttemptSubmitLockKey(examKey, studentID),
		config.CacheKey.AttemptAnswersKey(examKey, studentID),
		config.WorkerKey.PersistAnswersQueue,
	}
	saved, err := saveAnswerScript.Run(ctx, s.rdb, keys, questionID, string(encoded), string(job)).Int()
	if err != nil {
		return fmt.Errorf("autosave: %w", err)
	}
	if saved == 0 {
		return ErrSessionCompleted
	}
	return nil
}

// saveAnswerScript writes the autosave buffer and queues the durable copy
// only while no submission holds the lock, so a save can never land after
// grading has read the buffer.
//
//	KEYS: submit lock, answers hash, answers queue
//	ARGV: question ID, encoded selection ("" clears), queue job
var saveAnswerScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
	return 0
end
if ARGV[2] == "" then
	redis.call("HDEL", KEYS[2], ARGV[1])
else
	redis.call("HSET", KEYS[2], ARGV[1], ARGV[2])
end
redis.call("RPUSH", KEYS[3], ARGV[3])
return 1
`)

// cachedStart resolves the attempt start without loading the session when
// the start time is cached.
func (s *AttemptService) cachedStart(ctx context.Context, examID uuid.UUID, studentID int) (time.Time, error) {
	unix, err := s.rdb.Get(ctx, config.CacheKey.AttemptStartKey(examID.String(), studentID)).Int64()
	switch {
	case err == nil:
		return time.Unix(unix, 0), nil
	case errors.Is(err, redis.Nil):
		sess, err := s.GetSession(ctx, examID, studentID)
		if err != nil {
			return time.Time{}, err
		}
		return s.startTime(ctx, sess)
	default:
		return time.Time{}, fmt.Errorf("redis error getting start time: %w", err)
	}
}

func validateSelection(payload *model.ExamPayload, questionID string, sel []string) error {
	for _, q := range payload.Questions {
		if q.ID.String() != questionID {
			continue
		}
		for _, v := range sel {
			idx, err := strconv.Atoi(v)
			if err != nil || idx < 0 || idx >= len(q.Choices) {
				return ErrInvalidSelection
			}
		}
		return nil
	}
	return ErrUnknownQuestion
}

// Submit grades the attempt once. The first caller takes a SETNX guard;
// duplicates and retries after success receive the stored result.
func (s *AttemptService) Submit(ctx context.Context, examID uuid.UUID, studentID int) (*model.SubmitResult, error) {
	examKey := examID.String()

	if result, err := s.storedResult(ctx, examID, studentID); err != nil || result != nil {
		return result, err
	}

	lockKey := config.CacheKey.AttemptSubmitLockKey(examKey, studentID)
	acquired, err := s.rdb.SetNX(ctx, lockKey, s.now().Unix(), s.cfg.SubmitLockTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire submit lock: %w", err)
	}
	if !acquired {
		if result, err := s.storedResult(ctx, examID, studentID); err != nil || result != nil {
			return result, err
		}
		return nil, ErrSubmitInProgress
	}

	result, err := s.grade(ctx, examID, studentID)
	if err != nil {
		// Release the guard so the client can retry.
		s.rdb.Del(ctx, lockKey)
		return nil, err
	}
	return result, nil
}

func (s *AttemptService) grade(ctx context.Context, examID uuid.UUID, studentID int) (*model.SubmitResult, error) {
	examKey := examID.String()

	sess, err := s.GetSession(ctx, examID, studentID)
	if err != nil {
		return nil, err
	}
	if sess.Status == model.SessionStatusCompleted && sess.FinalScore != nil {
		return &model.SubmitResult{Status: model.SessionStatusCompleted, Score: *sess.FinalScore}, nil
	}

	answerKey, err := s.exams.GetAnswerKey(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("grading failed: %w", err)
	}
	answers, err := s.autosaved(ctx, sess)
	if err != nil {
		return nil, err
	}

	result := Grade(answerKey, answers)

	encoded, _ := json.Marshal(result)
	job, _ := json.Marshal(model.ScoreJob{StudentID: studentID, ExamID: examKey, Score: result.Score})

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, config.CacheKey.AttemptResultKey(examKey, studentID), encoded, s.cfg.SubmitResultTTL)
	pipe.Expire(ctx, config.CacheKey.AttemptSubmitLockKey(examKey, studentID), s.cfg.SubmitResultTTL)
	pipe.RPush(ctx, config.WorkerKey.PersistScoresQueue, job)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("store result: %w", err)
	}

	s.log.Info().
		Str("exam_id", examKey).
		Int("student_id", studentID).
		Float64("score", result.Score).
		Int("correct", result.Correct).
		Int("total", result.Total).
		Msg("Exam submitted and graded")
	return &result, nil
}

func (s *AttemptService) storedResult(ctx context.Context, examID uuid.UUID, studentID int) (*model.SubmitResult, error) {
	data, err := s.rdb.Get(ctx, config.CacheKey.AttemptResultKey(examID.String(), studentID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get stored result: %w", err)
	}
	var result model.SubmitResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("unmarshal stored result: %w", err)
	}
	return &result, nil
}
