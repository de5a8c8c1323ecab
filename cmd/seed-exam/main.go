package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/database"
	"github.com/stemsi/exstem-attempt/internal/logger"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/repository"
	"github.com/stemsi/exstem-attempt/internal/service"
)

// seed-exam creates a published arithmetic exam for local runs.
func main() {
	title := flag.String("title", "Latihan Aritmetika", "exam title")
	minutes := flag.Int("minutes", 15, "duration in minutes")
	count := flag.Int("questions", 10, "number of questions")
	shuffle := flag.Bool("shuffle", true, "shuffle choices per student")
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	examRepo := repository.NewExamRepository(pool)
	questionRepo := repository.NewQuestionRepository(pool)
	examService := service.NewExamService(examRepo, questionRepo, rdb, log)

	exam := &model.Exam{
		Title:           *title,
		DurationMinutes: *minutes,
		ShuffleChoices:  *shuffle,
		Status:          model.ExamStatusDraft,
	}
	if err := examRepo.Create(ctx, exam); err != nil {
		log.Fatal().Err(err).Msg("Failed to create exam")
	}

	for i := range *count {
		q := arithmeticQuestion(i + 1)
		q.ExamID = exam.ID
		if err := questionRepo.Create(ctx, &q); err != nil {
			log.Fatal().Err(err).Int("order", i+1).Msg("Failed to create question")
		}
	}

	if err := examService.Publish(ctx, exam.ID); err != nil {
		log.Fatal().Err(err).Msg("Failed to publish exam")
	}

	log.Info().
		Str("exam_id", exam.ID.String()).
		Int("questions", *count).
		Int("duration_minutes", *minutes).
		Msg("Exam seeded and published")
	fmt.Println(exam.ID)
}

// arithmeticQuestion builds "a + b" with four distinct choices; the correct
// one lands at a random canonical index.
func arithmeticQuestion(order int) model.Question {
	a, b := rand.IntN(50)+1, rand.IntN(50)+1
	sum := a + b

	choices := []string{strconv.Itoa(sum), strconv.Itoa(sum + 1), strconv.Itoa(sum - 1), strconv.Itoa(sum + 10)}
	rand.Shuffle(len(choices), func(i, j int) { choices[i], choices[j] = choices[j], choices[i] })

	correct := 0
	for i, c := range choices {
		if c == strconv.Itoa(sum) {
			correct = i
		}
	}
	return model.Question{
		QuestionText:  fmt.Sprintf("%d + %d = ?", a, b),
		Choices:       choices,
		CorrectOption: correct,
		OrderNum:      order,
	}
}
