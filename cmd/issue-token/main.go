package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/database"
	"github.com/stemsi/exstem-attempt/internal/logger"
	"github.com/stemsi/exstem-attempt/internal/service"
)

// issue-token mints a student JWT for local testing. With -reset the
// student's current login is dropped first.
func main() {
	studentID := flag.Int("student", 0, "student ID")
	reset := flag.Bool("reset", false, "drop the student's active login before issuing")
	flag.Parse()

	if *studentID <= 0 {
		fmt.Fprintln(os.Stderr, "Error: -student is required")
		flag.Usage()
		os.Exit(2)
	}

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	auth := service.NewAuthService(cfg, rdb)

	if *reset {
		if err := auth.ResetStudentSession(ctx, *studentID); err != nil {
			log.Fatal().Err(err).Msg("Failed to reset session")
		}
		log.Info().Int("student_id", *studentID).Msg("Session reset")
	}

	token, err := auth.GenerateStudentToken(ctx, *studentID)
	if errors.Is(err, service.ErrSessionAlreadyActive) {
		log.Fatal().Int("student_id", *studentID).Msg("Student already has an active login, rerun with -reset")
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to issue token")
	}

	fmt.Println(token)
}
