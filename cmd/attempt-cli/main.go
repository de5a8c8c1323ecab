package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/attempt"
	"github.com/stemsi/exstem-attempt/internal/client"
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/logger"
	"github.com/stemsi/exstem-attempt/internal/model"
	"golang.org/x/term"
)

func main() {
	examID := flag.String("exam", "", "exam ID to attempt")
	flag.Parse()

	cfg := config.Load()
	// Logs go to stderr so they do not interleave with the question view.
	log := logger.New(os.Stderr, parseLevel(cfg.LogLevel, zerolog.WarnLevel), cfg.LogFormat)

	if *examID == "" {
		fmt.Fprintln(os.Stderr, "Error: -exam is required")
		flag.Usage()
		os.Exit(2)
	}

	token := cfg.StudentToken
	if token == "" {
		var err error
		if token, err = promptToken(); err != nil {
			log.Fatal().Err(err).Msg("No student token")
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	api := client.NewHTTP(cfg.APIBaseURL, token, cfg.RequestTimeout)
	state, err := api.StartAttempt(ctx, *examID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start attempt")
	}
	fmt.Printf("%s (%d soal)\n", state.Title, len(state.Questions))
	if state.Status == model.SessionStatusCompleted {
		if state.FinalScore != nil {
			fmt.Printf("Ujian sudah dikumpulkan. Nilai: %.1f\n", *state.FinalScore)
		} else {
			fmt.Println("Ujian sudah dikumpulkan.")
		}
		return
	}

	stream, err := client.DialWS(ctx, cfg.WSBaseURL, *examID, token, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open attempt stream")
	}
	defer stream.Close()

	feed := newEventFeed()
	orch, err := attempt.New(client.ToAttempt(state), stream, stream, attempt.Options{
		Logger:           log,
		Debounce:         cfg.AutosaveDebounce,
		WarningSeconds:   cfg.WarningSeconds,
		CriticalSeconds:  cfg.CriticalSeconds,
		SubmitRetryDelay: cfg.SubmitRetryDelay,
		SubmitRetries:    cfg.SubmitRetries,
		FlushAttempts:    cfg.FlushAttempts,
		Observer:         feed.observe,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load attempt")
	}
	orch.Start()
	defer orch.Close()

	if err := newRunner(orch, os.Stdin, os.Stdout, feed).run(ctx); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("Attempt ended with error")
	}
}

// promptToken asks for the JWT without echoing it.
func promptToken() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("set STUDENT_TOKEN when stdin is not a terminal")
	}
	fmt.Fprint(os.Stderr, "Token siswa: ")
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read token: %w", err)
	}
	token := strings.TrimSpace(string(raw))
	if token == "" {
		return "", errors.New("empty token")
	}
	return token, nil
}

func parseLevel(s string, fallback zerolog.Level) zerolog.Level {
	lvl, err := zerolog.ParseLevel(s)
	if err != nil || s == "" {
		return fallback
	}
	return lvl
}
