// Package client talks to the attempt API: HTTP for starting and hydrating
// an attempt, and a WebSocket stream that backs the engine's Persister and
// Submitter.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-attempt/internal/attempt"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/response"
)

// HTTP is the REST side of the attempt API.
type HTTP struct {
	baseURL string
	token   string
	hc      *http.Client
}

// NewHTTP creates a client for baseURL (e.g. http://localhost:8080).
func NewHTTP(baseURL, token string, timeout time.Duration) *HTTP {
	return &HTTP{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		hc:      &http.Client{Timeout: timeout},
	}
}

// StartAttempt starts (or resumes) the attempt and returns its state.
func (c *HTTP) StartAttempt(ctx context.Context, examID string) (*model.ExamSessionState, error) {
	return c.state(ctx, http.MethodPost, examID, "start")
}

// GetState fetches the hydration state of an existing attempt.
func (c *HTTP) GetState(ctx context.Context, examID string) (*model.ExamSessionState, error) {
	return c.state(ctx, http.MethodGet, examID, "state")
}

func (c *HTTP) state(ctx context.Context, method, examID, action string) (*model.ExamSessionState, error) {
	endpoint := fmt.Sprintf("%s/api/v1/student/exams/%s/%s", c.baseURL, url.PathEscape(examID), action)
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set(response.HeaderRequestID, uuid.NewString())

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, action, err)
	}
	defer resp.Body.Close()

	var env struct {
		Data  json.RawMessage     `json:"data"`
		Error *response.ErrorBody `json:"error"`
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", action, err)
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode %s response (status %d): %w", action, resp.StatusCode, err)
	}
	if env.Error != nil {
		return nil, env.Error
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: unexpected status %d", action, resp.StatusCode)
	}

	var state model.ExamSessionState
	if err := json.Unmarshal(env.Data, &state); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	return &state, nil
}

// ToAttempt converts the server's hydration payload into engine input.
func ToAttempt(state *model.ExamSessionState) attempt.Attempt {
	questions := make([]attempt.Question, len(state.Questions))
	for i, q := range state.Questions {
		questions[i] = attempt.Question{
			ID:      q.ID.String(),
			Content: q.QuestionText,
			Choices: q.Choices,
		}
	}

	answers := make(map[string]attempt.Selection, len(state.AutosavedAnswers))
	for qid, sel := range state.AutosavedAnswers {
		answers[qid] = attempt.Selection(sel)
	}

	return attempt.Attempt{
		ID:               state.AttemptID.String(),
		ActivityID:       state.ExamID.String(),
		TotalSeconds:     state.TotalSeconds,
		RemainingSeconds: state.RemainingSeconds,
		Questions:        questions,
		ShuffleMaps:      state.ShuffleMaps,
		Answers:          answers,
	}
}
