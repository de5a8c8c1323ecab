package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/middleware"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/response"
	"github.com/stemsi/exstem-attempt/internal/service"
)

// AttemptService is what the HTTP and WebSocket handlers need from
// *service.AttemptService.
type AttemptService interface {
	StartAttempt(ctx context.Context, examID uuid.UUID, studentID int) (*model.ExamSession, error)
	GetSession(ctx context.Context, examID uuid.UUID, studentID int) (*model.ExamSession, error)
	GetAttemptState(ctx context.Context, sess *model.ExamSession) (*model.ExamSessionState, error)
	SaveAnswer(ctx context.Context, examID uuid.UUID, studentID int, questionID string, sel []string) error
	Submit(ctx context.Context, examID uuid.UUID, studentID int) (*model.SubmitResult, error)
}

// AttemptHandler handles the student attempt endpoints.
type AttemptHandler struct {
	attempts AttemptService
	log      zerolog.Logger
}

// NewAttemptHandler creates a new AttemptHandler.
func NewAttemptHandler(attempts AttemptService, log zerolog.Logger) *AttemptHandler {
	return &AttemptHandler{
		attempts: attempts,
		log:      log.With().Str("component", "attempt_handler").Logger(),
	}
}

// StartAttempt godoc
// POST /api/v1/student/exams/:exam_id/start
// Creates the student's attempt (idempotent) and returns its hydration state.
func (h *AttemptHandler) StartAttempt(c *gin.Context) {
	claims, examID, ok := attemptParams(c)
	if !ok {
		return
	}

	sess, err := h.attempts.StartAttempt(c.Request.Context(), examID, claims.StudentID)
	if err != nil {
		if errors.Is(err, service.ErrExamNotAvailable) {
			response.Fail(c, http.StatusBadRequest, response.ErrExamNotAvailable)
			return
		}
		h.log.Error().Err(err).Str("exam_id", examID.String()).Msg("Start attempt failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	h.writeState(c, sess)
}

// GetAttemptState godoc
// GET /api/v1/student/exams/:exam_id/state
// Returns the current state of the attempt. This covers page reloads: the
// client gets the autosaved answers, the choice order and the remaining time.
func (h *AttemptHandler) GetAttemptState(c *gin.Context) {
	claims, examID, ok := attemptParams(c)
	if !ok {
		return
	}

	// SECURITY: only the owner of an attempt can read it.
	sess, err := h.attempts.GetSession(c.Request.Context(), examID, claims.StudentID)
	if err != nil {
		if errors.Is(err, service.ErrNoActiveSession) {
			response.Fail(c, http.StatusForbidden, response.ErrNoActiveSession)
			return
		}
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	h.writeState(c, sess)
}

func (h *AttemptHandler) writeState(c *gin.Context, sess *model.ExamSession) {
	state, err := h.attempts.GetAttemptState(c.Request.Context(), sess)
	if err != nil {
		if errors.Is(err, service.ErrExamNotPublished) {
			response.Fail(c, http.StatusNotFound, response.ErrExamNotPublished)
			return
		}
		h.log.Error().Err(err).Str("attempt_id", sess.ID.String()).Msg("Get attempt state failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	response.Success(c, http.StatusOK, state)
}

func attemptParams(c *gin.Context) (*service.Claims, uuid.UUID, bool) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return nil, uuid.Nil, false
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return nil, uuid.Nil, false
	}
	return claims, examID, true
}
