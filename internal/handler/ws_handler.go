package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/middleware"
	"github.com/stemsi/exstem-attempt/internal/response"
	"github.com/stemsi/exstem-attempt/internal/service"
	"github.com/stemsi/exstem-attempt/internal/validator"
	ws "github.com/stemsi/exstem-attempt/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// An empty allowedOrigins permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams autosaves and the submission of one attempt.
type WSHandler struct {
	attempts       AttemptService
	log            zerolog.Logger
	upgrader       websocket.Upgrader
	requestTimeout time.Duration
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(attempts AttemptService, log zerolog.Logger, allowedOrigins []string, requestTimeout time.Duration) *WSHandler {
	if requestTimeout <= 0 {
		requestTimeout = 10 * time.Second
	}
	return &WSHandler{
		attempts:       attempts,
		log:            log.With().Str("component", "ws_handler").Logger(),
		upgrader:       buildUpgrader(allowedOrigins),
		requestTimeout: requestTimeout,
	}
}

// AttemptStream godoc
// WS /ws/v1/student/exams/:exam_id/stream
// Upgrades to WebSocket for autosave and submission. Every reply echoes the
// req_id of the frame it answers.
func (h *WSHandler) AttemptStream(c *gin.Context) {
	claims, examID, ok := attemptParams(c)
	if !ok {
		return
	}
	studentID := claims.StudentID

	// SECURITY: validate the attempt exists before upgrading.
	if _, err := h.attempts.GetSession(c.Request.Context(), examID, studentID); err != nil {
		if errors.Is(err, service.ErrNoActiveSession) {
			response.Fail(c, http.StatusForbidden, response.ErrNoActiveSession)
			return
		}
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().
		Int("student_id", studentID).
		Str("exam_id", examID.String()).
		Logger()
	wsLog.Info().Msg("Student connected")

	for {
		var msg ws.RequestPayload
		if err := ws.ReadJSON(conn, &msg); err != nil {
			if isDecodeError(err) {
				ws.WriteError(conn, "", string(response.ErrInvalidPayload))
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		if fields := validator.Struct(&msg); fields != nil {
			ws.WriteError(conn, msg.ReqID, string(response.ErrValidation))
			wsLog.Debug().Interface("fields", fields).Msg("Invalid frame")
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), h.requestTimeout)
		switch msg.Action {
		case ws.ActionAutosave:
			h.handleAutosave(ctx, conn, wsLog, studentID, examID, &msg)
		case ws.ActionSubmit:
			h.handleSubmit(ctx, conn, wsLog, studentID, examID, &msg)
		case ws.ActionPing:
			ws.WriteEvent(conn, ws.EventPong, msg.ReqID, "")
		default:
			ws.WriteError(conn, msg.ReqID, string(response.ErrUnknownAction))
		}
		cancel()
	}
}

// handleAutosave stores one question's selection and queues it for persistence.
func (h *WSHandler) handleAutosave(ctx context.Context, conn *websocket.Conn, wsLog zerolog.Logger, studentID int, examID uuid.UUID, msg *ws.RequestPayload) {
	err := h.attempts.SaveAnswer(ctx, examID, studentID, msg.QID, msg.Selection)
	if err != nil {
		code := errorCode(err, response.ErrAutosaveFailed)
		if code == response.ErrAutosaveFailed {
			wsLog.Error().Err(err).Str("q_id", msg.QID).Msg("Autosave failed")
		}
		ws.WriteError(conn, msg.ReqID, string(code))
		return
	}
	ws.WriteEvent(conn, ws.EventSuccess, msg.ReqID, ws.StatusSaved)
}

// handleSubmit grades the attempt once; duplicates get the stored result.
func (h *WSHandler) handleSubmit(ctx context.Context, conn *websocket.Conn, wsLog zerolog.Logger, studentID int, examID uuid.UUID, msg *ws.RequestPayload) {
	result, err := h.attempts.Submit(ctx, examID, studentID)
	if err != nil {
		code := errorCode(err, response.ErrSubmitFailed)
		if code == response.ErrSubmitFailed {
			wsLog.Error().Err(err).Msg("Submit failed")
		}
		ws.WriteError(conn, msg.ReqID, string(code))
		return
	}

	score, correct, total := result.Score, result.Correct, result.Total
	ws.WriteTyped(conn, ws.ResponsePayload{
		Event:   ws.EventGraded,
		ReqID:   msg.ReqID,
		Status:  ws.StatusCompleted,
		Score:   &score,
		Correct: &correct,
		Total:   &total,
	})
}

// isDecodeError reports a malformed frame; the connection is still usable.
func isDecodeError(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr)
}

func errorCode(err error, fallback response.ErrCode) response.ErrCode {
	switch {
	case errors.Is(err, service.ErrSessionCompleted):
		return response.ErrSessionCompleted
	case errors.Is(err, service.ErrUnknownQuestion):
		return response.ErrUnknownQuestion
	case errors.Is(err, service.ErrInvalidSelection):
		return response.ErrInvalidSelection
	case errors.Is(err, service.ErrSubmitInProgress):
		return response.ErrSubmitInProgress
	case errors.Is(err, service.ErrNoActiveSession):
		return response.ErrNoActiveSession
	default:
		return fallback
	}
}
