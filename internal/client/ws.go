package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/attempt"
	"github.com/stemsi/exstem-attempt/internal/response"
	ws "github.com/stemsi/exstem-attempt/internal/websocket"
)

var ErrConnClosed = errors.New("attempt stream closed")

// RemoteError is an error event returned by the server for one request.
type RemoteError struct {
	Code response.ErrCode
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("server: %s", response.GetMessage(e.Code))
}

// WS is one attempt's stream. It implements attempt.Persister and
// attempt.Submitter; replies are matched to requests by req_id so calls may
// run concurrently.
type WS struct {
	conn *websocket.Conn
	log  zerolog.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan ws.ResponsePayload
	err     error
	done    chan struct{}
}

// DialWS opens the stream of examID on wsBaseURL (e.g. ws://localhost:8080).
func DialWS(ctx context.Context, wsBaseURL, examID, token string, log zerolog.Logger) (*WS, error) {
	endpoint := fmt.Sprintf("%s/ws/v1/student/exams/%s/stream?token=%s",
		strings.TrimRight(wsBaseURL, "/"), url.PathEscape(examID), url.QueryEscape(token))

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial attempt stream: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial attempt stream: %w", err)
	}

	c := &WS{
		conn:    conn,
		log:     log.With().Str("component", "ws_client").Str("exam_id", examID).Logger(),
		pending: make(map[string]chan ws.ResponsePayload),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *WS) readLoop() {
	var err error
	for {
		var msg ws.ResponsePayload
		if err = ws.ReadJSON(c.conn, &msg); err != nil {
			break
		}

		c.mu.Lock()
		ch, ok := c.pending[msg.ReqID]
		delete(c.pending, msg.ReqID)
		c.mu.Unlock()

		if !ok {
			c.log.Debug().Str("event", string(msg.Event)).Str("req_id", msg.ReqID).Msg("Unmatched frame")
			continue
		}
		ch <- msg
	}

	if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		c.log.Warn().Err(err).Msg("Stream closed unexpectedly")
	}
	c.mu.Lock()
	c.err = fmt.Errorf("%w: %v", ErrConnClosed, err)
	c.mu.Unlock()
	close(c.done)
}

func (c *WS) roundTrip(ctx context.Context, req ws.RequestPayload) (ws.ResponsePayload, error) {
	req.ReqID = uuid.NewString()
	ch := make(chan ws.ResponsePayload, 1)

	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return ws.ResponsePayload{}, err
	}
	c.pending[req.ReqID] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, req.ReqID)
		c.mu.Unlock()
	}()

	c.writeMu.Lock()
	err := ws.WriteRequest(c.conn, req)
	c.writeMu.Unlock()
	if err != nil {
		return ws.ResponsePayload{}, fmt.Errorf("send %s: %w", req.Action, err)
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		return ws.ResponsePayload{}, ctx.Err()
	case <-c.done:
		c.mu.Lock()
		defer c.mu.Unlock()
		return ws.ResponsePayload{}, c.err
	}
}

// PersistAnswer autosaves one question. The stream is bound to a single
// attempt, so attemptID is not sent.
func (c *WS) PersistAnswer(ctx context.Context, _, questionID string, sel attempt.Selection) error {
	resp, err := c.roundTrip(ctx, ws.RequestPayload{
		Action:    ws.ActionAutosave,
		QID:       questionID,
		Selection: sel,
	})
	if err != nil {
		return err
	}
	if resp.Event == ws.EventError {
		return &RemoteError{Code: response.ErrCode(resp.Error)}
	}
	return nil
}

// SubmitAttempt finalizes the attempt. A server-side rejection is reported
// as an unsuccessful outcome; transport failures as an error.
func (c *WS) SubmitAttempt(ctx context.Context, _ string) (attempt.SubmitOutcome, error) {
	resp, err := c.roundTrip(ctx, ws.RequestPayload{Action: ws.ActionSubmit})
	if err != nil {
		return attempt.SubmitOutcome{}, err
	}
	switch resp.Event {
	case ws.EventGraded:
		return attempt.SubmitOutcome{Success: true, Score: resp.Score}, nil
	case ws.EventError:
		return attempt.SubmitOutcome{Error: response.GetMessage(response.ErrCode(resp.Error))}, nil
	default:
		return attempt.SubmitOutcome{}, fmt.Errorf("unexpected submit reply %q", resp.Event)
	}
}

// Ping checks the stream is alive.
func (c *WS) Ping(ctx context.Context) error {
	_, err := c.roundTrip(ctx, ws.RequestPayload{Action: ws.ActionPing})
	return err
}

// Close sends a close frame and releases the connection.
func (c *WS) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	return c.conn.Close()
}

var (
	_ attempt.Persister = (*WS)(nil)
	_ attempt.Submitter = (*WS)(nil)
)
