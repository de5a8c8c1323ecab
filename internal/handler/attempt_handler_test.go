package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/middleware"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/service"
	ws "github.com/stemsi/exstem-attempt/internal/websocket"
)

type fakeAttempts struct {
	mu       sync.Mutex
	examID   uuid.UUID
	session  *model.ExamSession
	saved    map[string][]string
	submits  int
	saveErr  error
	submitFn func() (*model.SubmitResult, error)
}

func newFakeAttempts() *fakeAttempts {
	return &fakeAttempts{examID: uuid.New(), saved: map[string][]string{}}
}

func (f *fakeAttempts) StartAttempt(_ context.Context, examID uuid.UUID, studentID int) (*model.ExamSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if examID != f.examID {
		return nil, service.ErrExamNotAvailable
	}
	if f.session == nil {
		f.session = &model.ExamSession{ID: uuid.New(), ExamID: examID, StudentID: studentID, Status: model.SessionStatusInProgress}
	}
	return f.session, nil
}

func (f *fakeAttempts) GetSession(_ context.Context, examID uuid.UUID, _ int) (*model.ExamSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.session == nil || examID != f.examID {
		return nil, service.ErrNoActiveSession
	}
	return f.session, nil
}

func (f *fakeAttempts) GetAttemptState(_ context.Context, sess *model.ExamSession) (*model.ExamSessionState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	answers := make(map[string][]string, len(f.saved))
	for k, v := range f.saved {
		answers[k] = v
	}
	return &model.ExamSessionState{
		AttemptID:        sess.ID,
		ExamID:           sess.ExamID,
		Status:           sess.Status,
		TotalSeconds:     600,
		RemainingSeconds: 540,
		AutosavedAnswers: answers,
	}, nil
}

func (f *fakeAttempts) SaveAnswer(_ context.Context, _ uuid.UUID, _ int, qid string, sel []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved[qid] = sel
	return nil
}

func (f *fakeAttempts) Submit(context.Context, uuid.UUID, int) (*model.SubmitResult, error) {
	f.mu.Lock()
	f.submits++
	fn := f.submitFn
	f.mu.Unlock()
	if fn != nil {
		return fn()
	}
	return &model.SubmitResult{Status: model.SessionStatusCompleted, Score: 50, Correct: 1, Total: 2}, nil
}

// withClaims stands in for the JWT middleware.
func withClaims(studentID int) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.ContextKeyClaims, &service.Claims{StudentID: studentID})
		c.Next()
	}
}

func newTestEngine(f *fakeAttempts) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewAttemptHandler(f, zerolog.Nop())
	wsh := NewWSHandler(f, zerolog.Nop(), nil, time.Second)
	r.Use(withClaims(7))
	r.POST("/exams/:exam_id/start", h.StartAttempt)
	r.GET("/exams/:exam_id/state", h.GetAttemptState)
	r.GET("/exams/:exam_id/stream", wsh.AttemptStream)
	return r
}

type envelope struct {
	Data  model.ExamSessionState `json:"data"`
	Error *struct {
		Code string `json:"code"`
	} `json:"error"`
}

func doJSON(t *testing.T, r http.Handler, method, path string) (int, envelope) {
	t.Helper()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode %s: %v (%s)", path, err, w.Body.String())
	}
	return w.Code, env
}

func TestStartThenState(t *testing.T) {
	f := newFakeAttempts()
	r := newTestEngine(f)

	code, env := doJSON(t, r, http.MethodGet, "/exams/"+f.examID.String()+"/state")
	if code != http.StatusForbidden || env.Error == nil || env.Error.Code != "NO_ACTIVE_SESSION" {
		t.Fatalf("state before start = %d %+v", code, env.Error)
	}

	code, env = doJSON(t, r, http.MethodPost, "/exams/"+f.examID.String()+"/start")
	if code != http.StatusOK || env.Data.RemainingSeconds != 540 {
		t.Fatalf("start = %d %+v", code, env)
	}

	code, env = doJSON(t, r, http.MethodGet, "/exams/"+f.examID.String()+"/state")
	if code != http.StatusOK || env.Data.AttemptID != f.session.ID {
		t.Fatalf("state = %d %+v", code, env)
	}
}

func TestStartErrors(t *testing.T) {
	f := newFakeAttempts()
	r := newTestEngine(f)

	code, env := doJSON(t, r, http.MethodPost, "/exams/not-a-uuid/start")
	if code != http.StatusBadRequest || env.Error.Code != "INVALID_ID" {
		t.Fatalf("bad id = %d %+v", code, env.Error)
	}
	code, env = doJSON(t, r, http.MethodPost, "/exams/"+uuid.NewString()+"/start")
	if code != http.StatusBadRequest || env.Error.Code != "EXAM_NOT_AVAILABLE" {
		t.Fatalf("unknown exam = %d %+v", code, env.Error)
	}
}

func dialStream(t *testing.T, f *fakeAttempts) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(newTestEngine(f))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/exams/" + f.examID.String() + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func exchange(t *testing.T, conn *websocket.Conn, req any) ws.ResponsePayload {
	t.Helper()
	if err := conn.WriteJSON(req); err != nil {
		t.Fatalf("write: %v", err)
	}
	var resp ws.ResponsePayload
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("read: %v", err)
	}
	return resp
}

func TestStreamRequiresSession(t *testing.T) {
	f := newFakeAttempts()
	srv := httptest.NewServer(newTestEngine(f))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/exams/" + f.examID.String() + "/stream"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil || resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("dial without session: err=%v resp=%v", err, resp)
	}
}

func TestStreamAutosaveAndSubmit(t *testing.T) {
	f := newFakeAttempts()
	f.StartAttempt(context.Background(), f.examID, 7)
	conn := dialStream(t, f)
	qid := uuid.NewString()

	resp := exchange(t, conn, ws.RequestPayload{Action: ws.ActionAutosave, ReqID: "r1", QID: qid, Selection: []string{"2"}})
	if resp.Event != ws.EventSuccess || resp.ReqID != "r1" || resp.Status != ws.StatusSaved {
		t.Fatalf("autosave reply = %+v", resp)
	}
	f.mu.Lock()
	got := f.saved[qid]
	f.mu.Unlock()
	if len(got) != 1 || got[0] != "2" {
		t.Fatalf("saved = %v", got)
	}

	resp = exchange(t, conn, ws.RequestPayload{Action: ws.ActionSubmit, ReqID: "r2"})
	if resp.Event != ws.EventGraded || resp.ReqID != "r2" || resp.Score == nil || *resp.Score != 50 {
		t.Fatalf("submit reply = %+v", resp)
	}

	resp = exchange(t, conn, ws.RequestPayload{Action: ws.ActionPing, ReqID: "r3"})
	if resp.Event != ws.EventPong || resp.ReqID != "r3" {
		t.Fatalf("ping reply = %+v", resp)
	}
}

func TestStreamRejectsInvalidFrames(t *testing.T) {
	f := newFakeAttempts()
	f.StartAttempt(context.Background(), f.examID, 7)
	conn := dialStream(t, f)

	cases := []struct {
		name string
		req  any
		code string
	}{
		{"missing q_id", ws.RequestPayload{Action: ws.ActionAutosave, ReqID: "a"}, "VALIDATION_ERROR"},
		{"bad q_id", ws.RequestPayload{Action: ws.ActionAutosave, ReqID: "b", QID: "x"}, "VALIDATION_ERROR"},
		{"unknown action", map[string]string{"action": "grade", "req_id": "c"}, "VALIDATION_ERROR"},
		{"malformed", map[string]any{"action": 5}, "INVALID_PAYLOAD"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := exchange(t, conn, tc.req)
			if resp.Event != ws.EventError || resp.Error != tc.code {
				t.Fatalf("reply = %+v, want %s", resp, tc.code)
			}
		})
	}
}

func TestStreamMapsServiceErrors(t *testing.T) {
	f := newFakeAttempts()
	f.StartAttempt(context.Background(), f.examID, 7)
	f.saveErr = service.ErrSessionCompleted
	f.submitFn = func() (*model.SubmitResult, error) { return nil, service.ErrSubmitInProgress }
	conn := dialStream(t, f)

	resp := exchange(t, conn, ws.RequestPayload{Action: ws.ActionAutosave, ReqID: "a", QID: uuid.NewString(), Selection: []string{"0"}})
	if resp.Error != "SESSION_COMPLETED" {
		t.Fatalf("autosave reply = %+v", resp)
	}
	resp = exchange(t, conn, ws.RequestPayload{Action: ws.ActionSubmit, ReqID: "b"})
	if resp.Error != "SUBMIT_IN_PROGRESS" || resp.ReqID != "b" {
		t.Fatalf("submit reply = %+v", resp)
	}
}
