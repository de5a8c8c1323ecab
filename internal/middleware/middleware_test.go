package middleware

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/andybalholm/brotli"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/response"
	"github.com/stemsi/exstem-attempt/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func newAuth(t *testing.T) (*service.AuthService, *redis.Client) {
	t.Helper()
	rdb := newRedis(t)
	return service.NewAuthService(&config.Config{JWTSecret: "test-secret", JWTExpiry: time.Hour}, rdb), rdb
}

func errorCode(t *testing.T, body []byte) response.ErrCode {
	t.Helper()
	var env struct {
		Error *response.ErrorBody `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		t.Fatalf("decode envelope: %v (%s)", err, body)
	}
	if env.Error == nil {
		return ""
	}
	return env.Error.Code
}

func TestRequireStudentJWT(t *testing.T) {
	auth, _ := newAuth(t)
	token, err := auth.GenerateStudentToken(context.Background(), 7)
	if err != nil {
		t.Fatalf("token: %v", err)
	}

	r := gin.New()
	r.GET("/me", RequireStudentJWT(auth), CheckSingleDeviceSession(auth), func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"student_id": GetClaims(c).StudentID})
	})

	cases := []struct {
		name   string
		target string
		header string
		status int
		code   response.ErrCode
	}{
		{"missing", "/me", "", http.StatusUnauthorized, response.ErrTokenRequired},
		{"garbage", "/me", "Bearer nope", http.StatusUnauthorized, response.ErrTokenInvalid},
		{"header", "/me", "Bearer " + token, http.StatusOK, ""},
		{"query", "/me?token=" + token, "", http.StatusOK, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.target, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tc.status {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tc.status, w.Body)
			}
			if got := errorCode(t, w.Body.Bytes()); got != tc.code {
				t.Errorf("code = %q, want %q", got, tc.code)
			}
		})
	}
}

func TestCheckSingleDeviceSessionAfterReset(t *testing.T) {
	auth, _ := newAuth(t)
	ctx := context.Background()
	token, err := auth.GenerateStudentToken(ctx, 7)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if err := auth.ResetStudentSession(ctx, 7); err != nil {
		t.Fatalf("reset: %v", err)
	}

	r := gin.New()
	r.GET("/me", RequireStudentJWT(auth), CheckSingleDeviceSession(auth), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if got := errorCode(t, w.Body.Bytes()); got != response.ErrSessionInvalidated {
		t.Errorf("code = %q", got)
	}
}

func TestRateLimiterPerClient(t *testing.T) {
	rl := NewRateLimiter(newRedis(t), "start", 2, time.Minute, zerolog.Nop())
	r := gin.New()
	r.POST("/start", rl.Middleware(), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	hit := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/start", nil)
		req.RemoteAddr = ip + ":1234"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	for i := range 2 {
		if w := hit("10.0.0.1"); w.Code != http.StatusNoContent {
			t.Fatalf("request %d status = %d", i+1, w.Code)
		}
	}
	w := hit("10.0.0.1")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("third request status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") != "60" {
		t.Errorf("Retry-After = %q", w.Header().Get("Retry-After"))
	}
	if got := errorCode(t, w.Body.Bytes()); got != response.ErrRateLimitExceeded {
		t.Errorf("code = %q", got)
	}

	if w := hit("10.0.0.2"); w.Code != http.StatusNoContent {
		t.Errorf("other client status = %d", w.Code)
	}
}

func TestRateLimiterFailsOpen(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 50 * time.Millisecond})
	t.Cleanup(func() { rdb.Close() })
	rl := NewRateLimiter(rdb, "start", 1, time.Minute, zerolog.Nop())

	r := gin.New()
	r.POST("/start", rl.Middleware(), func(c *gin.Context) { c.Status(http.StatusNoContent) })
	for i := range 3 {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/start", nil))
		if w.Code != http.StatusNoContent {
			t.Fatalf("request %d status = %d", i+1, w.Code)
		}
	}
}

func TestBrotli(t *testing.T) {
	big := strings.Repeat("soal ", 1000)
	r := gin.New()
	r.Use(Brotli(DefaultCompressMinLength))
	r.GET("/big", func(c *gin.Context) { response.Success(c, http.StatusOK, gin.H{"text": big}) })
	r.GET("/small", func(c *gin.Context) { response.Success(c, http.StatusOK, gin.H{"text": "ok"}) })

	get := func(path, accept string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if accept != "" {
			req.Header.Set("Accept-Encoding", accept)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	t.Run("compresses large bodies", func(t *testing.T) {
		w := get("/big", "gzip, br;q=1.0")
		if w.Header().Get("Content-Encoding") != "br" {
			t.Fatalf("Content-Encoding = %q", w.Header().Get("Content-Encoding"))
		}
		raw, err := io.ReadAll(brotli.NewReader(w.Body))
		if err != nil {
			t.Fatalf("decompress: %v", err)
		}
		var env struct {
			Data struct {
				Text string `json:"text"`
			} `json:"data"`
		}
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if env.Data.Text != big {
			t.Error("payload changed by compression")
		}
	})

	t.Run("leaves small bodies plain", func(t *testing.T) {
		w := get("/small", "br")
		if w.Header().Get("Content-Encoding") != "" {
			t.Fatalf("unexpected Content-Encoding %q", w.Header().Get("Content-Encoding"))
		}
		if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"ok"`) {
			t.Errorf("body = %s", w.Body)
		}
	})

	t.Run("respects Accept-Encoding", func(t *testing.T) {
		w := get("/big", "gzip")
		if w.Header().Get("Content-Encoding") != "" {
			t.Fatalf("unexpected Content-Encoding %q", w.Header().Get("Content-Encoding"))
		}
		if !strings.Contains(w.Body.String(), "soal soal") {
			t.Error("plain body expected")
		}
	})
}
