package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-attempt/internal/config"
)

func newAuth(t *testing.T) (*AuthService, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewAuthService(&config.Config{JWTSecret: "test-secret", JWTExpiry: time.Hour}, rdb), mr
}

func TestStudentTokenLifecycle(t *testing.T) {
	auth, _ := newAuth(t)
	ctx := context.Background()

	token, err := auth.GenerateStudentToken(ctx, 42)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	claims, err := auth.ValidateToken(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.StudentID != 42 {
		t.Fatalf("student id = %d", claims.StudentID)
	}
	if err := auth.ValidateStudentSession(ctx, 42, claims.ID); err != nil {
		t.Fatalf("session: %v", err)
	}

	if _, err := auth.GenerateStudentToken(ctx, 42); !errors.Is(err, ErrSessionAlreadyActive) {
		t.Fatalf("second login err = %v", err)
	}

	if err := auth.ResetStudentSession(ctx, 42); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if err := auth.ValidateStudentSession(ctx, 42, claims.ID); !errors.Is(err, ErrNoLoginSession) {
		t.Fatalf("after reset err = %v", err)
	}

	fresh, err := auth.GenerateStudentToken(ctx, 42)
	if err != nil {
		t.Fatalf("relogin: %v", err)
	}
	freshClaims, _ := auth.ValidateToken(fresh)
	if err := auth.ValidateStudentSession(ctx, 42, claims.ID); !errors.Is(err, ErrSessionInvalidated) {
		t.Fatalf("old token err = %v", err)
	}
	if err := auth.ValidateStudentSession(ctx, 42, freshClaims.ID); err != nil {
		t.Fatalf("new token: %v", err)
	}
}

func TestValidateTokenRejectsForeignSecret(t *testing.T) {
	auth, _ := newAuth(t)
	other := NewAuthService(&config.Config{JWTSecret: "other", JWTExpiry: time.Hour}, auth.rdb)

	token, err := other.GenerateStudentToken(context.Background(), 1)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := auth.ValidateToken(token); err == nil {
		t.Fatal("token signed with another secret was accepted")
	}
}
