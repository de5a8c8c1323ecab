package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// StudentSessionKey holds the JTI of the student's single active login.
func (r *CacheKeyStruct) StudentSessionKey(studentID int) string {
	return fmt.Sprintf("login:%d", studentID)
}

// AttemptStartKey holds the Unix start time of a student's attempt.
func (r *CacheKeyStruct) AttemptStartKey(examID string, studentID int) string {
	return fmt.Sprintf("student:%d:exam:%s:session_start", studentID, examID)
}

// AttemptAnswersKey is the hash of question ID -> encoded selection.
func (r *CacheKeyStruct) AttemptAnswersKey(examID string, studentID int) string {
	return fmt.Sprintf("student:%d:exam:%s:answers", studentID, examID)
}

// AttemptChoiceOrderKey holds the per-question choice permutations,
// generated once per student.
func (r *CacheKeyStruct) AttemptChoiceOrderKey(examID string, studentID int) string {
	return fmt.Sprintf("student:%d:exam:%s:choice_order", studentID, examID)
}

// AttemptSubmitLockKey is the single-flight guard taken by the first submit.
func (r *CacheKeyStruct) AttemptSubmitLockKey(examID string, studentID int) string {
	return fmt.Sprintf("student:%d:exam:%s:submit_lock", studentID, examID)
}

// AttemptResultKey stores the graded outcome returned to duplicate submits.
func (r *CacheKeyStruct) AttemptResultKey(examID string, studentID int) string {
	return fmt.Sprintf("student:%d:exam:%s:result", studentID, examID)
}

// ExamPayloadKey returns the cache key for an exam's student payload.
func (r *CacheKeyStruct) ExamPayloadKey(examID string) string {
	return fmt.Sprintf("exam:%s:payload", examID)
}

// ExamDurationKey returns the cache key for an exam's duration in minutes.
func (r *CacheKeyStruct) ExamDurationKey(examID string) string {
	return fmt.Sprintf("exam:%s:duration", examID)
}

// ExamAnswerKey returns the cache key for an exam's answer key hash.
func (r *CacheKeyStruct) ExamAnswerKey(examID string) string {
	return fmt.Sprintf("exam:%s:key", examID)
}

// RateLimitKey counts requests of one subject in one window.
func (r *CacheKeyStruct) RateLimitKey(scope, subject string, window int64) string {
	return fmt.Sprintf("ratelimit:%s:%s:%d", scope, subject, window)
}

var CacheKey = NewCacheKeyStruct()
