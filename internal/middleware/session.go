package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-attempt/internal/response"
	"github.com/stemsi/exstem-attempt/internal/service"
)

// CheckSingleDeviceSession validates the JWT's JTI against the active session in Redis.
// If the JTI doesn't match, the request is rejected (the session was reset or
// the student logged in elsewhere).
func CheckSingleDeviceSession(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetClaims(c)
		if claims == nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}

		err := authService.ValidateStudentSession(c.Request.Context(), claims.StudentID, claims.ID)
		switch {
		case err == nil:
			c.Next()
		case errors.Is(err, service.ErrSessionInvalidated), errors.Is(err, service.ErrNoLoginSession):
			response.AbortFail(c, http.StatusUnauthorized, response.ErrSessionInvalidated)
		default:
			response.AbortFail(c, http.StatusInternalServerError, response.ErrInternal)
		}
	}
}
