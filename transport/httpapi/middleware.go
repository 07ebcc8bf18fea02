package httpapi

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-payhooks/core"
	"github.com/google/uuid"
)

const HeaderRequestID = "X-Request-Id"

func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := strings.TrimSpace(c.GetHeader(HeaderRequestID))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Writer.Header().Set(HeaderRequestID, requestID)
		c.Request = c.Request.WithContext(core.ContextWithRequestID(c.Request.Context(), requestID))
		c.Next()
	}
}

func LoggingMiddleware(instr core.Instrumentation) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := map[string]any{
			"method":      c.Request.Method,
			"path":        c.FullPath(),
			"status":      c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			instr.Error(c.Request.Context(), "http request failed", fields)
			return
		}
		instr.Debug(c.Request.Context(), "http request served", fields)
	}
}

// AdminAuthMiddleware requires "Authorization: Bearer <token>".
func AdminAuthMiddleware(token string) gin.HandlerFunc {
	expected := []byte(token)
	return func(c *gin.Context) {
		presented := strings.TrimSpace(strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer "))
		if presented == "" || subtle.ConstantTimeCompare([]byte(presented), expected) != 1 {
			writeError(c, goerrors.New("httpapi: admin token required", goerrors.CategoryAuth).
				WithCode(http.StatusUnauthorized).
				WithTextCode(core.ErrorUnauthorized))
			c.Abort()
			return
		}
		c.Next()
	}
}
