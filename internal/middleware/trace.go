package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Trace assigns or reuses the correlation id. It runs first so every later
// log line and error body carries it. An inbound value that is not a valid
// UUID is replaced rather than trusted.
func Trace() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := strings.TrimSpace(c.GetHeader(TraceHeader))
		if _, err := uuid.Parse(traceID); err != nil {
			traceID = uuid.NewString()
		}

		c.Set(traceIDKey, traceID)
		c.Request.Header.Set(TraceHeader, traceID)
		c.Writer.Header().Set(TraceHeader, traceID)
		c.Next()
	}
}
