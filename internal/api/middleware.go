package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"pickofgods/internal/logger"
)

const requestIDHeader = "X-Request-ID"

// requestID tags the request context with an id for log correlation.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Writer.Header().Set(requestIDHeader, id)
		c.Request = c.Request.WithContext(logger.WithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

func requestLogger(l logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		latency := time.Since(start)
		ctx := c.Request.Context()
		switch {
		case status >= http.StatusInternalServerError:
			l.Errorf(ctx, "%s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path, status, latency)
		case status >= http.StatusBadRequest:
			l.Warnf(ctx, "%s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path, status, latency)
		default:
			l.Infof(ctx, "%s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path, status, latency)
		}
	}
}

// recovery turns a panic into a bare 500 so no internals leak.
func recovery(l logger.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, err any) {
		l.Errorf(c.Request.Context(), "panic serving %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
	})
}
