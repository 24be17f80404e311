package middleware

import (
	"context"
	"strings"

	"contractlab/pkg/utils/contextkey"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	TraceIDHeader   = "X-Trace-Id"
	RequestIDHeader = "X-Request-Id"
	UserIDHeader    = "X-User-Id"
)

// TraceContextConfig controls how trace/request/user id are extracted and written.
type TraceContextConfig struct {
	AllowUserIDHeader bool
	WriteUserIDHeader bool
}

// TraceContextMiddleware ensures trace/request/user id are in context and response headers.
func TraceContextMiddleware() gin.HandlerFunc {
	return TraceContextMiddlewareWithConfig(TraceContextConfig{
		AllowUserIDHeader: true,
		WriteUserIDHeader: true,
	})
}

// TraceContextMiddlewareWithConfig is the configurable version of TraceContextMiddleware.
func TraceContextMiddlewareWithConfig(cfg TraceContextConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		traceID := headerOrNewID(c, TraceIDHeader)
		c.Set("trace_id", traceID)
		ctx = context.WithValue(ctx, contextkey.TraceID, traceID)
		c.Writer.Header().Set(TraceIDHeader, traceID)

		requestID := headerOrNewID(c, RequestIDHeader)
		c.Set("request_id", requestID)
		ctx = context.WithValue(ctx, contextkey.RequestID, requestID)
		c.Writer.Header().Set(RequestIDHeader, requestID)

		if cfg.AllowUserIDHeader {
			if userID := strings.TrimSpace(c.GetHeader(UserIDHeader)); userID != "" {
				c.Set("user_id", userID)
				ctx = context.WithValue(ctx, contextkey.UserID, userID)
				if cfg.WriteUserIDHeader {
					c.Writer.Header().Set(UserIDHeader, userID)
				}
			}
		}

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func headerOrNewID(c *gin.Context, header string) string {
	if value := strings.TrimSpace(c.GetHeader(header)); value != "" {
		return value
	}
	return uuid.NewString()
}
