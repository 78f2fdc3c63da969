package middleware

import (
	"context"
	"strings"

	"docpipe/pkg/utils/contextkey"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	traceIDHeader       = "X-Trace-Id"
	requestIDHeader     = "X-Request-Id"
	correlationIDHeader = "X-Correlation-Id"

	traceIDContextKey       = "trace_id"
	requestIDContextKey     = "request_id"
	correlationIDContextKey = "correlation_id"
)

// TraceContextMiddleware ensures trace/request id are in context and response
// headers, and propagates a correlation id when the caller supplies one.
func TraceContextMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := strings.TrimSpace(c.GetHeader(traceIDHeader))
		if traceID == "" {
			traceID = uuid.NewString()
		}
		c.Set(traceIDContextKey, traceID)
		ctx := context.WithValue(c.Request.Context(), contextkey.TraceID, traceID)
		c.Request = c.Request.WithContext(ctx)
		c.Writer.Header().Set(traceIDHeader, traceID)

		requestID := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(requestIDContextKey, requestID)
		ctx = context.WithValue(c.Request.Context(), contextkey.RequestID, requestID)
		c.Request = c.Request.WithContext(ctx)
		c.Writer.Header().Set(requestIDHeader, requestID)

		correlationID := strings.TrimSpace(c.GetHeader(correlationIDHeader))
		if correlationID != "" {
			c.Set(correlationIDContextKey, correlationID)
			ctx = context.WithValue(c.Request.Context(), contextkey.CorrelationID, correlationID)
			c.Request = c.Request.WithContext(ctx)
			c.Writer.Header().Set(correlationIDHeader, correlationID)
		}

		c.Next()
	}
}
