package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// CorrelationIDKey is the gin context key holding the request correlation id.
const CorrelationIDKey = "correlation_id"

// CorrelationIDHeader carries the correlation id on requests and responses.
const CorrelationIDHeader = "X-Correlation-ID"

// SecurityHeaders adds security headers to all responses
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")

		// Enforce HTTPS (only in production)
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		// Responses are JSON only; nothing may be loaded or framed from them
		c.Header("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		c.Header("Referrer-Policy", "no-referrer")

		// Risk results are patient data
		c.Header("Cache-Control", "no-store")

		c.Next()
	}
}

// CorrelationID adds a unique correlation ID to each request for audit trails
func CorrelationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationID := c.GetHeader(CorrelationIDHeader)
		if correlationID == "" {
			correlationID = uuid.NewString()
		}

		c.Set(CorrelationIDKey, correlationID)
		c.Header(CorrelationIDHeader, correlationID)

		c.Next()
	}
}

// RequestTimeout bounds the request context. Handlers observe the deadline through
// c.Request.Context().
func RequestTimeout(timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if timeout <= 0 {
			c.Next()
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// BodyLimit caps the request body size. Reads past the limit fail with *http.MaxBytesError.
func BodyLimit(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if maxBytes > 0 && c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		}
		c.Next()
	}
}

// CORS allows browser-based CDS clients to call the service.
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, "+CorrelationIDHeader)

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// AuditLogger writes one structured entry per request. Bodies are never logged.
func AuditLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		entry := logger.WithFields(logrus.Fields{
			"correlation_id": c.GetString(CorrelationIDKey),
			"method":         c.Request.Method,
			"path":           path,
			"route":          c.FullPath(),
			"status":         c.Writer.Status(),
			"latency_ms":     time.Since(start).Milliseconds(),
			"client_ip":      c.ClientIP(),
			"user_agent":     c.Request.UserAgent(),
			"response_size":  c.Writer.Size(),
		})

		switch status := c.Writer.Status(); {
		case status >= http.StatusInternalServerError:
			entry.Error("Request failed")
		case status >= http.StatusBadRequest:
			entry.Warn("Request rejected")
		default:
			entry.Info("Request completed")
		}
	}
}
