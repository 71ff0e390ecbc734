package api

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// APIKeyHeader carries the shared secret.
const APIKeyHeader = "X-API-Key"

const requestIDKey = "request_id"

// requestID assigns every request an id: the caller's X-Request-ID when it
// is a UUID, a fresh one otherwise. The id names the stored run.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

func requestIDOf(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Printf("%s %s %d %v request=%s", c.Request.Method, c.Request.URL.Path,
			c.Writer.Status(), time.Since(start).Round(time.Millisecond), requestIDOf(c))
	}
}

// requireAPIKey fails closed: without a configured key no operation runs.
func (s *Server) requireAPIKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.APIKey == "" {
			s.logger.Println("ERROR: server.api_key is not set, refusing operation requests")
			abort(c, http.StatusInternalServerError, "server API key not configured")
			return
		}
		got := c.GetHeader(APIKeyHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.APIKey)) != 1 {
			abort(c, http.StatusUnauthorized, "invalid or missing API key")
			return
		}
		c.Next()
	}
}

func abort(c *gin.Context, status int, detail string) {
	c.AbortWithStatusJSON(status, gin.H{
		"request_id": requestIDOf(c),
		"detail":     detail,
	})
}
