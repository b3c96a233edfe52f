package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	statusWarnThreshold  = 400
	statusErrorThreshold = 500

	requestIDHeader = "X-Request-ID"
)

// ZerologLogger is a Gin middleware that logs requests using zerolog.
// Each request carries an X-Request-ID, generated when the caller sent none.
func ZerologLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(requestIDHeader, requestID)

		c.Next()

		status := c.Writer.Status()
		level := zerolog.InfoLevel
		switch {
		case status >= statusErrorThreshold:
			level = zerolog.ErrorLevel
		case status >= statusWarnThreshold:
			level = zerolog.WarnLevel
		}

		log.WithLevel(level).
			Str("request_id", requestID).
			Int("status", status).
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Int("bytes", c.Writer.Size()).
			Msg("http request completed")
	}
}
