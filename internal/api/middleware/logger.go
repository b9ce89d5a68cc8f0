// Package middleware provides the HTTP middleware of the API server.
package middleware

import (
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// sensitiveParams lists query parameter names whose values must be
// redacted from logs. Agent tokens travel in headers, but downloads
// accept a token parameter.
var sensitiveParams = map[string]bool{
	"token":    true,
	"password": true,
	"secret":   true,
}

// redactQueryString blanks the values of sensitive parameters in place,
// keeping the original pair order and encoding of everything else. Query
// strings that fail to split cleanly are passed through untouched rather
// than dropped, so the log line still shows what was requested.
func redactQueryString(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}

	pairs := strings.Split(rawQuery, "&")
	changed := false
	for i, pair := range pairs {
		name, _, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		key, err := url.QueryUnescape(name)
		if err != nil {
			key = name
		}
		if sensitiveParams[strings.ToLower(key)] {
			pairs[i] = name + "=[REDACTED]"
			changed = true
		}
	}

	if !changed {
		return rawQuery
	}
	return strings.Join(pairs, "&")
}

// RequestLogger returns a middleware that logs HTTP requests using zerolog.
func RequestLogger(logger zerolog.Logger) gin.HandlerFunc {
	log := logger.With().Str("component", "http").Logger()

	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := redactQueryString(c.Request.URL.RawQuery)

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		event := log.Info()
		if status >= 400 && status < 500 {
			event = log.Warn()
		} else if status >= 500 {
			event = log.Error()
		}

		event.
			Str("method", c.Request.Method).
			Str("path", path).
			Str("query", query).
			Int("status", status).
			Dur("latency", latency).
			Str("client_ip", c.ClientIP()).
			Int("bytes_out", c.Writer.Size()).
			Msg("request")
	}
}
