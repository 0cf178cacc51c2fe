// Package logging wires logrus into Gin: request logging with per-request IDs for the
// API surface, panic recovery that answers with the JSON error envelope, and the
// rotating file output used when logging to disk is enabled.
package logging

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loLollipop/refresh-token-got-it/internal/util"
	log "github.com/sirupsen/logrus"
)

// apiPrefix marks the paths that receive a request ID.
const apiPrefix = "/api/"

// RequestIDHeader carries the request ID back to the caller.
const RequestIDHeader = "X-Request-ID"

const skipGinLogKey = "__gin_skip_request_logging__"

// GinLogrusLogger returns a Gin middleware handler that logs HTTP requests and responses
// using logrus. Query strings are masked before they are logged so authorization codes,
// states and verifiers never reach the log.
//
// Output format (API):    [2025-12-23 20:14:10] [a1b2c3d4] [info ] 200 |     230ms |       127.0.0.1 | POST    "/api/exchange-code"
// Output format (others): [2025-12-23 20:14:10] [--------] [info ] 200 |       1ms |       127.0.0.1 | GET     "/app.js"
func GinLogrusLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := util.MaskSensitiveQuery(c.Request.URL.RawQuery)

		var requestID string
		if strings.HasPrefix(path, apiPrefix) {
			requestID = GenerateRequestID()
			SetGinRequestID(c, requestID)
			c.Request = c.Request.WithContext(WithRequestID(c.Request.Context(), requestID))
			c.Header(RequestIDHeader, requestID)
		}

		c.Next()

		if shouldSkipGinRequestLogging(c) {
			return
		}

		if raw != "" {
			path = path + "?" + raw
		}

		latency := time.Since(start)
		if latency > time.Minute {
			latency = latency.Truncate(time.Second)
		} else {
			latency = latency.Truncate(time.Millisecond)
		}

		statusCode := c.Writer.Status()
		logLine := fmt.Sprintf("%3d | %9v | %15s | %-7s \"%s\"", statusCode, latency, c.ClientIP(), c.Request.Method, path)
		if errorMessage := c.Errors.ByType(gin.ErrorTypePrivate).String(); errorMessage != "" {
			logLine = logLine + " | " + errorMessage
		}

		if requestID == "" {
			requestID = "--------"
		}
		entry := log.WithField("request_id", requestID)

		switch {
		case statusCode >= http.StatusInternalServerError:
			entry.Error(logLine)
		case statusCode >= http.StatusBadRequest:
			entry.Warn(logLine)
		default:
			entry.Info(logLine)
		}
	}
}

// GinLogrusRecovery returns a Gin middleware handler that recovers from panics, logs
// them with their stack trace, and answers with a generic internal_error envelope.
func GinLogrusRecovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		if err, ok := recovered.(error); ok && errors.Is(err, http.ErrAbortHandler) {
			// Let net/http abort the connection without logging a stack.
			panic(http.ErrAbortHandler)
		}

		log.WithFields(log.Fields{
			"panic":      recovered,
			"stack":      string(debug.Stack()),
			"path":       c.Request.URL.Path,
			"request_id": GetGinRequestID(c),
		}).Error("recovered from panic")

		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"code":    "internal_error",
			"message": "Internal server error",
		})
	})
}

// SkipGinRequestLogging marks the provided Gin context so that GinLogrusLogger
// will skip emitting a log line for the associated request.
func SkipGinRequestLogging(c *gin.Context) {
	if c == nil {
		return
	}
	c.Set(skipGinLogKey, true)
}

func shouldSkipGinRequestLogging(c *gin.Context) bool {
	if c == nil {
		return false
	}
	return c.GetBool(skipGinLogKey)
}
