package middleware

import (
	"context"
	"errors"
	"net/http"

	"sfulink/internal/core/domain"
	"sfulink/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorHandlerMiddleware renders the last handler error as a JSON response
func ErrorHandlerMiddleware(base *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		last := c.Errors.Last()
		err := last.Err
		status := StatusFor(err)
		if last.IsType(gin.ErrorTypeBind) {
			status = http.StatusBadRequest
		}

		log := logger.With(c.Request.Context(), base)
		if status >= http.StatusInternalServerError {
			log.Errorw("request failed",
				"error", err,
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
			)
		} else {
			log.Debugw("request rejected",
				"error", err,
				"status", status,
				"path", c.Request.URL.Path,
			)
		}

		c.JSON(status, gin.H{"error": err.Error()})
	}
}

// StatusFor maps domain errors to HTTP status codes
func StatusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrEmptyStreamID),
		errors.Is(err, domain.ErrDuplicateStream),
		errors.Is(err, domain.ErrUnknownRole):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrManagerNotRunning),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// RecoveryMiddleware recovers from panics and returns proper error responses
func RecoveryMiddleware(base *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.With(c.Request.Context(), base).Errorw("panic recovered",
					"error", err,
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
				)

				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error": "internal server error",
				})
			}
		}()

		c.Next()
	}
}
