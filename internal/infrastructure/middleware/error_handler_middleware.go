package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/verawat1234/tchat-sub013/internal/core/domain"
	apperrors "github.com/verawat1234/tchat-sub013/pkg/errors"
)

// DomainErrors maps the core's sentinel errors to HTTP responses.
var DomainErrors = []apperrors.Mapping{
	{Target: domain.ErrStreamNotFound, Code: apperrors.ErrCodeNotFound, HTTPStatus: http.StatusNotFound},
	{Target: domain.ErrRecordingNotFound, Code: apperrors.ErrCodeNotFound, HTTPStatus: http.StatusNotFound},
	{Target: domain.ErrSessionNotFound, Code: apperrors.ErrCodeNotFound, HTTPStatus: http.StatusNotFound},
	{Target: domain.ErrStreamEnded, Code: apperrors.ErrCodeConflict, HTTPStatus: http.StatusConflict},
	{Target: domain.ErrRecordingActive, Code: apperrors.ErrCodeConflict, HTTPStatus: http.StatusConflict},
	{Target: domain.ErrSessionExists, Code: apperrors.ErrCodeConflict, HTTPStatus: http.StatusConflict},
	{Target: domain.ErrNoHealthyServers, Code: apperrors.ErrCodeServiceUnavailable, HTTPStatus: http.StatusServiceUnavailable},
	{Target: domain.ErrRecordingNotReady, Code: apperrors.ErrCodeTimeout, HTTPStatus: http.StatusGatewayTimeout},
}

// ErrorHandlerMiddleware renders the last error a handler attached with
// c.Error as a structured response.
func ErrorHandlerMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last().Err
		appErr := apperrors.Translate(err, DomainErrors...)

		if appErr.HTTPStatus >= http.StatusInternalServerError {
			logger.Errorw("request failed",
				"code", appErr.Code,
				"status", appErr.HTTPStatus,
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
				"error", err,
			)
		} else {
			logger.Debugw("request rejected",
				"code", appErr.Code,
				"status", appErr.HTTPStatus,
				"path", c.Request.URL.Path,
				"error", err,
			)
		}

		body := gin.H{
			"error":   string(appErr.Code),
			"message": appErr.Message,
		}
		if len(appErr.Context) > 0 {
			body["details"] = appErr.Context
		}
		c.JSON(appErr.HTTPStatus, body)
	}
}

// RecoveryMiddleware recovers from panics and returns proper error responses
func RecoveryMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Errorw("panic recovered",
					"error", err,
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
				)

				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error":   string(apperrors.ErrCodeInternal),
					"message": "Internal server error",
				})
			}
		}()

		c.Next()
	}
}
