package middleware

import (
	"net/http"

	"dualgate/pkg/errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorHandlerMiddleware renders the last error a handler attached with
// c.Error. AppErrors keep their code and status, anything else becomes a 500.
func ErrorHandlerMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last().Err

		appErr := errors.GetAppError(err)
		if appErr == nil {
			appErr = errors.NewInternalError("Internal server error")
		}

		fields := []interface{}{
			"code", appErr.Code,
			"status", appErr.HTTPStatus,
			"path", c.Request.URL.Path,
			"method", c.Request.Method,
			"request_id", c.Writer.Header().Get(RequestIDHeader),
			"error", err,
		}
		if appErr.HTTPStatus >= http.StatusInternalServerError {
			logger.Errorw("admin request failed", fields...)
		} else {
			logger.Warnw("admin request rejected", fields...)
		}

		writeError(c, appErr.HTTPStatus, appErr.Code, appErr.Message, appErr.Context)
	}
}

// RecoveryMiddleware turns a handler panic into a 500 response.
func RecoveryMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorw("panic recovered",
					"panic", r,
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
				)
				abortWithAppError(c, errors.NewInternalError("Internal server error"))
			}
		}()

		c.Next()
	}
}

func writeError(c *gin.Context, status int, code errors.ErrorCode, message string, details map[string]interface{}) {
	body := gin.H{
		"error":   string(code),
		"message": message,
	}
	if len(details) > 0 {
		body["details"] = details
	}
	if id := c.Writer.Header().Get(RequestIDHeader); id != "" {
		body["request_id"] = id
	}
	c.AbortWithStatusJSON(status, body)
}

func abortWithAppError(c *gin.Context, appErr *errors.AppError) {
	writeError(c, appErr.HTTPStatus, appErr.Code, appErr.Message, appErr.Context)
}
