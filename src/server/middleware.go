package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	app "imghost/src/app"
	"imghost/src/metrics"
)

const (
	requestIDHeader = "X-Request-ID"
	callerKey       = "caller"
)

// RequestLogger attaches a request-scoped zerolog logger to the request
// context and logs every served request.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		req := c.Request
		rid := req.Header.Get(requestIDHeader)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Header(requestIDHeader, rid)

		logger := log.With().
			Str("request_id", rid).
			Str("method", req.Method).
			Str("path", req.URL.Path).
			Str("remote_ip", c.ClientIP()).
			Logger()
		c.Request = req.WithContext(logger.WithContext(req.Context()))

		c.Next()

		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.Requests.WithLabelValues(req.Method, route, intToClass(status)).Inc()

		if status >= http.StatusInternalServerError {
			logger.Error().
				Strs("errors", c.Errors.Errors()).
				Int("status", status).
				Dur("duration", time.Since(start)).
				Msg("http request failed")
			return
		}
		logger.Info().
			Int("status", status).
			Dur("duration", time.Since(start)).
			Msg("http request served")
	}
}

func intToClass(code int) string {
	switch {
	case code >= 100 && code < 200:
		return "1xx"
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "0"
	}
}

// Authorize rejects requests without a known access token. The token is
// read from the Authorization header first, then from the access cookie.
func (a *AuthHandler) Authorize() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := a.caller(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				gin.H{"error": "Unauthorized", "message": "No Authorize to get resourse"})
			return
		}
		c.Set(callerKey, caller)
		c.Next()
	}
}

func (a *AuthHandler) caller(c *gin.Context) (app.Caller, bool) {
	token := ""
	if header := c.GetHeader("Authorization"); strings.HasPrefix(header, "Bearer ") {
		token = strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	if token == "" {
		token, _ = c.Cookie(a.AccessTokenCookieName)
	}
	if token == "" {
		return app.Caller{}, false
	}
	return a.dataStore.VerifyUser(token)
}

func callerFrom(c *gin.Context) app.Caller {
	caller, _ := c.MustGet(callerKey).(app.Caller)
	return caller
}

// abortWithError maps domain error kinds to HTTP statuses.
func abortWithError(c *gin.Context, err error) {
	var appErr *app.Error
	if !errors.As(err, &appErr) {
		_ = c.Error(err)
		log.Ctx(c.Request.Context()).Error().Err(err).Msg("request failed")
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "InternalError", "message": "Internal server error"})
		return
	}

	status := http.StatusBadRequest
	if appErr.Kind == app.KindNotFound {
		status = http.StatusNotFound
	}
	c.AbortWithStatusJSON(status, gin.H{"error": appErr.Kind, "message": appErr.Message})
}
