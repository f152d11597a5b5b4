package http

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/auth"
	"live-quiz-service/internal/domain"
	apperrors "live-quiz-service/internal/errors"
)

const actorKey = "actor"

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.InfoContext(c.Request.Context(), "http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

// authenticate resolves the bearer token into a directory user. Browsers
// cannot set headers on websocket upgrades, so ?token= is accepted too.
func authenticate(tokens *auth.Tokens, service *app.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearerToken(c)
		if raw == "" {
			writeError(c, apperrors.Unauthenticated(errors.New("missing bearer token")))
			return
		}
		id, err := tokens.Verify(raw)
		if err != nil {
			writeError(c, apperrors.Unauthenticated(err))
			return
		}
		actor, err := service.Identify(c.Request.Context(), id.UserID)
		if errors.Is(err, domain.ErrUserNotFound) {
			writeError(c, apperrors.Unauthenticated(err))
			return
		}
		if err != nil {
			writeError(c, err)
			return
		}
		c.Set(actorKey, actor)
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return c.Query("token")
}

func actorFrom(c *gin.Context) domain.UserRef {
	v, _ := c.Get(actorKey)
	actor, _ := v.(domain.UserRef)
	return actor
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func errorBodyOf(err error) (int, errorBody) {
	e := apperrors.Convert(err)
	return e.HTTPStatusCode(), errorBody{Code: e.Name(), Message: e.Message}
}

func writeError(c *gin.Context, err error) {
	status, body := errorBodyOf(err)
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(c.Request.Context(), "request failed", "path", c.FullPath(), "error", err)
	}
	c.AbortWithStatusJSON(status, body)
}

// paramID parses a positive integer path parameter, writing a 400 otherwise.
func paramID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		writeError(c, apperrors.InvalidArgument("invalid %s %q", name, c.Param(name)))
		return 0, false
	}
	return id, true
}
