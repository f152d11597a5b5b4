package http

import (
	"net/http"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/auth"
	"live-quiz-service/internal/broadcast"
	"live-quiz-service/internal/telemetry"
)

type Config struct {
	Service *app.Service
	Broker  broadcast.Broker
	Tokens  *auth.Tokens
	// Metrics and Gatherer are optional.
	Metrics  *telemetry.Metrics
	Gatherer prometheus.Gatherer
}

// NewRouter wires the REST control surface, both websocket endpoints and
// the operational routes.
func NewRouter(c Config) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	e := gin.New()
	e.Use(gin.Recovery(), requestLogger())

	gatherer := c.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	e.GET("/healthz", func(ctx *gin.Context) { ctx.String(http.StatusOK, "ok") })
	e.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	pprof.Register(e, "/debug/pprof")

	rest := NewRESTHandler(c.Service)
	ws := NewWSHandler(c.Service, c.Broker, c.Metrics)
	authed := authenticate(c.Tokens, c.Service)

	api := e.Group("/api", authed)
	api.POST("/quizzes/:id/sessions", rest.CreateSession)
	api.POST("/sessions/join", rest.JoinByCode)
	api.GET("/sessions/:id", rest.Snapshot)
	api.POST("/sessions/:id/actions", rest.Perform)
	api.POST("/sessions/:id/code", rest.RegenerateCode)
	api.GET("/sessions/:id/question", rest.CurrentQuestion)
	api.GET("/sessions/:id/leaderboard", rest.Leaderboard)
	api.GET("/sessions/:id/answers", rest.Answers)
	api.GET("/courses/:id/sessions", rest.CourseSessions)

	sockets := e.Group("/ws", authed)
	sockets.GET("/live/:id", ws.ServeLive)
	sockets.GET("/courses/:id", ws.ServeCourse)

	return e
}
