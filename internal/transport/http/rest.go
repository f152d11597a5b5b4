package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
	apperrors "live-quiz-service/internal/errors"
)

// RESTHandler is the request/response control surface. Actions go through
// the same Service.Perform the websocket gateway uses.
type RESTHandler struct {
	service *app.Service
}

func NewRESTHandler(service *app.Service) *RESTHandler {
	return &RESTHandler{service: service}
}

func (h *RESTHandler) CreateSession(c *gin.Context) {
	quizID, ok := paramID(c, "id")
	if !ok {
		return
	}
	actor := actorFrom(c)
	session, err := h.service.CreateSession(c.Request.Context(), actor, quizID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, app.SnapshotOf(session, actor.ID))
}

type joinRequest struct {
	Code string `json:"code" binding:"required"`
}

type joinResponse struct {
	Session    app.Snapshot     `json:"session"`
	LobbyUsers []domain.UserRef `json:"lobby_users"`
}

func (h *RESTHandler) JoinByCode(c *gin.Context) {
	var req joinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperrors.InvalidArgument("join code is required"))
		return
	}
	actor := actorFrom(c)
	session, lobby, err := h.service.JoinByCode(c.Request.Context(), actor, req.Code)
	if err != nil {
		writeError(c, err)
		return
	}
	snap, err := h.service.Snapshot(c.Request.Context(), actor, session.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, joinResponse{Session: snap, LobbyUsers: lobby})
}

func (h *RESTHandler) Snapshot(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	snap, err := h.service.Snapshot(c.Request.Context(), actorFrom(c), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *RESTHandler) Perform(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var cmd app.Command
	if err := c.ShouldBindJSON(&cmd); err != nil {
		writeError(c, apperrors.InvalidArgument("malformed action: %v", err))
		return
	}
	res, err := h.service.Perform(c.Request.Context(), actorFrom(c), id, cmd)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *RESTHandler) RegenerateCode(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	res, err := h.service.Perform(c.Request.Context(), actorFrom(c), id, app.Command{Action: app.ActionRegenerateCode})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"join_code": res.JoinCode})
}

func (h *RESTHandler) CurrentQuestion(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	view, err := h.service.CurrentQuestion(c.Request.Context(), actorFrom(c), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *RESTHandler) Leaderboard(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	board, err := h.service.Leaderboard(c.Request.Context(), actorFrom(c), id)
	if err != nil {
		writeError(c, err)
		return
	}
	if board == nil {
		board = []domain.LeaderboardEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"leaderboard": board})
}

func (h *RESTHandler) Answers(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	report, err := h.service.AnswersReport(c.Request.Context(), actorFrom(c), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"questions": report})
}

func (h *RESTHandler) CourseSessions(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	sessions, err := h.service.CourseSessions(c.Request.Context(), actorFrom(c), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}
