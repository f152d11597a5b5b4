package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/broadcast"
	"live-quiz-service/internal/domain"
	apperrors "live-quiz-service/internal/errors"
	"live-quiz-service/internal/telemetry"
)

// Outbound frame types only the gateway produces.
const (
	typeAnswerAck = "answer_ack"
	typeJoinCode  = "join_code"
	typeError     = "error"
)

type WSHandler struct {
	service  *app.Service
	broker   broadcast.Broker
	metrics  *telemetry.Metrics
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.Service, broker broadcast.Broker, metrics *telemetry.Metrics) *WSHandler {
	return &WSHandler{
		service: service,
		broker:  broker,
		metrics: metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type liveSnapshot struct {
	Type string `json:"type"`
	app.Snapshot
}

type courseSnapshot struct {
	Type     string                        `json:"type"`
	Sessions []domain.CourseSessionSummary `json:"sessions"`
}

type errorFrame struct {
	Type string `json:"type"`
	errorBody
}

type joinCodeFrame struct {
	Type     string `json:"type"`
	JoinCode string `json:"join_code"`
}

// ServeLive is the per-session socket. Authorization failures are answered
// with a plain HTTP error before the upgrade. After the snapshot, inbound
// frames are control actions and topic messages are forwarded verbatim.
func (h *WSHandler) ServeLive(c *gin.Context) {
	sessionID, ok := paramID(c, "id")
	if !ok {
		return
	}
	actor := actorFrom(c)
	ctx := c.Request.Context()

	// Subscribe before reading the snapshot so no delta falls in between.
	sub, err := h.broker.Subscribe(ctx, broadcast.SessionTopic(sessionID))
	if err != nil {
		writeError(c, err)
		return
	}
	defer sub.Close()

	snap, err := h.service.Snapshot(ctx, actor, sessionID)
	if err != nil {
		writeError(c, err)
		return
	}

	conn, ok := h.upgrade(c, "live", slog.With("session", sessionID, "user", actor.ID))
	if !ok {
		return
	}
	defer h.track("live")()

	go conn.writeLoop()
	conn.sendJSON(liveSnapshot{Type: broadcast.TypeSnapshot, Snapshot: snap})
	go forward(conn, sub)

	conn.readLoop(func(data []byte) {
		h.dispatch(c, conn, actor, sessionID, data)
	})
	conn.close(websocket.CloseNormalClosure, "")
	conn.log.Info("live socket closed")
}

func (h *WSHandler) dispatch(c *gin.Context, conn *wsConn, actor domain.UserRef, sessionID int64, data []byte) {
	var cmd app.Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		conn.sendJSON(errorFrameOf(apperrors.InvalidArgument("malformed message")))
		return
	}

	res, err := h.service.Perform(c.Request.Context(), actor, sessionID, cmd)
	if err != nil {
		conn.sendJSON(errorFrameOf(err))
		return
	}

	switch {
	case res.Answer != nil:
		frame, err := withType(typeAnswerAck, res.Answer)
		if err != nil {
			conn.log.Error("encode answer ack", "error", err)
			return
		}
		conn.enqueue(frame)
	case cmd.Action == app.ActionRegenerateCode:
		conn.sendJSON(joinCodeFrame{Type: typeJoinCode, JoinCode: res.JoinCode})
	}
}

// ServeCourse lists the ongoing sessions of a course, then forwards course
// topic updates. Inbound frames are ignored.
func (h *WSHandler) ServeCourse(c *gin.Context) {
	courseID, ok := paramID(c, "id")
	if !ok {
		return
	}
	actor := actorFrom(c)
	ctx := c.Request.Context()

	sub, err := h.broker.Subscribe(ctx, broadcast.CourseTopic(courseID))
	if err != nil {
		writeError(c, err)
		return
	}
	defer sub.Close()

	sessions, err := h.service.CourseSessions(ctx, actor, courseID)
	if err != nil {
		writeError(c, err)
		return
	}

	conn, ok := h.upgrade(c, "course", slog.With("course", courseID, "user", actor.ID))
	if !ok {
		return
	}
	defer h.track("course")()

	go conn.writeLoop()
	conn.sendJSON(courseSnapshot{Type: broadcast.TypeSnapshot, Sessions: sessions})
	go forward(conn, sub)

	conn.readLoop(nil)
	conn.close(websocket.CloseNormalClosure, "")
}

func (h *WSHandler) upgrade(c *gin.Context, kind string, log *slog.Logger) (*wsConn, bool) {
	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn("ws upgrade failed", "kind", kind, "error", err)
		return nil, false
	}
	conn := newWSConn(ws, log)
	conn.log.Info("socket opened", "kind", kind)
	return conn, true
}

func (h *WSHandler) track(kind string) func() {
	if h.metrics == nil {
		return func() {}
	}
	return h.metrics.SocketOpened(kind)
}

// forward copies topic messages to the socket. An evicted subscription
// closes the socket; the client reconnects and gets a fresh snapshot.
func forward(conn *wsConn, sub *broadcast.Subscription) {
	for {
		select {
		case msg := <-sub.C:
			select {
			case conn.send <- msg:
			case <-sub.Done():
				evicted(conn, sub)
				return
			case <-conn.done:
				return
			}
		case <-sub.Done():
			evicted(conn, sub)
			return
		case <-conn.done:
			return
		}
	}
}

func evicted(conn *wsConn, sub *broadcast.Subscription) {
	select {
	case <-conn.done:
		return
	default:
	}
	conn.log.Warn("subscriber evicted", "topic", sub.Topic)
	conn.close(websocket.CloseTryAgainLater, "subscriber too slow")
}

func errorFrameOf(err error) errorFrame {
	_, body := errorBodyOf(err)
	return errorFrame{Type: typeError, errorBody: body}
}

// withType prefixes a JSON object with a "type" member. Used for values with
// their own MarshalJSON, which embedding would shadow.
func withType(typ string, v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	head, err := json.Marshal(typ)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(body)+len(head)+9)
	out = append(out, `{"type":`...)
	out = append(out, head...)
	if len(body) > 2 {
		out = append(out, ',')
	}
	return append(out, body[1:]...), nil
}
