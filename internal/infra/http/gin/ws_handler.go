package ginserver

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	gin "github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	chatsvc "opschat/internal/app/services/chat"
	domainchat "opschat/internal/domain/chat"
	domainuser "opschat/internal/domain/user"
	"opschat/internal/infra/hub"
	"opschat/internal/push"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsReadTimeout  = 90 * time.Second
)

// clientFrame is a client-to-server push protocol frame.
type clientFrame struct {
	Action string `json:"action"`
	ID     int    `json:"id"`
	Topic  string `json:"topic,omitempty"`
}

const (
	actionSubscribe   = "subscribe"
	actionUnsubscribe = "unsubscribe"
)

type WSHTTP interface {
	Serve(c *gin.Context)
}

// WSHandler upgrades connections and runs the subscribe/unsubscribe frame
// loop against the hub.
type WSHandler struct {
	Hub     *hub.Hub
	Service *chatsvc.Service
	Logger  *slog.Logger

	upgrader websocket.Upgrader
}

func NewWSHandler(h *hub.Hub, service *chatsvc.Service, logger *slog.Logger) *WSHandler {
	return &WSHandler{
		Hub:     h,
		Service: service,
		Logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// cross-origin dashboards are expected; auth is the bearer token
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Serve runs one push connection until the peer goes away.
func (h *WSHandler) Serve(c *gin.Context) {
	principal, ok := requireRole(c, "")
	if !ok {
		return
	}
	socket, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		if h.Logger != nil {
			h.Logger.Debug("websocket upgrade failed", "error", err, "user_id", principal.ID)
		}
		return
	}

	conn := h.Hub.Register()
	defer h.Hub.Unregister(conn)
	defer socket.Close()

	go h.writeLoop(socket, conn)

	socket.SetPingHandler(func(appData string) error {
		_ = socket.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return socket.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(wsWriteTimeout))
	})
	_ = socket.SetReadDeadline(time.Now().Add(wsReadTimeout))

	for {
		var frame clientFrame
		if err := socket.ReadJSON(&frame); err != nil {
			if h.Logger != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.Logger.Debug("push connection dropped", "error", err, "user_id", principal.ID)
			}
			return
		}
		_ = socket.SetReadDeadline(time.Now().Add(wsReadTimeout))

		switch frame.Action {
		case actionSubscribe:
			if reason := h.authorizeTopic(c, principal, frame.Topic); reason != "" {
				conn.Reject(frame.ID, frame.Topic, reason)
				continue
			}
			conn.Subscribe(frame.ID, frame.Topic)
		case actionUnsubscribe:
			conn.Unsubscribe(frame.ID)
		default:
			conn.Reject(frame.ID, frame.Topic, "unknown action")
		}
	}
}

func (h *WSHandler) writeLoop(socket *websocket.Conn, conn *hub.Conn) {
	for frame := range conn.Frames() {
		_ = socket.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := socket.WriteJSON(frame); err != nil {
			return
		}
	}
	// hub closed the channel; tell the peer before dropping the socket
	_ = socket.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(wsWriteTimeout),
	)
}

// authorizeTopic returns a rejection reason, or empty when the principal may
// subscribe. The roster stream is privileged; conversation streams require
// ownership or the admin role.
func (h *WSHandler) authorizeTopic(c *gin.Context, p principal, topic string) string {
	if topic == push.RosterTopic {
		if !p.HasRole(string(domainuser.RoleAdmin)) {
			return "roster stream is privileged"
		}
		return ""
	}
	conversationID, ok := parseConversationTopic(topic)
	if !ok {
		return "unknown topic"
	}
	if p.isAdmin() {
		return ""
	}
	conv, err := h.Service.GetConversation(c.Request.Context(), conversationID)
	if err != nil {
		if errors.Is(err, domainchat.ErrConversationGone) {
			return "conversation not found"
		}
		return "cannot verify conversation"
	}
	if conv.CustomerID != p.ID {
		return "not your conversation"
	}
	return ""
}

// parseConversationTopic extracts the conversation id from
// "conversation:<id>" and "conversation:<id>:messages" topics.
func parseConversationTopic(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, "conversation:")
	if !ok || rest == "" {
		return "", false
	}
	rest = strings.TrimSuffix(rest, ":messages")
	if rest == "" || strings.Contains(rest, ":") {
		return "", false
	}
	return rest, true
}

var _ WSHTTP = (*WSHandler)(nil)
