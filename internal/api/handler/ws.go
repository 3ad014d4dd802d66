package handler

import (
	"strings"

	"github.com/billychen0894/spareTalk/internal/chathub"
	"github.com/billychen0894/spareTalk/internal/localization"
	"github.com/billychen0894/spareTalk/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ServeWebSocket upgrades the request and hands the connection to the hub.
// A stored session may be presented as the sessionId and chatRoomId query
// parameters; it is used when check-chatRoom-session arrives without one.
func (h *Handler) ServeWebSocket(c *gin.Context) {
	cred := models.Session{
		SessionID:  c.Query("sessionId"),
		ChatRoomID: c.Query("chatRoomId"),
	}
	lang := preferredLang(c.Query("lang"), c.GetHeader("Accept-Language"))

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// the upgrader already answered with an HTTP error
		zap.L().Warn("websocket upgrade failed", zap.String("remote", c.ClientIP()), zap.Error(err))
		return
	}

	var limiter *rate.Limiter
	if h.opts.SendRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(h.opts.SendRPS), max(h.opts.SendBurst, 1))
	}
	connID := uuid.NewString()
	client := chathub.NewWebSocketClient(h.Hub, conn, connID, lang, cred, limiter)

	hello, err := models.NewEnvelope(models.EventConnect, "", models.ConnectPayload{ConnectionID: connID})
	if err == nil {
		client.Deliver(chathub.Outbound{Envelope: hello})
	}
	if !h.Hub.Register(client) {
		_ = conn.Close()
		return
	}
	zap.L().Debug("websocket connected", zap.String("connID", connID), zap.Bool("credential", !cred.Empty()))
	client.Run()
}

// preferredLang picks the notification language: an explicit query value,
// else the primary subtag of the first Accept-Language entry.
func preferredLang(query, acceptLanguage string) string {
	if query != "" {
		return strings.ToLower(query)
	}
	first, _, _ := strings.Cut(acceptLanguage, ",")
	first, _, _ = strings.Cut(first, ";")
	first, _, _ = strings.Cut(strings.TrimSpace(first), "-")
	if first == "" || first == "*" {
		return localization.DefaultLang
	}
	return strings.ToLower(first)
}
