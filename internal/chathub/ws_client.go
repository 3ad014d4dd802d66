package chathub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/billychen0894/spareTalk/internal/errorx"
	"github.com/billychen0894/spareTalk/internal/models"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 16 << 10
	sendBuffer     = 256
)

// WebSocketClient implements Client over a gorilla websocket connection.
type WebSocketClient struct {
	connID     string
	lang       string
	credential models.Session

	Conn    *websocket.Conn
	Hub     *ManagerService
	send    chan Outbound
	done    chan struct{}
	limiter *rate.Limiter
	closing sync.Once

	mu        sync.RWMutex
	roomID    string
	sessionID string
}

// NewWebSocketClient wraps an upgraded connection. limiter throttles
// send-message frames and may be nil.
func NewWebSocketClient(hub *ManagerService, conn *websocket.Conn, connID, lang string, cred models.Session, limiter *rate.Limiter) *WebSocketClient {
	return &WebSocketClient{
		connID:     connID,
		lang:       lang,
		credential: cred,
		Conn:       conn,
		Hub:        hub,
		send:       make(chan Outbound, sendBuffer),
		done:       make(chan struct{}),
		limiter:    limiter,
	}
}

func (c *WebSocketClient) GetConnID() string             { return c.connID }
func (c *WebSocketClient) GetLang() string               { return c.lang }
func (c *WebSocketClient) GetCredential() models.Session { return c.credential }

func (c *WebSocketClient) GetRoomID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.roomID
}

func (c *WebSocketClient) GetSessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

func (c *WebSocketClient) Bind(roomID, sessionID string) {
	c.mu.Lock()
	c.roomID, c.sessionID = roomID, sessionID
	c.mu.Unlock()
}

func (c *WebSocketClient) Unbind(roomID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.roomID != roomID {
		return false
	}
	c.roomID, c.sessionID = "", ""
	return true
}

func (c *WebSocketClient) Deliver(out Outbound) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- out:
		return true
	default:
		return false
	}
}

// Run starts the pumps.
func (c *WebSocketClient) Run() {
	go c.writePump()
	go c.readPump()
}

// Close stops the write pump, which closes the socket and with it the
// read pump.
func (c *WebSocketClient) Close() {
	c.closing.Do(func() { close(c.done) })
}

func (c *WebSocketClient) readPump() {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				zap.L().Warn("websocket read failed", zap.String("connID", c.connID), zap.Error(err))
			}
			return
		}

		var env models.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			c.Hub.ReplyError(c, "", "", errorx.New(errorx.KindProtocol, "frame is not an event envelope"))
			continue
		}
		if env.Event == models.EventSendMessage && c.limiter != nil && !c.limiter.Allow() {
			var p models.SendMessagePayload
			_ = env.Decode(&p)
			c.Hub.ReplyError(c, env.CorrelationID, p.Message.ID, errorx.ErrRateLimited)
			continue
		}
		c.Hub.HandleEvent(c, env)
	}
}

func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case out := <-c.send:
			data, err := json.Marshal(out.Envelope)
			if err != nil {
				zap.L().Error("failed to encode frame", zap.String("connID", c.connID), zap.Error(err))
				continue
			}
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
			if out.OnWritten != nil {
				out.OnWritten()
			}

		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
