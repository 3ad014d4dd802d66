package client

import (
	"context"
	"errors"
	"time"

	"github.com/billychen0894/spareTalk/internal/errorx"
	"github.com/billychen0894/spareTalk/internal/localization"
	"github.com/billychen0894/spareTalk/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Status is what the controller is doing from the user's point of view.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusConnecting Status = "connecting"
	StatusMatching   Status = "matching"
	StatusChatting   Status = "chatting"
	// StatusPeerLeft means the partner left and the room will not be
	// refilled. NewChat starts over.
	StatusPeerLeft   Status = "peer-left"
	StatusError      Status = "error"
)

// View receives everything the user should see. Calls come from the
// controller goroutine.
type View interface {
	StatusChanged(Status)
	TimelineChanged([]Entry)
	Notice(text string)
	Error(err error)
}

// Notices looks up user facing texts by language and key.
type Notices interface {
	GetString(lang, key string) string
}

// Options tune a Controller. Zero values pick defaults.
type Options struct {
	ProvisionalWindow time.Duration
	ExpiryInterval    time.Duration
	// Lang is sent to the server and used for local notices.
	Lang    string
	Notices Notices
}

// Controller owns the connection, the stored session and the timeline of
// one participant. All state is touched by the Run goroutine only; the
// exported actions are queued onto it.
type Controller struct {
	conn     *ConnectionManager
	recovery *Recovery
	timeline *Timeline
	view     View
	expiry   time.Duration
	now      func() time.Time
	lang     string
	notices  Notices

	input   chan func(ctx context.Context)
	stopped chan struct{}

	status Status
	connID string
	self   string
	room   *models.ChatRoom
}

// NewController wires a controller. Run must be called for anything to
// happen.
func NewController(conn *ConnectionManager, store SessionStore, view View, opts Options) *Controller {
	if opts.ExpiryInterval <= 0 {
		opts.ExpiryInterval = time.Second
	}
	if opts.Lang != "" {
		conn.SetLang(opts.Lang)
	}
	return &Controller{
		conn:     conn,
		recovery: NewRecovery(store),
		timeline: NewTimeline(opts.ProvisionalWindow),
		view:     view,
		expiry:   opts.ExpiryInterval,
		now:      time.Now,
		lang:     opts.Lang,
		notices:  opts.Notices,
		input:    make(chan func(ctx context.Context), 16),
		stopped:  make(chan struct{}),
		status:   StatusIdle,
	}
}

// Run processes connection events, queued actions and echo expiry until ctx
// is done.
func (c *Controller) Run(ctx context.Context) error {
	defer close(c.stopped)
	defer c.conn.Disconnect()

	ticker := time.NewTicker(c.expiry)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-c.conn.Events():
			if c.conn.Stale(ev) {
				continue
			}
			c.handleEvent(ev)
		case fn := <-c.input:
			fn(ctx)
		case now := <-ticker.C:
			c.expire(now)
		}
	}
}

// Start connects, resuming the stored session when there is one.
func (c *Controller) Start() {
	c.do(func(ctx context.Context) { c.connect(ctx) })
}

// Send posts body to the room and shows it right away. It returns the
// message id so callers can follow the echo.
func (c *Controller) Send(body string) string {
	id := uuid.NewString()
	c.do(func(context.Context) { c.send(id, body) })
	return id
}

// Leave ends the membership and goes back to idle.
func (c *Controller) Leave() {
	c.do(func(context.Context) { c.leave() })
}

// NewChat leaves the current room, if any, and matches again.
func (c *Controller) NewChat() {
	c.do(func(ctx context.Context) {
		c.leave()
		c.connect(ctx)
	})
}

func (c *Controller) do(fn func(ctx context.Context)) {
	select {
	case c.input <- fn:
	case <-c.stopped:
	}
}

func (c *Controller) connect(ctx context.Context) {
	sess, err := c.recovery.store.Load()
	if err != nil {
		// Begin wipes a corrupt record once connected.
		sess = models.Session{}
	}
	if !sess.Complete() {
		sess = models.Session{}
	}
	c.recovery.Reset()
	c.conn.SetCredential(sess)
	c.setStatus(StatusConnecting)
	if err := c.conn.Connect(ctx); err != nil {
		zap.L().Warn("connect failed", zap.Error(err))
	}
}

func (c *Controller) send(id, body string) {
	if c.room == nil || c.status != StatusChatting {
		c.view.Error(errorx.New(errorx.KindSessionInvalid, "not in a chat room"))
		return
	}
	msg := models.ChatMessage{ID: id, Sender: c.self, Body: body, Timestamp: c.now()}
	if !c.timeline.AddProvisional(msg, c.now()) {
		return
	}
	c.changed()

	err := c.conn.Emit(models.EventSendMessage, uuid.NewString(), models.SendMessagePayload{
		ChatRoomID: c.room.ID,
		Message:    msg,
	})
	if err != nil {
		c.timeline.Reject(id)
		c.changed()
		c.view.Error(err)
	}
}

func (c *Controller) leave() {
	if sess := c.recovery.Session(); sess.Complete() && c.conn.Connected() {
		if err := c.conn.Emit(models.EventLeaveChat, "", models.LeaveChatPayload{ChatRoomID: sess.ChatRoomID}); err != nil {
			zap.L().Warn("leave-chat not sent", zap.Error(err))
		}
	}
	if err := c.recovery.Forget(); err != nil {
		c.view.Error(err)
	}
	c.conn.Disconnect()
	c.conn.SetCredential(models.Session{})
	c.room = nil
	c.timeline.Reset()
	c.changed()
	c.setStatus(StatusIdle)
}

func (c *Controller) expire(now time.Time) {
	expired := c.timeline.Expire(now)
	if len(expired) == 0 {
		return
	}
	c.changed()
	for _, m := range expired {
		c.view.Error(errorx.Newf(errorx.KindTransport, "message %s was not delivered", m.ID))
	}
}

func (c *Controller) handleEvent(ev Event) {
	switch ev.Kind {
	case EventConnectError, EventDisconnected:
		c.recovery.Reset()
		c.setStatus(StatusError)
		c.view.Error(ev.Err)
		return
	}

	if err := c.handleFrame(ev.Envelope); err != nil {
		if errors.Is(err, errStaleResponse) {
			zap.L().Debug("discarding stale response", zap.String("event", ev.Envelope.Event), zap.String("correlationID", ev.Envelope.CorrelationID))
			return
		}
		c.view.Error(err)
	}
}

func (c *Controller) handleFrame(env models.Envelope) error {
	switch env.Event {
	case models.EventConnect:
		var p models.ConnectPayload
		if err := env.Decode(&p); err != nil {
			return errorx.Wrap(err, errorx.KindProtocol, "malformed connect payload")
		}
		c.connID = p.ConnectionID
		act, err := c.recovery.Begin(p.ConnectionID)
		if err != nil {
			return err
		}
		if act.Event == models.EventStartChat {
			c.self = p.ConnectionID
			c.setStatus(StatusMatching)
		}
		return c.emit(act)

	case models.EventSession:
		act, err := c.recovery.HandleSession(env)
		if err != nil {
			return err
		}
		sess := c.recovery.Session()
		if sess.ParticipantID != "" {
			c.self = sess.ParticipantID
		}
		c.conn.SetCredential(sess)
		if c.room == nil || c.room.ID != sess.ChatRoomID {
			c.room = &models.ChatRoom{ID: sess.ChatRoomID, State: models.RoomIdle, Participants: []string{c.self}}
		}
		return c.emit(act)

	case models.EventReceiveSession:
		room, act, err := c.recovery.HandleCheck(env, c.connID)
		if err != nil {
			return err
		}
		if room == nil {
			c.self = c.connID
			c.room = nil
			c.conn.SetCredential(models.Session{})
			c.timeline.Reset()
			c.changed()
			c.setStatus(StatusMatching)
			return c.emit(act)
		}
		// The slot keeps the id it was created with, not this connection's.
		if p := c.recovery.Session().ParticipantID; p != "" {
			c.self = p
		}
		c.room = room
		c.setRoomStatus()
		return c.emit(act)

	case models.EventRoomConnected:
		var room models.ChatRoom
		if err := env.Decode(&room); err != nil {
			return errorx.Wrap(err, errorx.KindProtocol, "malformed chat room payload")
		}
		c.room = &room
		c.setRoomStatus()
		return nil

	case models.EventChatHistory, models.EventMissedMessages:
		msgs, full, err := c.recovery.HandleHistory(env)
		if err != nil {
			return err
		}
		if full {
			c.timeline.ReplaceHistory(msgs)
		} else {
			c.timeline.AppendMissed(msgs)
		}
		c.changed()
		return nil

	case models.EventReceiveMessage:
		var m models.ChatMessage
		if err := env.Decode(&m); err != nil {
			return errorx.Wrap(err, errorx.KindProtocol, "malformed message payload")
		}
		if c.timeline.AppendLive(m) {
			c.changed()
		}
		return nil

	case models.EventLeftChat:
		var notice string
		_ = env.Decode(&notice)
		if c.room != nil {
			c.room.State = models.RoomIdle
			c.room.Participants = []string{c.self}
		}
		c.view.Notice(notice)
		c.setStatus(StatusPeerLeft)
		return nil

	case models.EventInactiveRoom:
		if err := c.recovery.Forget(); err != nil {
			return err
		}
		c.conn.SetCredential(models.Session{})
		c.room = nil
		c.timeline.Reset()
		c.changed()
		c.setStatus(StatusIdle)
		c.view.Notice(c.notice(localization.KeyInactiveRoom, "The chat room was closed after a period of inactivity."))
		return nil

	case models.EventError:
		var p models.ErrorPayload
		if err := env.Decode(&p); err != nil {
			return errorx.Wrap(err, errorx.KindProtocol, "malformed error payload")
		}
		if p.MessageID != "" && c.timeline.Reject(p.MessageID) {
			c.changed()
		}
		if env.CorrelationID != "" && env.CorrelationID == c.recovery.Pending() {
			c.recovery.Reset()
			c.setStatus(StatusError)
		}
		return errorx.New(errorx.Kind(p.Code), p.Message)

	default:
		zap.L().Debug("ignoring unknown event", zap.String("event", env.Event))
		return nil
	}
}

func (c *Controller) notice(key, fallback string) string {
	if c.notices == nil {
		return fallback
	}
	return c.notices.GetString(c.lang, key)
}

func (c *Controller) emit(act Action) error {
	return c.conn.Emit(act.Event, act.CorrelationID, act.Payload)
}

func (c *Controller) setRoomStatus() {
	if c.room != nil && c.room.State == models.RoomOccupied {
		c.setStatus(StatusChatting)
		return
	}
	c.setStatus(StatusMatching)
}

func (c *Controller) setStatus(s Status) {
	if c.status == s {
		return
	}
	c.status = s
	c.view.StatusChanged(s)
}

func (c *Controller) changed() {
	entries := c.timeline.Messages()
	for i := range entries {
		entries[i].Mine = c.self != "" && entries[i].Sender == c.self
	}
	c.view.TimelineChanged(entries)
}
