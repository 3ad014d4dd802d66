package chathub

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/billychen0894/spareTalk/internal/errorx"
	"github.com/billychen0894/spareTalk/internal/models"
	"github.com/billychen0894/spareTalk/internal/session"
	"github.com/billychen0894/spareTalk/internal/storage"
	"go.uber.org/zap"
)

// HubConfig holds the settings of the hub that are not room policy.
type HubConfig struct {
	SessionTTL    time.Duration
	SweepInterval time.Duration
	// StoreTimeout bounds the synchronous redis calls made while handling
	// a request.
	StoreTimeout time.Duration
}

// ManagerService is the hub: it keeps the registry of live connections,
// dispatches their events to the matcher and rooms, and runs the sweeper.
type ManagerService struct {
	Matcher  *MatcherService
	Storage  storage.Storage
	Sessions *session.Issuer
	cfg      HubConfig

	mu      sync.RWMutex
	Clients map[string]Client

	RegisterCh   chan Client
	UnregisterCh chan Client
	done         chan struct{}
	stopOnce     sync.Once
}

// NewManagerService builds a hub around matcher.
func NewManagerService(cfg HubConfig, matcher *MatcherService, s storage.Storage, sessions *session.Issuer) *ManagerService {
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 2 * time.Second
	}
	return &ManagerService{
		Matcher:      matcher,
		Storage:      s,
		Sessions:     sessions,
		cfg:          cfg,
		Clients:      make(map[string]Client),
		RegisterCh:   make(chan Client),
		UnregisterCh: make(chan Client),
		done:         make(chan struct{}),
	}
}

// Run processes registrations and sweeps rooms until ctx is done. Every
// remaining connection is closed on the way out.
func (m *ManagerService) Run(ctx context.Context) {
	interval := m.cfg.SweepInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer m.shutdown()

	zap.L().Info("chat hub started", zap.Duration("sweepInterval", interval))
	for {
		select {
		case c := <-m.RegisterCh:
			m.mu.Lock()
			m.Clients[c.GetConnID()] = c
			connectionsOpen.Set(float64(len(m.Clients)))
			m.mu.Unlock()

		case c := <-m.UnregisterCh:
			m.unregister(c)

		case now := <-ticker.C:
			m.Matcher.Sweep(now)

		case <-ctx.Done():
			return
		}
	}
}

func (m *ManagerService) shutdown() {
	m.stopOnce.Do(func() { close(m.done) })

	m.mu.Lock()
	clients := make([]Client, 0, len(m.Clients))
	for id, c := range m.Clients {
		clients = append(clients, c)
		delete(m.Clients, id)
	}
	connectionsOpen.Set(0)
	m.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
	zap.L().Info("chat hub stopped", zap.Int("closedConnections", len(clients)))
}

// Register hands c to the hub. It returns false once the hub stopped.
func (m *ManagerService) Register(c Client) bool {
	select {
	case m.RegisterCh <- c:
		return true
	case <-m.done:
		return false
	}
}

// Unregister reports that c's transport is gone.
func (m *ManagerService) Unregister(c Client) {
	select {
	case m.UnregisterCh <- c:
	case <-m.done:
	}
}

// unregister drops c from the registry and detaches it from its slot. The
// slot survives for the reconnect grace period.
func (m *ManagerService) unregister(c Client) {
	m.mu.Lock()
	if cur, ok := m.Clients[c.GetConnID()]; ok && cur == c {
		delete(m.Clients, c.GetConnID())
	}
	connectionsOpen.Set(float64(len(m.Clients)))
	m.mu.Unlock()

	if roomID := c.GetRoomID(); roomID != "" {
		if room, ok := m.Matcher.Lookup(roomID); ok {
			room.Detach(c.GetSessionID(), c)
		}
	}
	c.Close()
}

// ClientCount returns the number of registered connections.
func (m *ManagerService) ClientCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.Clients)
}

// HandleEvent dispatches one inbound frame of c. It runs on c's read
// goroutine, so frames of one connection are handled in order.
func (m *ManagerService) HandleEvent(c Client, env models.Envelope) {
	var err error
	switch env.Event {
	case models.EventStartChat:
		err = m.handleStartChat(c, env)
	case models.EventCheckSession:
		err = m.handleCheckSession(c, env)
	case models.EventRetrieveChat:
		err = m.handleRetrieve(c, env)
	case models.EventSendMessage:
		err = m.handleSend(c, env)
	case models.EventLeaveChat:
		err = m.handleLeave(c, env)
	default:
		err = errorx.Newf(errorx.KindProtocol, "unknown event %q", env.Event)
	}
	if err != nil {
		zap.L().Debug("event rejected", zap.String("connID", c.GetConnID()), zap.String("event", env.Event), zap.Error(err))
		m.ReplyError(c, env.CorrelationID, "", err)
	}
}

func (m *ManagerService) handleStartChat(c Client, env models.Envelope) error {
	var p models.StartChatPayload
	if err := env.Decode(&p); err != nil {
		return errorx.Wrap(err, errorx.KindProtocol, "malformed start-chat payload")
	}
	if c.GetRoomID() != "" {
		return errorx.New(errorx.KindProtocol, "connection already belongs to a chat room")
	}
	participantID := p.ParticipantID
	if participantID == "" {
		participantID = c.GetConnID()
	}
	if participantID != c.GetConnID() {
		return errorx.New(errorx.KindProtocol, "participantId must be the connection id")
	}

	sessionID := session.NewSessionID()
	mem := Member{ParticipantID: participantID, SessionID: sessionID, Conn: c}
	_, err := m.Matcher.RequestMatch(mem, func(room *Room) error {
		token, _, err := m.Sessions.Issue(sessionID, room.ID())
		if err != nil {
			return errorx.Wrap(err, errorx.KindInternal, "failed to issue session")
		}
		m.bind(sessionID, room.ID())
		return m.Reply(c, models.EventSession, env.CorrelationID, models.Session{
			SessionID:     token,
			ChatRoomID:    room.ID(),
			ParticipantID: participantID,
		})
	})
	return err
}

// handleCheckSession validates a stored session and, when it still holds
// a slot, re-attaches c to it. Every negative outcome answers null.
func (m *ManagerService) handleCheckSession(c Client, env models.Envelope) error {
	var p models.CheckSessionPayload
	if err := env.Decode(&p); err != nil {
		return errorx.Wrap(err, errorx.KindProtocol, "malformed check-chatRoom-session payload")
	}
	if p.SessionID == "" && p.ChatRoomID == "" {
		cred := c.GetCredential()
		p = models.CheckSessionPayload{ChatRoomID: cred.ChatRoomID, SessionID: cred.SessionID}
	}

	room, sessionID, err := m.validateSession(c, p)
	if err != nil {
		sessionChecks.WithLabelValues("rejected").Inc()
		zap.L().Info("session check rejected", zap.String("connID", c.GetConnID()), zap.String("roomID", p.ChatRoomID), zap.Error(err))
		return m.Reply(c, models.EventReceiveSession, env.CorrelationID, nil)
	}
	if _, err := room.Resume(sessionID, c, env.CorrelationID); err != nil {
		sessionChecks.WithLabelValues("rejected").Inc()
		return m.Reply(c, models.EventReceiveSession, env.CorrelationID, nil)
	}

	sessionChecks.WithLabelValues("resumed").Inc()
	m.bind(sessionID, room.ID())
	zap.L().Info("session resumed", zap.String("connID", c.GetConnID()), zap.String("roomID", room.ID()))
	return nil
}

func (m *ManagerService) validateSession(c Client, p models.CheckSessionPayload) (*Room, string, error) {
	if p.SessionID == "" || p.ChatRoomID == "" {
		return nil, "", errorx.New(errorx.KindSessionInvalid, "incomplete session")
	}
	claims, err := m.Sessions.Parse(p.SessionID)
	if err != nil {
		return nil, "", err
	}
	if claims.RoomID != p.ChatRoomID {
		return nil, "", errorx.New(errorx.KindSessionInvalid, "session belongs to another chat room")
	}
	if bound := c.GetRoomID(); bound != "" && bound != p.ChatRoomID {
		return nil, "", errorx.New(errorx.KindSessionInvalid, "connection belongs to another chat room")
	}

	if m.Storage != nil {
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.StoreTimeout)
		roomID, err := m.Storage.SessionRoom(ctx, claims.SessionID())
		cancel()
		switch {
		case errors.Is(err, storage.ErrNotFound):
			return nil, "", errorx.New(errorx.KindSessionInvalid, "session was revoked")
		case err != nil:
			zap.L().Warn("session registry unavailable, trusting token", zap.Error(err))
		case roomID != p.ChatRoomID:
			return nil, "", errorx.New(errorx.KindSessionInvalid, "session is bound to another chat room")
		}
	}

	room, ok := m.Matcher.Lookup(p.ChatRoomID)
	if !ok {
		return nil, "", errorx.New(errorx.KindSessionInvalid, "chat room no longer exists")
	}
	return room, claims.SessionID(), nil
}

func (m *ManagerService) handleRetrieve(c Client, env models.Envelope) error {
	var p models.RetrieveChatPayload
	if err := env.Decode(&p); err != nil {
		return errorx.Wrap(err, errorx.KindProtocol, "malformed retrieve-chat-messages payload")
	}
	room, err := m.boundRoom(c, p.ChatRoomID)
	if err != nil {
		return err
	}
	_, _, err = room.Retrieve(c.GetSessionID(), env.CorrelationID)
	return err
}

func (m *ManagerService) handleSend(c Client, env models.Envelope) error {
	var p models.SendMessagePayload
	if err := env.Decode(&p); err != nil {
		return errorx.Wrap(err, errorx.KindProtocol, "malformed send-message payload")
	}
	room, err := m.boundRoom(c, p.ChatRoomID)
	if err == nil {
		_, err = room.Send(c.GetSessionID(), p.Message.ID, p.Message.Body, env.CorrelationID)
	}
	if err != nil {
		m.ReplyError(c, env.CorrelationID, p.Message.ID, err)
	}
	return nil
}

func (m *ManagerService) handleLeave(c Client, env models.Envelope) error {
	var p models.LeaveChatPayload
	if err := env.Decode(&p); err != nil {
		return errorx.Wrap(err, errorx.KindProtocol, "malformed leave-chat payload")
	}
	roomID := c.GetRoomID()
	if roomID == "" {
		return nil
	}
	if p.ChatRoomID != "" && p.ChatRoomID != roomID {
		return errorx.New(errorx.KindSessionInvalid, "connection belongs to another chat room")
	}
	if room, ok := m.Matcher.Lookup(roomID); ok {
		_ = room.Leave(c.GetSessionID())
	}
	c.Unbind(roomID)
	return nil
}

// boundRoom returns the room c is attached to, which must be roomID when
// roomID is given.
func (m *ManagerService) boundRoom(c Client, roomID string) (*Room, error) {
	bound := c.GetRoomID()
	if bound == "" || (roomID != "" && roomID != bound) {
		return nil, errorx.New(errorx.KindSessionInvalid, "connection does not belong to this chat room")
	}
	room, ok := m.Matcher.Lookup(bound)
	if !ok {
		c.Unbind(bound)
		return nil, ErrRoomClosed
	}
	return room, nil
}

func (m *ManagerService) bind(sessionID, roomID string) {
	if m.Storage == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.StoreTimeout)
	defer cancel()
	if err := m.Storage.BindSession(ctx, sessionID, roomID, m.cfg.SessionTTL); err != nil {
		zap.L().Warn("failed to bind session", zap.String("roomID", roomID), zap.Error(err))
	}
}

// Reply queues one frame for c.
func (m *ManagerService) Reply(c Client, event, correlationID string, payload any) error {
	env, err := models.NewEnvelope(event, correlationID, payload)
	if err != nil {
		return errorx.Wrap(err, errorx.KindInternal, "failed to encode frame")
	}
	if !c.Deliver(Outbound{Envelope: env}) {
		framesDropped.Inc()
	}
	return nil
}

// ReplyError reports err to c as an error event.
func (m *ManagerService) ReplyError(c Client, correlationID, messageID string, err error) {
	payload := models.ErrorPayload{
		Code:      string(errorx.KindOf(err)),
		Message:   err.Error(),
		MessageID: messageID,
	}
	_ = m.Reply(c, models.EventError, correlationID, payload)
}

// RecoverActiveRooms closes rooms a previous process left open. Rooms live
// in memory only, so none of them can be resumed.
func (m *ManagerService) RecoverActiveRooms(ctx context.Context) {
	if m.Storage == nil {
		return
	}
	ids, err := m.Storage.GetActiveRoomIDs(ctx)
	if err != nil {
		zap.L().Error("failed to list active rooms", zap.Error(err))
		return
	}
	if len(ids) == 0 {
		return
	}
	n, err := m.Storage.CloseStaleRooms(ctx)
	if err != nil {
		zap.L().Error("failed to close stale rooms", zap.Error(err))
		return
	}
	zap.L().Info("closed rooms left open by a previous run", zap.Int64("rooms", n))
}
