package chathub

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/billychen0894/spareTalk/internal/errorx"
	"github.com/billychen0894/spareTalk/internal/localization"
	"github.com/billychen0894/spareTalk/internal/models"
	"github.com/billychen0894/spareTalk/internal/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// roomCapacity is the fixed number of participant slots in a room.
const roomCapacity = 2

// Reasons a room ends, used in records, events and metrics.
const (
	reasonLeft     = "left"
	reasonGrace    = "grace"
	reasonInactive = "inactive"
	reasonExpired  = "expired"
)

var (
	ErrRoomClosed    = errorx.New(errorx.KindSessionInvalid, "chat room is closed")
	ErrNotMember     = errorx.New(errorx.KindSessionInvalid, "session holds no slot in this chat room")
	ErrAlreadyMember = errors.New("session already holds a slot in this chat room")
)

// RoomConfig is the lifecycle policy shared by every room.
type RoomConfig struct {
	InactivityTimeout time.Duration
	ReconnectGrace    time.Duration
	MaxBodyBytes      int
	RecycleRooms      bool
}

// Member is a participant asking for a slot.
type Member struct {
	ParticipantID string
	SessionID     string
	Conn          Client
}

type slot struct {
	participantID string
	sessionID     string
	conn          Client // nil while detached
	lang          string
	detachedAt    time.Time

	// floor is the last seq that predates this slot's conversation.
	floor int64
	// hwm is the highest seq this slot is known to hold with no gaps.
	hwm         int64
	historySent bool
	// seated is set once the member has been given its session.
	seated bool
	// pending holds notices raised while the slot was detached.
	pending []models.Envelope
}

// Room is the state machine of one chat room. Every mutation goes through
// its mutex; notifications are queued to connections while it is held so
// each connection observes messages in seq order. Calls back into the
// matcher and persistence happen after the lock is released.
type Room struct {
	id        string
	createdAt time.Time
	m         *MatcherService

	mu         sync.Mutex
	slots      []*slot
	everJoined []string
	history    []models.ChatMessage
	byID       map[string]int
	seq        int64
	epoch      int64
	announced  bool
	soloSince  time.Time
	emptySince time.Time
	closed     bool
}

type effects []func()

func (fx *effects) add(f func()) { *fx = append(*fx, f) }

func (fx effects) run() {
	for _, f := range fx {
		f()
	}
}

func newRoom(id string, m *MatcherService) *Room {
	now := m.now()
	return &Room{
		id:         id,
		createdAt:  now,
		m:          m,
		byID:       make(map[string]int),
		emptySince: now,
	}
}

// ID returns the room id.
func (r *Room) ID() string { return r.id }

// Size returns the number of occupied slots.
func (r *Room) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.slots)
}

// Closed reports whether the room was destroyed.
func (r *Room) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Snapshot returns the wire view of the room.
func (r *Room) Snapshot() models.ChatRoom {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Room) snapshotLocked() models.ChatRoom {
	participants := make([]string, 0, len(r.slots))
	for _, s := range r.slots {
		participants = append(participants, s.participantID)
	}
	state := models.RoomIdle
	if len(r.slots) == roomCapacity {
		state = models.RoomOccupied
	}
	return models.ChatRoom{ID: r.id, State: state, Participants: participants}
}

// Join seats mem in a free slot.
func (r *Room) Join(mem Member) error {
	fx, err := r.join(mem, true)
	fx.run()
	return err
}

// join takes a slot for mem. A slot taken with seated false does not count
// towards announcing the room until seat is called for it.
func (r *Room) join(mem Member, seated bool) (effects, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var fx effects
	if r.closed {
		return fx, ErrRoomClosed
	}
	if len(r.slots) >= roomCapacity {
		return fx, errorx.Newf(errorx.KindCapacity, "chat room %s already holds %d participants", r.id, roomCapacity)
	}
	for _, s := range r.slots {
		if s.sessionID == mem.SessionID || s.participantID == mem.ParticipantID {
			return fx, ErrAlreadyMember
		}
	}

	s := &slot{
		participantID: mem.ParticipantID,
		sessionID:     mem.SessionID,
		conn:          mem.Conn,
		floor:         r.epoch,
		hwm:           r.epoch,
		seated:        seated,
	}
	if mem.Conn != nil {
		s.lang = mem.Conn.GetLang()
		mem.Conn.Bind(r.id, mem.SessionID)
	}
	r.slots = append(r.slots, s)
	r.everJoined = append(r.everJoined, mem.ParticipantID)

	now := r.m.now()
	if len(r.slots) == 1 {
		r.soloSince = now
	} else {
		r.soloSince = time.Time{}
	}

	rec := r.recordLocked()
	first := len(r.everJoined) == 1
	fx.add(func() {
		r.m.persist(r.id, "save room", func(ctx context.Context, st storage.Storage) error {
			return st.SaveRoom(ctx, &rec)
		})
		if first {
			r.m.publish(models.RoomEvent{Type: models.RoomCreated, RoomID: r.id, Participants: rec.Participants, At: now})
		}
	})
	return fx, nil
}

// seat marks the slot of sessionID as handed out and announces the room
// if that completed the pair.
func (r *Room) seat(sessionID string) {
	r.mu.Lock()
	if i := r.indexLocked(sessionID); i >= 0 {
		r.slots[i].seated = true
	}
	r.mu.Unlock()
	r.announce()
}

// announce tells every member that the room became occupied. It fires
// once per pairing, after both members were given their session.
func (r *Room) announce() {
	r.mu.Lock()
	if r.closed || len(r.slots) != roomCapacity || r.announced {
		r.mu.Unlock()
		return
	}
	for _, s := range r.slots {
		if !s.seated {
			r.mu.Unlock()
			return
		}
	}
	r.announced = true
	snap := r.snapshotLocked()
	for _, s := range r.slots {
		r.sendLocked(s, models.EventRoomConnected, "", snap, nil)
	}
	r.mu.Unlock()

	matchesTotal.Inc()
	zap.L().Info("chat room occupied", zap.String("roomID", r.id), zap.Strings("participants", snap.Participants))
	r.m.publish(models.RoomEvent{Type: models.RoomPaired, RoomID: r.id, Participants: snap.Participants, At: r.m.now()})
}

// Leave removes the slot of sessionID. The remaining member, if any, gets
// one left-chat notice; an empty room is destroyed.
func (r *Room) Leave(sessionID string) error {
	r.mu.Lock()
	var fx effects
	i := r.indexLocked(sessionID)
	if r.closed || i < 0 {
		r.mu.Unlock()
		return ErrNotMember
	}
	r.leaveLocked(i, reasonLeft, &fx)
	r.mu.Unlock()

	fx.run()
	return nil
}

func (r *Room) leaveLocked(i int, reason string, fx *effects) {
	s := r.slots[i]
	r.slots = append(r.slots[:i:i], r.slots[i+1:]...)
	if s.conn != nil {
		s.conn.Unbind(r.id)
	}

	now := r.m.now()
	sessionID := s.sessionID
	fx.add(func() {
		r.m.revoke(r.id, sessionID)
		r.m.publish(models.RoomEvent{Type: models.RoomLeft, RoomID: r.id, Participants: []string{s.participantID}, At: now})
	})
	zap.L().Info("participant left chat room",
		zap.String("roomID", r.id), zap.String("participantID", s.participantID), zap.String("reason", reason))

	switch len(r.slots) {
	case 1:
		r.announced = false
		r.soloSince = now
		rest := r.slots[0]
		notice := r.m.notice(rest.lang, localization.KeyLeftChat)
		if rest.conn != nil {
			r.sendLocked(rest, models.EventLeftChat, "", notice, nil)
		} else if env, err := models.NewEnvelope(models.EventLeftChat, "", notice); err == nil {
			rest.pending = append(rest.pending, env)
		}
		if r.m.cfg.RecycleRooms {
			r.epoch = r.seq
			fx.add(func() { r.m.release(r) })
		}
	case 0:
		r.destroyLocked(reason, fx)
	}
}

// destroyLocked closes the room. Destroying a closed room is a no-op.
func (r *Room) destroyLocked(reason string, fx *effects) {
	if r.closed {
		return
	}
	r.closed = true

	var sessions []string
	for _, s := range r.slots {
		sessions = append(sessions, s.sessionID)
		if s.conn != nil {
			s.conn.Unbind(r.id)
		}
	}
	r.slots = nil

	evType := models.RoomClosed
	if reason == reasonInactive {
		evType = models.RoomInactive
	}
	now := r.m.now()
	roomsClosed.WithLabelValues(reason).Inc()
	zap.L().Info("chat room destroyed", zap.String("roomID", r.id), zap.String("reason", reason))

	fx.add(func() {
		r.m.forget(r)
		for _, id := range sessions {
			r.m.revoke(r.id, id)
		}
		r.m.persist(r.id, "close room", func(ctx context.Context, st storage.Storage) error {
			return st.CloseRoom(ctx, r.id, reason)
		})
		r.m.publish(models.RoomEvent{Type: evType, RoomID: r.id, At: now})
	})
}

// Send appends a message from sessionID and fans it out to every attached
// member, the sender included. A message id already in the room is not
// appended again; the sender gets the stored copy back.
func (r *Room) Send(sessionID, msgID, body, correlationID string) (models.ChatMessage, error) {
	r.mu.Lock()
	msg, appended, err := r.sendMessageLocked(sessionID, msgID, body, correlationID)
	r.mu.Unlock()
	if err != nil || !appended {
		return msg, err
	}

	roomID := r.id
	r.m.persist(roomID, "save message", func(ctx context.Context, st storage.Storage) error {
		return st.SaveMessage(ctx, roomID, msg)
	})
	return msg, nil
}

func (r *Room) sendMessageLocked(sessionID, msgID, body, correlationID string) (models.ChatMessage, bool, error) {
	if r.closed {
		return models.ChatMessage{}, false, ErrRoomClosed
	}
	i := r.indexLocked(sessionID)
	if i < 0 {
		return models.ChatMessage{}, false, ErrNotMember
	}
	sender := r.slots[i]

	if strings.TrimSpace(body) == "" {
		return models.ChatMessage{}, false, errorx.New(errorx.KindProtocol, "message body is empty")
	}
	if limit := r.m.cfg.MaxBodyBytes; limit > 0 && len(body) > limit {
		return models.ChatMessage{}, false, errorx.Newf(errorx.KindProtocol, "message body exceeds %d bytes", limit)
	}

	if msgID != "" {
		if idx, ok := r.byID[msgID]; ok {
			dup := r.history[idx]
			r.sendLocked(sender, models.EventReceiveMessage, correlationID, dup, nil)
			return dup, false, nil
		}
	} else {
		msgID = uuid.NewString()
	}

	r.seq++
	msg := models.ChatMessage{
		ID:        msgID,
		Sender:    sender.participantID,
		Body:      body,
		Timestamp: r.m.now().UTC(),
		Seq:       r.seq,
	}
	r.byID[msg.ID] = len(r.history)
	r.history = append(r.history, msg)
	messagesTotal.Inc()

	for _, s := range r.slots {
		corr := ""
		if s == sender {
			corr = correlationID
		}
		sid, seq := s.sessionID, msg.Seq
		r.sendLocked(s, models.EventReceiveMessage, corr, msg, func() { r.markDelivered(sid, seq) })
	}
	return msg, true, nil
}

// markDelivered advances the slot's high-water-mark when seq directly
// follows it.
func (r *Room) markDelivered(sessionID string, seq int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i := r.indexLocked(sessionID); i >= 0 && r.slots[i].hwm+1 == seq {
		r.slots[i].hwm = seq
	}
}

// Retrieve hands the slot of sessionID its history: everything on the
// first retrieval, afterwards only messages above its high-water-mark.
// The batch is queued to the slot's connection and also returned.
func (r *Room) Retrieve(sessionID, correlationID string) (msgs []models.ChatMessage, full bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, false, ErrRoomClosed
	}
	i := r.indexLocked(sessionID)
	if i < 0 {
		return nil, false, ErrNotMember
	}
	s := r.slots[i]

	from := s.hwm
	full = !s.historySent
	if full {
		from = s.floor
	}
	msgs = r.since(from)
	s.historySent = true
	s.hwm = r.seq

	event := models.EventMissedMessages
	if full {
		event = models.EventChatHistory
	}
	r.sendLocked(s, event, correlationID, msgs, nil)
	return msgs, full, nil
}

// since returns the messages with seq above from, in seq order.
func (r *Room) since(from int64) []models.ChatMessage {
	out := make([]models.ChatMessage, 0)
	for _, m := range r.history {
		if m.Seq > from {
			out = append(out, m)
		}
	}
	return out
}

// Resume attaches conn to the existing slot of sessionID and answers the
// recovery request with the room snapshot. Notices raised while the slot
// was detached follow the answer. Resuming twice is harmless.
func (r *Room) Resume(sessionID string, conn Client, correlationID string) (models.ChatRoom, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return models.ChatRoom{}, ErrRoomClosed
	}
	i := r.indexLocked(sessionID)
	if i < 0 {
		return models.ChatRoom{}, ErrNotMember
	}
	s := r.slots[i]

	if s.conn != nil && s.conn != conn {
		s.conn.Unbind(r.id)
	}
	s.conn = conn
	s.lang = conn.GetLang()
	s.detachedAt = time.Time{}
	conn.Bind(r.id, sessionID)

	snap := r.snapshotLocked()
	r.sendLocked(s, models.EventReceiveSession, correlationID, snap, nil)
	for _, env := range s.pending {
		r.deliverLocked(s, env, nil)
	}
	s.pending = nil
	return snap, nil
}

// Detach marks the slot of sessionID as disconnected if conn still owns
// it. The slot is kept for the reconnect grace period.
func (r *Room) Detach(sessionID string, conn Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if i := r.indexLocked(sessionID); i >= 0 && r.slots[i].conn == conn {
		r.slots[i].conn = nil
		r.slots[i].detachedAt = r.m.now()
	}
}

// Sweep applies the time-based policies: detached slots past the grace
// period leave, and a room that held one member past the inactivity
// timeout is torn down with one inactive-chatRoom notice.
func (r *Room) Sweep(now time.Time) {
	r.mu.Lock()
	var fx effects
	if !r.closed {
		r.sweepLocked(now, &fx)
	}
	r.mu.Unlock()
	fx.run()
}

func (r *Room) sweepLocked(now time.Time, fx *effects) {
	cfg := r.m.cfg
	for i := len(r.slots) - 1; i >= 0; i-- {
		s := r.slots[i]
		if s.conn == nil && !s.detachedAt.IsZero() && now.Sub(s.detachedAt) >= cfg.ReconnectGrace {
			r.leaveLocked(i, reasonGrace, fx)
		}
	}
	if r.closed || cfg.InactivityTimeout <= 0 {
		return
	}

	switch len(r.slots) {
	case 1:
		if now.Sub(r.soloSince) < cfg.InactivityTimeout {
			return
		}
		s := r.slots[0]
		r.sendLocked(s, models.EventInactiveRoom, "", r.snapshotLocked(), nil)
		r.destroyLocked(reasonInactive, fx)
	case 0:
		if now.Sub(r.emptySince) >= cfg.InactivityTimeout {
			r.destroyLocked(reasonExpired, fx)
		}
	}
}

func (r *Room) indexLocked(sessionID string) int {
	for i, s := range r.slots {
		if s.sessionID == sessionID {
			return i
		}
	}
	return -1
}

func (r *Room) recordLocked() models.RoomRecord {
	return models.RoomRecord{
		RoomID:       r.id,
		Participants: append(models.ParticipantIDs(nil), r.everJoined...),
		IsActive:     true,
		StartedAt:    r.createdAt,
	}
}

func (r *Room) sendLocked(s *slot, event, correlationID string, payload any, onWritten func()) {
	if s.conn == nil {
		return
	}
	env, err := models.NewEnvelope(event, correlationID, payload)
	if err != nil {
		zap.L().Error("failed to encode frame", zap.String("event", event), zap.Error(err))
		return
	}
	r.deliverLocked(s, env, onWritten)
}

func (r *Room) deliverLocked(s *slot, env models.Envelope, onWritten func()) {
	if s.conn == nil {
		return
	}
	if !s.conn.Deliver(Outbound{Envelope: env, OnWritten: onWritten}) {
		framesDropped.Inc()
		zap.L().Warn("dropped frame", zap.String("roomID", r.id), zap.String("event", env.Event),
			zap.String("connID", s.conn.GetConnID()))
	}
}
