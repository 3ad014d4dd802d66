package chathub

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/billychen0894/spareTalk/internal/errorx"
	"github.com/billychen0894/spareTalk/internal/localization"
	"github.com/billychen0894/spareTalk/internal/models"
	"github.com/billychen0894/spareTalk/internal/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MatcherService pairs waiting participants into rooms. It owns the room
// registry and the FIFO pool of idle rooms that still have a free slot.
//
// Lock order is matcher then room. Rooms never call back into the matcher
// while holding their own lock.
type MatcherService struct {
	cfg     RoomConfig
	store   storage.Storage
	jobs    *WorkerPool
	notices *localization.Localizer
	now     func() time.Time

	mu    sync.Mutex
	rooms map[string]*Room
	idle  []*Room
}

// NewMatcherService builds a matcher. store, jobs and notices may be nil:
// without a store nothing is persisted, without jobs persistence runs
// inline, without notices the notice keys are sent verbatim.
func NewMatcherService(cfg RoomConfig, store storage.Storage, jobs *WorkerPool, notices *localization.Localizer) *MatcherService {
	return &MatcherService{
		cfg:     cfg,
		store:   store,
		jobs:    jobs,
		notices: notices,
		now:     time.Now,
		rooms:   make(map[string]*Room),
	}
}

// RequestMatch seats mem in the oldest idle room that accepts it, or in a
// new idle room. Claiming the room and updating the pool is one step with
// respect to every other request. seated, when set, runs once mem holds
// its slot and before the members are told the room is occupied; if it
// fails mem leaves again and the error is returned. The room is announced
// only once every member's seated callback has returned.
func (m *MatcherService) RequestMatch(mem Member, seated func(*Room) error) (*Room, error) {
	room, fx, err := m.claim(mem)
	fx.run()
	if err != nil {
		return nil, err
	}

	if seated != nil {
		if err := seated(room); err != nil {
			_ = room.Leave(mem.SessionID)
			return nil, err
		}
	}
	room.seat(mem.SessionID)
	return room, nil
}

func (m *MatcherService) claim(mem Member) (*Room, effects, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.idle[:0]
	var (
		room *Room
		fx   effects
	)
	for _, r := range m.idle {
		if room != nil {
			kept = append(kept, r)
			continue
		}
		joinFx, err := r.join(mem, false)
		switch {
		case err == nil:
			room, fx = r, joinFx
			if r.Size() < roomCapacity {
				kept = append(kept, r)
			}
		case errors.Is(err, ErrAlreadyMember):
			kept = append(kept, r)
		default:
			// full or closed: no longer idle
		}
	}
	clear(m.idle[len(kept):])
	m.idle = kept

	if room == nil {
		room = newRoom(uuid.NewString(), m)
		joinFx, err := room.join(mem, false)
		if err != nil {
			return nil, nil, errorx.Wrap(err, errorx.KindInternal, "failed to seat participant in new room")
		}
		fx = joinFx
		m.rooms[room.id] = room
		m.idle = append(m.idle, room)
		zap.L().Info("chat room created", zap.String("roomID", room.id), zap.String("participantID", mem.ParticipantID))
	}
	m.gaugesLocked()
	return room, fx, nil
}

// ReserveRoom returns the room at the head of the idle pool, creating an
// empty one when the pool is empty.
func (m *MatcherService) ReserveRoom() *Room {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.idle) > 0 {
		return m.idle[0]
	}
	room := newRoom(uuid.NewString(), m)
	m.rooms[room.id] = room
	m.idle = append(m.idle, room)
	m.gaugesLocked()
	zap.L().Info("chat room reserved", zap.String("roomID", room.id))
	return room
}

// Lookup returns a live room by id.
func (m *MatcherService) Lookup(id string) (*Room, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[id]
	return r, ok
}

// Rooms returns every live room.
func (m *MatcherService) Rooms() []*Room {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		out = append(out, r)
	}
	return out
}

// Waiting returns the number of rooms in the idle pool.
func (m *MatcherService) Waiting() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.idle)
}

// Sweep applies the time-based policies to every room.
func (m *MatcherService) Sweep(now time.Time) {
	for _, r := range m.Rooms() {
		r.Sweep(now)
	}
}

// forget drops a destroyed room from the registry and the pool.
func (m *MatcherService) forget(r *Room) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rooms, r.id)
	m.removeIdleLocked(r)
	m.gaugesLocked()
}

// release returns a room that dropped back to one member to the pool.
func (m *MatcherService) release(r *Room) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.Closed() || r.Size() != 1 {
		return
	}
	for _, idle := range m.idle {
		if idle == r {
			return
		}
	}
	m.idle = append(m.idle, r)
	m.gaugesLocked()
}

func (m *MatcherService) removeIdleLocked(r *Room) {
	for i, idle := range m.idle {
		if idle == r {
			m.idle = append(m.idle[:i], m.idle[i+1:]...)
			return
		}
	}
}

func (m *MatcherService) gaugesLocked() {
	roomsActive.Set(float64(len(m.rooms)))
	roomsWaiting.Set(float64(len(m.idle)))
}

// persist runs fn against the store in the background, ordered per room.
func (m *MatcherService) persist(roomID, name string, fn func(ctx context.Context, st storage.Storage) error) {
	if m.store == nil {
		return
	}
	job := Job{Key: roomID, Name: name, Run: func(ctx context.Context) error { return fn(ctx, m.store) }}
	if m.jobs == nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := job.Run(ctx); err != nil {
			zap.L().Error("persistence failed", zap.String("job", name), zap.String("roomID", roomID), zap.Error(err))
		}
		return
	}
	m.jobs.Submit(job)
}

func (m *MatcherService) revoke(roomID, sessionID string) {
	m.persist(roomID, "revoke session", func(ctx context.Context, st storage.Storage) error {
		return st.RevokeSession(ctx, sessionID)
	})
}

func (m *MatcherService) publish(ev models.RoomEvent) {
	m.persist(ev.RoomID, "publish "+string(ev.Type), func(ctx context.Context, st storage.Storage) error {
		return st.PublishEvent(ctx, ev)
	})
}

func (m *MatcherService) notice(lang, key string) string {
	if m.notices == nil {
		return key
	}
	return m.notices.GetString(lang, key)
}
