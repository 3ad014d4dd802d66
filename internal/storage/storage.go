// Package storage persists room lifecycles and chat history in postgres
// (via gorm) and keeps session bindings and room events in redis.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/billychen0894/spareTalk/internal/models"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// ErrNotFound is returned when a room, or a session binding, does not exist.
var ErrNotFound = errors.New("not found")

// Storage is everything the chat hub needs to persist.
type Storage interface {
	SaveRoom(ctx context.Context, room *models.RoomRecord) error
	CloseRoom(ctx context.Context, roomID, reason string) error
	// SaveMessage stores msg; a repeated message id in a room is a no-op.
	SaveMessage(ctx context.Context, roomID string, msg models.ChatMessage) error
	GetChatHistory(ctx context.Context, roomID string) ([]models.ChatMessage, error)
	GetRoomByID(ctx context.Context, roomID string) (*models.RoomRecord, error)
	GetActiveRoomIDs(ctx context.Context) ([]string, error)
	CloseStaleRooms(ctx context.Context) (int64, error)

	BindSession(ctx context.Context, sessionID, roomID string, ttl time.Duration) error
	// SessionRoom returns the room a session is bound to, or ErrNotFound.
	SessionRoom(ctx context.Context, sessionID string) (string, error)
	RevokeSession(ctx context.Context, sessionID string) error
	PublishEvent(ctx context.Context, ev models.RoomEvent) error
}

// Service implements Storage on gorm and redis. Redis may be nil, in which
// case session bindings are not tracked and events are not published.
type Service struct {
	DB    *gorm.DB
	Redis *redis.Client
}

var _ Storage = (*Service)(nil)

// NewStorageService builds a Service.
func NewStorageService(db *gorm.DB, rdb *redis.Client) *Service {
	return &Service{DB: db, Redis: rdb}
}

// Migrate creates or updates the tables.
func (s *Service) Migrate() error {
	return s.DB.AutoMigrate(&models.RoomRecord{}, &models.ChatHistory{})
}
