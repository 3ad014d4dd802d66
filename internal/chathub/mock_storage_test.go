package chathub_test

import (
	"context"
	"time"

	"github.com/billychen0894/spareTalk/internal/models"
	"github.com/billychen0894/spareTalk/internal/storage"
	"github.com/stretchr/testify/mock"
)

type MockStorage struct {
	mock.Mock
}

var _ storage.Storage = (*MockStorage)(nil)

func (m *MockStorage) SaveRoom(ctx context.Context, room *models.RoomRecord) error {
	args := m.Called(ctx, room)
	return args.Error(0)
}

func (m *MockStorage) CloseRoom(ctx context.Context, roomID, reason string) error {
	args := m.Called(ctx, roomID, reason)
	return args.Error(0)
}

func (m *MockStorage) SaveMessage(ctx context.Context, roomID string, msg models.ChatMessage) error {
	args := m.Called(ctx, roomID, msg)
	return args.Error(0)
}

func (m *MockStorage) GetChatHistory(ctx context.Context, roomID string) ([]models.ChatMessage, error) {
	args := m.Called(ctx, roomID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.ChatMessage), args.Error(1)
}

func (m *MockStorage) GetRoomByID(ctx context.Context, roomID string) (*models.RoomRecord, error) {
	args := m.Called(ctx, roomID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.RoomRecord), args.Error(1)
}

func (m *MockStorage) GetActiveRoomIDs(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockStorage) CloseStaleRooms(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStorage) BindSession(ctx context.Context, sessionID, roomID string, ttl time.Duration) error {
	args := m.Called(ctx, sessionID, roomID, ttl)
	return args.Error(0)
}

func (m *MockStorage) SessionRoom(ctx context.Context, sessionID string) (string, error) {
	args := m.Called(ctx, sessionID)
	return args.String(0), args.Error(1)
}

func (m *MockStorage) RevokeSession(ctx context.Context, sessionID string) error {
	args := m.Called(ctx, sessionID)
	return args.Error(0)
}

func (m *MockStorage) PublishEvent(ctx context.Context, ev models.RoomEvent) error {
	args := m.Called(ctx, ev)
	return args.Error(0)
}
