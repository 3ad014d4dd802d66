package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/billychen0894/spareTalk/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SaveRoom upserts the room record.
func (s *Service) SaveRoom(ctx context.Context, room *models.RoomRecord) error {
	return s.DB.WithContext(ctx).Save(room).Error
}

// CloseRoom marks the room inactive with the given reason.
func (s *Service) CloseRoom(ctx context.Context, roomID, reason string) error {
	return s.DB.WithContext(ctx).Model(&models.RoomRecord{}).
		Where("room_id = ?", roomID).
		Updates(map[string]any{
			"is_active":  false,
			"ended_at":   time.Now(),
			"end_reason": reason,
		}).Error
}

// SaveMessage appends msg to the room's history.
func (s *Service) SaveMessage(ctx context.Context, roomID string, msg models.ChatMessage) error {
	row := models.HistoryFromMessage(roomID, msg)
	err := s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row).Error
	if err != nil {
		zap.L().Error("failed to save message", zap.String("roomID", roomID), zap.String("messageID", msg.ID), zap.Error(err))
		return fmt.Errorf("save message %s: %w", msg.ID, err)
	}
	return nil
}

// GetChatHistory returns the room's messages in seq order.
func (s *Service) GetChatHistory(ctx context.Context, roomID string) ([]models.ChatMessage, error) {
	var rows []models.ChatHistory
	if err := s.DB.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("seq asc").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("chat history of %s: %w", roomID, err)
	}

	out := make([]models.ChatMessage, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.ToMessage())
	}
	return out, nil
}

// GetRoomByID returns the room record or ErrNotFound.
func (s *Service) GetRoomByID(ctx context.Context, roomID string) (*models.RoomRecord, error) {
	var room models.RoomRecord
	err := s.DB.WithContext(ctx).Where("room_id = ?", roomID).First(&room).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get room %s: %w", roomID, err)
	}
	return &room, nil
}

// GetActiveRoomIDs lists rooms that have not been closed.
func (s *Service) GetActiveRoomIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := s.DB.WithContext(ctx).Model(&models.RoomRecord{}).
		Where("is_active = ?", true).
		Order("started_at asc").
		Pluck("room_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("active rooms: %w", err)
	}
	return ids, nil
}

// CloseStaleRooms closes every room still marked active. The hub keeps
// rooms in memory only, so rooms left open by a previous process are dead.
func (s *Service) CloseStaleRooms(ctx context.Context) (int64, error) {
	res := s.DB.WithContext(ctx).Model(&models.RoomRecord{}).
		Where("is_active = ?", true).
		Updates(map[string]any{
			"is_active":  false,
			"ended_at":   time.Now(),
			"end_reason": "restart",
		})
	return res.RowsAffected, res.Error
}
