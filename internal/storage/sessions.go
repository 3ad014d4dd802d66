package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/billychen0894/spareTalk/internal/models"
	"github.com/redis/go-redis/v9"
)

// RoomEventsChannel is the pub/sub channel carrying models.RoomEvent JSON.
const RoomEventsChannel = "sparetalk:room-events"

func sessionKey(sessionID string) string { return "session:" + sessionID }

// BindSession records that sessionID belongs to roomID for ttl.
func (s *Service) BindSession(ctx context.Context, sessionID, roomID string, ttl time.Duration) error {
	if s.Redis == nil {
		return nil
	}
	return s.Redis.Set(ctx, sessionKey(sessionID), roomID, ttl).Err()
}

// SessionRoom returns the bound room of sessionID.
func (s *Service) SessionRoom(ctx context.Context, sessionID string) (string, error) {
	if s.Redis == nil {
		return "", errors.New("session bindings are not configured")
	}
	roomID, err := s.Redis.Get(ctx, sessionKey(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("session binding %s: %w", sessionID, err)
	}
	return roomID, nil
}

// RevokeSession deletes the binding. Revoking a missing binding is not an error.
func (s *Service) RevokeSession(ctx context.Context, sessionID string) error {
	if s.Redis == nil {
		return nil
	}
	return s.Redis.Del(ctx, sessionKey(sessionID)).Err()
}

// PublishEvent publishes ev on RoomEventsChannel.
func (s *Service) PublishEvent(ctx context.Context, ev models.RoomEvent) error {
	if s.Redis == nil {
		return nil
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return s.Redis.Publish(ctx, RoomEventsChannel, data).Err()
}

// SubscribeEvents streams room events until ctx is done. Malformed
// payloads are skipped.
func (s *Service) SubscribeEvents(ctx context.Context) (<-chan models.RoomEvent, error) {
	if s.Redis == nil {
		return nil, errors.New("redis is not configured")
	}
	sub := s.Redis.Subscribe(ctx, RoomEventsChannel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", RoomEventsChannel, err)
	}

	out := make(chan models.RoomEvent)
	go func() {
		defer close(out)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev models.RoomEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
