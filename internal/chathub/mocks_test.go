package chathub_test

import (
	"testing"
	"time"

	"github.com/billychen0894/spareTalk/internal/chathub"
	"github.com/billychen0894/spareTalk/internal/models"
	"github.com/stretchr/testify/require"
)

func testRoomConfig() chathub.RoomConfig {
	return chathub.RoomConfig{
		InactivityTimeout: time.Minute,
		ReconnectGrace:    time.Second,
		MaxBodyBytes:      64,
	}
}

func newTestMatcher(cfg chathub.RoomConfig) *chathub.MatcherService {
	return chathub.NewMatcherService(cfg, nil, nil, nil)
}

// seat runs a match for participant id with session "s-"+id.
func seat(t *testing.T, m *chathub.MatcherService, id string, c *MockClient) *chathub.Room {
	t.Helper()
	room, err := m.RequestMatch(chathub.Member{ParticipantID: id, SessionID: "s-" + id, Conn: c}, nil)
	require.NoError(t, err)
	return room
}

// pair seats A and B and returns their shared room.
func pair(t *testing.T, m *chathub.MatcherService) (*chathub.Room, *MockClient, *MockClient) {
	t.Helper()
	a, b := newMockClient("A"), newMockClient("B")
	roomA := seat(t, m, "A", a)
	roomB := seat(t, m, "B", b)
	require.Same(t, roomA, roomB)
	return roomA, a, b
}

func decodeRoom(t *testing.T, env models.Envelope) models.ChatRoom {
	t.Helper()
	var room models.ChatRoom
	require.NoError(t, env.Decode(&room))
	return room
}

func decodeMessages(t *testing.T, env models.Envelope) []models.ChatMessage {
	t.Helper()
	var msgs []models.ChatMessage
	require.NoError(t, env.Decode(&msgs))
	return msgs
}

func messageIDs(msgs []models.ChatMessage) []string {
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	return ids
}
