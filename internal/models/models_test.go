package models_test

import (
	"reflect"
	"testing"

	"github.com/billychen0894/spareTalk/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestChatHistoryBeforeCreate_GeneratesUUID verifies that rows without a
// message id get one.
func TestChatHistoryBeforeCreate_GeneratesUUID(t *testing.T) {
	h := &models.ChatHistory{RoomID: "r1", SenderID: "p1", Body: "hi"}
	assert.Empty(t, h.MessageID)

	err := h.BeforeCreate(nil)

	assert.NoError(t, err)
	_, parseErr := uuid.Parse(h.MessageID)
	assert.NoError(t, parseErr, "MessageID must be a valid UUID string")
}

// TestChatHistoryBeforeCreate_PreservesClientID checks that a client
// supplied id survives, so optimistic echoes reconcile.
func TestChatHistoryBeforeCreate_PreservesClientID(t *testing.T) {
	h := &models.ChatHistory{MessageID: "m1"}

	assert.NoError(t, h.BeforeCreate(nil))
	assert.Equal(t, "m1", h.MessageID)
}

func TestChatHistoryStructTags(t *testing.T) {
	typ := reflect.TypeOf(models.ChatHistory{})

	roomField, found := typ.FieldByName("RoomID")
	assert.True(t, found)
	assert.Contains(t, roomField.Tag.Get("gorm"), "uniqueIndex:idx_room_message")

	msgField, found := typ.FieldByName("MessageID")
	assert.True(t, found)
	assert.Contains(t, msgField.Tag.Get("gorm"), "uniqueIndex:idx_room_message",
		"a repeated message id in one room must be rejected by the database")
}

func TestParticipantIDs_RoundTrip(t *testing.T) {
	in := models.ParticipantIDs{"p1", "p2"}

	v, err := in.Value()
	require.NoError(t, err)

	var out models.ParticipantIDs
	require.NoError(t, out.Scan(v))
	assert.Equal(t, in, out)
}

func TestChatRoomOther(t *testing.T) {
	room := models.ChatRoom{ID: "r1", State: models.RoomOccupied, Participants: []string{"a", "b"}}

	assert.Equal(t, "b", room.Other("a"))
	assert.Equal(t, "a", room.Other("b"))
	assert.Equal(t, "", models.ChatRoom{Participants: []string{"a"}}.Other("a"))
}

func TestSessionCompleteness(t *testing.T) {
	tests := []struct {
		name     string
		session  models.Session
		empty    bool
		complete bool
	}{
		{"empty", models.Session{}, true, false},
		{"complete", models.Session{SessionID: "s1", ChatRoomID: "r1"}, false, true},
		{"room only", models.Session{ChatRoomID: "r1"}, false, false},
		{"session only", models.Session{SessionID: "s1"}, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.empty, tt.session.Empty())
			assert.Equal(t, tt.complete, tt.session.Complete())
		})
	}
}

func TestEnvelope_NullPayload(t *testing.T) {
	env, err := models.NewEnvelope(models.EventReceiveSession, "c1", nil)
	require.NoError(t, err)
	assert.True(t, env.IsNull())

	var room *models.ChatRoom
	require.NoError(t, env.Decode(&room))
	assert.Nil(t, room)
}

func TestEnvelope_DecodePayload(t *testing.T) {
	env, err := models.NewEnvelope(models.EventSession, "c1", models.Session{SessionID: "s1", ChatRoomID: "r1"})
	require.NoError(t, err)
	assert.False(t, env.IsNull())

	var s models.Session
	require.NoError(t, env.Decode(&s))
	assert.Equal(t, "r1", s.ChatRoomID)
}
