package chathub_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/billychen0894/spareTalk/internal/chathub"
	"github.com/billychen0894/spareTalk/internal/errorx"
	"github.com/billychen0894/spareTalk/internal/models"
	"github.com/billychen0894/spareTalk/internal/session"
	"github.com/billychen0894/spareTalk/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func createTestHub(store storage.Storage) *chathub.ManagerService {
	issuer := session.NewIssuer("test-secret", "sparetalk", time.Hour)
	matcher := newTestMatcher(testRoomConfig())
	return chathub.NewManagerService(chathub.HubConfig{
		SessionTTL:    time.Hour,
		SweepInterval: 10 * time.Millisecond,
	}, matcher, store, issuer)
}

func emit(t *testing.T, hub *chathub.ManagerService, c *MockClient, event, corr string, payload any) {
	t.Helper()
	env, err := models.NewEnvelope(event, corr, payload)
	require.NoError(t, err)
	hub.HandleEvent(c, env)
}

func startChat(t *testing.T, hub *chathub.ManagerService, c *MockClient) models.Session {
	t.Helper()
	emit(t, hub, c, models.EventStartChat, "start-"+c.connID, models.StartChatPayload{ParticipantID: c.connID})
	env, ok := c.Last(models.EventSession)
	require.True(t, ok, "no session for %s, got %v", c.connID, c.Events())
	var s models.Session
	require.NoError(t, env.Decode(&s))
	return s
}

func lastError(t *testing.T, c *MockClient) models.ErrorPayload {
	t.Helper()
	env, ok := c.Last(models.EventError)
	require.True(t, ok, "expected an error frame, got %v", c.Events())
	var p models.ErrorPayload
	require.NoError(t, env.Decode(&p))
	return p
}

func TestHub_StartChatIssuesSessionThenConnects(t *testing.T) {
	hub := createTestHub(nil)
	a, b := newMockClient("A"), newMockClient("B")

	sa := startChat(t, hub, a)
	assert.Equal(t, []string{models.EventSession}, a.Events())
	env, _ := a.Last(models.EventSession)
	assert.Equal(t, "start-A", env.CorrelationID)
	assert.True(t, sa.Complete())
	assert.Equal(t, "A", sa.ParticipantID)

	claims, err := hub.Sessions.Parse(sa.SessionID)
	require.NoError(t, err)
	assert.Equal(t, sa.ChatRoomID, claims.RoomID)

	sb := startChat(t, hub, b)
	assert.Equal(t, sa.ChatRoomID, sb.ChatRoomID)
	assert.NotEqual(t, sa.SessionID, sb.SessionID)

	assert.Equal(t, []string{models.EventSession, models.EventRoomConnected}, a.Events())
	assert.Equal(t, []string{models.EventSession, models.EventRoomConnected}, b.Events())
	connected, _ := b.Last(models.EventRoomConnected)
	room := decodeRoom(t, connected)
	assert.Equal(t, models.RoomOccupied, room.State)
	assert.ElementsMatch(t, []string{"A", "B"}, room.Participants)
}

func TestHub_StartChatDefaultsParticipantToConnection(t *testing.T) {
	hub := createTestHub(nil)
	a := newMockClient("A")

	emit(t, hub, a, models.EventStartChat, "", nil)
	_, ok := a.Last(models.EventSession)
	require.True(t, ok)

	room, ok := hub.Matcher.Lookup(a.GetRoomID())
	require.True(t, ok)
	assert.Equal(t, []string{"A"}, room.Snapshot().Participants)
}

func TestHub_StartChatRejections(t *testing.T) {
	hub := createTestHub(nil)

	a := newMockClient("A")
	emit(t, hub, a, models.EventStartChat, "c1", models.StartChatPayload{ParticipantID: "someone-else"})
	assert.Equal(t, string(errorx.KindProtocol), lastError(t, a).Code)
	assert.Zero(t, a.Count(models.EventSession))

	b := newMockClient("B")
	startChat(t, hub, b)
	emit(t, hub, b, models.EventStartChat, "c2", models.StartChatPayload{ParticipantID: "B"})
	assert.Equal(t, 1, b.Count(models.EventSession))
	assert.Equal(t, string(errorx.KindProtocol), lastError(t, b).Code)
	assert.Len(t, hub.Matcher.Rooms(), 1)
}

func TestHub_CheckSessionResumesIdempotently(t *testing.T) {
	hub := createTestHub(nil)
	a, b := newMockClient("A"), newMockClient("B")
	sa := startChat(t, hub, a)
	startChat(t, hub, b)

	reloaded := newMockClient("A2")
	check := models.CheckSessionPayload{ChatRoomID: sa.ChatRoomID, SessionID: sa.SessionID}
	emit(t, hub, reloaded, models.EventCheckSession, "chk-1", check)
	emit(t, hub, reloaded, models.EventCheckSession, "chk-2", check)

	require.Equal(t, 2, reloaded.Count(models.EventReceiveSession))
	envs := reloaded.envelopes()
	assert.Equal(t, "chk-1", envs[0].CorrelationID)
	assert.Equal(t, "chk-2", envs[1].CorrelationID)
	assert.JSONEq(t, string(envs[0].Payload), string(envs[1].Payload))
	assert.False(t, envs[1].IsNull())

	room := decodeRoom(t, envs[1])
	assert.Equal(t, sa.ChatRoomID, room.ID)
	assert.Equal(t, models.RoomOccupied, room.State)
	assert.Equal(t, sa.ChatRoomID, reloaded.GetRoomID())
	assert.Empty(t, a.GetRoomID(), "the old connection lost the slot")
}

func TestHub_CheckSessionAnswersNull(t *testing.T) {
	hub := createTestHub(nil)
	a := newMockClient("A")
	sa := startChat(t, hub, a)

	other := session.NewIssuer("other-secret", "sparetalk", time.Hour)
	forged, _, err := other.Issue(session.NewSessionID(), sa.ChatRoomID)
	require.NoError(t, err)

	tests := []struct {
		name    string
		payload models.CheckSessionPayload
	}{
		{"garbage token", models.CheckSessionPayload{ChatRoomID: sa.ChatRoomID, SessionID: "not-a-token"}},
		{"foreign signature", models.CheckSessionPayload{ChatRoomID: sa.ChatRoomID, SessionID: forged}},
		{"other room", models.CheckSessionPayload{ChatRoomID: "another-room", SessionID: sa.SessionID}},
		{"missing room", models.CheckSessionPayload{SessionID: sa.SessionID}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newMockClient("X")
			emit(t, hub, c, models.EventCheckSession, "chk", tt.payload)
			env, ok := c.Last(models.EventReceiveSession)
			require.True(t, ok)
			assert.True(t, env.IsNull())
			assert.Equal(t, "chk", env.CorrelationID)
			assert.Empty(t, c.GetRoomID())
		})
	}
}

func TestHub_CheckSessionAfterRoomDestroyed(t *testing.T) {
	hub := createTestHub(nil)
	a := newMockClient("A")
	sa := startChat(t, hub, a)

	room, ok := hub.Matcher.Lookup(sa.ChatRoomID)
	require.True(t, ok)
	room.Sweep(time.Now().Add(2 * time.Minute))
	require.Equal(t, 1, a.Count(models.EventInactiveRoom))

	reloaded := newMockClient("A2")
	check := models.CheckSessionPayload{ChatRoomID: sa.ChatRoomID, SessionID: sa.SessionID}
	emit(t, hub, reloaded, models.EventCheckSession, "", check)
	emit(t, hub, reloaded, models.EventCheckSession, "", check)

	assert.Equal(t, 2, reloaded.Count(models.EventReceiveSession))
	for _, env := range reloaded.envelopes() {
		assert.True(t, env.IsNull())
	}
}

func TestHub_CheckSessionFallsBackToHandshakeCredential(t *testing.T) {
	hub := createTestHub(nil)
	a := newMockClient("A")
	sa := startChat(t, hub, a)

	reloaded := newMockClient("A2")
	reloaded.cred = sa
	emit(t, hub, reloaded, models.EventCheckSession, "chk", nil)

	env, ok := reloaded.Last(models.EventReceiveSession)
	require.True(t, ok)
	assert.False(t, env.IsNull())
	assert.Equal(t, sa.ChatRoomID, reloaded.GetRoomID())
}

func TestHub_CheckSessionConsultsRegistry(t *testing.T) {
	tests := []struct {
		name    string
		room    func(s models.Session) string
		err     error
		resumed bool
	}{
		{"bound", func(s models.Session) string { return s.ChatRoomID }, nil, true},
		{"revoked", func(models.Session) string { return "" }, storage.ErrNotFound, false},
		{"bound elsewhere", func(models.Session) string { return "elsewhere" }, nil, false},
		{"registry down", func(models.Session) string { return "" }, errors.New("connection refused"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := new(MockStorage)
			store.On("BindSession", mock.Anything, mock.Anything, mock.Anything, time.Hour).Return(nil)
			hub := createTestHub(store)

			a := newMockClient("A")
			sa := startChat(t, hub, a)
			store.On("SessionRoom", mock.Anything, mock.Anything).Return(tt.room(sa), tt.err)

			reloaded := newMockClient("A2")
			emit(t, hub, reloaded, models.EventCheckSession, "chk",
				models.CheckSessionPayload{ChatRoomID: sa.ChatRoomID, SessionID: sa.SessionID})

			env, ok := reloaded.Last(models.EventReceiveSession)
			require.True(t, ok)
			assert.Equal(t, tt.resumed, !env.IsNull())
			store.AssertCalled(t, "BindSession", mock.Anything, mock.Anything, sa.ChatRoomID, time.Hour)
		})
	}
}

func TestHub_SendAndRetrieve(t *testing.T) {
	hub := createTestHub(nil)
	a, b := newMockClient("A"), newMockClient("B")
	sa := startChat(t, hub, a)
	startChat(t, hub, b)

	emit(t, hub, a, models.EventSendMessage, "snd-1", models.SendMessagePayload{
		ChatRoomID: sa.ChatRoomID,
		Message:    models.ChatMessage{ID: "m1", Body: "hi"},
	})

	envA, ok := a.Last(models.EventReceiveMessage)
	require.True(t, ok)
	assert.Equal(t, "snd-1", envA.CorrelationID)
	envB, ok := b.Last(models.EventReceiveMessage)
	require.True(t, ok)
	var got models.ChatMessage
	require.NoError(t, envB.Decode(&got))
	assert.Equal(t, "m1", got.ID)
	assert.Equal(t, "A", got.Sender)

	emit(t, hub, b, models.EventRetrieveChat, "hist-1", models.RetrieveChatPayload{ChatRoomID: sa.ChatRoomID})
	hist, ok := b.Last(models.EventChatHistory)
	require.True(t, ok)
	assert.Equal(t, "hist-1", hist.CorrelationID)
	assert.Equal(t, []string{"m1"}, messageIDs(decodeMessages(t, hist)))
}

func TestHub_SendErrorsCarryMessageID(t *testing.T) {
	hub := createTestHub(nil)

	stranger := newMockClient("S")
	emit(t, hub, stranger, models.EventSendMessage, "snd", models.SendMessagePayload{
		ChatRoomID: "nowhere",
		Message:    models.ChatMessage{ID: "m9", Body: "hi"},
	})
	p := lastError(t, stranger)
	assert.Equal(t, string(errorx.KindSessionInvalid), p.Code)
	assert.Equal(t, "m9", p.MessageID)
	assert.Equal(t, 1, stranger.Count(models.EventError))

	a := newMockClient("A")
	sa := startChat(t, hub, a)
	emit(t, hub, a, models.EventSendMessage, "snd", models.SendMessagePayload{
		ChatRoomID: sa.ChatRoomID,
		Message:    models.ChatMessage{ID: "m10", Body: ""},
	})
	p = lastError(t, a)
	assert.Equal(t, string(errorx.KindProtocol), p.Code)
	assert.Equal(t, "m10", p.MessageID)
}

func TestHub_LeaveChat(t *testing.T) {
	hub := createTestHub(nil)
	a, b := newMockClient("A"), newMockClient("B")
	sa := startChat(t, hub, a)
	startChat(t, hub, b)

	emit(t, hub, a, models.EventLeaveChat, "", models.LeaveChatPayload{ChatRoomID: sa.ChatRoomID})
	emit(t, hub, a, models.EventLeaveChat, "", models.LeaveChatPayload{ChatRoomID: sa.ChatRoomID})

	assert.Empty(t, a.GetRoomID())
	assert.Zero(t, a.Count(models.EventError))
	assert.Equal(t, 1, b.Count(models.EventLeftChat))

	room, ok := hub.Matcher.Lookup(sa.ChatRoomID)
	require.True(t, ok)
	assert.Equal(t, []string{"B"}, room.Snapshot().Participants)
}

func TestHub_UnknownEvent(t *testing.T) {
	hub := createTestHub(nil)
	a := newMockClient("A")

	emit(t, hub, a, "typing", "t1", nil)
	p := lastError(t, a)
	assert.Equal(t, string(errorx.KindProtocol), p.Code)
	env, _ := a.Last(models.EventError)
	assert.Equal(t, "t1", env.CorrelationID)
}

func TestHub_RunTracksConnectionsAndSweeps(t *testing.T) {
	hub := createTestHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()

	a, b := newMockClient("A"), newMockClient("B")
	require.True(t, hub.Register(a))
	require.True(t, hub.Register(b))
	assert.Eventually(t, func() bool { return hub.ClientCount() == 2 }, time.Second, 5*time.Millisecond)

	sa := startChat(t, hub, a)
	startChat(t, hub, b)

	hub.Unregister(a)
	assert.Eventually(t, a.isClosed, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, hub.ClientCount())

	room, ok := hub.Matcher.Lookup(sa.ChatRoomID)
	require.True(t, ok)
	assert.Equal(t, 2, room.Size(), "the slot survives the disconnect")

	// The sweeper turns the expired grace period into a leave.
	assert.Eventually(t, func() bool { return b.Count(models.EventLeftChat) == 1 }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"B"}, room.Snapshot().Participants)

	cancel()
	<-stopped
	assert.True(t, b.isClosed())
	assert.Zero(t, hub.ClientCount())
	assert.False(t, hub.Register(newMockClient("C")))
}

func TestHub_RecoverActiveRooms(t *testing.T) {
	store := new(MockStorage)
	store.On("GetActiveRoomIDs", mock.Anything).Return([]string{"r1", "r2"}, nil).Once()
	store.On("CloseStaleRooms", mock.Anything).Return(int64(2), nil).Once()

	createTestHub(store).RecoverActiveRooms(context.Background())
	store.AssertExpectations(t)

	idle := new(MockStorage)
	idle.On("GetActiveRoomIDs", mock.Anything).Return([]string{}, nil).Once()
	createTestHub(idle).RecoverActiveRooms(context.Background())
	idle.AssertNotCalled(t, "CloseStaleRooms", mock.Anything)
}
