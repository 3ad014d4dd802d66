package chathub_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/billychen0894/spareTalk/internal/chathub"
	"github.com/billychen0894/spareTalk/internal/errorx"
	"github.com/billychen0894/spareTalk/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestRequestMatch_PairsAndAnnounces(t *testing.T) {
	m := newTestMatcher(testRoomConfig())

	a := newMockClient("A")
	room := seat(t, m, "A", a)
	assert.Equal(t, models.RoomIdle, room.Snapshot().State)
	assert.Equal(t, 1, m.Waiting())
	assert.Zero(t, a.Count(models.EventRoomConnected), "a lone participant is not announced")
	assert.Equal(t, room.ID(), a.GetRoomID())

	b := newMockClient("B")
	assert.Same(t, room, seat(t, m, "B", b))
	assert.Equal(t, 0, m.Waiting())

	for _, c := range []*MockClient{a, b} {
		require.Equal(t, 1, c.Count(models.EventRoomConnected))
		env, _ := c.Last(models.EventRoomConnected)
		got := decodeRoom(t, env)
		assert.Equal(t, models.RoomOccupied, got.State)
		assert.Equal(t, []string{"A", "B"}, got.Participants)
	}
}

func TestRequestMatch_ConcurrentNeverOverfills(t *testing.T) {
	m := newTestMatcher(testRoomConfig())
	const n = 64

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("p%d", i)
			_, err := m.RequestMatch(chathub.Member{ParticipantID: id, SessionID: "s-" + id, Conn: newMockClient(id)}, nil)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	rooms := m.Rooms()
	assert.Len(t, rooms, n/2)
	seated := 0
	for _, r := range rooms {
		snap := r.Snapshot()
		assert.Len(t, snap.Participants, 2)
		assert.Equal(t, models.RoomOccupied, snap.State)
		seated += len(snap.Participants)
	}
	assert.Equal(t, n, seated)
	assert.Equal(t, 0, m.Waiting())
}

func TestRequestMatch_AnnouncesAfterEverySeatedCallback(t *testing.T) {
	m := newTestMatcher(testRoomConfig())
	a, b := newMockClient("A"), newMockClient("B")

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := m.RequestMatch(chathub.Member{ParticipantID: "A", SessionID: "s-A", Conn: a}, func(*chathub.Room) error {
			close(entered)
			<-release
			return nil
		})
		done <- err
	}()
	<-entered

	room, err := m.RequestMatch(chathub.Member{ParticipantID: "B", SessionID: "s-B", Conn: b}, nil)
	require.NoError(t, err)
	assert.Equal(t, models.RoomOccupied, room.Snapshot().State)
	assert.Zero(t, a.Count(models.EventRoomConnected))
	assert.Zero(t, b.Count(models.EventRoomConnected), "the pair is not announced while a member is still being handed its session")

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, 1, a.Count(models.EventRoomConnected))
	assert.Equal(t, 1, b.Count(models.EventRoomConnected))
}

func TestRequestMatch_SeatedCallbackFailure(t *testing.T) {
	m := newTestMatcher(testRoomConfig())
	a := newMockClient("A")

	boom := errorx.New(errorx.KindInternal, "boom")
	_, err := m.RequestMatch(chathub.Member{ParticipantID: "A", SessionID: "s-A", Conn: a}, func(*chathub.Room) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, a.GetRoomID())
	assert.Empty(t, m.Rooms(), "the room created for the failed request is destroyed")
}

func TestRequestMatch_RecycledRoomsAreClaimedOldestFirst(t *testing.T) {
	cfg := testRoomConfig()
	cfg.RecycleRooms = true
	m := newTestMatcher(cfg)

	first, _, _ := pair(t, m)
	c, d := newMockClient("C"), newMockClient("D")
	second := seat(t, m, "C", c)
	require.Same(t, second, seat(t, m, "D", d))
	require.NotSame(t, first, second)

	require.NoError(t, first.Leave("s-B"))
	require.NoError(t, second.Leave("s-D"))
	assert.Equal(t, 2, m.Waiting())

	e := newMockClient("E")
	assert.Same(t, first, seat(t, m, "E", e))
	assert.Equal(t, []string{"A", "E"}, first.Snapshot().Participants)
	assert.Equal(t, 1, m.Waiting())
}

func TestRequestMatch_NoRecycleByDefault(t *testing.T) {
	m := newTestMatcher(testRoomConfig())
	room, _, _ := pair(t, m)

	require.NoError(t, room.Leave("s-B"))
	assert.Equal(t, 0, m.Waiting())

	c := newMockClient("C")
	assert.NotSame(t, room, seat(t, m, "C", c))
}

func TestReserveRoom(t *testing.T) {
	m := newTestMatcher(testRoomConfig())

	reserved := m.ReserveRoom()
	snap := reserved.Snapshot()
	assert.Equal(t, models.RoomIdle, snap.State)
	assert.Empty(t, snap.Participants)
	assert.Same(t, reserved, m.ReserveRoom(), "the head of the idle pool is handed out again")

	a := newMockClient("A")
	assert.Same(t, reserved, seat(t, m, "A", a))

	got, ok := m.Lookup(reserved.ID())
	assert.True(t, ok)
	assert.Same(t, reserved, got)
}

func TestMatcher_PersistsThroughStore(t *testing.T) {
	store := new(MockStorage)
	store.On("SaveRoom", mock.Anything, mock.AnythingOfType("*models.RoomRecord")).Return(nil)
	store.On("PublishEvent", mock.Anything, mock.AnythingOfType("models.RoomEvent")).Return(nil)
	store.On("SaveMessage", mock.Anything, mock.Anything, mock.MatchedBy(func(msg models.ChatMessage) bool {
		return msg.ID == "m1"
	})).Return(nil).Once()
	store.On("RevokeSession", mock.Anything, mock.Anything).Return(nil)
	store.On("CloseRoom", mock.Anything, mock.Anything, "left").Return(nil).Once()

	m := chathub.NewMatcherService(testRoomConfig(), store, nil, nil)
	room, _, _ := pair(t, m)

	_, err := room.Send("s-A", "m1", "hi", "")
	require.NoError(t, err)
	require.NoError(t, room.Leave("s-A"))
	require.NoError(t, room.Leave("s-B"))

	store.AssertExpectations(t)
	store.AssertCalled(t, "CloseRoom", mock.Anything, room.ID(), "left")
	store.AssertCalled(t, "RevokeSession", mock.Anything, "s-A")
	store.AssertCalled(t, "RevokeSession", mock.Anything, "s-B")
	store.AssertNumberOfCalls(t, "SaveRoom", 2)
}

func TestMatcher_PersistsThroughWorkerPool(t *testing.T) {
	store := new(MockStorage)
	store.On("SaveRoom", mock.Anything, mock.AnythingOfType("*models.RoomRecord")).Return(nil)
	store.On("PublishEvent", mock.Anything, mock.AnythingOfType("models.RoomEvent")).Return(nil)

	pool := chathub.NewWorkerPool(2, 16, time.Second)
	m := chathub.NewMatcherService(testRoomConfig(), store, pool, nil)
	pair(t, m)
	pool.Close()

	store.AssertNumberOfCalls(t, "SaveRoom", 2)
}
