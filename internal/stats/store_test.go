package stats

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreLoadEmpty(t *testing.T) {
	s := openTestStore(t)

	snap, joins, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Snapshot{}, snap)
	assert.Empty(t, joins)
}

func TestStoreRecordsRoomLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	emitAll(t, s,
		Event{Kind: RoomCreated, Room: "r1", At: at},
		Event{Kind: UserJoined, Room: "r1", Identity: "A", Connection: "a", At: at},
		Event{Kind: UserJoined, Room: "r1", Identity: "B", Connection: "b", At: at},
		Event{Kind: CallSucceeded, Room: "r1", At: at},
		Event{Kind: UserLeft, Room: "r1", Identity: "A", Connection: "a", At: at.Add(time.Minute)},
		Event{Kind: UserLeft, Room: "r1", Identity: "B", Connection: "b", At: at.Add(time.Minute)},
		Event{Kind: RoomClosed, Room: "r1", At: at.Add(time.Minute)},
		Event{Kind: RoomCreated, Room: "r1", At: at.Add(time.Hour)},
	)

	recs, err := s.Rooms(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	reopened, closed := recs[0], recs[1]
	assert.Nil(t, reopened.EndedAt)
	assert.Zero(t, reopened.UserCount)

	require.NotNil(t, closed.EndedAt)
	assert.Equal(t, 2, closed.UserCount)
	assert.True(t, closed.CallSuccessful)

	var open int64
	require.NoError(t, s.db.Model(&UserRecord{}).Where("left_at IS NULL").Count(&open).Error)
	assert.Zero(t, open)
}

func TestStoreSaveAndLoad(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	emitAll(t, s,
		Event{Kind: UserJoined, Room: "lobby", Connection: "1"},
		Event{Kind: UserJoined, Room: "lobby", Connection: "2"},
		Event{Kind: UserJoined, Room: "side", Connection: "3"},
	)
	want := Snapshot{TotalRooms: 3, TotalUsers: 12, SuccessfulCalls: 4, DroppedCalls: 1, PeakConcurrentUsers: 6}
	require.NoError(t, s.Save(ctx, want))
	want.TotalUsers = 13
	require.NoError(t, s.Save(ctx, want))

	snap, joins, err := s.Load(ctx)
	require.NoError(t, err)
	want.MostPopularRoom = "lobby"
	assert.Equal(t, want, snap)
	assert.Equal(t, map[string]int64{"lobby": 2, "side": 1}, joins)

	var rows int64
	require.NoError(t, s.db.Model(&StatsRecord{}).Count(&rows).Error)
	assert.Equal(t, int64(1), rows)
}

func TestCheckpointerSavesOnStop(t *testing.T) {
	s := openTestStore(t)
	a := NewAggregator()
	emitAll(t, a,
		Event{Kind: RoomCreated, Room: "r1"},
		Event{Kind: UserJoined, Room: "r1"},
	)

	cp, err := NewCheckpointer("@every 1h", a, s, nil)
	require.NoError(t, err)
	cp.Start()
	require.NoError(t, cp.Stop(context.Background()))

	snap, _, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.TotalRooms)
	assert.Equal(t, int64(1), snap.TotalUsers)
}

func TestCheckpointerRejectsBadSpec(t *testing.T) {
	_, err := NewCheckpointer("not a schedule", NewAggregator(), openTestStore(t), nil)
	assert.Error(t, err)
}

func TestStoreClosesTheRightLifetime(t *testing.T) {
	s := openTestStore(t)
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	// The first lifetime's close is published after the second lifetime
	// has already been created.
	emitAll(t, s,
		Event{Kind: RoomCreated, Room: "r1", Lifetime: "first", At: at},
		Event{Kind: UserJoined, Room: "r1", Lifetime: "first", Connection: "a", At: at},
		Event{Kind: RoomCreated, Room: "r1", Lifetime: "second", At: at.Add(2 * time.Millisecond)},
		Event{Kind: UserLeft, Room: "r1", Lifetime: "first", Connection: "a", At: at.Add(time.Millisecond)},
		Event{Kind: RoomClosed, Room: "r1", Lifetime: "first", At: at.Add(time.Millisecond)},
	)

	recs, err := s.Rooms(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	second, first := recs[0], recs[1]
	assert.Equal(t, "second", second.Lifetime)
	assert.Nil(t, second.EndedAt)
	assert.Zero(t, second.UserCount)

	assert.Equal(t, "first", first.Lifetime)
	require.NotNil(t, first.EndedAt)
	assert.True(t, first.EndedAt.Equal(at.Add(time.Millisecond)))
	assert.Equal(t, 1, first.UserCount)
}

func TestStoreLifetimeEventBeforeCreate(t *testing.T) {
	s := openTestStore(t)
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	emitAll(t, s,
		Event{Kind: UserJoined, Room: "r1", Lifetime: "l1", Connection: "b", At: at.Add(time.Second)},
		Event{Kind: RoomCreated, Room: "r1", Lifetime: "l1", At: at},
	)

	recs, err := s.Rooms(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 1, recs[0].UserCount)
	assert.True(t, recs[0].CreatedAt.Equal(at))
}
