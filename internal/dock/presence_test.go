package dock

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestPresenceTrackerSyncReplacesSet(t *testing.T) {
	tracker := NewPresenceTracker(nil, "test", "u1", 0, testLogger())

	tracker.Apply(PresenceEvent{Kind: PresenceJoin, UserID: "u5"})
	tracker.Apply(PresenceEvent{Kind: PresenceJoin, UserID: "u6"})
	require.True(t, tracker.IsOnline("u5"))

	tracker.Apply(PresenceEvent{Kind: PresenceSync, UserIDs: []string{"u2", "u3"}})

	require.Equal(t, []string{"u2", "u3"}, tracker.Online(), "sync snapshot fully supersedes the current set")
	require.False(t, tracker.IsOnline("u5"))
	require.False(t, tracker.IsOnline("u6"))
}

func TestPresenceTrackerJoinAndLeave(t *testing.T) {
	tracker := NewPresenceTracker(nil, "test", "u1", 0, testLogger())

	tracker.Apply(PresenceEvent{Kind: PresenceSync, UserIDs: []string{"u2"}})
	tracker.Apply(PresenceEvent{Kind: PresenceJoin, UserID: "u3"})
	require.Equal(t, []string{"u2", "u3"}, tracker.Online())

	tracker.Apply(PresenceEvent{Kind: PresenceJoin, UserID: "u3"})
	require.Equal(t, []string{"u2", "u3"}, tracker.Online(), "duplicate joins are idempotent")

	tracker.Apply(PresenceEvent{Kind: PresenceLeave, UserID: "u2"})
	require.Equal(t, []string{"u3"}, tracker.Online())

	tracker.Apply(PresenceEvent{Kind: PresenceLeave, UserID: "ghost"})
	require.Equal(t, []string{"u3"}, tracker.Online(), "leaving an absent user is a no-op")
}

func TestPresenceTrackerIgnoresUnknownKinds(t *testing.T) {
	tracker := NewPresenceTracker(nil, "test", "u1", 0, testLogger())

	var calls int
	tracker.SetOnChange(func(event PresenceEvent, online []string) { calls++ })

	tracker.Apply(PresenceEvent{Kind: PresenceJoin, UserID: "u2"})
	tracker.Apply(PresenceEvent{Kind: "typing", UserID: "u3"})

	require.Equal(t, 1, calls, "unknown kinds must not fire the change callback")
	require.Equal(t, []string{"u2"}, tracker.Online())
}

func TestPresenceTrackerOnChangeReceivesUpdatedSet(t *testing.T) {
	tracker := NewPresenceTracker(nil, "test", "u1", 0, testLogger())

	var lastKind string
	var lastOnline []string
	tracker.SetOnChange(func(event PresenceEvent, online []string) {
		lastKind = event.Kind
		lastOnline = online
	})

	tracker.Apply(PresenceEvent{Kind: PresenceSync, UserIDs: []string{"u4", "u2"}})
	require.Equal(t, PresenceSync, lastKind)
	require.Equal(t, []string{"u2", "u4"}, lastOnline)

	tracker.Apply(PresenceEvent{Kind: PresenceLeave, UserID: "u4"})
	require.Equal(t, PresenceLeave, lastKind)
	require.Equal(t, []string{"u2"}, lastOnline)
}

func TestPresenceTrackerStartRequiresRedis(t *testing.T) {
	tracker := NewPresenceTracker(nil, "test", "u1", 0, testLogger())
	require.Error(t, tracker.Start(context.Background()))
}

func TestPresenceTrackerAnnouncesAndObservesPeers(t *testing.T) {
	mini, err := miniredis.Run()
	require.NoError(t, err)
	defer mini.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: mini.Addr()})
	defer redisClient.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first := NewPresenceTracker(redisClient, "test", "u1", time.Minute, testLogger())
	require.NoError(t, first.Start(ctx))
	defer first.Close(context.Background())

	require.True(t, first.IsOnline("u1"), "tracker seeds itself from the shared snapshot")

	second := NewPresenceTracker(redisClient, "test", "u2", time.Minute, testLogger())
	require.NoError(t, second.Start(ctx))

	require.Eventually(t, func() bool {
		return first.IsOnline("u2")
	}, 2*time.Second, 10*time.Millisecond, "join event should reach the first tracker")

	second.Close(context.Background())

	require.Eventually(t, func() bool {
		return !first.IsOnline("u2")
	}, 2*time.Second, 10*time.Millisecond, "leave event should reach the first tracker")
}
