package punch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchTodaySessionsEmitsAndCloses(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, &fakeCapturer{})
	seedPunch(store, "u1", testNow.Add(-time.Hour), nil)

	ctx, cancel := context.WithCancel(context.Background())
	feed := svc.WatchTodaySessions(ctx, "u1", 5*time.Millisecond)

	select {
	case snap := <-feed:
		require.Len(t, snap, 1)
		assert.True(t, snap[0].Active)
	case <-time.After(time.Second):
		t.Fatal("no initial snapshot")
	}

	cancel()
	select {
	case _, open := <-feed:
		for open {
			_, open = <-feed
		}
	case <-time.After(time.Second):
		t.Fatal("feed did not close after cancel")
	}
}

func TestWatchKeepsLatestSnapshotForSlowConsumers(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, &fakeCapturer{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed := svc.WatchTodaySessions(ctx, "u1", time.Millisecond)

	// Let several ticks pass without reading; the channel must still hand
	// over exactly one pending snapshot.
	time.Sleep(20 * time.Millisecond)
	seedPunch(store, "u1", testNow.Add(-time.Hour), nil)
	time.Sleep(20 * time.Millisecond)

	var got []Session
	deadline := time.After(time.Second)
	for len(got) == 0 {
		select {
		case snap := <-feed:
			got = snap
		case <-deadline:
			t.Fatal("no snapshot with the seeded session")
		}
	}
	assert.Len(t, got, 1)
}
