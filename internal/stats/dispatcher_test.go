package stats

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) Emit(_ context.Context, ev Event) error {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestDispatcherDeliversInOrderToEverySink(t *testing.T) {
	first, second := &recordingSink{}, &recordingSink{}
	d := NewDispatcher(nil, 16, first, second)

	d.Publish(Event{Kind: RoomCreated, Room: "r1"})
	d.Publish(Event{Kind: UserJoined, Room: "r1"})
	d.Publish(Event{Kind: UserLeft, Room: "r1"})

	require.NoError(t, d.Close(context.Background()))
	for _, s := range []*recordingSink{first, second} {
		require.Len(t, s.events, 3)
		assert.Equal(t, RoomCreated, s.events[0].Kind)
		assert.Equal(t, UserJoined, s.events[1].Kind)
		assert.Equal(t, UserLeft, s.events[2].Kind)
	}
}

func TestDispatcherLogsFailingSink(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	ok := &recordingSink{}
	failing := SinkFunc(func(context.Context, Event) error { return assert.AnError })
	panicking := SinkFunc(func(context.Context, Event) error { panic("boom") })

	d := NewDispatcher(zap.New(core), 4, failing, panicking, ok)
	d.Publish(Event{Kind: RoomCreated, Room: "r1"})
	require.NoError(t, d.Close(context.Background()))

	assert.Equal(t, 1, ok.len(), "a failing sink does not starve the others")
	entries := logs.FilterMessage("stats sink failed").All()
	require.Len(t, entries, 2)
	err, _ := entries[0].ContextMap()["error"].(string)
	assert.Contains(t, err, ErrSinkUnavailable.Error())
}

func TestDispatcherPublishNeverBlocks(t *testing.T) {
	release := make(chan struct{})
	blocking := SinkFunc(func(context.Context, Event) error {
		<-release
		return nil
	})
	core, logs := observer.New(zap.WarnLevel)
	d := NewDispatcher(zap.New(core), 1, blocking)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			d.Publish(Event{Kind: UserJoined, Room: "r1"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow sink")
	}
	close(release)
	require.NoError(t, d.Close(context.Background()))
	assert.NotZero(t, logs.FilterMessage("stats queue full, dropping event").Len())
}

func TestDispatcherIgnoresPublishAfterClose(t *testing.T) {
	s := &recordingSink{}
	d := NewDispatcher(nil, 4, s)
	require.NoError(t, d.Close(context.Background()))
	require.NoError(t, d.Close(context.Background()))

	d.Publish(Event{Kind: RoomCreated})
	assert.Zero(t, s.len())
}
