package stats

import (
	"context"
	"errors"
	"time"
)

// EventKind names a session lifecycle event.
type EventKind string

const (
	RoomCreated   EventKind = "room-created"
	RoomClosed    EventKind = "room-closed"
	UserJoined    EventKind = "user-joined"
	UserLeft      EventKind = "user-left"
	CallSucceeded EventKind = "call-succeeded"
	CallEnded     EventKind = "call-ended"
)

// ErrSinkUnavailable marks a sink that failed to record an event.
var ErrSinkUnavailable = errors.New("stats sink unavailable")

// Event is a single lifecycle notification emitted by the coordinator.
type Event struct {
	Kind EventKind
	Room string
	// Lifetime identifies one life of Room, from room-created to room-closed.
	Lifetime   string
	Identity   string
	Connection string
	// Succeeded is only meaningful for CallEnded.
	Succeeded bool
	At        time.Time
}

// Sink consumes lifecycle events. Implementations may block on I/O;
// they are only ever called from the Dispatcher's worker.
type Sink interface {
	Emit(ctx context.Context, ev Event) error
}

// Publisher accepts events without blocking the caller.
type Publisher interface {
	Publish(ev Event)
}

// Reader serves the aggregate counters.
type Reader interface {
	Snapshot(ctx context.Context) (Snapshot, error)
}

// Snapshot holds the aggregate counters reported to display clients.
type Snapshot struct {
	TotalRooms          int64  `json:"totalRooms"`
	TotalUsers          int64  `json:"totalUsers"`
	SuccessfulCalls     int64  `json:"successfulCalls"`
	DroppedCalls        int64  `json:"droppedCalls"`
	PeakConcurrentUsers int64  `json:"peakConcurrentUsers"`
	MostPopularRoom     string `json:"mostPopularRoom"`
}

// SinkFunc adapts a plain function to Sink.
type SinkFunc func(ctx context.Context, ev Event) error

func (f SinkFunc) Emit(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Discard is a Publisher that drops everything.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(Event) {}

// SnapshotOf reads r and falls back to zero values when the read fails,
// so display clients always get a well-formed answer.
func SnapshotOf(ctx context.Context, r Reader) Snapshot {
	if r == nil {
		return Snapshot{}
	}
	snap, err := r.Snapshot(ctx)
	if err != nil {
		return Snapshot{}
	}
	return snap
}
