package stats

import (
	"context"
	"maps"
	"sync"
)

// Aggregator folds lifecycle events into the counters of a Snapshot.
// It is both a Sink and a Reader.
type Aggregator struct {
	mu        sync.RWMutex
	snap      Snapshot
	live      int64
	roomJoins map[string]int64
}

// NewAggregator creates an aggregator with all counters at zero.
func NewAggregator() *Aggregator {
	return &Aggregator{roomJoins: make(map[string]int64)}
}

// Emit implements Sink.
func (a *Aggregator) Emit(_ context.Context, ev Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch ev.Kind {
	case RoomCreated:
		a.snap.TotalRooms++
	case UserJoined:
		a.snap.TotalUsers++
		a.roomJoins[ev.Room]++
		a.live++
		a.snap.PeakConcurrentUsers = max(a.snap.PeakConcurrentUsers, a.live)
	case UserLeft:
		if a.live > 0 {
			a.live--
		}
	case CallSucceeded:
		a.snap.SuccessfulCalls++
	case CallEnded:
		if !ev.Succeeded {
			a.snap.DroppedCalls++
		}
	}
	return nil
}

// Snapshot implements Reader.
func (a *Aggregator) Snapshot(context.Context) (Snapshot, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	snap := a.snap
	snap.MostPopularRoom = mostPopular(a.roomJoins)
	return snap, nil
}

// Live returns the number of users currently holding an active slot.
func (a *Aggregator) Live() int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.live
}

// RoomJoins returns a copy of the per-room join counts.
func (a *Aggregator) RoomJoins() map[string]int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return maps.Clone(a.roomJoins)
}

// Restore replaces the counters with previously saved values. Live users
// start from zero since no connection survives a restart.
func (a *Aggregator) Restore(snap Snapshot, roomJoins map[string]int64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	snap.MostPopularRoom = ""
	a.snap = snap
	a.live = 0
	a.roomJoins = make(map[string]int64, len(roomJoins))
	maps.Copy(a.roomJoins, roomJoins)
}

// mostPopular returns the room with the most joins. Ties go to the
// lexicographically smaller name so the answer is stable.
func mostPopular(joins map[string]int64) string {
	var (
		best  string
		count int64
	)
	for room, n := range joins {
		if n > count || (n == count && room < best) {
			best, count = room, n
		}
	}
	return best
}
