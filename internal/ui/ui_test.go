package ui

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"

	"github.com/VishalHarindrakumar/rtc-p2p/internal/session"
	"github.com/VishalHarindrakumar/rtc-p2p/internal/stats"
)

var sample = stats.Snapshot{
	TotalRooms:          3,
	TotalUsers:          7,
	SuccessfulCalls:     2,
	DroppedCalls:        1,
	PeakConcurrentUsers: 4,
	MostPopularRoom:     "lobby",
}

func TestStatsView(t *testing.T) {
	out := StatsView(sample)
	for _, want := range []string{"Total rooms", "Peak concurrent users", "lobby", "7"} {
		assert.Contains(t, out, want)
	}
	assert.Contains(t, StatsView(stats.Snapshot{}), "-")
}

func TestWritePlainStats(t *testing.T) {
	var buf bytes.Buffer
	WritePlainStats(&buf, sample)

	out := buf.String()
	assert.Contains(t, out, "Successful calls")
	assert.Contains(t, out, "lobby")
	assert.NotContains(t, out, "\x1b[", "plain output has no escape codes")
}

func TestRoomsViews(t *testing.T) {
	assert.Contains(t, RoomsView(nil), "No open rooms")

	rooms := []session.RoomView{{
		Name:   "r1",
		State:  "active",
		Active: []session.Member{{Identity: "A"}, {Identity: "B"}},
		Queue:  []session.QueueEntry{{Identity: "C"}},
	}}
	assert.Contains(t, RoomsView(rooms), "A, B")

	var buf bytes.Buffer
	WritePlainRooms(&buf, 3, rooms)
	assert.Contains(t, buf.String(), "r1")
	assert.Contains(t, buf.String(), "A, B")
}

func TestJoinModelTransitions(t *testing.T) {
	m := NewJoinModel("A")
	assert.Contains(t, m.View(), "Connecting")

	steps := []struct {
		update JoinUpdate
		want   string
	}{
		{JoinUpdate{State: JoinWaiting, Room: "r1"}, "Waiting for a peer"},
		{JoinUpdate{State: JoinQueued, Position: 2}, "position 2"},
		{JoinUpdate{State: JoinPaired, Peer: "B", Initiator: true}, "offering"},
		{JoinUpdate{State: JoinConnected}, "Connected to B"},
		{JoinUpdate{State: JoinPeerLeft, Peer: "B"}, "B left"},
	}
	for _, s := range steps {
		_, cmd := m.Update(s.update)
		assert.NotNil(t, cmd)
		assert.Contains(t, m.View(), s.want)
	}
	assert.Contains(t, m.View(), "r1")
	assert.Equal(t, JoinPeerLeft, m.state)
}

func TestJoinModelErrorQuits(t *testing.T) {
	m := NewJoinModel("A")
	_, cmd := m.Update(JoinUpdate{State: JoinError, Message: "server went away"})
	assert.Contains(t, m.View(), "server went away")
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestJoinModelLogIsBounded(t *testing.T) {
	m := NewJoinModel("A")
	for i := 0; i < 20; i++ {
		m.Update(JoinUpdate{State: JoinQueued, Position: i})
	}
	assert.Len(t, m.log, 8)
	assert.Equal(t, "queued at position 19", m.log[7])
}

func TestJoinModelWaitsForUpdates(t *testing.T) {
	m := NewJoinModel("A")
	m.updateChan <- JoinUpdate{State: JoinWaiting, Room: "r1"}
	assert.Equal(t, JoinUpdate{State: JoinWaiting, Room: "r1"}, m.waitForUpdates()())

	close(m.done)
	assert.Nil(t, m.waitForUpdates()())
}

func TestSpinnerStop(t *testing.T) {
	var buf bytes.Buffer
	s := newSpinner(&buf, "working", spinner.Line, time.Millisecond)
	s.Start()
	time.Sleep(5 * time.Millisecond)
	s.UpdateMessage("still working")
	s.Success("done")
	s.Stop()

	out := buf.String()
	assert.Contains(t, out, "working")
	assert.True(t, strings.HasSuffix(out, "done\n"))
}
