package stats

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsSink(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetricsSink(reg)
	require.NoError(t, err)

	emitAll(t, m,
		Event{Kind: RoomCreated, Room: "r1"},
		Event{Kind: UserJoined, Room: "r1"},
		Event{Kind: UserJoined, Room: "r1"},
		Event{Kind: UserLeft, Room: "r1"},
		Event{Kind: CallEnded, Room: "r1", Succeeded: false},
		Event{Kind: RoomCreated, Room: "r2"},
		Event{Kind: RoomClosed, Room: "r2"},
	)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.roomsCreated))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.roomsOpen))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.usersJoined))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.usersLive))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.calls.WithLabelValues("dropped")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.calls.WithLabelValues("succeeded")))
}

func TestMetricsSinkRejectsDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewMetricsSink(reg)
	require.NoError(t, err)

	_, err = NewMetricsSink(reg)
	assert.Error(t, err)
}
