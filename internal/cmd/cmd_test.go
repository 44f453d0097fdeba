package cmd

import (
	"bytes"
	"context"
	"net"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/VishalHarindrakumar/rtc-p2p/internal/client"
	"github.com/VishalHarindrakumar/rtc-p2p/internal/config"
	"github.com/VishalHarindrakumar/rtc-p2p/internal/server"
	"github.com/VishalHarindrakumar/rtc-p2p/internal/signaling"
	"github.com/VishalHarindrakumar/rtc-p2p/internal/stats"
	"github.com/VishalHarindrakumar/rtc-p2p/internal/ui"
	"github.com/VishalHarindrakumar/rtc-p2p/internal/version"
)

func startServer(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	agg := stats.NewAggregator()
	d := stats.NewDispatcher(nil, 16, agg)
	hub := signaling.NewHub(signaling.HubConfig{Stats: d, Reader: agg})
	srv := httptest.NewServer(server.NewRouter(server.Options{Hub: hub, Reader: agg}))
	t.Cleanup(func() {
		hub.Shutdown()
		srv.Close()
		d.Close(context.Background())
	})
	return srv
}

func wsURL(base string) string {
	return "ws" + strings.TrimPrefix(base, "http") + "/ws"
}

func newJoinSession(t *testing.T, url string, opts joinOptions) (*joinSession, chan ui.JoinUpdate) {
	t.Helper()
	c := client.NewClient(url, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx))
	t.Cleanup(c.Close)

	h := client.NewHandler(c)
	go h.Start()

	updates := make(chan ui.JoinUpdate, 16)
	return &joinSession{
		cfg:     &config.Client{ServerURL: url},
		opts:    opts,
		client:  c,
		handler: h,
		report:  func(u ui.JoinUpdate) { updates <- u },
		logger:  zap.NewNop(),
	}, updates
}

func next(t *testing.T, ch <-chan ui.JoinUpdate) ui.JoinUpdate {
	t.Helper()
	select {
	case u := <-ch:
		return u
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for update")
		return ui.JoinUpdate{}
	}
}

func TestJoinSessionFollowsRoomLifecycle(t *testing.T) {
	srv := startServer(t)
	url := wsURL(srv.URL)

	a, aUpdates := newJoinSession(t, url, joinOptions{Room: "lobby", Identity: "A"})
	b, bUpdates := newJoinSession(t, url, joinOptions{Room: "lobby", Identity: "B"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	aDone := make(chan error, 1)
	go func() { aDone <- a.run(ctx) }()
	assert.Equal(t, ui.JoinUpdate{State: ui.JoinWaiting, Room: "lobby"}, next(t, aUpdates))

	bCtx, bCancel := context.WithCancel(ctx)
	bDone := make(chan error, 1)
	go func() { bDone <- b.run(bCtx) }()
	// The joiner's ack and pairing arrive together and may be reported in
	// either order.
	var pb ui.JoinUpdate
	for _, u := range []ui.JoinUpdate{next(t, bUpdates), next(t, bUpdates)} {
		if u.State == ui.JoinPaired {
			pb = u
		}
	}

	pa := next(t, aUpdates)
	assert.Equal(t, ui.JoinUpdate{State: ui.JoinPaired, Room: "lobby", Peer: "B", Initiator: true}, pa)
	assert.Equal(t, ui.JoinUpdate{State: ui.JoinPaired, Room: "lobby", Peer: "A", Initiator: false}, pb)

	bCancel()
	require.NoError(t, <-bDone)
	b.client.Close()

	left := next(t, aUpdates)
	assert.Equal(t, ui.JoinPeerLeft, left.State)
	assert.Equal(t, "B", left.Peer)

	cancel()
	assert.NoError(t, <-aDone)
}

func TestJoinSessionQueuedAndTimeout(t *testing.T) {
	srv := startServer(t)
	url := wsURL(srv.URL)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, id := range []string{"A", "B"} {
		s, updates := newJoinSession(t, url, joinOptions{Room: "full", Identity: id})
		go s.run(ctx)
		next(t, updates)
	}

	c, updates := newJoinSession(t, url, joinOptions{Room: "full", Identity: "C", Timeout: 200 * time.Millisecond})
	done := make(chan error, 1)
	go func() { done <- c.run(ctx) }()

	assert.Equal(t, ui.JoinUpdate{State: ui.JoinQueued, Room: "full", Position: 1}, next(t, updates))
	err := <-done
	assert.ErrorIs(t, err, client.ErrTimeout)
}

func TestJoinSessionServerGone(t *testing.T) {
	srv := startServer(t)
	s, _ := newJoinSession(t, wsURL(srv.URL), joinOptions{Room: "r", Identity: "A"})

	done := make(chan error, 1)
	go func() { done <- s.run(context.Background()) }()
	s.client.Close()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, client.ErrClosed)
	case <-time.After(3 * time.Second):
		t.Fatal("run did not return")
	}
}

func TestShowStats(t *testing.T) {
	srv := startServer(t)

	var plain bytes.Buffer
	require.NoError(t, showStats(context.Background(), &plain, srv.URL, true, true))
	assert.Contains(t, plain.String(), "Total rooms")
	assert.Contains(t, plain.String(), "Connections")

	var styled bytes.Buffer
	require.NoError(t, showStats(context.Background(), &styled, srv.URL, false, true))
	assert.Contains(t, styled.String(), "Server statistics")
	assert.Contains(t, styled.String(), "No open rooms")
}

func TestShowStatsUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := showStats(ctx, &bytes.Buffer{}, "http://127.0.0.1:1", true, false)
	var opErr *client.OpError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "fetch stats", opErr.Op)
}

func TestServerStackRestoresPersistedStats(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := &config.Server{
		Addr:            "127.0.0.1:0",
		Mode:            "production",
		SendBuffer:      16,
		StatsBuffer:     16,
		StatsDSN:        filepath.Join(t.TempDir(), "stats.db"),
		StatsCheckpoint: "@every 1h",
		MetricsEnabled:  true,
	}

	start := func() (*serverStack, string) {
		stack, err := newServerStack(cfg, zap.NewNop())
		require.NoError(t, err)
		ln, err := net.Listen("tcp", cfg.Addr)
		require.NoError(t, err)
		go stack.serve(ln)
		return stack, "ws://" + ln.Addr().String() + "/ws"
	}

	stack, url := start()
	s, updates := newJoinSession(t, url, joinOptions{Room: "persisted", Identity: "A"})
	ctx, cancel := context.WithCancel(context.Background())
	go s.run(ctx)
	assert.Equal(t, ui.JoinWaiting, next(t, updates).State)
	cancel()

	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	require.NoError(t, stack.shutdown(shutdownCtx))

	restarted, _ := start()
	defer restarted.shutdown(context.Background())

	snap, err := restarted.aggregator.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.TotalRooms)
	assert.Equal(t, int64(1), snap.TotalUsers)
	assert.Equal(t, "persisted", snap.MostPopularRoom)
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version", "--env-file", filepath.Join(t.TempDir(), "missing.env")})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, version.String()+"\n", out.String())
}
