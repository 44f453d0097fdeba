package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/carlmjohnson/requests"
	"github.com/spf13/cobra"

	"github.com/VishalHarindrakumar/rtc-p2p/internal/client"
	"github.com/VishalHarindrakumar/rtc-p2p/internal/config"
	"github.com/VishalHarindrakumar/rtc-p2p/internal/session"
	"github.com/VishalHarindrakumar/rtc-p2p/internal/stats"
	"github.com/VishalHarindrakumar/rtc-p2p/internal/ui"
)

var (
	flagStatsServer string
	flagStatsPlain  bool
	flagStatsRooms  bool
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show server statistics",
	Long: `Fetch the aggregate call statistics from a running server.

Examples:
  rtcp2p stats
  rtcp2p stats --rooms
  rtcp2p stats --server wss://rtc.example.com/ws --plain`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadClient(config.ClientOptions{ServerURL: flagStatsServer})
		if err != nil {
			return client.WrapError("load config", err, "")
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()
		return showStats(ctx, cmd.OutOrStdout(), cfg.HTTPBase(), flagStatsPlain, flagStatsRooms)
	},
}

func init() {
	statsCmd.Flags().StringVarP(&flagStatsServer, "server", "s", "", "signaling server websocket URL (env SERVER_URL)")
	statsCmd.Flags().BoolVar(&flagStatsPlain, "plain", false, "print an uncoloured table")
	statsCmd.Flags().BoolVar(&flagStatsRooms, "rooms", false, "also list the open rooms")
}

// roomsReport is the body of GET /rooms.
type roomsReport struct {
	Connections int                `json:"connections"`
	Rooms       []session.RoomView `json:"rooms"`
}

func fetchStats(ctx context.Context, base string) (stats.Snapshot, error) {
	var snap stats.Snapshot
	err := requests.
		URL(base).
		Path("/stats").
		ToJSON(&snap).
		Fetch(ctx)
	if err != nil {
		return stats.Snapshot{}, client.WrapError("fetch stats", err, base)
	}
	return snap, nil
}

func fetchRooms(ctx context.Context, base string) (roomsReport, error) {
	var report roomsReport
	err := requests.
		URL(base).
		Path("/rooms").
		ToJSON(&report).
		Fetch(ctx)
	if err != nil {
		return roomsReport{}, client.WrapError("fetch rooms", err, base)
	}
	return report, nil
}

func showStats(ctx context.Context, w io.Writer, base string, plain, rooms bool) error {
	snap, err := fetchStats(ctx, base)
	if err != nil {
		return err
	}

	var report roomsReport
	if rooms {
		if report, err = fetchRooms(ctx, base); err != nil {
			return err
		}
	}

	if plain {
		ui.WritePlainStats(w, snap)
		if rooms {
			ui.WritePlainRooms(w, report.Connections, report.Rooms)
		}
		return nil
	}

	fmt.Fprintln(w, ui.TitleStyle.Render(ui.IconStats+" Server statistics"))
	fmt.Fprintln(w, ui.StatsView(snap))
	if rooms {
		fmt.Fprintln(w)
		fmt.Fprintln(w, ui.MutedStyle.Render(fmt.Sprintf("%d connections", report.Connections)))
		fmt.Fprintln(w, ui.RoomsView(report.Rooms))
	}
	return nil
}
