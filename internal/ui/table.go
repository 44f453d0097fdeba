package ui

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	prettytable "github.com/jedib0t/go-pretty/v6/table"

	"github.com/VishalHarindrakumar/rtc-p2p/internal/session"
	"github.com/VishalHarindrakumar/rtc-p2p/internal/stats"
)

func statsRows(snap stats.Snapshot) [][]string {
	popular := snap.MostPopularRoom
	if popular == "" {
		popular = "-"
	}
	return [][]string{
		{"Total rooms", strconv.FormatInt(snap.TotalRooms, 10)},
		{"Total users", strconv.FormatInt(snap.TotalUsers, 10)},
		{"Successful calls", strconv.FormatInt(snap.SuccessfulCalls, 10)},
		{"Dropped calls", strconv.FormatInt(snap.DroppedCalls, 10)},
		{"Peak concurrent users", strconv.FormatInt(snap.PeakConcurrentUsers, 10)},
		{"Most popular room", popular},
	}
}

func styled(headers []string, rows [][]string) string {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return TableHeaderStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		}).
		Render()
}

// StatsView renders the snapshot as a styled two-column table.
func StatsView(snap stats.Snapshot) string {
	return styled([]string{"Metric", "Value"}, statsRows(snap))
}

// RoomsView renders the live rooms reported by the server.
func RoomsView(rooms []session.RoomView) string {
	if len(rooms) == 0 {
		return MutedStyle.Render("No open rooms")
	}
	rows := make([][]string, 0, len(rooms))
	for _, r := range rooms {
		rows = append(rows, []string{r.Name, r.State, members(r.Active), strconv.Itoa(len(r.Queue))})
	}
	return styled([]string{"Room", "State", "Members", "Queued"}, rows)
}

func members(active []session.Member) string {
	ids := make([]string, 0, len(active))
	for _, m := range active {
		ids = append(ids, m.Identity)
	}
	if len(ids) == 0 {
		return "-"
	}
	return strings.Join(ids, ", ")
}

// WritePlainStats writes the snapshot as an uncoloured table, for pipes and logs.
func WritePlainStats(w io.Writer, snap stats.Snapshot) {
	t := prettytable.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(prettytable.StyleLight)
	t.AppendHeader(prettytable.Row{"Metric", "Value"})
	for _, row := range statsRows(snap) {
		t.AppendRow(prettytable.Row{row[0], row[1]})
	}
	t.Render()
}

// WritePlainRooms is the uncoloured counterpart of RoomsView.
func WritePlainRooms(w io.Writer, connections int, rooms []session.RoomView) {
	t := prettytable.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(prettytable.StyleLight)
	t.AppendHeader(prettytable.Row{"Room", "State", "Members", "Queued"})
	for _, r := range rooms {
		t.AppendRow(prettytable.Row{r.Name, r.State, members(r.Active), len(r.Queue)})
	}
	t.AppendFooter(prettytable.Row{"", "", "Connections", fmt.Sprint(connections)})
	t.Render()
}
