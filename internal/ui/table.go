package ui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/BioHazard786/Camsync/internal/session"
)

// SessionSummaryView renders the table printed after a session ends.
func SessionSummaryView(info session.Info, stats session.Stats) string {
	status := "Left"
	if info.Err != nil {
		status = session.Status(info.Err)
	}

	live := "never"
	if !info.ConnectedAt.IsZero() {
		live = info.ConnectedAt.Format(time.TimeOnly)
	}

	rows := [][]string{
		{"Room", info.RoomID},
		{"Role", string(info.Role)},
		{"Status", status},
		{"Duration", formatDuration(time.Since(info.Started))},
		{"First connected", live},
		{"Received", formatBytes(stats.Bytes)},
	}

	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers("Session", "").
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
		})

	return tbl.Render()
}

func RenderSessionSummary(info session.Info, stats session.Stats) {
	fmt.Println(SessionSummaryView(info, stats))
}

// RoomInfoView shows a freshly generated room and how to join it.
func RoomInfoView(roomID, roomLink string) string {
	content := fmt.Sprintf("%s Room ready\n\n%s Room ID:    %s\n%s Room Link:  %s\n\n%s",
		IconSuccess,
		IconCopy, BoldStyle.Foreground(Primary).Render(roomID),
		IconWeb, MutedStyle.Render(roomLink),
		MutedStyle.Render("camsync connect "+roomID+" --role laptop"),
	)
	return RoomBoxStyle.Render(content)
}

func RenderRoomInfo(roomID, roomLink string) {
	fmt.Println(RoomInfoView(roomID, roomLink))
}
