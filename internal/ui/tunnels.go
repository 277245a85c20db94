// internal/ui/tunnels.go
package ui

import (
	"strconv"
	"strings"
	"time"

	"sshmen/internal/tunnel"

	"github.com/charmbracelet/lipgloss"
	ltable "github.com/charmbracelet/lipgloss/table"
)

// TunnelTable renders running tunnels for `sshmen tunnels`.
func TunnelTable(entries []tunnel.Entry, now time.Time) string {
	if len(entries) == 0 {
		return DescriptionStyle.Render("No tunnels running.")
	}

	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		flags := make([]string, len(e.Forwards))
		for i, f := range e.Forwards {
			flags[i] = f.Flag()
		}
		persistent := "no"
		if e.Persistent {
			persistent = "yes"
		}
		rows = append(rows, []string{
			e.Bookmark,
			string(e.Status),
			strings.Join(flags, " "),
			persistent,
			strconv.Itoa(e.PID),
			strconv.Itoa(e.Reconnects),
			now.Sub(e.StartedAt).Truncate(time.Second).String(),
		})
	}

	styleFor := func(row, col int) lipgloss.Style {
		switch {
		case row < 0:
			return HeaderStyle
		case col == 1 && row < len(rows) && rows[row][1] == string(tunnel.StatusReconnecting):
			return CellStyle.Foreground(current.Warning)
		case col == 1:
			return CellStyle.Foreground(current.Special)
		default:
			return CellStyle
		}
	}

	return ltable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(current.Border)).
		StyleFunc(styleFor).
		Headers("BOOKMARK", "STATUS", "FORWARDS", "PERSISTENT", "PID", "RECONNECTS", "UPTIME").
		Rows(rows...).
		Render()
}
