package cli

import (
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// styles are bound to one output so colors are dropped when it is not a
// terminal
type styles struct {
	header lipgloss.Style
	cell   lipgloss.Style
	title  lipgloss.Style
	id     lipgloss.Style
	count  lipgloss.Style
	date   lipgloss.Style
	ok     lipgloss.Style
	border lipgloss.Style
}

func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	return styles{
		header: r.NewStyle().Bold(true).Foreground(lipgloss.Color("62")).Padding(0, 1),
		cell:   r.NewStyle().Padding(0, 1),
		title:  r.NewStyle().Bold(true).Foreground(lipgloss.Color("212")),
		id:     r.NewStyle().Foreground(lipgloss.Color("240")).Italic(true),
		count:  r.NewStyle().Foreground(lipgloss.Color("42")).Bold(true),
		date:   r.NewStyle().Foreground(lipgloss.Color("243")),
		ok:     r.NewStyle().Foreground(lipgloss.Color("42")),
		border: r.NewStyle().Foreground(lipgloss.Color("238")),
	}
}

func (s styles) table(headers []string, rows [][]string) string {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(s.border).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return s.header
			}
			return s.cell
		}).
		String()
}

func formatMillis(ms int64) string {
	return time.UnixMilli(ms).Local().Format("2006-01-02 15:04")
}
