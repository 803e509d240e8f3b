package ui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// RoomTableItem is one row of the room listing.
type RoomTableItem struct {
	Key     string
	Members int
}

// RoomTableView renders the room listing as a bordered table.
func RoomTableView(items []RoomTableItem) string {
	if len(items) == 0 {
		return MutedStyle.Render("No active rooms")
	}

	rows := make([][]string, 0, len(items))
	for i, item := range items {
		rows = append(rows, []string{
			fmt.Sprintf("%d", i+1),
			item.Key,
			fmt.Sprintf("%d", item.Members),
		})
	}

	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers("#", "Room", "Members").
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

// RenderRoomTable outputs the table directly to stdout.
func RenderRoomTable(items []RoomTableItem) {
	fmt.Println(RoomTableView(items))
}
