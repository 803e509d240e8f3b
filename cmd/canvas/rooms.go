package main

import (
	"github.com/spf13/cobra"

	"github.com/JustSadSock/realtime-canvas/internal/config"
	"github.com/JustSadSock/realtime-canvas/internal/session"
	"github.com/JustSadSock/realtime-canvas/internal/ui"
)

var roomsCmd = &cobra.Command{
	Use:   "rooms",
	Short: "List active rooms on the signaling server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(flags)
		if err != nil {
			return err
		}

		stop := ui.RunConnectionSpinner("Querying signaling server...")
		rooms, err := session.ListRooms(cfg)
		stop()
		if err != nil {
			return err
		}

		items := make([]ui.RoomTableItem, 0, len(rooms))
		for _, r := range rooms {
			items = append(items, ui.RoomTableItem{Key: r.RoomKey, Members: r.Count})
		}
		ui.RenderRoomTable(items)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(roomsCmd)
}
