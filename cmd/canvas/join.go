package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/JustSadSock/realtime-canvas/internal/config"
	"github.com/JustSadSock/realtime-canvas/internal/session"
	"github.com/JustSadSock/realtime-canvas/internal/ui"
)

// chatNote is the reliable application message the CLI broadcasts.
type chatNote struct {
	Text string `msgpack:"text"`
}

// cursorSample is the ephemeral payload: high-frequency, low-value, fine to
// lose.
type cursorSample struct {
	X int64 `msgpack:"x"`
	Y int64 `msgpack:"y"`
}

var joinCmd = &cobra.Command{
	Use:   "join <room>",
	Short: "Join a room and exchange messages with its peers",
	Long: `Join connects to the signaling server, enters the given room and
negotiates direct connections to every other participant. Typed lines are
broadcast reliably; a few slash commands poke the other surfaces:

  /cursor <x> <y>   send an ephemeral cursor sample
  /save <json>      store a state snapshot for the room
  /load             pull the current snapshot
  /peers            list peers with open direct channels
  /rtt              show the last heartbeat round trip
  /quit             leave`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(flags)
		if err != nil {
			return err
		}
		return runJoin(cfg, args[0])
	},
}

func init() {
	rootCmd.AddCommand(joinCmd)
}

func runJoin(cfg *config.Config, roomKey string) error {
	sess := session.New(cfg)
	defer sess.Close()

	handlers := session.Handlers{
		OnJoined: func(self string, roster []string) {
			ui.PrintSuccess(fmt.Sprintf("joined %q as %s (%d peers)", roomKey, self, len(roster)))
		},
		OnPeerReady: func(id string) {
			fmt.Printf("%s %s connected\n", ui.PeerStyle.Render(ui.IconPeer), id)
		},
		OnPeerClosed: func(id string) {
			ui.PrintMuted(fmt.Sprintf("%s channel closed", id))
		},
		OnPeerLeft: func(id string) {
			ui.PrintMuted(fmt.Sprintf("%s left", id))
		},
		OnReliable: func(from string, data []byte) {
			var note chatNote
			if err := msgpack.Unmarshal(data, &note); err != nil {
				return
			}
			fmt.Printf("%s %s\n", ui.PeerStyle.Render(from+":"), note.Text)
		},
		OnEphemeral: func(from string, data []byte) {
			var cur cursorSample
			if err := msgpack.Unmarshal(data, &cur); err != nil {
				return
			}
			ui.PrintMuted(fmt.Sprintf("%s cursor (%d, %d)", from, cur.X, cur.Y))
		},
		OnRevision: func(rev int64) {
			ui.PrintMuted(fmt.Sprintf("room revision advanced to %d", rev))
		},
		OnState: func(state json.RawMessage, rev int64) {
			fmt.Printf("%s %s\n", ui.TitleStyle.Render(fmt.Sprintf("state@%d", rev)), string(state))
		},
	}

	stop := ui.RunConnectionSpinner("Connecting to signaling server...")
	err := sess.Connect(roomKey, handlers)
	stop()
	if err != nil {
		return err
	}

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if quit := runCommand(sess, line); quit {
				break
			}
			continue
		}
		if err := sess.SendReliable(chatNote{Text: line}); err != nil {
			ui.PrintError(fmt.Sprintf("send failed: %v", err))
		}
	}

	sess.Disconnect()
	return nil
}

// runCommand handles a slash command and reports whether the session should
// end.
func runCommand(sess *session.Session, line string) bool {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit":
		return true

	case "/peers":
		peers := sess.OpenPeers()
		if len(peers) == 0 {
			ui.PrintMuted("no open direct channels")
		}
		for _, id := range peers {
			fmt.Printf("%s %s\n", ui.PeerStyle.Render(ui.IconPeer), id)
		}

	case "/rtt":
		if rtt := sess.LastRTT(); rtt > 0 {
			fmt.Printf("heartbeat rtt: %s\n", rtt.Round(time.Millisecond))
		} else {
			ui.PrintMuted("no heartbeat answered yet")
		}

	case "/cursor":
		if len(fields) != 3 {
			ui.PrintError("usage: /cursor <x> <y>")
			return false
		}
		x, errX := strconv.ParseInt(fields[1], 10, 64)
		y, errY := strconv.ParseInt(fields[2], 10, 64)
		if errX != nil || errY != nil {
			ui.PrintError("usage: /cursor <x> <y>")
			return false
		}
		sess.SendEphemeral(cursorSample{X: x, Y: y})

	case "/save":
		raw := strings.TrimSpace(strings.TrimPrefix(line, "/save"))
		if raw == "" || !json.Valid([]byte(raw)) {
			ui.PrintError("usage: /save <json>")
			return false
		}
		rev, err := sess.SaveState(json.RawMessage(raw))
		if err != nil {
			ui.PrintError(fmt.Sprintf("save failed: %v", err))
			return false
		}
		ui.PrintSuccess(fmt.Sprintf("saved revision %d", rev))

	case "/load":
		if err := sess.RequestState(); err != nil {
			ui.PrintError(fmt.Sprintf("load failed: %v", err))
		}

	default:
		ui.PrintError("unknown command: " + fields[0])
	}
	return false
}
