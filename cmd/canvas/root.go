package main

import (
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/JustSadSock/realtime-canvas/internal/config"
	"github.com/JustSadSock/realtime-canvas/internal/logging"
	"github.com/JustSadSock/realtime-canvas/internal/ui"
	"github.com/JustSadSock/realtime-canvas/internal/version"
)

var flags config.Options

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "canvas",
	Short:   "Peer-mesh client for shared real-time canvas rooms",
	Long:    `Canvas joins a shared room through a signaling server, negotiates direct peer connections to the other participants, and keeps the room state in sync. Messages travel peer-to-peer when a direct channel is up and fall back to the server relay when it is not.`,
	Version: version.Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init()
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.SignalURL, "server", "", "signaling server websocket URL")
	pf.StringVar(&flags.STUNServer, "stun", "", "STUN server URL")
	pf.StringVar(&flags.TURNServer, "turn", "", "TURN server URL")
	pf.StringVar(&flags.TURNUser, "turn-user", "", "TURN username")
	pf.StringVar(&flags.TURNPass, "turn-pass", "", "TURN password")
	pf.BoolVar(&flags.ForceRelay, "force-relay", false, "restrict ICE to relayed candidates")
	pf.BoolVar(&flags.RelayOnly, "relay-only", false, "skip direct connections, use the server relay for everything")
}

// Execute adds all child commands to the root command and sets flags
// appropriately. It is called by main.main().
func Execute() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	go func() {
		<-sig
		os.Exit(0)
	}()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		ui.PrintError(err.Error())
		os.Exit(1)
	}
}
