// Package config loads client configuration with the precedence CLI flags >
// environment > defaults.
package config

import (
	"fmt"
	"os"
)

// Defaults. The single public STUN helper is the fallback when nothing else
// is configured; TURN is optional and empty by default.
const (
	DefaultSignalURL = "ws://localhost:8090/ws"
	DefaultSTUN      = "stun:stun.l.google.com:19302"
)

// Config holds everything the client stack needs.
type Config struct {
	// SignalURL is the websocket endpoint of the signaling server.
	SignalURL string

	// ICE helpers.
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string

	// ForceRelay restricts ICE to relayed candidates (requires TURN).
	ForceRelay bool

	// RelayOnly disables direct peer connections entirely; every reliable
	// send uses the signaling-server fallback path. Useful on networks
	// where UDP never works, and for deterministic tests.
	RelayOnly bool
}

// Options carries CLI flag overrides into Load.
type Options struct {
	SignalURL  string
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool
	RelayOnly  bool
}

// Load resolves the configuration: flag > env > default per field.
func Load(opts Options) (*Config, error) {
	cfg := &Config{
		SignalURL:  firstOf(opts.SignalURL, os.Getenv("SIGNAL_URL"), DefaultSignalURL),
		STUNServer: firstOf(opts.STUNServer, os.Getenv("STUN_SERVER"), DefaultSTUN),
		TURNServer: firstOf(opts.TURNServer, os.Getenv("TURN_SERVER"), ""),
		TURNUser:   firstOf(opts.TURNUser, os.Getenv("TURN_USERNAME"), ""),
		TURNPass:   firstOf(opts.TURNPass, os.Getenv("TURN_PASSWORD"), ""),
		ForceRelay: opts.ForceRelay || os.Getenv("FORCE_RELAY") == "1",
		RelayOnly:  opts.RelayOnly || os.Getenv("RELAY_ONLY") == "1",
	}

	if cfg.ForceRelay && cfg.TURNServer == "" {
		return nil, fmt.Errorf("cannot force relay mode without a TURN server configured")
	}
	return cfg, nil
}

// GetSTUNServers returns STUN URLs for the ICE configuration.
func (c *Config) GetSTUNServers() []string {
	return []string{c.STUNServer}
}

// GetTURNServers returns TURN URLs if a TURN helper is configured.
func (c *Config) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	return []string{
		fmt.Sprintf("%s:3478?transport=udp", c.TURNServer),
		fmt.Sprintf("%s:3478?transport=tcp", c.TURNServer),
	}
}

// GetTURNCredentials returns the TURN username and password.
func (c *Config) GetTURNCredentials() (string, string) {
	return c.TURNUser, c.TURNPass
}

func firstOf(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
