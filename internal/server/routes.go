// Package server exposes the signaling hub over HTTP: the websocket endpoint,
// the config.json announcement the web client bootstraps from, and a health
// probe.
package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/JustSadSock/realtime-canvas/internal/protocol"
	"github.com/JustSadSock/realtime-canvas/internal/signaling"
)

// Options configures the HTTP surface.
type Options struct {
	// WSPath is the websocket endpoint path, "/ws" by default.
	WSPath string

	// PublicWSURL, when set, is announced verbatim in config.json.
	// Otherwise the URL is derived from the request's Host and
	// X-Forwarded-Proto headers.
	PublicWSURL string
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,

	// The signaling protocol carries no credentials and no secrets;
	// participants of any origin are welcome.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWs returns the handler upgrading control connections and attaching
// them to the hub.
func ServeWs(hub *signaling.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Warn("websocket upgrade failed", "err", err)
			return
		}

		client := &signaling.Client{
			Hub:  hub,
			Conn: conn,
			Send: make(chan *protocol.Message, 256),
		}

		// Register completes (and the id is assigned) before the first
		// frame can reach the hub: the hub loop services channels one
		// at a time and ReadPump starts after this send returns.
		hub.Register <- client

		go client.WritePump()
		go client.ReadPump()
	}
}

// NewMux wires the full route set for the server binary.
func NewMux(hub *signaling.Hub, opts Options) *http.ServeMux {
	wsPath := opts.WSPath
	if wsPath == "" {
		wsPath = "/ws"
	}
	if !strings.HasPrefix(wsPath, "/") {
		wsPath = "/" + wsPath
	}

	mux := http.NewServeMux()
	mux.HandleFunc(wsPath, ServeWs(hub))
	mux.HandleFunc("/config.json", serveConfig(wsPath, opts.PublicWSURL))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	return mux
}

// serveConfig announces the websocket endpoint so browser clients can
// discover it from the same origin they were served from.
func serveConfig(wsPath, publicURL string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wsURL := strings.TrimSpace(publicURL)
		if wsURL == "" {
			scheme := "ws"
			if r.Header.Get("X-Forwarded-Proto") == "https" {
				scheme = "wss"
			}
			host := r.Host
			if host == "" {
				host = "localhost"
			}
			wsURL = fmt.Sprintf("%s://%s%s", scheme, host, wsPath)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		json.NewEncoder(w).Encode(map[string]string{"signal_url": wsURL})
	}
}
