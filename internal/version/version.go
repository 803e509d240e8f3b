package version

// Version is the current version of the canvas CLI.
// It can be overridden at build time using:
//
//	go build -ldflags="-X 'github.com/JustSadSock/realtime-canvas/internal/version.Version=v1.0.0'"
var Version = "dev"
