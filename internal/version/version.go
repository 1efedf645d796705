package version

// Version is the current version of the Camsync CLI.
// This value can be overridden at build time using:
//   go build -ldflags="-X 'github.com/BioHazard786/Camsync/internal/version.Version=v1.0.0'"
var Version = "dev"

// UserAgent identifies the CLI to the relay during the websocket handshake.
func UserAgent() string {
	return "camsync/" + Version
}
