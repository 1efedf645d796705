package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/Camsync/internal/session"
	"github.com/BioHazard786/Camsync/internal/ui"
	"github.com/BioHazard786/Camsync/internal/version"
)

var flagConfig string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "camsync",
	Short: "Pair a laptop and a phone camera over WebRTC",
	Long: `Camsync connects exactly two devices, a laptop and a mobile phone, in a named room.
The laptop streams its front camera, the phone streams its back camera, and both see
each other over a direct WebRTC connection negotiated through a small signaling relay.`,
	Version: version.Version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	// Interrupts cancel the command context so sessions can leave their room.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		ui.PrintError(session.Status(err))
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "Path to a YAML config file (default $CAMSYNC_CONFIG)")
}
