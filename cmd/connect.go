package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/Camsync/internal/config"
	"github.com/BioHazard786/Camsync/internal/roomid"
	"github.com/BioHazard786/Camsync/internal/session"
	"github.com/BioHazard786/Camsync/internal/signaling"
	"github.com/BioHazard786/Camsync/internal/ui"
)

var (
	flagDomain    string
	flagRelayURL  string
	flagSTUN      string
	flagTURN      string
	flagTURNUser  string
	flagTURNPass  string
	flagRelay     bool
	flagRole      string
	flagAudio     bool
	flagSynthetic bool
	flagPlain     bool
)

var connectCmd = &cobra.Command{
	Use:     "connect <room-id|url>",
	Aliases: []string{"join"},
	Short:   "Join a room as the laptop or the phone",
	Long: `Join a room and stream the camera to the other device.

Examples:
  camsync connect amber-lens-heron-harbor --role laptop
  camsync connect https://camsync.example.com/r/amber-lens-heron-harbor --role mobile
  camsync connect exam-42 --role auto --synthetic`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		roomID, err := roomid.Parse(args[0])
		if err != nil {
			return err
		}
		role, ok := signaling.ParseRole(flagRole)
		if !ok {
			return session.WrapError("connect", session.ErrInvalidRole, flagRole)
		}
		return connectRoom(cmd.Context(), roomID, role)
	},
}

func connectRoom(ctx context.Context, roomID string, role signaling.Role) error {
	cfg, err := LoadConfig(config.Options{
		ConfigFile: flagConfig,
		Domain:     flagDomain,
		RelayURL:   flagRelayURL,
		STUNServer: flagSTUN,
		TURNServer: flagTURN,
		TURNUser:   flagTURNUser,
		TURNPass:   flagTURNPass,
		ForceRelay: flagRelay,
		Audio:      flagAudio,
	})
	if err != nil {
		return err
	}

	source, err := newSource(flagSynthetic)
	if err != nil {
		return err
	}
	sink := &session.StatsSink{}

	var coord *session.Coordinator
	leave := func() { _ = coord.Leave() }

	var (
		onEvent func(session.Event)
		startUI func()
		stopUI  func()
	)
	if flagPlain {
		sp := ui.NewConnectionSpinner("Starting")
		onEvent = func(ev session.Event) {
			if ev.Message != "" {
				sp.UpdateMessage(ev.Message)
			}
		}
		startUI, stopUI = sp.Start, sp.Stop
	} else {
		view := ui.NewStatusView(roomID, role, sink.Stats, leave)
		onEvent = view.Push
		startUI, stopUI = view.Start, view.Stop
	}

	coord = newCoordinator(cfg, source, sink, onEvent)
	startUI()

	if err := coord.Connect(ctx, roomID, role); err != nil {
		stopUI()
		return err
	}

	select {
	case <-ctx.Done():
		leave()
	case <-coord.Done():
	}
	stopUI()

	fmt.Println()
	ui.RenderSessionSummary(coord.Info(), sink.Stats())
	return coord.Err()
}

func init() {
	rootCmd.AddCommand(connectCmd)

	connectCmd.Flags().StringVarP(&flagRole, "role", "r", "", "Role in the room: laptop, mobile or auto (required)")
	_ = connectCmd.MarkFlagRequired("role")
	connectCmd.Flags().StringVarP(&flagDomain, "domain", "d", "", "Relay domain")
	connectCmd.Flags().StringVar(&flagRelayURL, "relay-url", "", "Full relay WebSocket URL, overrides --domain")
	connectCmd.Flags().StringVarP(&flagSTUN, "stun", "s", "", "Custom STUN server")
	connectCmd.Flags().StringVarP(&flagTURN, "turn", "t", "", "Custom TURN server")
	connectCmd.Flags().StringVarP(&flagTURNUser, "turn-user", "u", "", "TURN username")
	connectCmd.Flags().StringVarP(&flagTURNPass, "turn-pass", "p", "", "TURN password")
	connectCmd.Flags().BoolVar(&flagRelay, "force-relay", false, "Force TURN relay mode")
	connectCmd.Flags().BoolVarP(&flagAudio, "audio", "a", false, "Send microphone audio too")
	connectCmd.Flags().BoolVar(&flagSynthetic, "synthetic", false, "Use a synthetic stream instead of a camera")
	connectCmd.Flags().BoolVar(&flagPlain, "plain", false, "Print a single status line instead of the live view")
}
