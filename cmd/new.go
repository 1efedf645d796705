package cmd

import (
	"github.com/spf13/cobra"

	"github.com/BioHazard786/Camsync/internal/config"
	"github.com/BioHazard786/Camsync/internal/roomid"
	"github.com/BioHazard786/Camsync/internal/ui"
)

var flagNewDomain string

var newCmd = &cobra.Command{
	Use:   "new",
	Short: "Print a fresh memorable room id",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig(config.Options{ConfigFile: flagConfig, Domain: flagNewDomain})
		if err != nil {
			return err
		}

		id := roomid.Generate(nil)
		ui.RenderRoomInfo(id, cfg.GetRoomLink(id))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(newCmd)
	newCmd.Flags().StringVarP(&flagNewDomain, "domain", "d", "", "Relay domain used in the room link")
}
