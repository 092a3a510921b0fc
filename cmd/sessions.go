package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tapwire/tapwire/internal/infrastructure/inspector"
)

var (
	// Sessions command flags
	sessionsAddr string
)

// sessionsCmd is the command to list captured connections
var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List captured connections",
	Long: `Print a table of every connection captured by a running proxy.
Examples:
  tapwire sessions
  tapwire sessions --addr 127.0.0.1:7092`,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr := sessionsAddr
		if addr == "" {
			addr = Container.Config.FeedListenAddr
		}
		if addr == "" {
			return fmt.Errorf("no inspector feed address configured")
		}

		sessions, err := inspector.FetchSnapshot(cmd.Context(), nil, addr)
		if err != nil {
			return err
		}
		inspector.RenderSessions(os.Stdout, sessions)
		return nil
	},
}

func init() {
	RootCmd.AddCommand(sessionsCmd)

	// Add flags
	sessionsCmd.Flags().StringVarP(&sessionsAddr, "addr", "a", "", "Inspector feed address (default: feed_listen_addr)")
}
