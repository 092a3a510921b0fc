package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tapwire/tapwire/internal/di"
)

var (
	// Container is the dependency injection container
	Container *di.Container

	// ConfigPath is the path to the configuration file
	ConfigPath string

	// LogLevel is the logging level
	LogLevel string

	// RootCmd is the root command for CLI
	RootCmd = &cobra.Command{
		Use:   "tapwire",
		Short: "Tapwire - intercepting HTTP and SOCKS5 proxy",
		Long: `Tapwire is a forward proxy that terminates TLS with certificates minted
by a local CA, relays traffic to the real servers and reassembles the
HTTP messages it sees for inspection.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Initialize container
			Container = di.NewContainer()
			if err := Container.Initialize(ConfigPath); err != nil {
				return err
			}

			// Set log level after container initialization
			if LogLevel != "" {
				Container.Logger.SetLevel(LogLevel)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			// Close container
			if Container != nil {
				Container.Close()
			}
		},
	}
)

// Execute runs the root command
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	// Add global flags
	RootCmd.PersistentFlags().StringVarP(&ConfigPath, "config", "c", "", "Path to configuration file (default: ~/.tapwire/config.yaml)")
	RootCmd.PersistentFlags().StringVar(&LogLevel, "log-level", "", "Override logging level (debug, info, warn, error)")
}
