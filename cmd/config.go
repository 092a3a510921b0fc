package cmd

import (
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/tapwire/tapwire/internal/domain/model"
)

// configCmd is the command to manage configuration
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `Manage Tapwire configuration.`,
}

// configShowCmd is the command to display configuration
var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show configuration",
	Long:  `Display Tapwire configuration.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.SetStyle(table.StyleLight)
		t.SetTitle("Tapwire Configuration")
		t.AppendHeader(table.Row{"Key", "Value"})
		for _, key := range model.ConfigKeys() {
			value, err := Container.ConfigService.Get(Container.Config, key)
			if err != nil {
				return err
			}
			t.AppendRow(table.Row{key, value})
		}
		t.Render()
		return nil
	},
}

// configSetCmd is the command to set configuration
var configSetCmd = &cobra.Command{
	Use:   "set [key] [value]",
	Short: "Set configuration",
	Long: `Set Tapwire configuration.
Examples:
  tapwire config set http_listen_addr 127.0.0.1:8080
  tapwire config set capture_socks5 true
  tapwire config set cert_validity_days 30
  tapwire config set log_level debug
  tapwire config set log_file /path/to/log.txt`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := args[0]
		value := args[1]

		if err := Container.ConfigService.Set(Container.Config, key, value); err != nil {
			return err
		}

		// Save configuration
		if err := Container.ConfigService.SaveConfig(Container.Config, ConfigPath); err != nil {
			return err
		}

		fmt.Printf("Configuration %s successfully changed to %s\n", key, value)
		return nil
	},
}

func init() {
	RootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
