package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/tapwire/tapwire/internal/domain/model"
	"github.com/tapwire/tapwire/internal/infrastructure/inspector"
)

var (
	// Watch command flags
	watchAddr     string
	watchEncoding string
	watchFilter   string
)

// watchCmd is the command to follow the inspector feed
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow captured HTTP messages",
	Long: `Connect to a running proxy's inspector feed and print every captured
message.
Examples:
  tapwire watch
  tapwire watch --filter xhr
  tapwire watch --addr 127.0.0.1:7092 --encoding msgpack`,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr := watchAddr
		if addr == "" {
			addr = Container.Config.FeedListenAddr
		}
		if addr == "" {
			return fmt.Errorf("no inspector feed address configured")
		}

		encoding := Container.Config.FeedEncoding
		if watchEncoding != "" {
			encoding = model.FeedEncoding(watchEncoding)
		}

		filter, err := model.ParseFilterMode(watchFilter)
		if err != nil {
			return err
		}

		watcher, err := inspector.NewWatcher(addr, encoding, filter, Container.Logger)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		Container.Logger.Info("Watching %s", watcher.URL())
		return watcher.Watch(ctx, func(e *inspector.Event) error {
			fmt.Println(inspector.FormatEvent(e))
			return nil
		})
	},
}

func init() {
	RootCmd.AddCommand(watchCmd)

	// Add flags
	watchCmd.Flags().StringVarP(&watchAddr, "addr", "a", "", "Inspector feed address (default: feed_listen_addr)")
	watchCmd.Flags().StringVarP(&watchEncoding, "encoding", "e", "", "Feed encoding (json, msgpack)")
	watchCmd.Flags().StringVarP(&watchFilter, "filter", "f", "", "Only show one category (xhr, document, stylesheet, script, font, image, media, websocket)")
}
