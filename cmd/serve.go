package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	// Serve command flags
	serveHTTPAddr   string
	serveSocks5Addr string
	serveFeedAddr   string
	serveNoFeed     bool
)

// serveCmd is the command to run the proxy
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the intercepting proxy",
	Long: `Run the HTTP/CONNECT and SOCKS5 listeners and the inspector feed.
Examples:
  tapwire serve
  tapwire serve --http 127.0.0.1:8080 --socks5 127.0.0.1:1080
  tapwire serve --no-feed`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := Container.Config
		if serveHTTPAddr != "" {
			cfg.HTTPListenAddr = serveHTTPAddr
		}
		if serveSocks5Addr != "" {
			cfg.Socks5ListenAddr = serveSocks5Addr
		}
		if serveFeedAddr != "" {
			cfg.FeedListenAddr = serveFeedAddr
		}
		if serveNoFeed {
			cfg.FeedListenAddr = ""
		}

		if _, err := os.Stat(cfg.CACertPath); os.IsNotExist(err) {
			return fmt.Errorf("root CA certificate %s not found, run 'tapwire ca init' first", cfg.CACertPath)
		}

		Container.InitializeProxy()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		fmt.Fprintf(os.Stderr, "HTTP proxy:   %s\n", cfg.HTTPListenAddr)
		fmt.Fprintf(os.Stderr, "SOCKS5 proxy: %s\n", cfg.Socks5ListenAddr)
		if cfg.FeedListenAddr != "" {
			fmt.Fprintf(os.Stderr, "Inspector:    ws://%s/feed\n", cfg.FeedListenAddr)
		}
		fmt.Fprintf(os.Stderr, "Press Ctrl+C to stop\n")

		return Container.ProxyService.Run(ctx)
	},
}

func init() {
	RootCmd.AddCommand(serveCmd)

	// Add flags
	serveCmd.Flags().StringVar(&serveHTTPAddr, "http", "", "HTTP/CONNECT listen address (overrides config)")
	serveCmd.Flags().StringVar(&serveSocks5Addr, "socks5", "", "SOCKS5 listen address (overrides config)")
	serveCmd.Flags().StringVar(&serveFeedAddr, "feed", "", "Inspector feed listen address (overrides config)")
	serveCmd.Flags().BoolVar(&serveNoFeed, "no-feed", false, "Do not serve the inspector feed")
}
