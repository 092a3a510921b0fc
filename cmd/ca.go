package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tapwire/tapwire/internal/infrastructure/ca"
)

// caCommonName is the subject of generated root certificates
const caCommonName = "Tapwire Root CA"

// caCmd is the command to manage the root CA
var caCmd = &cobra.Command{
	Use:   "ca",
	Short: "Manage the root certificate authority",
	Long:  `Manage the root CA used to sign intercepted hosts' certificates.`,
}

// caInitCmd is the command to create the root CA
var caInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the root CA",
	Long: `Create the root CA certificate and key at the configured paths.
An existing pair is kept. Import the certificate into the client's trust
store to intercept TLS traffic.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := Container.Config
		created, err := ca.GenerateRoot(cfg.CACertPath, cfg.CAKeyPath, caCommonName)
		if err != nil {
			return err
		}
		if created {
			fmt.Printf("Root CA created: %s (key: %s)\n", cfg.CACertPath, cfg.CAKeyPath)
		} else {
			fmt.Printf("Root CA already exists: %s\n", cfg.CACertPath)
		}
		return nil
	},
}

// caIssueCmd is the command to mint a leaf certificate
var caIssueCmd = &cobra.Command{
	Use:   "issue [hostname]",
	Short: "Issue a certificate for a host",
	Long: `Issue a leaf certificate for hostname signed by the root CA and print
the certificate and private key as PEM.
Examples:
  tapwire ca issue example.com
  tapwire ca issue 127.0.0.1`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := Container.Config
		certPEM, keyPEM, err := Container.Issuer.Issue(args[0], cfg.CACertPath, cfg.CAKeyPath)
		if err != nil {
			return err
		}
		fmt.Print(certPEM)
		fmt.Print(keyPEM)
		return nil
	},
}

func init() {
	RootCmd.AddCommand(caCmd)
	caCmd.AddCommand(caInitCmd)
	caCmd.AddCommand(caIssueCmd)
}
