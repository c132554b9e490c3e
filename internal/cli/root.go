package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configDir  string
	useTestnet bool
	debug      bool
	quiet      bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "pftnoded",
	Short: "pftnoded - Post Fiat task node daemon",
	Long: `pftnoded runs a Post Fiat task node: it watches the XRP Ledger for
memo-carrying payments addressed to the node, drives the task lifecycle
(request, proposal, acceptance, completion, verification, reward) through
a language model, and answers on-chain with memo transactions of its own.

Credentials (wallet seeds, the database connection string, the model API
key) live in an encrypted store under the config directory; seed it with
the creds subcommands before the first serve.`,
	Version: "0.1.0-dev",
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", defaultConfigDir(), "directory holding the config file and credential store")
	rootCmd.PersistentFlags().BoolVar(&useTestnet, "testnet", false, "run against the XRPL testnet")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable normally suppressed debug logging")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress output to console after startup")
}

func defaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".pftnode"
	}
	return filepath.Join(home, ".pftnode")
}

// credstorePath returns the credential database location under configDir.
func credstorePath() string {
	return filepath.Join(configDir, "credentials.ldb")
}

// storePassword resolves the credential-store password. The daemon runs
// unattended, so the password comes from the environment rather than a
// terminal prompt.
func storePassword() (string, error) {
	if pw := os.Getenv("PFTNODE_PASSWORD"); pw != "" {
		return pw, nil
	}
	return "", fmt.Errorf("credential store password not set (export PFTNODE_PASSWORD)")
}
