// Package cli provides the command-line interface for kintel.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/raphaelgruber/kintel/internal/client"
	"github.com/raphaelgruber/kintel/internal/config"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose   bool
	serverURL string
	orgID     string

	cfg       config.Config
	logger    *slog.Logger
	closeLog  func() error
	apiClient *client.Client
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "kintel",
	Short: "Document ingestion and retrieval service",
	Long: `Kintel ingests documents into an organization-scoped vector store and
answers questions over them.

Run 'kintel serve' for the HTTP API and 'kintel worker' for the ingestion
workers; the remaining commands talk to a running server.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if verbose {
			cfg.LogLevel = slog.LevelDebug
		}
		logger, closeLog = config.SetupLogger(cfg)
		slog.SetDefault(logger)

		apiClient = client.New(serverURL)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if closeLog != nil {
			if err := closeLog(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close log file: %v\n", err)
			}
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "server URL (default $KINTEL_SERVER_URL or http://localhost:8080)")
	rootCmd.PersistentFlags().StringVarP(&orgID, "org", "o", os.Getenv("KINTEL_ORGANIZATION"), "organization id")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(questionCmd)
	rootCmd.AddCommand(statsCmd)
}

// requireOrg returns the --org value or an error naming the flag.
func requireOrg() (string, error) {
	if orgID == "" {
		return "", fmt.Errorf("--org (or KINTEL_ORGANIZATION) is required")
	}
	return orgID, nil
}
