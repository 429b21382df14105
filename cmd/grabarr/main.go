// grabarr is the orchestration daemon that turns wanted movies into
// completed downloads: it searches indexers, ranks releases, dispatches
// downloads, and tracks them to completion.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Set at build time via -ldflags
	version = "dev"

	cfgFile  string
	logLevel string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "grabarr",
		Short: "Movie download orchestration engine",
		Long: `grabarr watches a catalog of wanted movies, searches the configured
indexers for releases, ranks them by quality, hands the winner to a
download client, and tracks the download to completion.

Every outbound call runs behind a per-service circuit breaker and rate
limiter, failed releases are blocklisted so they are not grabbed again,
and a rule engine raises alerts when a dependency degrades.`,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "info", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(searchCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setupLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(logLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", logLevel, err)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	if level == zapcore.DebugLevel {
		cfg = zap.NewDevelopmentConfig()
	}
	return cfg.Build()
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the grabarr version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("grabarr", version)
		},
	}
}
