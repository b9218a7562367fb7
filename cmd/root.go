package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresmejia3/rendition/internal/config"
	"github.com/andresmejia3/rendition/internal/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	// Cfg is the configuration shared by subcommands, loaded in PersistentPreRunE.
	Cfg *config.Config
	// Log is the structured logger shared by subcommands.
	Log = logging.Nop()

	cfgFile  string
	logLevel string
	logFile  string
	closeLog = func() error { return nil }
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:           "rendition",
	Short:         "Batch image renditions: crop, resize and WebP under a size budget",
	Version:       Version, // This enables the --version flag
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		// Explicit flags win over file and environment.
		if cmd.Flags().Changed("log-level") {
			c.Log.Level = logLevel
		}
		if cmd.Flags().Changed("log-file") {
			c.Log.File = logFile
		}

		logger, closeFn, err := logging.New(c.Log, os.Stderr)
		if err != nil {
			return err
		}
		Cfg, Log, closeLog = c, logger, closeFn
		Log.Debug("configuration loaded", zap.String("output", c.Output), zap.Strings("archive", c.Archive.Profiles))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = closeLog()
	},
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// This tells Cobra not to print the version in the help text, which is cleaner.
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: ./rendition.yaml or ~/.config/rendition/rendition.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Also write JSON logs to this file, rotated")
}
