// Package cli provides the command-line interface for agentvm.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/javanstorm/agentvm/internal/config"
	"github.com/javanstorm/agentvm/internal/logging"
)

var (
	logLevel string
	logJSON  bool

	// cfg is populated by PersistentPreRunE for commands that need it.
	cfg    *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "agentvm",
	Short: "agentvm - disposable Linux guests for automated workloads",
	Long: `agentvm boots a lightweight Linux guest, shares host folders into it,
runs shell commands inside it, and rolls its disk back to earlier
snapshots. The guest is treated as disposable: boot it, use it,
snapshot it, throw it away.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := slog.LevelInfo
		switch logLevel {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		default:
			return fmt.Errorf("unknown log level %q", logLevel)
		}
		mode := logging.ModeText
		if logJSON {
			mode = logging.ModeJSON
		}
		logger = logging.New(mode, os.Stderr, level)

		// Commands that don't touch the guest skip config loading.
		switch cmd.Name() {
		case "version", "completion", "keygen":
			return nil
		}
		loaded, err := config.Load()
		if err != nil {
			return err
		}
		cfg = loaded
		return nil
	},
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("command failed: %w", err)
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "emit logs as JSON")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(execCmd)
	rootCmd.AddCommand(mountCmd)
	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(snapshotCmd)
}
