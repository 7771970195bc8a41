// Package cli is the chronos command line: the HTTP service plus a few
// local commands that share its store and calendar sync.
package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgPath string
	ownerID string
)

var rootCmd = &cobra.Command{
	Use:   "chronos",
	Short: "Task capture and calendar sync",
	Long: "chronos turns free text, schedule documents and agent commands into tasks\n" +
		"and keeps each owner's Google Calendar in step with them.",
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (default ~/.config/chronos/config.yaml)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(linkCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(tasksCmd)
	rootCmd.AddCommand(resyncCmd)
	rootCmd.AddCommand(configCmd)
}

// addOwnerFlag registers --owner on commands acting for a single owner.
func addOwnerFlag(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&ownerID, "owner", "o", "local", "owner the command acts for")
}

func mustMakeLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "DEBUG":
		level = slog.LevelDebug
	case "INFO":
		level = slog.LevelInfo
	case "WARN":
		level = slog.LevelWarn
	case "ERROR":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}
