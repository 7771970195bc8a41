package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harrisonrobin/chronos/pkg/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Change the config file",
}

var configSetCalendarCmd = &cobra.Command{
	Use:   "set-calendar [name]",
	Short: "Set the Google Calendar tasks are written to",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setConfig(cmd, "google.calendar", args[0])
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set [key] [value]",
	Short: "Set a config value by dotted key, for example ingest.time_zone",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setConfig(cmd, args[0], args[1])
	},
}

func init() {
	configCmd.AddCommand(configSetCalendarCmd)
	configCmd.AddCommand(configSetCmd)
}

func setConfig(cmd *cobra.Command, key, value string) error {
	if err := config.Set(cfgPath, key, value); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s set to %s\n", key, value)
	return nil
}
