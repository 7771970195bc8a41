package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/harrisonrobin/chronos/pkg/ingest"
	"github.com/harrisonrobin/chronos/pkg/model"
)

var (
	tasksFrom    string
	tasksTo      string
	tasksVersion int64
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List and manage an owner's tasks",
}

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks, optionally within a date range",
	Args:  cobra.NoArgs,
	RunE:  runTasksList,
}

var tasksDeleteCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Delete a task at the given version",
	Args:  cobra.ExactArgs(1),
	RunE:  runTasksDelete,
}

var tasksHistoryCmd = &cobra.Command{
	Use:   "history [id]",
	Short: "Show every recorded version of a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTasksHistory,
}

func init() {
	tasksListCmd.Flags().StringVar(&tasksFrom, "from", "", "first day to list (YYYY-MM-DD)")
	tasksListCmd.Flags().StringVar(&tasksTo, "to", "", "last day to list (YYYY-MM-DD)")
	addOwnerFlag(tasksListCmd)

	tasksDeleteCmd.Flags().Int64Var(&tasksVersion, "version", 0, "version the task is expected to be at")
	tasksDeleteCmd.MarkFlagRequired("version")
	addOwnerFlag(tasksDeleteCmd)

	tasksCmd.AddCommand(tasksListCmd)
	addOwnerFlag(tasksHistoryCmd)

	tasksCmd.AddCommand(tasksDeleteCmd)
	tasksCmd.AddCommand(tasksHistoryCmd)
}

func runTasksList(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	var f ingest.Filter
	if f.From, err = parseDay(tasksFrom, a.loc); err != nil {
		return err
	}
	if f.To, err = parseDay(tasksTo, a.loc); err != nil {
		return err
	}
	// --to names the last day shown.
	if f.To != nil {
		next := f.To.AddDate(0, 0, 1)
		f.To = &next
	}

	tasks, err := a.tasks.Query(cmd.Context(), model.Identity{OwnerID: ownerID}, f)
	if err != nil {
		return err
	}
	renderTasks(cmd.OutOrStdout(), tasks, a.loc)
	return nil
}

func runTasksDelete(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.start(cmd.Context()); err != nil {
		return err
	}
	ack, err := a.tasks.Delete(cmd.Context(), model.Identity{OwnerID: ownerID}, args[0], tasksVersion)
	if err != nil {
		return err
	}
	a.flush()
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s at version %d\n", ack.TaskID, ack.Version)
	return nil
}

func runTasksHistory(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	events, err := a.tasks.History(cmd.Context(), model.Identity{OwnerID: ownerID}, args[0])
	if err != nil {
		return err
	}
	renderHistory(cmd.OutOrStdout(), events, a.loc)
	return nil
}

func parseDay(s string, loc *time.Location) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation("2006-01-02", s, loc)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q, want YYYY-MM-DD", s)
	}
	return &t, nil
}
