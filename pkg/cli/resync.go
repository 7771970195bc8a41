package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harrisonrobin/chronos/pkg/model"
)

var resyncAll bool

var resyncCmd = &cobra.Command{
	Use:   "resync [task-id]",
	Short: "Push a task, or every unsynced task with --all, to the calendar again",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runResync,
}

func init() {
	resyncCmd.Flags().BoolVar(&resyncAll, "all", false, "resync every timed task that is not synced")
	addOwnerFlag(resyncCmd)
}

func runResync(cmd *cobra.Command, args []string) error {
	if resyncAll == (len(args) == 1) {
		return errors.New("pass a task id or --all")
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	if a.engine == nil {
		return errors.New("google client credentials are not configured")
	}
	if err := a.start(cmd.Context()); err != nil {
		return err
	}

	if resyncAll {
		n, err := a.tasks.ResyncOwner(cmd.Context(), ownerID)
		if err != nil {
			return err
		}
		a.flush()
		fmt.Fprintf(cmd.OutOrStdout(), "Resynced %d task(s)\n", n)
		return nil
	}

	task, err := a.tasks.Resync(cmd.Context(), model.Identity{OwnerID: ownerID}, args[0])
	if err != nil {
		return err
	}
	a.flush()
	fmt.Fprintf(cmd.OutOrStdout(), "Resynced %s (%s)\n", task.ID, task.Title)
	return nil
}
