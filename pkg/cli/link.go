package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var linkCmd = &cobra.Command{
	Use:   "link",
	Short: "Link a Google Calendar account from this terminal",
	Long: "Prints the consent URL and waits on the configured redirect address\n" +
		"for Google to call back. The redirect URL must point at localhost.",
	Args: cobra.NoArgs,
	RunE: runLink,
}

func init() {
	addOwnerFlag(linkCmd)
}

func runLink(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	if a.linker == nil {
		return errors.New("google client credentials are not configured")
	}
	if err := a.start(cmd.Context()); err != nil {
		return err
	}
	if err := a.linker.LinkLocal(cmd.Context(), ownerID, cmd.OutOrStdout()); err != nil {
		return err
	}

	n, err := a.tasks.ResyncOwner(cmd.Context(), ownerID)
	if err != nil {
		return err
	}
	a.flush()
	fmt.Fprintf(cmd.OutOrStdout(), "Linked %s, %d task(s) sent to the calendar.\n", ownerID, n)
	return nil
}
