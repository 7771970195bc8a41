package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/harrisonrobin/chronos/pkg/extract"
	"github.com/harrisonrobin/chronos/pkg/model"
)

var submitFile string

var submitCmd = &cobra.Command{
	Use:   "submit [text]",
	Short: "Capture tasks from text or a schedule document",
	Long: "Each line of text becomes a task, for example\n" +
		"  chronos submit \"dentist friday 3pm\"\n" +
		"With --file, the file is read as a schedule document instead; use - for stdin.",
	RunE: runSubmit,
}

func init() {
	submitCmd.Flags().StringVarP(&submitFile, "file", "f", "", "schedule document to import")
	addOwnerFlag(submitCmd)
}

func runSubmit(cmd *cobra.Command, args []string) error {
	raw, doc, err := submitInput(cmd, args)
	if err != nil {
		return err
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.start(cmd.Context()); err != nil {
		return err
	}

	var adapter extract.Adapter
	if doc {
		adapter = a.documentAdapter()
	} else {
		adapter = a.textAdapter()
	}
	res, err := a.tasks.SubmitAll(cmd.Context(), model.Identity{OwnerID: ownerID}, adapter.Extract(cmd.Context(), raw))
	if err != nil {
		return err
	}
	a.flush()

	renderTasks(cmd.OutOrStdout(), res.Tasks, a.loc)
	return nil
}

// submitInput returns the raw input and whether it is a document.
func submitInput(cmd *cobra.Command, args []string) ([]byte, bool, error) {
	switch {
	case submitFile == "-":
		b, err := io.ReadAll(cmd.InOrStdin())
		return b, true, err
	case submitFile != "":
		b, err := os.ReadFile(submitFile)
		if err != nil {
			return nil, false, fmt.Errorf("failed to read %s: %w", submitFile, err)
		}
		return b, true, nil
	case len(args) == 0:
		return nil, false, errors.New("nothing to submit: pass text or --file")
	}
	return []byte(strings.Join(args, " ")), false, nil
}
