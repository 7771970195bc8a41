package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/harrisonrobin/chronos/pkg/auth"
	"github.com/harrisonrobin/chronos/pkg/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and calendar sync",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides http.address)")
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.start(ctx); err != nil {
		return err
	}

	deps := server.Deps{
		DB:          a.store,
		Tasks:       a.tasks,
		Interpreter: a.interpreter(),
		Text:        a.textAdapter(),
		Document:    a.documentAdapter(),
		Location:    a.loc,
	}
	if a.linker != nil {
		deps.Linker = a.linker
		sub := a.linker.Subscribe()
		defer sub.Close()
		go a.resyncLinked(ctx, sub)
	}

	if a.cfg.LogLevel != "DEBUG" {
		gin.SetMode(gin.ReleaseMode)
	}

	addr := a.cfg.HTTP.Address
	if serveAddr != "" {
		addr = serveAddr
	}
	a.log.Info("starting chronos", "address", addr, "calendar_sync", a.engine != nil)
	return server.New(a.log, deps).Run(ctx, addr)
}

// resyncLinked re-queues an owner's tasks once their account is linked, so
// tasks captured before linking reach the calendar.
func (a *app) resyncLinked(ctx context.Context, sub *auth.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			n, err := a.tasks.ResyncOwner(ctx, ev.OwnerID)
			if err != nil {
				a.log.Error("failed to resync linked owner", "owner_id", ev.OwnerID, "error", err)
				continue
			}
			a.log.Info("account linked", "owner_id", ev.OwnerID, "queued", n)
		}
	}
}
