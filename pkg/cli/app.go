package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/harrisonrobin/chronos/pkg/agent"
	"github.com/harrisonrobin/chronos/pkg/auth"
	"github.com/harrisonrobin/chronos/pkg/calsync"
	"github.com/harrisonrobin/chronos/pkg/config"
	"github.com/harrisonrobin/chronos/pkg/extract"
	"github.com/harrisonrobin/chronos/pkg/google"
	"github.com/harrisonrobin/chronos/pkg/ingest"
	"github.com/harrisonrobin/chronos/pkg/model"
	"github.com/harrisonrobin/chronos/pkg/remote"
	"github.com/harrisonrobin/chronos/pkg/slots"
	"github.com/harrisonrobin/chronos/pkg/store"
)

// app holds everything a command needs. linker and engine are nil when no
// Google client is configured; tasks then stay unsynced.
type app struct {
	cfg    *config.Config
	log    *slog.Logger
	loc    *time.Location
	store  *store.Store
	linker *auth.Linker
	engine *calsync.Engine
	tasks  *ingest.Orchestrator
}

func openApp() (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	log := mustMakeLogger(cfg.LogLevel)

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	hours, err := slots.ParseHours(cfg.Schedule.WorkStart, cfg.Schedule.WorkEnd)
	if err != nil {
		return nil, fmt.Errorf("invalid working hours: %w", err)
	}

	st, err := store.New(log, cfg.DB.Driver, cfg.DB.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	a := &app{cfg: cfg, log: log, loc: loc, store: st}

	var syncer ingest.Syncer
	oc, err := auth.NewOAuthConfig(cfg.Google)
	if err != nil {
		log.Warn("calendar sync disabled", "reason", err)
	} else {
		a.linker = auth.NewLinker(log, oc, st)
		cal, err := google.NewClient(log, cfg.Google, loc, a.linker)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("failed to create calendar client: %w", err)
		}
		a.engine = calsync.New(log, st, cal, calsync.Config{
			MaxAttempts:     cfg.Sync.MaxAttempts,
			InitialBackoff:  cfg.Sync.InitialBackoff,
			MaxBackoff:      cfg.Sync.MaxBackoff,
			CallTimeout:     cfg.Sync.CallTimeout,
			QueueSize:       cfg.Sync.QueueSize,
			DefaultDuration: cfg.Ingest.DefaultDuration,
		})
		syncer = a.engine
	}

	a.tasks = ingest.New(log, st, syncer, ingest.Config{
		DedupWindow:     cfg.Ingest.DedupWindow,
		Timeout:         cfg.Ingest.Timeout,
		DefaultDuration: cfg.Ingest.DefaultDuration,
		Location:        loc,
		Hours:           hours,
	})
	return a, nil
}

// start runs the sync engine, if any, until ctx is done or close is called.
func (a *app) start(ctx context.Context) error {
	if a.engine == nil {
		return nil
	}
	return a.engine.Start(ctx)
}

// flush waits for queued calendar calls to finish.
func (a *app) flush() {
	if a.engine != nil {
		a.engine.Wait()
	}
}

func (a *app) close() {
	if a.engine != nil {
		a.engine.Close()
	}
	if err := a.store.Close(); err != nil {
		a.log.Error("failed to close store", "error", err)
	}
}

func (a *app) clock() extract.Clock {
	return extract.Clock{Location: a.loc, DefaultDuration: a.cfg.Ingest.DefaultDuration}
}

// interpreter uses the remote classifier when an agent endpoint is set.
func (a *app) interpreter() *agent.Interpreter {
	var c agent.Classifier = agent.NewRuleClassifier(a.clock())
	if ep := a.cfg.Agent.Endpoint; ep != "" {
		c = agent.NewRemoteClassifier(remote.New(ep, a.cfg.HTTP.Timeout))
	}
	return agent.NewInterpreter(c, a.store, agent.Thresholds{
		Min:         a.cfg.Agent.MinConfidence,
		Destructive: a.cfg.Agent.DestructiveConfidence,
	})
}

func (a *app) textAdapter() extract.Adapter {
	if ep := a.cfg.Extract.TextEndpoint; ep != "" {
		return extract.NewRemoteAdapter(a.clock(), remote.New(ep, a.cfg.Extract.Timeout), "text/plain; charset=utf-8", model.SourceNLP)
	}
	return extract.NewTextAdapter(a.clock())
}

// documentAdapter reads Org-mode files locally and hands everything else to
// the document endpoint, or to the schedule reader when none is set.
func (a *app) documentAdapter() extract.Adapter {
	var fallback extract.Adapter = extract.NewScheduleAdapter(a.clock(), extract.PlainText{})
	if ep := a.cfg.Extract.DocumentEndpoint; ep != "" {
		fallback = extract.NewRemoteAdapter(a.clock(), remote.New(ep, a.cfg.Extract.Timeout), "application/pdf", model.SourcePDF)
	}
	return &extract.DocumentAdapter{Org: extract.NewOrgAdapter(a.clock()), Fallback: fallback}
}
