package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/roasbeef/draftsync/internal/baselib/actor"
	"github.com/roasbeef/draftsync/internal/build"
	"github.com/roasbeef/draftsync/internal/config"
	"github.com/roasbeef/draftsync/internal/db"
	"github.com/roasbeef/draftsync/internal/draft"
	"github.com/roasbeef/draftsync/internal/mcp"
	"github.com/roasbeef/draftsync/internal/session"
	"github.com/roasbeef/draftsync/internal/store"
	"github.com/roasbeef/draftsync/internal/web"
	"github.com/roasbeef/draftsync/internal/work"
	"golang.org/x/sync/errgroup"
)

// shutdownTimeout bounds the graceful shutdown of the HTTP server.
const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "draftsyncd: %v\n", err)
		os.Exit(1)
	}
}

// run wires the daemon together and blocks until it is interrupted.
func run() error {
	var (
		cfgPath    = flag.String("config", config.DefaultPath(), "Path to the YAML config file")
		dbPath     = flag.String("db", "", "Path to SQLite database (overrides config)")
		webAddr    = flag.String("web", "", "HTTP API address (overrides config, \"off\" to disable)")
		mcpStdio   = flag.Bool("mcp", false, "Serve MCP over stdio")
		online     = flag.Bool("assume-online", false, "Skip network probing and treat the network as up")
		debugLevel = flag.String("debuglevel", "", "Log level spec, e.g. info or info,WORK=debug")
		version    = flag.Bool("version", false, "Print the version and exit")
	)
	flag.Parse()

	if *version {
		fmt.Println("draftsyncd", build.Version())
		return nil
	}

	overrides := make(map[string]any)
	if *dbPath != "" {
		overrides["db_path"] = *dbPath
	}
	switch *webAddr {
	case "":
	case "off":
		overrides["web.addr"] = ""
	default:
		overrides["web.addr"] = *webAddr
	}
	if *mcpStdio {
		overrides["mcp.enabled"] = true
	}
	if *online {
		overrides["network.assume_online"] = true
	}
	if *debugLevel != "" {
		overrides["log.level"] = *debugLevel
	}

	cfg, err := config.Load(*cfgPath, overrides)
	if err != nil {
		return err
	}

	// Stdout carries the MCP transport, so the console log goes to
	// stderr.
	logMgr, err := newLogManager(cfg)
	if err != nil {
		return fmt.Errorf("unable to set up logging: %w", err)
	}
	defer logMgr.Close()

	setupLoggers(logMgr)
	if err := logMgr.SetLevels(cfg.Log.Level); err != nil {
		return err
	}

	mainLog := logMgr.Logger("DSYN")
	mainLog.Infof("Starting draftsyncd %s", build.Version())

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}

	sqliteStore, err := db.NewSqliteStore(&db.SqliteConfig{
		DatabaseFileName: cfg.DBPath,
	}, logMgr.SlogLogger("SQLD"))
	if err != nil {
		return fmt.Errorf("unable to open database: %w", err)
	}
	defer sqliteStore.Close()

	st := store.NewSqlStore(sqliteStore)

	ctx, cancel := signal.NotifyContext(
		context.Background(), syscall.SIGINT, syscall.SIGTERM,
	)
	defer cancel()

	actorSystem := actor.NewActorSystem()
	defer func() {
		_ = actorSystem.Shutdown(context.Background())
	}()

	sessions, err := session.NewManager(
		ctx, st, session.SpawnHub(actorSystem),
	)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	g, gctx := errgroup.WithContext(ctx)

	var network work.NetworkMonitor
	if cfg.Network.AssumeOnline {
		network = work.NewStaticMonitor(true)
	} else {
		probe := work.NewProbeMonitor(work.ProbeConfig{
			Addr:     cfg.Network.ProbeAddr,
			Interval: cfg.Network.ProbeInterval,
			Timeout:  cfg.Network.ProbeTimeout,
		})
		network = probe

		g.Go(func() error {
			err := probe.Run(gctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}

			return err
		})
	}

	workMgr, err := work.NewManager(work.Config{
		Store:           st,
		Network:         network,
		ActorSystem:     actorSystem,
		Executors:       cfg.Work.Executors,
		StartsPerSecond: cfg.Work.StartsPerSecond,
		StartBurst:      cfg.Work.StartBurst,
		PollInterval:    cfg.Work.PollInterval,
		PruneAfter:      cfg.Work.PruneAfter,
		Registerer:      registry,
	})
	if err != nil {
		return err
	}

	err = draft.Register(workMgr, draft.NewWorker(st, sessions))
	if err != nil {
		return err
	}

	if err := workMgr.Start(ctx); err != nil {
		return err
	}
	defer workMgr.Stop()

	drafts := draft.NewEnqueuer(workMgr)

	if cfg.Web.Addr != "" {
		webServer := web.NewServer(web.Config{
			Addr:     cfg.Web.Addr,
			Messages: st,
			Accounts: st,
			Sessions: sessions,
			Work:     workMgr,
			Drafts:   drafts,
			Gatherer: registry,
			Version:  build.Version(),
		})

		g.Go(func() error {
			mainLog.Infof("Web server listening on %s", cfg.Web.Addr)
			return webServer.Start()
		})
		g.Go(func() error {
			<-gctx.Done()

			shutdownCtx, cancel := context.WithTimeout(
				context.Background(), shutdownTimeout,
			)
			defer cancel()

			return webServer.Shutdown(shutdownCtx)
		})
	}

	if cfg.MCP.Enabled {
		mcpServer := mcp.NewServer(mcp.Config{
			Messages: st,
			Sessions: sessions,
			Work:     workMgr,
			Drafts:   drafts,
			Version:  build.Version(),
		})

		g.Go(func() error {
			mainLog.Info("Serving MCP on stdio")

			err := mcpServer.Run(gctx, &sdkmcp.StdioTransport{})
			if errors.Is(err, context.Canceled) {
				return nil
			}

			return err
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		mainLog.Info("Shutting down...")

		return nil
	})

	return g.Wait()
}

// newLogManager creates the console handler and, unless disabled, the
// rotating log file.
func newLogManager(cfg *config.Config) (*build.LogManager, error) {
	logCfg := build.LogConfig{Level: cfg.Log.Level}
	if !cfg.Log.DisableFile {
		rotator := build.DefaultLogRotatorConfig()
		rotator.LogDir = cfg.Log.Dir
		rotator.MaxLogFiles = cfg.Log.MaxFiles
		rotator.MaxLogFileSize = cfg.Log.MaxFileSizeMB
		logCfg.Rotator = rotator
	}

	return build.NewLogManager(logCfg, os.Stderr)
}

// setupLoggers hands every subsystem its logger.
func setupLoggers(m *build.LogManager) {
	actor.UseLogger(m.Logger(actor.Subsystem))
	session.UseLogger(m.Logger(session.Subsystem))
	work.UseLogger(m.Logger(work.Subsystem))
	draft.UseLogger(m.Logger(draft.Subsystem))
	web.UseLogger(m.Logger(web.Subsystem))
}
