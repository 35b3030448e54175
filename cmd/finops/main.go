package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/finops/cmd/finops/cli"
	"github.com/odyssey-erp/finops/internal/app"
	"github.com/odyssey-erp/finops/internal/platform/db"
	"github.com/odyssey-erp/finops/jobs"
)

const usage = `usage: finops <command> [flags]

commands:
  serve                 run the ops server (default)
  migrate               apply the embedded schema
  chain -org N -file F  load an approval chain from JSON
  prefix -org N -kind K -prefix P
                        set the human id prefix of a document kind
  jobs -trigger NAME | -inspect QUEUE
                        enqueue or inspect background jobs`

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	command := "serve"
	args := os.Args[1:]
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}

	var code int
	switch command {
	case "serve":
		code = serve(ctx, stop, cfg, logger)
	case "migrate":
		code = migrate(ctx, cfg, logger)
	case "chain":
		code = chain(ctx, cfg, logger, args)
	case "prefix":
		code = prefix(ctx, cfg, logger, args)
	case "jobs":
		code = jobsCommand(ctx, cfg, args)
	default:
		fmt.Fprintln(os.Stderr, usage)
		code = 2
	}
	stop()
	os.Exit(code)
}

func serve(ctx context.Context, stop context.CancelFunc, cfg *app.Config, logger *slog.Logger) int {
	rt, err := app.Bootstrap(ctx, cfg, logger)
	if err != nil {
		logger.Error("bootstrap", slog.Any("error", err))
		return 1
	}
	defer rt.Close()

	var jobHandler *jobs.Handler
	if cfg.NotifyQueue {
		inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		defer func() {
			if err := inspector.Close(); err != nil {
				logger.Warn("inspector close", slog.Any("error", err))
			}
		}()
		jobHandler = jobs.NewHandler(inspector, logger)
	} else {
		jobHandler = jobs.NewHandler(nil, logger)
	}

	router := app.NewRouter(app.RouterParams{
		Logger:  logger,
		Config:  cfg,
		Metrics: rt.Metrics,
		Checks:  rt.Checks,
		Jobs:    jobHandler,
	})
	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting ops server", slog.String("addr", cfg.AppAddr), slog.String("storage", cfg.StorageDriver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
		return 1
	}
	return 0
}

func migrate(ctx context.Context, cfg *app.Config, logger *slog.Logger) int {
	if cfg.StorageDriver != app.StoragePostgres {
		logger.Error("migrate requires the postgres storage driver")
		return 2
	}
	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		return 1
	}
	defer pool.Close()
	if err := db.Migrate(ctx, pool); err != nil {
		logger.Error("migrate", slog.Any("error", err))
		return 1
	}
	logger.Info("schema applied")
	return 0
}

func chain(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) int {
	fs := flag.NewFlagSet("chain", flag.ContinueOnError)
	org := fs.Int64("org", 0, "organization id")
	file := fs.String("file", "", "chain JSON file, - for stdin")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	source := os.Stdin
	if *file != "" && *file != "-" {
		f, err := os.Open(*file)
		if err != nil {
			logger.Error("open chain file", slog.Any("error", err))
			return 1
		}
		defer f.Close()
		source = f
	}

	rt, err := app.Bootstrap(ctx, cfg, logger)
	if err != nil {
		logger.Error("bootstrap", slog.Any("error", err))
		return 1
	}
	defer rt.Close()

	chains, err := cli.NewChainCLI(rt)
	if err != nil {
		logger.Error("chain cli", slog.Any("error", err))
		return 1
	}
	return chains.Command(ctx, cli.ChainOptions{OrganizationID: *org, Source: source, Stdout: os.Stdout, Stderr: os.Stderr})
}

func prefix(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) int {
	fs := flag.NewFlagSet("prefix", flag.ContinueOnError)
	org := fs.Int64("org", 0, "organization id")
	kind := fs.String("kind", "", "document kind, e.g. bill")
	value := fs.String("prefix", "", "human id prefix, e.g. INV-")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	rt, err := app.Bootstrap(ctx, cfg, logger)
	if err != nil {
		logger.Error("bootstrap", slog.Any("error", err))
		return 1
	}
	defer rt.Close()

	if err := rt.Sequences.SetPrefix(ctx, *org, *kind, *value); err != nil {
		logger.Error("set prefix", slog.Any("error", err))
		return 1
	}
	fmt.Printf("prefix of %s for organization %d set to %q\n", *kind, *org, *value)
	return 0
}

func jobsCommand(ctx context.Context, cfg *app.Config, args []string) int {
	fs := flag.NewFlagSet("jobs", flag.ContinueOnError)
	trigger := fs.String("trigger", "", "job to enqueue")
	inspect := fs.String("inspect", "", "queue to inspect")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	ops, err := cli.NewJobsCLI(cfg.RedisAddr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer ops.Close()

	switch {
	case *trigger != "":
		info, err := ops.Trigger(ctx, *trigger)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		fmt.Printf("enqueued %s as %s on %s\n", info.Type, info.ID, info.Queue)
	case *inspect != "":
		stats, err := ops.InspectQueue(ctx, *inspect)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		fmt.Printf("%s: pending=%d active=%d scheduled=%d retry=%d archived=%d\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry, stats.Archived)
	default:
		fmt.Fprintln(os.Stderr, usage)
		return 2
	}
	return 0
}
