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
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/flourmill-erp/flourmill/cmd/flourmill/cli"
	"github.com/flourmill-erp/flourmill/internal/app"
	"github.com/flourmill-erp/flourmill/internal/credit"
	"github.com/flourmill-erp/flourmill/internal/eod"
	"github.com/flourmill-erp/flourmill/internal/inventory"
	"github.com/flourmill-erp/flourmill/internal/ledger"
	"github.com/flourmill-erp/flourmill/internal/notify"
	"github.com/flourmill-erp/flourmill/internal/observability"
	"github.com/flourmill-erp/flourmill/internal/orders"
	"github.com/flourmill-erp/flourmill/internal/payments"
	"github.com/flourmill-erp/flourmill/internal/platform/cache"
	"github.com/flourmill-erp/flourmill/internal/platform/db"
	"github.com/flourmill-erp/flourmill/internal/sequence"
	"github.com/flourmill-erp/flourmill/internal/shared"
	"github.com/flourmill-erp/flourmill/jobs"
)

const usage = `usage: flourmill [command]

commands:
  serve                                  run the HTTP API (default)
  migrate                                apply database migrations
  jobs cleanup-idempotency [-retention]  enqueue an idempotency key purge
  jobs ledger-integrity                  enqueue a journal balance scan
  jobs stats                             print queue depths`

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
	logger := app.NewLogger(cfg, "flourmill")

	args := os.Args[1:]
	command := "serve"
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}
	switch command {
	case "serve":
		err = serve(ctx, cfg, logger)
	case "migrate":
		err = db.Migrate(cfg.PGDSN)
		if err == nil {
			logger.Info("migrations applied")
		}
	case "jobs":
		err = runJobs(ctx, cfg, args)
	case "help", "-h", "--help":
		fmt.Println(usage)
		return
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error(command, slog.Any("error", err))
		os.Exit(1)
	}
}

func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	if cfg.MigrateOnStart {
		if err := db.Migrate(cfg.PGDSN); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	// Without redis the EOD run falls back to the branch row lock alone.
	var locker *shared.Locker
	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, distributed locks disabled", slog.Any("error", err))
	} else {
		defer closeRedis(redisClient, logger)
		locker = shared.NewLocker(redisClient, cfg.EODLockTTL)
	}

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient := jobs.NewClient(redisOpts)
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("asynq client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	router := app.NewRouter(buildRouterParams(cfg, logger, metrics, pool, locker,
		notify.NewAsynqNotifier(jobClient.Asynq(), logger, metrics), inspector))

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func buildRouterParams(cfg *app.Config, logger *slog.Logger, metrics *observability.Metrics, pool *pgxpool.Pool,
	locker *shared.Locker, notifier notify.Notifier, inspector jobs.QueueInspector) app.RouterParams {
	loc := cfg.Location()
	txOpts := cfg.TxOptions()
	evaluator := credit.NewEvaluator(cfg.CreditPolicy())
	ledgerEngine := ledger.NewEngine(cfg.LedgerConfig(), logger, metrics)
	numbers := sequence.NewGenerator(loc)

	orderService := orders.NewService(orders.Dependencies{
		Repo:      orders.NewRepository(pool, txOpts),
		Ledger:    ledgerEngine,
		Inventory: inventory.NewManager(),
		Credit:    evaluator,
		Numbers:   numbers,
		Notifier:  notifier,
		Metrics:   metrics,
		Logger:    logger,
		Location:  loc,
	})
	paymentEngine := payments.NewEngine(payments.NewRepository(pool, txOpts), ledgerEngine, numbers, notifier, metrics, logger, loc)
	eodEngine := eod.NewEngine(eod.NewRepository(pool, txOpts), ledgerEngine.Resolver(), locker, notifier, metrics, logger, loc)
	ledgerService := ledger.NewService(ledger.NewRepository(pool, txOpts), ledgerEngine, loc, logger)
	creditService := credit.NewService(credit.NewRepository(pool, txOpts), evaluator)

	return app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		Metrics:          metrics,
		DB:               pool,
		OrdersHandler:    orders.NewHandler(orderService, logger),
		CreditHandler:    credit.NewHandler(creditService, logger),
		LedgerHandler:    ledger.NewHandler(ledgerService, logger),
		PaymentsHandler:  payments.NewHandler(paymentEngine, logger),
		EODHandler:       eod.NewHandler(eodEngine, logger),
		InventoryHandler: inventory.NewHandler(inventory.NewRepository(pool), logger),
		JobHandler:       jobs.NewHandler(inspector, logger),
	}
}

func runJobs(ctx context.Context, cfg *app.Config, args []string) error {
	if len(args) == 0 {
		return errors.New(usage)
	}
	name := args[0]
	fs := flag.NewFlagSet("jobs "+name, flag.ContinueOnError)
	retention := fs.Duration("retention", 0, "purge keys older than this (default IDEMPOTENCY_RETENTION)")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	client := jobs.NewClient(redisOpts)
	defer client.Close()
	inspector := asynq.NewInspector(redisOpts)
	defer inspector.Close()
	c := cli.NewJobsCLI(client, inspector)

	if name == "stats" {
		for _, queue := range []string{jobs.QueueNotifications, jobs.QueueDefault} {
			stats, err := c.InspectQueue(queue)
			if err != nil {
				return err
			}
			fmt.Println(stats)
		}
		return nil
	}
	if name == cli.JobCleanupIdempotency && *retention == 0 {
		*retention = cfg.IdempotencyRetention
	}
	info, err := c.Trigger(ctx, name, *retention)
	if err != nil {
		return err
	}
	fmt.Printf("enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
	return nil
}

func closeRedis(client *redis.Client, logger *slog.Logger) {
	if err := client.Close(); err != nil {
		logger.Warn("redis close", slog.Any("error", err))
	}
}
