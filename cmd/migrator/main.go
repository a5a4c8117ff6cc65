// Command migrator runs encryption-state migrations over the users table.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/automaxprocs/maxprocs"

	app "github.com/fieldsafe/fieldsafe/internal/app/migration"
	"github.com/fieldsafe/fieldsafe/internal/config"
	"github.com/fieldsafe/fieldsafe/internal/config/fileloader"
	domain "github.com/fieldsafe/fieldsafe/internal/domain/migration"
	"github.com/fieldsafe/fieldsafe/internal/infra/crypto"
	"github.com/fieldsafe/fieldsafe/internal/infra/notify"
	"github.com/fieldsafe/fieldsafe/internal/infra/scheduler"
	migrationStore "github.com/fieldsafe/fieldsafe/internal/infra/storage/migration/postgres"
	"github.com/fieldsafe/fieldsafe/pkg/common/logger"
	"github.com/fieldsafe/fieldsafe/pkg/common/otel"
)

const serviceName = "fieldsafe-migrator"

func main() {
	_, _ = maxprocs.Set()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "migrator: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		invCtx     string
		forceBatch bool
	)

	root := &cobra.Command{
		Use:           "migrator",
		Short:         "Migrate the encryption state of stored user identity fields",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	root.PersistentFlags().StringVar(&invCtx, "context", "none", "invocation context: none, uninstall or change")
	root.PersistentFlags().BoolVar(&forceBatch, "force-batch", false, "schedule a batch job regardless of table size")

	for _, op := range []domain.Operation{
		domain.OperationEncrypt,
		domain.OperationDecrypt,
		domain.OperationChange,
	} {
		op := op
		root.AddCommand(&cobra.Command{
			Use:   op.String(),
			Short: fmt.Sprintf("Run the %s migration", op),
			RunE: func(cmd *cobra.Command, args []string) error {
				return run(cmd.Context(), configPath, func(ctx context.Context, env *runtimeEnv) error {
					parsedCtx, err := domain.ParseContext(invCtx)
					if err != nil {
						return err
					}
					return env.planner.Run(ctx, op, parsedCtx, forceBatch)
				})
			},
		})
	}

	root.AddCommand(&cobra.Command{
		Use:   "resume",
		Short: "Resume batch jobs left unfinished by a previous run",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath, func(ctx context.Context, env *runtimeEnv) error {
				return env.scheduler.Resume(ctx)
			})
		},
	})

	return root
}

// runtimeEnv bundles the wired services a subcommand can act on.
type runtimeEnv struct {
	planner   *app.Planner
	scheduler *scheduler.Scheduler
}

// run loads configuration, wires the full service graph and invokes fn with
// it. Teardown of the pool and telemetry happens on return.
func run(ctx context.Context, configPath string, fn func(context.Context, *runtimeEnv) error) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := fileloader.NewFileLoader(configPath).Load(ctx)
	if err != nil {
		return err
	}

	logEvents := logger.Events{
		Error: func(ctx context.Context, r logger.Record) {
			errorAttrs := map[string]any{
				"error_message": r.Message,
				"error_time":    r.Time.UTC().Format(time.RFC3339),
				"trace_id":      otel.GetTraceID(ctx),
			}
			for k, v := range r.Attributes {
				errorAttrs[k] = v
			}

			errorAttrsJSON, err := json.Marshal(errorAttrs)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to marshal error attributes: %v\n", err)
				return
			}
			fmt.Fprintf(os.Stderr, "Error event: %s, details: %s\n", r.Message, errorAttrsJSON)
		},
	}
	traceIDFn := func(ctx context.Context) string { return otel.GetTraceID(ctx) }
	log := logger.New(os.Stdout, logger.LevelInfo, serviceName, traceIDFn, logEvents)

	var tracer trace.Tracer
	var metrics app.Metrics
	if cfg.Telemetry.Enabled {
		tp, telemetryTeardown, err := otel.InitTelemetry(log, otel.Config{
			ServiceName:      cfg.Telemetry.ServiceName,
			ExporterEndpoint: cfg.Telemetry.ExporterEndpoint,
			Probability:      cfg.Telemetry.SampleRate,
			ResourceAttributes: map[string]string{
				"library.language": "go",
			},
			InsecureExporter: cfg.Telemetry.Insecure,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize telemetry: %w", err)
		}
		defer telemetryTeardown(ctx)

		tracer = tp.Tracer(cfg.Telemetry.ServiceName)
		if metrics, err = app.NewMetrics(otel.GetMeterProvider()); err != nil {
			return fmt.Errorf("failed to create metrics: %w", err)
		}
	} else {
		tracer = noop.NewTracerProvider().Tracer(serviceName)
		metrics = app.NoopMetrics()
	}

	pool, err := newPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := runMigrations(ctx, pool); err != nil {
		return fmt.Errorf("failed to run schema migrations: %w", err)
	}

	currentKey, previousKey, err := cfg.Keys.Decode()
	if err != nil {
		return err
	}
	keyring, err := crypto.NewKeyring(currentKey, previousKey)
	if err != nil {
		return fmt.Errorf("failed to build keyring: %w", err)
	}

	cryptoSvc := crypto.NewService(keyring, log, tracer)
	users := migrationStore.NewUserStore(pool, tracer)
	jobs := migrationStore.NewJobStore(pool, tracer)
	notifier := notify.NewLogNotifier(log)

	codec := app.NewRowCodec(cryptoSvc, log, tracer)
	runner := app.NewBatchRunner(users, codec, cfg.Migration.PageSize, log, tracer, metrics)
	finalizer := app.NewFinalizer(users, keyring, notifier, log, tracer)
	sched := scheduler.New(jobs, runner, finalizer, cfg.Migration.PagesPerSecond, log, tracer, metrics)
	planner := app.NewPlanner(users, runner, finalizer, sched, notifier,
		cfg.Migration.InlineThreshold, log, tracer, metrics)

	return fn(ctx, &runtimeEnv{planner: planner, scheduler: sched})
}

func newPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse db config: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.Database.MaxConns)
	poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	return pool, nil
}

// runMigrations uses golang-migrate to apply all up migrations from
// "db/migrations".
func runMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("could not acquire connection: %w", err)
	}
	defer conn.Release()

	db := stdlib.OpenDBFromPool(pool)

	driver, err := migratepgx.WithInstance(db, &migratepgx.Config{})
	if err != nil {
		return fmt.Errorf("could not create pgx driver: %w", err)
	}

	migrationsPath := os.Getenv("MIGRATIONS_PATH")
	if migrationsPath == "" {
		migrationsPath = "file://db/migrations"
	}
	m, err := migrate.NewWithDatabaseInstance(migrationsPath, "postgres", driver)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}
