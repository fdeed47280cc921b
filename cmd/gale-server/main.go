package main

import (
	"context"
	"os"
	"time"

	cli "github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel/trace"

	"github.com/dukex/gale/pkg/cmd"
	"github.com/dukex/gale/pkg/config"
	"github.com/dukex/gale/pkg/dispatch"
	"github.com/dukex/gale/pkg/log"
	"github.com/dukex/gale/pkg/runner"
	"github.com/dukex/gale/pkg/services"
	"github.com/dukex/gale/pkg/tracing"
	"github.com/dukex/gale/pkg/workfile"
	"github.com/dukex/gale/pkg/workflow"
)

const defaultPort = "9191"

func main() {
	logger := log.WithModule("server")

	app := &cli.Command{
		Name:                  "gale-server",
		Usage:                 "Receive forge events and execute CI workflows",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("GALE_PORT", "PORT"),
			},
			&cli.StringFlag{
				Name:    "workflows-dir",
				Usage:   "Directory containing workflow definition files",
				Value:   "./workflows",
				Sources: cli.EnvVars("GALE_WORKFLOWS_DIR"),
			},
			&cli.StringFlag{
				Name:    "database-path",
				Usage:   "Path to the SQLite run database",
				Value:   "./gale.db",
				Sources: cli.EnvVars("GALE_DATABASE_PATH"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus provider (gochannel, kafka)",
				Value:   config.EventBusGoChannel,
				Sources: cli.EnvVars("GALE_EVENT_BUS"),
			},
			&cli.StringSliceFlag{
				Name:    "kafka-brokers",
				Usage:   "Kafka broker addresses, required when the event bus is kafka",
				Sources: cli.EnvVars("GALE_KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "redis-addr",
				Usage:   "Redis address for the shared delivery ledger",
				Sources: cli.EnvVars("GALE_REDIS_ADDR"),
			},
			&cli.StringFlag{
				Name:    "redis-password",
				Usage:   "Redis password",
				Sources: cli.EnvVars("GALE_REDIS_PASSWORD"),
			},
			&cli.StringFlag{
				Name:    "status-webhook-url",
				Usage:   "URL that receives commit status updates",
				Sources: cli.EnvVars("GALE_STATUS_WEBHOOK_URL"),
			},
			&cli.StringFlag{
				Name:    "status-webhook-token",
				Usage:   "Bearer token for the status webhook",
				Sources: cli.EnvVars("GALE_STATUS_WEBHOOK_TOKEN"),
			},
			&cli.IntFlag{
				Name:    "workers",
				Usage:   "How many runs execute concurrently",
				Sources: cli.EnvVars("GALE_WORKERS"),
			},
			&cli.IntFlag{
				Name:    "queue-size",
				Usage:   "Maximum backlog of queued runs",
				Sources: cli.EnvVars("GALE_QUEUE_SIZE"),
			},
			&cli.IntFlag{
				Name:    "max-parallel",
				Usage:   "Maximum job instances running at once within a run",
				Sources: cli.EnvVars("GALE_MAX_PARALLEL"),
			},
			&cli.StringFlag{
				Name:    "workdir",
				Usage:   "Directory for job workspaces, temporary when empty",
				Sources: cli.EnvVars("GALE_WORKDIR"),
			},
			&cli.DurationFlag{
				Name:    "delivery-ttl",
				Usage:   "How long delivery IDs are remembered for duplicate suppression",
				Value:   time.Hour,
				Sources: cli.EnvVars("GALE_DELIVERY_TTL"),
			},
			&cli.StringFlag{
				Name:     "plugins-path",
				Usage:    "Path to the directory containing action plugins",
				Value:    "./plugins",
				Required: false,
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Export run execution traces over OTLP",
				Sources: cli.EnvVars("GALE_TRACING"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("GALE_LOG_LEVEL", "LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger.InfoContext(ctx, "Initializing Gale server")

			cfg := &config.Config{
				Port:               command.String("port"),
				WorkflowsDir:       command.String("workflows-dir"),
				DatabasePath:       command.String("database-path"),
				EventBusProvider:   command.String("event-bus"),
				KafkaBrokers:       command.StringSlice("kafka-brokers"),
				RedisAddr:          command.String("redis-addr"),
				RedisPassword:      command.String("redis-password"),
				StatusWebhookURL:   command.String("status-webhook-url"),
				StatusWebhookToken: command.String("status-webhook-token"),
				Workers:            command.Int("workers"),
				QueueSize:          command.Int("queue-size"),
				MaxParallel:        command.Int("max-parallel"),
				Workdir:            command.String("workdir"),
				DeliveryTTL:        command.Duration("delivery-ttl"),
				LogLevel:           command.String("log-level"),
			}

			cfg.Normalize()

			if err := cfg.Validate(); err != nil {
				return err
			}

			st := cmd.NewStore(cfg, logger)

			defer func() {
				if err := st.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close run store", "error", err)
				}
			}()

			eventBus := cmd.NewEventBus(cfg.EventBusProvider, cfg.KafkaBrokers, logger)

			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			registry := cmd.NewRegistry(logger, command.String("plugins-path"))
			repository := workflow.NewRepository(cfg.WorkflowsDir, logger)

			var tracer trace.Tracer

			if command.Bool("tracing") {
				var err error

				tracer, err = tracing.NewTracer(ctx, "gale-server")
				if err != nil {
					return err
				}
			}

			dispatcher := dispatch.NewDispatcher(dispatch.Deps{
				Repository: repository,
				Matcher:    workflow.NewTriggerMatcher(logger),
				Planner:    workflow.NewPlanner(registry, logger),
				Runner: runner.NewRunner(registry, logger, runner.Options{
					Workdir:     cfg.Workdir,
					MaxParallel: cfg.MaxParallel,
				}),
				Store:    st,
				Bus:      eventBus,
				Reporter: cmd.NewReporter(cfg, logger),
				Ledger:   cmd.NewLedger(ctx, cfg),
				Tracer:   tracer,
			}, logger, dispatch.Options{
				Workers:   cfg.Workers,
				QueueSize: cfg.QueueSize,
			})

			scheduler := dispatch.NewScheduler(repository, dispatcher, logger)

			eventService := services.NewEvents(dispatcher)
			runService := services.NewRuns(st, dispatcher)
			workflowService := services.NewWorkflows(
				repository,
				workfile.NewLoader(logger),
				workfile.NewValidator(registry, logger),
				scheduler,
			)

			api := NewAPI(logger, eventService, runService, workflowService, registry)
			manager := NewServerManager(cfg, api.App(), dispatcher, scheduler, workflowService, logger)

			return manager.Start(ctx)
		},
	}

	err := app.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
