package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	cli "github.com/urfave/cli/v3"

	"github.com/dukex/gale/internal/store"
	"github.com/dukex/gale/pkg/cmd"
	"github.com/dukex/gale/pkg/config"
	"github.com/dukex/gale/pkg/dispatch"
	"github.com/dukex/gale/pkg/log"
	"github.com/dukex/gale/pkg/models"
	"github.com/dukex/gale/pkg/runner"
	"github.com/dukex/gale/pkg/status"
	"github.com/dukex/gale/pkg/workflow"
)

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Execute the workflows an event schedules, on this host",
		Flags: []cli.Flag{
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
				Name:  "plugins-path",
				Usage: "Path to the directory containing action plugins",
				Value: "./plugins",
			},
			&cli.StringFlag{
				Name:  "event",
				Usage: "Event kind (push, pull_request, schedule)",
				Value: "push",
			},
			&cli.StringFlag{
				Name:    "branch",
				Aliases: []string{"b"},
				Usage:   "Branch the event refers to",
				Value:   "main",
			},
			&cli.StringFlag{
				Name:  "sha",
				Usage: "Head commit SHA",
			},
			&cli.StringFlag{
				Name:  "cron",
				Usage: "Cron expression for schedule events",
			},
			&cli.StringFlag{
				Name:    "workflow",
				Aliases: []string{"w"},
				Usage:   "Only run the named workflow",
			},
			&cli.BoolFlag{
				Name:  "pretend",
				Usage: "Print the commands instead of spawning them",
			},
			&cli.StringFlag{
				Name:    "workdir",
				Usage:   "Directory for job workspaces, temporary when empty",
				Sources: cli.EnvVars("GALE_WORKDIR"),
			},
			&cli.IntFlag{
				Name:    "max-parallel",
				Usage:   "Maximum job instances running at once",
				Sources: cli.EnvVars("GALE_MAX_PARALLEL"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "warn",
				Sources: cli.EnvVars("GALE_LOG_LEVEL", "LOG_LEVEL"),
			},
		},
		Action: runRun,
	}
}

func runRun(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"))
	logger := log.WithModule("cli")

	// Ctrl-C cancels in-flight jobs; their cancelled state still reaches
	// the run database.
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	event, err := eventFromFlags(command)
	if err != nil {
		return err
	}

	cfg := &config.Config{DatabasePath: command.String("database-path")}

	st, err := store.Open(cfg.SQLiteDSN(true), cfg.SQLiteDSN(false), logger)
	if err != nil {
		return err
	}

	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("Failed to close run store", "error", err)
		}
	}()

	eventBus := cmd.NewEventBus(config.EventBusGoChannel, nil, logger)

	defer func() {
		if err := eventBus.Close(); err != nil {
			logger.Error("Failed to close event bus", "error", err)
		}
	}()

	registry := cmd.NewRegistry(logger, command.String("plugins-path"))
	repository := workflow.NewRepository(command.String("workflows-dir"), logger)

	dispatcher := dispatch.NewDispatcher(dispatch.Deps{
		Repository: repository,
		Matcher:    workflow.NewTriggerMatcher(logger),
		Planner:    workflow.NewPlanner(registry, logger),
		Runner: runner.NewRunner(registry, logger, runner.Options{
			Workdir:     command.String("workdir"),
			Pretend:     command.Bool("pretend"),
			MaxParallel: command.Int("max-parallel"),
		}),
		Store:     st,
		Bus:       eventBus,
		Reporter:  status.NopReporter{},
		ExtraSink: &consoleSink{out: os.Stdout},
	}, logger, dispatch.Options{})

	var names []string
	if name := command.String("workflow"); name != "" {
		names = append(names, name)
	}

	runs, err := dispatcher.DispatchSync(ctx, event, names...)
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Printf("no workflow matches a %s event on %s\n", event.Kind, eventTarget(event))

		return nil
	}

	failed := false

	for _, run := range runs {
		printRunSummary(run)

		if run.Status != models.RunStatusPassed {
			failed = true
		}
	}

	if failed {
		return cli.Exit("run failed", 1)
	}

	return nil
}

func printRunSummary(run *models.WorkflowRun) {
	fmt.Printf("\nrun %s  workflow %s  %s\n", run.ID, run.Workflow, run.Status)

	for _, jobRun := range run.Jobs {
		fmt.Printf("  %-32s %-10s %s\n", jobRun.Instance, jobRun.Status, jobDuration(jobRun))
	}
}

func jobDuration(jobRun *models.JobRun) string {
	if jobRun.StartedAt == nil || jobRun.FinishedAt == nil {
		return "-"
	}

	return jobRun.FinishedAt.Sub(*jobRun.StartedAt).Round(time.Millisecond).String()
}
