package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	cli "github.com/urfave/cli/v3"

	"github.com/dukex/gale/internal/store"
	"github.com/dukex/gale/pkg/config"
	"github.com/dukex/gale/pkg/log"
	"github.com/dukex/gale/pkg/models"
	"github.com/dukex/gale/pkg/services"
)

func runsCommand() *cli.Command {
	databasePathFlag := &cli.StringFlag{
		Name:    "database-path",
		Usage:   "Path to the SQLite run database",
		Value:   "./gale.db",
		Sources: cli.EnvVars("GALE_DATABASE_PATH"),
	}
	logLevelFlag := &cli.StringFlag{
		Name:    "log-level",
		Usage:   "Log level (debug, info, warn, error)",
		Value:   "warn",
		Sources: cli.EnvVars("GALE_LOG_LEVEL", "LOG_LEVEL"),
	}

	return &cli.Command{
		Name:  "runs",
		Usage: "Inspect recorded runs",
		Commands: []*cli.Command{
			{
				Name:    "list",
				Aliases: []string{"ls"},
				Usage:   "List recorded runs, newest first",
				Flags: []cli.Flag{
					databasePathFlag,
					logLevelFlag,
					&cli.StringFlag{
						Name:    "workflow",
						Aliases: []string{"w"},
						Usage:   "Only list runs of the named workflow",
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum runs to list",
						Value: 20,
					},
					&cli.IntFlag{
						Name:  "offset",
						Usage: "Runs to skip from the top",
					},
				},
				Action: runRunsList,
			},
			{
				Name:      "show",
				Usage:     "Show one run with its jobs, steps and output",
				ArgsUsage: "<run-id>",
				Flags:     []cli.Flag{databasePathFlag, logLevelFlag},
				Action:    runRunsShow,
			},
			{
				Name:  "prune",
				Usage: "Delete runs older than the retention window",
				Flags: []cli.Flag{
					databasePathFlag,
					logLevelFlag,
					&cli.DurationFlag{
						Name:  "retention",
						Usage: "Age past which runs are deleted",
						Value: 30 * 24 * time.Hour,
					},
				},
				Action: runRunsPrune,
			},
		},
	}
}

func openRunService(command *cli.Command, logger *slog.Logger) (*services.Runs, func(), error) {
	cfg := &config.Config{DatabasePath: command.String("database-path")}

	st, err := store.Open(cfg.SQLiteDSN(true), cfg.SQLiteDSN(false), logger)
	if err != nil {
		return nil, nil, err
	}

	closer := func() {
		if err := st.Close(); err != nil {
			logger.Error("Failed to close run store", "error", err)
		}
	}

	return services.NewRuns(st, nil), closer, nil
}

func runRunsList(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"))
	logger := log.WithModule("cli")

	runService, closer, err := openRunService(command, logger)
	if err != nil {
		return err
	}
	defer closer()

	result, err := runService.ListRuns(ctx, services.ListRunsRequest{
		Workflow: command.String("workflow"),
		Limit:    int64(command.Int("limit")),
		Offset:   int64(command.Int("offset")),
	})
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tWORKFLOW\tEVENT\tBRANCH\tSTATUS\tCREATED\tDURATION")

	for _, run := range result.Runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			run.ID,
			run.Workflow,
			run.EventKind,
			run.Branch,
			run.Status,
			run.CreatedAt.Format(time.RFC3339),
			runDuration(run),
		)
	}

	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Printf("%d of %d runs\n", len(result.Runs), result.TotalCount)

	return nil
}

func runRunsShow(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"))
	logger := log.WithModule("cli")

	id := command.Args().First()
	if id == "" {
		return cli.Exit("usage: gale runs show <run-id>", 1)
	}

	runService, closer, err := openRunService(command, logger)
	if err != nil {
		return err
	}
	defer closer()

	run, err := runService.FetchByID(ctx, id)
	if err != nil {
		return err
	}

	fmt.Printf("run %s  workflow %s  %s\n", run.ID, run.Workflow, run.Status)
	fmt.Printf("event %s  branch %s  sha %s  created %s\n",
		run.EventKind, run.Branch, run.HeadSHA, run.CreatedAt.Format(time.RFC3339))

	for _, jobRun := range run.Jobs {
		fmt.Printf("\njob %s  runs-on %s  %s  %s\n",
			jobRun.Instance, jobRun.RunnerImage, jobRun.Status, jobDuration(jobRun))

		for _, step := range jobRun.Steps {
			fmt.Printf("  %2d. %-36s %-9s exit %d  %dms\n",
				step.Idx, step.Label, step.Status, step.ExitCode, step.DurationMs)
		}

		if jobRun.Output != "" {
			fmt.Println()

			for _, line := range strings.Split(strings.TrimRight(jobRun.Output, "\n"), "\n") {
				fmt.Printf("    %s\n", line)
			}
		}
	}

	return nil
}

func runRunsPrune(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"))
	logger := log.WithModule("cli")

	runService, closer, err := openRunService(command, logger)
	if err != nil {
		return err
	}
	defer closer()

	retention := command.Duration("retention")

	pruned, err := runService.Prune(ctx, retention)
	if err != nil {
		return err
	}

	fmt.Printf("pruned %d runs older than %s\n", pruned, retention)

	return nil
}

func runDuration(run *models.WorkflowRun) string {
	if run.StartedAt == nil || run.FinishedAt == nil {
		return "-"
	}

	return run.FinishedAt.Sub(*run.StartedAt).Round(time.Millisecond).String()
}
