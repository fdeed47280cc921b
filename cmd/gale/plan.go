package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	cli "github.com/urfave/cli/v3"

	"github.com/dukex/gale/pkg/cmd"
	"github.com/dukex/gale/pkg/log"
	"github.com/dukex/gale/pkg/models"
	"github.com/dukex/gale/pkg/workflow"
)

func planCommand() *cli.Command {
	return &cli.Command{
		Name:  "plan",
		Usage: "Show the job instances an event would schedule",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "workflows-dir",
				Usage:   "Directory containing workflow definition files",
				Value:   "./workflows",
				Sources: cli.EnvVars("GALE_WORKFLOWS_DIR"),
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
				Usage:   "Only plan the named workflow",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "warn",
				Sources: cli.EnvVars("GALE_LOG_LEVEL", "LOG_LEVEL"),
			},
		},
		Action: runPlan,
	}
}

func runPlan(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"))
	logger := log.WithModule("cli")

	event, err := eventFromFlags(command)
	if err != nil {
		return err
	}

	registry := cmd.NewRegistry(logger, command.String("plugins-path"))
	repository := workflow.NewRepository(command.String("workflows-dir"), logger)
	matcher := workflow.NewTriggerMatcher(logger)
	planner := workflow.NewPlanner(registry, logger)

	workflows, err := repository.FetchAll(ctx)
	if err != nil {
		return err
	}

	if name := command.String("workflow"); name != "" {
		workflows = keepWorkflow(workflows, name)

		if len(workflows) == 0 {
			return fmt.Errorf("workflow %q not found", name)
		}
	}

	matches := matcher.MatchWorkflows(event, workflows)
	if len(matches) == 0 {
		fmt.Printf("no workflow matches a %s event on %s\n", event.Kind, eventTarget(event))

		return nil
	}

	for _, match := range matches {
		plan, err := planner.Plan(match.Workflow, event)
		if err != nil {
			return err
		}

		printPlan(plan)
	}

	return nil
}

// eventFromFlags builds the synthetic event a plan or run works from.
func eventFromFlags(command *cli.Command) (models.Event, error) {
	kind := models.EventKind(command.String("event"))
	if !kind.Valid() {
		return models.Event{}, fmt.Errorf("unknown event kind %q", command.String("event"))
	}

	event := models.Event{
		Kind:       kind,
		Branch:     command.String("branch"),
		HeadSHA:    command.String("sha"),
		Cron:       command.String("cron"),
		Sender:     "cli",
		ReceivedAt: time.Now().UTC(),
	}

	switch kind {
	case models.KindPush, models.KindPullRequest:
		if event.Branch == "" {
			return models.Event{}, errors.New("--branch is required for push and pull_request events")
		}
	case models.KindSchedule:
		if event.Cron == "" {
			return models.Event{}, errors.New("--cron is required for schedule events")
		}
	}

	return event, nil
}

func eventTarget(event models.Event) string {
	if event.Kind == models.KindSchedule {
		return event.Cron
	}

	return event.Branch
}

func keepWorkflow(workflows []*models.Workflow, name string) []*models.Workflow {
	var kept []*models.Workflow

	for _, wf := range workflows {
		if wf.Name == name {
			kept = append(kept, wf)
		}
	}

	return kept
}

func printPlan(plan *workflow.Plan) {
	fmt.Printf("workflow %s: %d job instances in %d waves\n",
		plan.Workflow, plan.InstanceCount(), len(plan.Waves))

	for i, wave := range plan.Waves {
		for _, job := range wave {
			fmt.Printf("  wave %d  %-32s runs-on %-16s %d steps\n",
				i+1, job.InstanceName, job.RunnerImage.Name, len(job.Steps))

			for _, step := range job.Steps {
				fmt.Printf("            %2d. %s\n", step.Index, step.Label)
			}
		}
	}
}
