package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	cli "github.com/urfave/cli/v3"

	"github.com/dukex/gale/pkg/cmd"
	"github.com/dukex/gale/pkg/log"
	"github.com/dukex/gale/pkg/services"
	"github.com/dukex/gale/pkg/workfile"
	"github.com/dukex/gale/pkg/workflow"
)

func validateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Aliases:   []string{"v"},
		Usage:     "Check workflow definitions and report findings",
		ArgsUsage: "[paths...]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "workflows-dir",
				Usage:   "Directory checked when no paths are given",
				Value:   "./workflows",
				Sources: cli.EnvVars("GALE_WORKFLOWS_DIR"),
			},
			&cli.StringFlag{
				Name:  "plugins-path",
				Usage: "Path to the directory containing action plugins",
				Value: "./plugins",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "warn",
				Sources: cli.EnvVars("GALE_LOG_LEVEL", "LOG_LEVEL"),
			},
		},
		Action: runValidate,
	}
}

func runValidate(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"))
	logger := log.WithModule("cli")

	registry := cmd.NewRegistry(logger, command.String("plugins-path"))
	workflowService := services.NewWorkflows(
		workflow.NewRepository(command.String("workflows-dir"), logger),
		workfile.NewLoader(logger),
		workfile.NewValidator(registry, logger),
		nil,
	)

	paths, err := collectWorkflowPaths(command)
	if err != nil {
		return err
	}

	if len(paths) == 0 {
		return cli.Exit("no workflow files found", 1)
	}

	var errorCount, warningCount int

	for _, path := range paths {
		source, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		findings, err := workflowService.ValidateSource(ctx, source)
		if err != nil {
			return err
		}

		for _, finding := range findings {
			fmt.Printf("%s: %s\n", path, finding.String())

			if finding.Severity == workfile.SeverityError {
				errorCount++
			} else {
				warningCount++
			}
		}
	}

	fmt.Printf("%d files checked, %d errors, %d warnings\n", len(paths), errorCount, warningCount)

	if errorCount > 0 {
		return cli.Exit("validation failed", 1)
	}

	return nil
}

// collectWorkflowPaths expands the positional arguments into workflow
// files. Directories contribute their yaml files; no arguments means the
// workflows directory.
func collectWorkflowPaths(command *cli.Command) ([]string, error) {
	args := command.Args().Slice()
	if len(args) == 0 {
		args = []string{command.String("workflows-dir")}
	}

	var paths []string

	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}

		if !info.IsDir() {
			paths = append(paths, arg)

			continue
		}

		for _, pattern := range []string{"*.yaml", "*.yml"} {
			matches, err := filepath.Glob(filepath.Join(arg, pattern))
			if err != nil {
				return nil, err
			}

			paths = append(paths, matches...)
		}
	}

	sort.Strings(paths)

	return paths, nil
}
