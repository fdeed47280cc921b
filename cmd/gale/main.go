// Package main provides the gale command line interface.
package main

import (
	"context"
	"fmt"
	"os"

	cli "github.com/urfave/cli/v3"
)

func main() {
	app := &cli.Command{
		Name:                  "gale",
		Usage:                 "Validate, plan and execute CI workflows",
		EnableShellCompletion: true,
		Commands: []*cli.Command{
			validateCommand(),
			planCommand(),
			runCommand(),
			runsCommand(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "gale:", err)
		os.Exit(1)
	}
}
