// Package toolchain installs the build toolchain a job requests: a channel
// plus optional compilation targets and components.
package toolchain

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/dukex/gale/pkg/models"
)

// Environment exported for subsequent steps.
const (
	EnvToolchain  = "GALE_TOOLCHAIN"
	EnvTargets    = "GALE_TOOLCHAIN_TARGETS"
	EnvComponents = "GALE_TOOLCHAIN_COMPONENTS"
)

type ToolchainAction struct {
	Toolchain  string
	Targets    []string
	Components []string
}

func NewToolchainAction(with map[string]string) *ToolchainAction {
	toolchain := with["toolchain"]
	if toolchain == "" {
		toolchain = "stable"
	}

	return &ToolchainAction{
		Toolchain:  toolchain,
		Targets:    splitList(with["targets"]),
		Components: splitList(with["components"]),
	}
}

func (a *ToolchainAction) Execute(ctx context.Context, executionCtx models.ExecutionContext, logger *slog.Logger) (map[string]string, error) {
	logger = logger.With("action", "toolchain", "toolchain", a.Toolchain)

	outputs := map[string]string{
		EnvToolchain:  a.Toolchain,
		EnvTargets:    strings.Join(a.Targets, ","),
		EnvComponents: strings.Join(a.Components, ","),
	}

	if executionCtx.Pretend {
		logger.InfoContext(ctx, "Would install toolchain",
			"targets", a.Targets,
			"components", a.Components)

		return outputs, nil
	}

	rustup, err := exec.LookPath("rustup")
	if err != nil {
		return nil, fmt.Errorf("toolchain step requires rustup on the runner host: %w", err)
	}

	args := []string{"toolchain", "install", a.Toolchain, "--profile", "minimal", "--no-self-update"}
	for _, target := range a.Targets {
		args = append(args, "--target", target)
	}

	for _, component := range a.Components {
		args = append(args, "--component", component)
	}

	logger.InfoContext(ctx, "Installing toolchain",
		"targets", a.Targets,
		"components", a.Components)

	cmd := exec.CommandContext(ctx, rustup, args...)
	cmd.Env = append(os.Environ(), flattenEnv(executionCtx.Env)...)

	out, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("rustup toolchain install %s: %w: %s", a.Toolchain, err, out)
	}

	return outputs, nil
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))

	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}

	return out
}

func flattenEnv(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}

	return out
}
