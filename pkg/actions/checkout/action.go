// Package checkout materializes the repository working copy for a run.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dukex/gale/pkg/models"
)

const defaultCloneDepth = 1

// CheckoutAction places the repository named by the configuration, or by
// the triggering event, into the job workspace. Local directories are
// copied; anything else is cloned with git.
type CheckoutAction struct {
	Repository string
	Ref        string
	Depth      int
}

func NewCheckoutAction(with map[string]string) *CheckoutAction {
	depth := defaultCloneDepth
	if d, err := strconv.Atoi(with["depth"]); err == nil && d > 0 {
		depth = d
	}

	return &CheckoutAction{
		Repository: with["repository"],
		Ref:        with["ref"],
		Depth:      depth,
	}
}

func (a *CheckoutAction) Execute(ctx context.Context, executionCtx models.ExecutionContext, logger *slog.Logger) (map[string]string, error) {
	logger = logger.With("action", "checkout")

	repository := a.Repository
	if repository == "" {
		repository = executionCtx.Event.Repository
	}

	ref := a.Ref
	if ref == "" {
		ref = executionCtx.Event.Branch
	}

	outputs := map[string]string{"GALE_CHECKOUT_PATH": executionCtx.Workspace}

	if executionCtx.Pretend {
		logger.InfoContext(ctx, "Would check out repository",
			"repository", repository,
			"ref", ref)

		return outputs, nil
	}

	if repository == "" {
		return nil, errors.New("no repository to check out")
	}

	if info, err := os.Stat(repository); err == nil && info.IsDir() {
		logger.InfoContext(ctx, "Copying local repository", "repository", repository)

		if err := copyTree(repository, executionCtx.Workspace); err != nil {
			return nil, fmt.Errorf("copy %s: %w", repository, err)
		}

		return outputs, nil
	}

	logger.InfoContext(ctx, "Cloning repository",
		"repository", repository,
		"ref", ref,
		"depth", a.Depth)

	args := []string{"clone", "--depth", strconv.Itoa(a.Depth)}
	if ref != "" {
		args = append(args, "--branch", ref)
	}

	args = append(args, repository, executionCtx.Workspace)

	cmd := exec.CommandContext(ctx, "git", args...)

	out, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("git clone %s: %w: %s", repository, err, out)
	}

	return outputs, nil
}

// copyTree mirrors src into dst, skipping the .git directory.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}

		if rel == ".git" || strings.HasPrefix(rel, ".git"+string(filepath.Separator)) {
			if d.IsDir() {
				return filepath.SkipDir
			}

			return nil
		}

		target := filepath.Join(dst, rel)

		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}

		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()

		return err
	}

	return out.Close()
}
