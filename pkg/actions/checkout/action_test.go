package checkout

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dukex/gale/pkg/log"
	"github.com/dukex/gale/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCheckoutAction(t *testing.T) {
	action := NewCheckoutAction(map[string]string{
		"repository": "https://example.com/repo.git",
		"ref":        "main",
		"depth":      "5",
	})

	assert.Equal(t, "https://example.com/repo.git", action.Repository)
	assert.Equal(t, "main", action.Ref)
	assert.Equal(t, 5, action.Depth)
}

func TestNewCheckoutActionDefaults(t *testing.T) {
	action := NewCheckoutAction(map[string]string{})

	assert.Empty(t, action.Repository)
	assert.Equal(t, defaultCloneDepth, action.Depth)
}

func TestExecutePretend(t *testing.T) {
	action := NewCheckoutAction(map[string]string{})

	executionCtx := models.ExecutionContext{
		Workspace: t.TempDir(),
		Event:     models.Event{Kind: models.KindPush, Branch: "main"},
		Pretend:   true,
	}

	outputs, err := action.Execute(t.Context(), executionCtx, log.WithModule("test"))
	require.NoError(t, err)
	assert.Equal(t, executionCtx.Workspace, outputs["GALE_CHECKOUT_PATH"])
}

func TestExecuteNoRepository(t *testing.T) {
	action := NewCheckoutAction(map[string]string{})

	executionCtx := models.ExecutionContext{
		Workspace: t.TempDir(),
		Event:     models.Event{Kind: models.KindPush},
	}

	_, err := action.Execute(t.Context(), executionCtx, log.WithModule("test"))
	require.Error(t, err)
}

func TestExecuteLocalDirectory(t *testing.T) {
	source := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(source, "src"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(source, "src", "lib.rs"), []byte("// lib"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(source, ".git"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(source, ".git", "HEAD"), []byte("ref"), 0o644))

	workspace := t.TempDir()

	action := NewCheckoutAction(map[string]string{"repository": source})

	executionCtx := models.ExecutionContext{
		Workspace: workspace,
		Event:     models.Event{Kind: models.KindPush, Branch: "main"},
	}

	outputs, err := action.Execute(t.Context(), executionCtx, log.WithModule("test"))
	require.NoError(t, err)
	assert.Equal(t, workspace, outputs["GALE_CHECKOUT_PATH"])

	content, err := os.ReadFile(filepath.Join(workspace, "src", "lib.rs"))
	require.NoError(t, err)
	assert.Equal(t, "// lib", string(content))

	_, err = os.Stat(filepath.Join(workspace, ".git"))
	assert.True(t, os.IsNotExist(err))
}
