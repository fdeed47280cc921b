package workfile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/goccy/go-yaml"

	"github.com/dukex/gale/pkg/models"
)

// Loader reads workflow definitions from disk.
type Loader struct {
	logger *slog.Logger
}

func NewLoader(logger *slog.Logger) *Loader {
	return &Loader{logger: logger.With("module", "workfile")}
}

// Parse builds a workflow model from a raw document. The document must
// satisfy the embedded schema first.
func (l *Loader) Parse(data []byte, source string) (*models.Workflow, error) {
	if err := ValidateSchema(data); err != nil {
		return nil, err
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode workflow document: %w", err)
	}

	return doc.toModel(source)
}

// Load reads and parses a single workflow file.
func (l *Loader) Load(path string) (*models.Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow file: %w", err)
	}

	workflow, err := l.Parse(data, path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	l.logger.Debug("Loaded workflow", "workflow", workflow.Name, "source", path)

	return workflow, nil
}

// LoadDir parses every .yml and .yaml file under dir in file name order.
// Two files declaring the same workflow name is an error.
func (l *Loader) LoadDir(dir string) ([]*models.Workflow, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read workflow directory: %w", err)
	}

	names := make([]string, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		ext := filepath.Ext(entry.Name())
		if ext != ".yml" && ext != ".yaml" {
			continue
		}

		names = append(names, entry.Name())
	}

	slices.Sort(names)

	workflows := make([]*models.Workflow, 0, len(names))
	seen := make(map[string]string, len(names))

	for _, name := range names {
		path := filepath.Join(dir, name)

		workflow, err := l.Load(path)
		if err != nil {
			return nil, err
		}

		if prev, ok := seen[workflow.Name]; ok {
			return nil, fmt.Errorf("duplicate workflow name %q (%s and %s)", workflow.Name, prev, path)
		}

		seen[workflow.Name] = path
		workflows = append(workflows, workflow)
	}

	return workflows, nil
}
