// Package registry resolves action references and runner image names for
// workflow validation and execution.
package registry

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/gale/pkg/models"
	"github.com/dukex/gale/pkg/protocol"
)

var (
	// ErrUnknownAction indicates an action reference that no registered
	// factory resolves.
	ErrUnknownAction = errors.New("action not registered")

	// ErrUnknownRunnerImage indicates a runs-on value outside the
	// recognized runner image set.
	ErrUnknownRunnerImage = errors.New("runner image not recognized")
)

type Registry struct {
	logger          *slog.Logger
	actionFactories map[string]protocol.ActionFactory
	actionAliases   map[string]string
	runnerImages    map[string]models.RunnerImage
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		logger:          log,
		actionFactories: make(map[string]protocol.ActionFactory),
		actionAliases:   make(map[string]string),
		runnerImages:    make(map[string]models.RunnerImage),
	}
}

func (r *Registry) RegisterAction(actionFactory protocol.ActionFactory) {
	r.actionFactories[actionFactory.ID()] = actionFactory

	for _, alias := range actionFactory.Aliases() {
		r.actionAliases[alias] = actionFactory.ID()
	}
}

func (r *Registry) RegisterRunnerImage(image models.RunnerImage) {
	r.runnerImages[image.Name] = image
}

// ResolveAction resolves an action reference of the form name@version to a
// registered factory. The name may be the factory's canonical ID or one of
// its hosted-platform aliases.
func (r *Registry) ResolveAction(ref string) (protocol.ActionFactory, string, error) {
	name, version, err := ParseActionRef(ref)
	if err != nil {
		return nil, "", err
	}

	id := name
	if canonical, ok := r.actionAliases[name]; ok {
		id = canonical
	}

	factory, ok := r.actionFactories[id]
	if !ok {
		return nil, "", fmt.Errorf("action %q: %w", name, ErrUnknownAction)
	}

	return factory, version, nil
}

// CreateAction instantiates the action a step's uses reference names.
func (r *Registry) CreateAction(ref string, with map[string]string) (protocol.Action, error) {
	factory, _, err := r.ResolveAction(ref)
	if err != nil {
		return nil, err
	}

	return factory.Create(with)
}

// ResolveRunner maps a runs-on value to a recognized runner image.
func (r *Registry) ResolveRunner(name string) (models.RunnerImage, error) {
	image, ok := r.runnerImages[name]
	if !ok {
		return models.RunnerImage{}, fmt.Errorf("runs-on %q: %w", name, ErrUnknownRunnerImage)
	}

	return image, nil
}

// RunnerImages returns the recognized runner images.
func (r *Registry) RunnerImages() []models.RunnerImage {
	images := make([]models.RunnerImage, 0, len(r.runnerImages))
	for _, image := range r.runnerImages {
		images = append(images, image)
	}

	return images
}

// ActionIDs returns the canonical IDs of all registered actions.
func (r *Registry) ActionIDs() []string {
	ids := make([]string, 0, len(r.actionFactories))
	for id := range r.actionFactories {
		ids = append(ids, id)
	}

	return ids
}

// HealthCheck reports whether the registry can serve plans. A registry
// without runner images cannot place any job.
func (r *Registry) HealthCheck() (string, bool) {
	if len(r.runnerImages) == 0 {
		return "no runner images registered", false
	}

	return fmt.Sprintf("%d actions, %d runner images", len(r.actionFactories), len(r.runnerImages)), true
}
