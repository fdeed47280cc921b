package registry

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ErrInvalidActionConfig indicates a with block rejected by the action's
// configuration schema.
var ErrInvalidActionConfig = errors.New("invalid action configuration")

// ValidateActionConfig checks a step's with block against the resolved
// action's JSON schema.
func (r *Registry) ValidateActionConfig(ref string, with map[string]string) error {
	factory, _, err := r.ResolveAction(ref)
	if err != nil {
		return err
	}

	schema := factory.Schema()
	if schema == nil {
		return nil
	}

	config := make(map[string]any, len(with))
	for k, v := range with {
		config[k] = v
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(schema),
		gojsonschema.NewGoLoader(config),
	)
	if err != nil {
		return fmt.Errorf("validate %s configuration: %w", ref, err)
	}

	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}

		return fmt.Errorf("%w for %s: %s", ErrInvalidActionConfig, ref, strings.Join(details, "; "))
	}

	return nil
}
