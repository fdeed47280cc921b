package checkout

import "github.com/dukex/gale/pkg/protocol"

// ActionFactory creates checkout actions.
type ActionFactory struct{}

func NewActionFactory() *ActionFactory {
	return &ActionFactory{}
}

func (*ActionFactory) ID() string {
	return "checkout"
}

func (*ActionFactory) Aliases() []string {
	return []string{"actions/checkout"}
}

// Schema returns the JSON schema for the action configuration.
func (*ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"repository": map[string]any{
				"type":        "string",
				"description": "Repository to check out: a clone URL or a local path. Defaults to the event's repository.",
			},
			"ref": map[string]any{
				"type":        "string",
				"description": "Branch, tag or commit to check out. Defaults to the event's branch.",
			},
			"depth": map[string]any{
				"type":        "string",
				"description": "Clone depth. Defaults to 1.",
				"pattern":     "^[0-9]+$",
			},
		},
		"additionalProperties": false,
	}
}

func (*ActionFactory) Create(with map[string]string) (protocol.Action, error) {
	return NewCheckoutAction(with), nil
}
