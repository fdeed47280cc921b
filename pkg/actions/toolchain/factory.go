package toolchain

import "github.com/dukex/gale/pkg/protocol"

// ActionFactory creates toolchain actions.
type ActionFactory struct{}

func NewActionFactory() *ActionFactory {
	return &ActionFactory{}
}

func (*ActionFactory) ID() string {
	return "toolchain"
}

func (*ActionFactory) Aliases() []string {
	return []string{"dtolnay/rust-toolchain", "actions-rs/toolchain"}
}

// Schema returns the JSON schema for the action configuration.
func (*ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"toolchain": map[string]any{
				"type":        "string",
				"description": "Toolchain channel to install: stable, beta, nightly or a version number.",
			},
			"targets": map[string]any{
				"type":        "string",
				"description": "Comma-separated compilation targets to add, e.g. x86_64-unknown-linux-gnu.",
			},
			"components": map[string]any{
				"type":        "string",
				"description": "Comma-separated toolchain components to add, e.g. rustfmt, clippy.",
			},
		},
		"additionalProperties": false,
	}
}

func (*ActionFactory) Create(with map[string]string) (protocol.Action, error) {
	return NewToolchainAction(with), nil
}
