// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"log/slog"

	"github.com/dukex/gale/pkg/actions/checkout"
	"github.com/dukex/gale/pkg/actions/toolchain"
	"github.com/dukex/gale/pkg/registry"
)

func registerActionPlugins(reg *registry.Registry, pluginsPath string) {
	actionPlugins, err := reg.LoadActionPlugins(pluginsPath)
	if err != nil {
		panic(err)
	}

	for _, plugin := range actionPlugins {
		reg.RegisterAction(plugin)
	}
}

func registerNativeActions(reg *registry.Registry) {
	reg.RegisterAction(checkout.NewActionFactory())
	reg.RegisterAction(toolchain.NewActionFactory())
}

func registerRunnerImages(reg *registry.Registry) {
	for _, image := range registry.DefaultRunnerImages() {
		reg.RegisterRunnerImage(image)
	}
}

func NewRegistry(logger *slog.Logger, pluginsPath string) *registry.Registry {
	reg := registry.NewRegistry(logger)

	registerActionPlugins(reg, pluginsPath)
	registerNativeActions(reg)
	registerRunnerImages(reg)

	return reg
}
