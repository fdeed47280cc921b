package registry

import (
	"fmt"
	"io/fs"
	"os"
	"plugin"

	"github.com/dukex/gale/pkg/protocol"
)

// LoadActionPlugins loads action factories from .so files under
// pluginsPath/actions. Each plugin must export an Action symbol
// implementing protocol.ActionFactory.
func (r *Registry) LoadActionPlugins(pluginsPath string) ([]protocol.ActionFactory, error) {
	rootPath := pluginsPath + "/actions"
	if _, err := os.Stat(rootPath); os.IsNotExist(err) {
		return nil, nil
	}

	pluginPathList, err := fs.Glob(os.DirFS(rootPath), "**/*.so")
	if err != nil {
		return nil, err
	}

	l := r.logger.With("path", rootPath)
	l.Info("Loading action plugins")

	pluginList := make([]protocol.ActionFactory, 0, len(pluginPathList))

	for _, p := range pluginPathList {
		plg, err := plugin.Open(rootPath + "/" + p)
		if err != nil {
			return nil, fmt.Errorf("open plugin %s: %w", p, err)
		}

		v, err := plg.Lookup("Action")
		if err != nil {
			return nil, fmt.Errorf("lookup Action symbol in %s: %w", p, err)
		}

		factory, ok := v.(protocol.ActionFactory)
		if !ok {
			return nil, fmt.Errorf("plugin %s does not export an action factory", p)
		}

		pluginList = append(pluginList, factory)

		l.Info("Loaded action plugin", "plugin", p, "action", factory.ID())
	}

	return pluginList, nil
}
