package plugins

import (
	"fmt"

	"github.com/kingrea/ciweave/internal/logging"
	"github.com/kingrea/ciweave/internal/shell"
)

// RegisterMatcherPlugins loads YAML and Go matcher definitions from dir and
// appends them to reg after the built-ins. It returns how many were added.
func RegisterMatcherPlugins(reg *shell.Registry, dir string, log *logging.Logger) (int, error) {
	if reg == nil || dir == "" {
		return 0, nil
	}
	defs, err := loadAllDefinitionFiles(dir)
	if err != nil {
		return 0, err
	}
	for _, file := range defs {
		if err := reg.Register(file.Definition.Matcher()); err != nil {
			return 0, fmt.Errorf("plugin: register %s from %s: %w", file.Definition.Name, file.Path, err)
		}
		log.Debugf("registered matcher %s (%v) from %s", file.Definition.Name, file.Definition.Executors, file.Path)
	}
	return len(defs), nil
}

func loadAllDefinitionFiles(dir string) ([]DefinitionFile, error) {
	yamlDefs, err := LoadDefinitionDir(dir)
	if err != nil {
		return nil, err
	}
	goDefs, err := LoadGoDefinitionDir(dir)
	if err != nil {
		return nil, err
	}
	return append(yamlDefs, goDefs...), nil
}
