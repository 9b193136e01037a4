package presets

import (
	"fmt"
	"path/filepath"
)

// Dir is where presets live, relative to the project directory.
var Dir = filepath.Join(".agent", "workflows")

// LoadAll discovers YAML and Go preset definitions under the project's
// workflow directory. Duplicate IDs across files are an error.
func LoadAll(projectDir string) ([]DefinitionFile, error) {
	dir := filepath.Join(projectDir, Dir)
	yamlDefs, err := LoadDefinitionDir(dir)
	if err != nil {
		return nil, err
	}
	goDefs, err := LoadGoDefinitionDir(dir)
	if err != nil {
		return nil, err
	}
	defs := append(yamlDefs, goDefs...)

	seen := make(map[string]string)
	for _, file := range defs {
		if existing, ok := seen[file.Definition.ID]; ok {
			return nil, fmt.Errorf("preset: duplicate workflow id %s (%s and %s)", file.Definition.ID, existing, file.Path)
		}
		seen[file.Definition.ID] = file.Path
	}
	return defs, nil
}

// Find returns the preset with the given ID.
func Find(projectDir, id string) (Definition, error) {
	defs, err := LoadAll(projectDir)
	if err != nil {
		return Definition{}, err
	}
	for _, file := range defs {
		if file.Definition.ID == id {
			return file.Definition, nil
		}
	}
	return Definition{}, fmt.Errorf("preset: workflow %q not found under %s", id, filepath.Join(projectDir, Dir))
}
