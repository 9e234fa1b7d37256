package catalog

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// File models an agents.yml catalog file: declared profiles only, no
// handlers. Profiles loaded from a file are bound to handlers by name at
// startup.
type File struct {
	Agents []Profile `yaml:"agents"`
}

// LoadFile reads and validates agent profiles from a YAML catalog file.
func LoadFile(path string) ([]Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates agent profiles from raw YAML bytes.
func FromYAML(data []byte) ([]Profile, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("invalid catalog yaml: %w", err)
	}
	seen := map[string]bool{}
	for _, p := range f.Agents {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("duplicate agent %s in catalog", p.Name)
		}
		seen[p.Name] = true
	}
	return f.Agents, nil
}
