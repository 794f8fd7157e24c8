package schema

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// registryDoc is the YAML wire shape for a registry dump.
type registryDoc struct {
	Version int     `yaml:"version"`
	Tables  []Table `yaml:"tables"`
}

// DumpYAML renders the registry as YAML. Useful for schema inspection and for
// diffing the declared catalog between releases.
func (r *Registry) DumpYAML() ([]byte, error) {
	doc := registryDoc{Version: r.version, Tables: r.Tables()}
	out, err := yaml.Marshal(&doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal registry: %w", err)
	}
	return out, nil
}

// LoadYAML parses a registry from a YAML dump produced by DumpYAML.
func LoadYAML(data []byte) (*Registry, error) {
	var doc registryDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse registry: %w", err)
	}
	reg, err := NewRegistry(doc.Version, doc.Tables...)
	if err != nil {
		return nil, fmt.Errorf("invalid registry document: %w", err)
	}
	return reg, nil
}
