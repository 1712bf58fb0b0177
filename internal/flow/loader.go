package flow

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadConfig reads a flow config from a YAML file and validates it.
// The returned graph is the executable view; the config is returned too so
// callers can keep the raw step list for display and linting.
func LoadConfig(path string) (*Config, *Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read flow config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, nil, fmt.Errorf("parse flow config %s: %w", path, err)
	}
	graph, err := Build(&cfg)
	if err != nil {
		return nil, nil, err
	}
	return &cfg, graph, nil
}
