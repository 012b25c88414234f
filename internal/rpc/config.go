package rpc

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// NodeConfig is one RPC endpoint entry in the YAML pool file.
type NodeConfig struct {
	Name     string `yaml:"name"`
	Endpoint string `yaml:"endpoint"`
	Priority int    `yaml:"priority"`
}

type nodesFile struct {
	Nodes []NodeConfig `yaml:"nodes"`
}

// LoadNodes reads the endpoint pool from a YAML file.
func LoadNodes(path string) ([]NodeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file nodesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	if len(file.Nodes) == 0 {
		return nil, fmt.Errorf("nodes file %s contains no nodes", path)
	}
	for i, n := range file.Nodes {
		if n.Name == "" || n.Endpoint == "" {
			return nil, fmt.Errorf("nodes file %s: entry %d missing name or endpoint", path, i)
		}
	}
	return file.Nodes, nil
}
