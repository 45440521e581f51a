package config

import (
	"io/ioutil"

	"gopkg.in/yaml.v3"
)

// GRPCConfig is the listen address for a service's gRPC facade.
type GRPCConfig struct {
	Address string `yaml:"address"`
}

// CoordinatorConfig configures one table's contract coordinator service:
// where it persists state, where it listens, and how often it reconciles.
type CoordinatorConfig struct {
	DataDir             string     `yaml:"dataDir"`
	GRPC                GRPCConfig `yaml:"grpc"`
	ReconcileIntervalMs int64      `yaml:"reconcileIntervalMs"`
	MetricsAddress      string     `yaml:"metricsAddress"`
}

// LoadCoordinatorConfig reads and parses a coordinator config file;
// ReconcileIntervalMs is 500 when the file does not set it.
func LoadCoordinatorConfig(path string) (*CoordinatorConfig, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &CoordinatorConfig{
		ReconcileIntervalMs: 500,
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
