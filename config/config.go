// Package config loads node bootstrap configuration: struct-literal
// defaults overridable by a koanf-backed YAML/JSON file and, when such a
// file is given, K_-prefixed environment variables.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the top-level node configuration.
type Config struct {
	Node      NodeConfig      `koanf:"node"`
	ClockSync ClockSyncConfig `koanf:"clocksync"`
	Dispatch  DispatchConfig  `koanf:"dispatch"`
	Transport TransportConfig `koanf:"transport"`
	GroupView GroupViewConfig `koanf:"groupview"`
	Logging   LoggingConfig   `koanf:"logging"`
	Metrics   MetricsConfig   `koanf:"metrics"`
}

// NodeConfig identifies this process.
type NodeConfig struct {
	ID   string `koanf:"id"`
	Name string `koanf:"name"`
}

// ClockSyncConfig configures the Clock Synchronizer.
type ClockSyncConfig struct {
	ExchangePeriod time.Duration `koanf:"exchange_period"`
}

// DispatchConfig configures the Dispatch Agent.
type DispatchConfig struct {
	TopologyPath     string        `koanf:"topology_path"`
	IterationTimeout time.Duration `koanf:"iteration_timeout"`
}

// TransportConfig configures the Peer Transport adapter.
type TransportConfig struct {
	Kind       string `koanf:"kind"` // "mqtt" or "memory"
	BrokerURL  string `koanf:"broker_url"`
	ClientID   string `koanf:"client_id"`
}

// GroupViewConfig configures the Group View adapter.
type GroupViewConfig struct {
	Kind                 string        `koanf:"kind"` // "dda" or "static"
	URL                  string        `koanf:"url"`
	Cluster              string        `koanf:"cluster"`
	Bootstrap            bool          `koanf:"bootstrap"`
	HeartbeatPeriod      time.Duration `koanf:"heartbeat_period"`
	HeartbeatTimeoutBase time.Duration `koanf:"heartbeat_timeout_base"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level string `koanf:"level"`
}

// MetricsConfig configures the Prometheus exporter.
type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
}

// Default returns the struct-literal zero-config fallback used when no
// config file is given.
func Default() *Config {
	return &Config{
		Node: NodeConfig{Name: "grid-broker"},
		ClockSync: ClockSyncConfig{
			ExchangePeriod: 10 * time.Second,
		},
		Dispatch: DispatchConfig{
			TopologyPath:     "topology.txt",
			IterationTimeout: 0,
		},
		Transport: TransportConfig{
			Kind: "memory",
		},
		GroupView: GroupViewConfig{
			Kind:                 "static",
			HeartbeatPeriod:      1000 * time.Millisecond,
			HeartbeatTimeoutBase: 1200 * time.Millisecond,
		},
		Logging: LoggingConfig{Level: "info"},
		Metrics: MetricsConfig{Enabled: true, Addr: ":9090"},
	}
}

// Load reads a YAML or JSON config file at path, falling back to
// Default() values for anything unset, with K_-prefixed environment
// overrides (e.g. K_NODE__ID=...). An empty path returns Default()
// unchanged; environment overrides are not read in that case.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("config: unsupported format %q", ext)
	}

	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, fmt.Errorf("config: load %s: %w", path, err)
	}

	if err := k.Load(env.Provider("K_", ".", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "k_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("config: load env overrides: %w", err)
	}

	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return cfg, nil
}
