package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Set defaults if necessary
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Run.QueueSize == 0 {
		cfg.Run.QueueSize = 1024
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "memory"
	}

	for i := range cfg.Sources {
		src := &cfg.Sources[i]
		if src.Protocol == "" {
			src.Protocol = src.Name
		}
		if src.Interval == 0 {
			src.Interval = 30 * time.Second
		}
		if src.PageDelay == 0 {
			src.PageDelay = 3 * time.Second
		}
		if src.PageSize == 0 {
			src.PageSize = 50
		}
		if src.MaxPages == 0 {
			src.MaxPages = 5
		}
		if src.Timeout == 0 {
			src.Timeout = 10 * time.Second
		}
	}

	return &cfg, nil
}
