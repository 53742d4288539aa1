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
	// Expand environment variables in the YAML content.
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Engine.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.RPC.Timeout == 0 {
		cfg.RPC.Timeout = 10 * time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}

	if cfg.Engine.MaxBlockCached == 0 {
		cfg.Engine.MaxBlockCached = 128
	}
	if cfg.Engine.BatchSize == 0 {
		cfg.Engine.BatchSize = 128
	}
	if cfg.Engine.MaxRetryGetBlock == 0 {
		cfg.Engine.MaxRetryGetBlock = 5
	}
	if cfg.Engine.RetryDelayGetBlockMs == 0 {
		cfg.Engine.RetryDelayGetBlockMs = 500
	}
	if cfg.Engine.MaxRetryGetLogs == 0 {
		cfg.Engine.MaxRetryGetLogs = 5
	}
	if cfg.Engine.RetryDelayGetLogsMs == 0 {
		cfg.Engine.RetryDelayGetLogsMs = 500
	}
	if cfg.Engine.GetLogsTimeout == 0 {
		cfg.Engine.GetLogsTimeout = 30 * time.Second
	}
	// InterChunkDelayMs is intentionally left at its zero value when unset:
	// back-to-back chunk fetches run with no artificial delay unless an
	// operator opts into throttling.
}
