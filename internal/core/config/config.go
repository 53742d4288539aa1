package config

import (
	"fmt"
	"time"

	"github.com/chainflux/logwatch/internal/core/domain"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Engine   Engine         `yaml:"engine"`
	RPC      RPCConfig      `yaml:"rpc"`
	Redis    RedisConfig    `yaml:"redis"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
	Server   ServerConfig   `yaml:"server"`
}

// Engine holds the block-ingest and reorg-handling tunables, plus the set
// of addresses to subscribe at startup.
type Engine struct {
	MaxBlockCached       int             `yaml:"max_block_cached"`
	BatchSize            int             `yaml:"batch_size"`
	MaxRetryGetBlock     int             `yaml:"max_retry_get_block"`
	RetryDelayGetBlockMs int             `yaml:"retry_delay_get_block_ms"`
	MaxRetryGetLogs      int             `yaml:"max_retry_get_logs"`
	RetryDelayGetLogsMs  int             `yaml:"retry_delay_get_logs_ms"`
	GetLogsTimeout       time.Duration   `yaml:"get_logs_timeout"`
	InterChunkDelayMs    int             `yaml:"inter_chunk_delay_ms"`
	Addresses            []AddressConfig `yaml:"addresses"`
}

// AddressConfig is one startup subscription: an address and its topics.
// Topics are decoded and carried on the subscription, but the RPC backend's
// log query filters by address only, so logs of every topic are delivered.
type AddressConfig struct {
	Address string   `yaml:"address"`
	Topics  []string `yaml:"topics"`
}

// Validate enforces construction-time invariants that have nowhere else to
// live: the resolver walks the cache against one fetched batch per pass, so
// the cache can never outgrow the batch it is compared to.
func (e Engine) Validate() error {
	if e.MaxBlockCached < 1 {
		return fmt.Errorf("config: max_block_cached must be >= 1, got %d", e.MaxBlockCached)
	}
	if e.BatchSize < 1 {
		return fmt.Errorf("config: batch_size must be >= 1, got %d", e.BatchSize)
	}
	if e.MaxBlockCached > e.BatchSize {
		return fmt.Errorf(
			"config: max_block_cached (%d) must be <= batch_size (%d)",
			e.MaxBlockCached, e.BatchSize,
		)
	}
	if e.MaxRetryGetBlock < 0 || e.MaxRetryGetLogs < 0 {
		return fmt.Errorf("config: retry counts must be >= 0")
	}
	return nil
}

// RPCConfig lists the upstream JSON-RPC endpoints the backend rotates
// across.
type RPCConfig struct {
	Endpoints []string      `yaml:"endpoints"`
	Timeout   time.Duration `yaml:"timeout"`
}

// RedisConfig addresses the dead-letter sink for retry-exhausted ranges.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// DatabaseConfig addresses the reorg audit trail.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// ServerConfig holds the health/metrics HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// ParsedAddresses returns the Engine's startup subscriptions with addresses
// canonicalized to checksum form and topics decoded from hex.
func (e Engine) ParsedAddresses() ([]domain.AddressAndTopics, error) {
	out := make([]domain.AddressAndTopics, 0, len(e.Addresses))
	for _, a := range e.Addresses {
		topics, err := decodeTopics(a.Topics)
		if err != nil {
			return nil, fmt.Errorf("config: address %s: %w", a.Address, err)
		}
		out = append(out, domain.AddressAndTopics{
			Address: domain.ChecksumAddress(a.Address),
			Topics:  topics,
		})
	}
	return out, nil
}

func decodeTopics(raw []string) ([]domain.Hash, error) {
	out := make([]domain.Hash, 0, len(raw))
	for _, t := range raw {
		h, err := domain.HashFromHex(t)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}
