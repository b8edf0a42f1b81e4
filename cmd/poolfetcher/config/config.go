package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/defistate/defistate-balancer-go/protocols/balancer"
	"github.com/defistate/defistate-balancer-go/recentblock"
	"gopkg.in/yaml.v3"
)

const (
	DefaultMetricsAddr   = ":9090"
	DefaultMaxBlockRange = 10_000
	DefaultSnapshotEvery = 100
	DefaultRPCTimeout    = 10 * time.Second
)

// PoolFetcherConfig holds the pool fetcher configuration.
type PoolFetcherConfig struct {
	// NodeURL must accept subscriptions (ws:// or ipc).
	NodeURL string `yaml:"node_url"`
	// ChainID selects the deployment. Zero asks the node.
	ChainID     uint64 `yaml:"chain_id"`
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`

	Cache    recentblock.CacheConfig `yaml:"cache"`
	Registry RegistryConfig          `yaml:"registry"`
	RPC      RPCConfig               `yaml:"rpc"`
	Redis    RedisConfig             `yaml:"redis"`
}

type RegistryConfig struct {
	MaxBlockRange        uint64 `yaml:"max_block_range"`
	MaxConcurrentFetches int    `yaml:"max_concurrent_fetches"`
	// MaintenancePolicy is "fail_closed" or "best_effort".
	MaintenancePolicy string `yaml:"maintenance_policy"`
}

type RPCConfig struct {
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	Timeout           time.Duration `yaml:"timeout"`
}

// RedisConfig enables pool snapshots when Addr is set.
type RedisConfig struct {
	Addr          string `yaml:"addr"`
	Password      string `yaml:"password"`
	DB            int    `yaml:"db"`
	SnapshotKey   string `yaml:"snapshot_key"`
	SnapshotEvery uint64 `yaml:"snapshot_every"`
}

// LoadConfig loads configuration from a YAML file.
func LoadConfig(path string) (*PoolFetcherConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Cache fields start from their defaults so an explicit zero survives.
	cfg := PoolFetcherConfig{Cache: recentblock.DefaultCacheConfig()}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Policy returns the parsed maintenance policy.
func (c *PoolFetcherConfig) Policy() balancer.MaintenancePolicy {
	// validated on load
	p, _ := balancer.ParseMaintenancePolicy(c.Registry.MaintenancePolicy)
	return p
}

func (c *PoolFetcherConfig) applyDefaults() {
	if c.MetricsAddr == "" {
		c.MetricsAddr = DefaultMetricsAddr
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	if c.Registry.MaxBlockRange == 0 {
		c.Registry.MaxBlockRange = DefaultMaxBlockRange
	}
	if c.RPC.Timeout == 0 {
		c.RPC.Timeout = DefaultRPCTimeout
	}
	if c.Redis.SnapshotEvery == 0 {
		c.Redis.SnapshotEvery = DefaultSnapshotEvery
	}
}

func (c *PoolFetcherConfig) validate() error {
	if c.NodeURL == "" {
		return errors.New("config: node_url is required")
	}
	if c.ChainID != 0 {
		if _, err := balancer.DeploymentFor(c.ChainID); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	if _, err := balancer.ParseMaintenancePolicy(c.Registry.MaintenancePolicy); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.RPC.RequestsPerSecond < 0 {
		return errors.New("config: rpc.requests_per_second must not be negative")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log_level %q", c.LogLevel)
	}
	return nil
}
