// Package config loads the poolnode application configuration from YAML and
// the environment.
package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"

	"github.com/automaton-market/poolnode/server/api"
)

// Config holds the complete application configuration.
type Config struct {
	API      api.Config     `mapstructure:"api"      yaml:"api"`
	Metrics  MetricsConfig  `mapstructure:"metrics"  yaml:"metrics"`
	Log      LogConfig      `mapstructure:"log"      yaml:"log"`
	Pool     PoolConfig     `mapstructure:"pool"     yaml:"pool"`
	Registry RegistryConfig `mapstructure:"registry" yaml:"registry"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled" env:"METRICS_ENABLED"`
	Port    int    `mapstructure:"port"    yaml:"port"    env:"METRICS_PORT"`
	Path    string `mapstructure:"path"    yaml:"path"    env:"METRICS_PATH"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"  env:"LOG_LEVEL"`
	Pretty bool   `mapstructure:"pretty" yaml:"pretty" env:"LOG_PRETTY"`
}

// PoolConfig holds the pool instance configuration.
type PoolConfig struct {
	Identity string `mapstructure:"identity" yaml:"identity" env:"POOL_IDENTITY"`
	Owner    string `mapstructure:"owner"    yaml:"owner"    env:"POOL_OWNER"`
	// UnitPrice is the simulated execution unit price, as a decimal string.
	UnitPrice string `mapstructure:"unit_price" yaml:"unit_price"`
	// BaseGas and ByteGas are the simulated intrinsic call costs.
	BaseGas uint64 `mapstructure:"base_gas" yaml:"base_gas"`
	ByteGas uint64 `mapstructure:"byte_gas" yaml:"byte_gas"`
	// CostOracle is the address of the platform cost oracle to use, empty for
	// none. It must appear on the registry's whitelist.
	CostOracle       string `mapstructure:"cost_oracle"         yaml:"cost_oracle"`
	DataFeePerByte   uint64 `mapstructure:"data_fee_per_byte"   yaml:"data_fee_per_byte"`
	DataFeeScalarBps uint64 `mapstructure:"data_fee_scalar_bps" yaml:"data_fee_scalar_bps"`
}

// RegistryConfig holds the in-process tenant-registry policy bounds.
type RegistryConfig struct {
	CheckGasLimit      uint64        `mapstructure:"check_gas_limit"       yaml:"check_gas_limit"`
	PerformGasLimit    uint64        `mapstructure:"perform_gas_limit"     yaml:"perform_gas_limit"`
	MinBalancePerBatch string        `mapstructure:"min_balance_per_batch" yaml:"min_balance_per_batch"`
	MaxBatchesPerPool  uint64        `mapstructure:"max_batches_per_pool"  yaml:"max_batches_per_pool"`
	PlatformFeeBps     uint32        `mapstructure:"platform_fee_bps"      yaml:"platform_fee_bps"`
	RegistryFeeBps     uint32        `mapstructure:"registry_fee_bps"      yaml:"registry_fee_bps"`
	GasPremiumPercent  uint32        `mapstructure:"gas_premium_percent"   yaml:"gas_premium_percent"`
	BillingInterval    time.Duration `mapstructure:"billing_interval"      yaml:"billing_interval"`
	GracePeriod        time.Duration `mapstructure:"grace_period"          yaml:"grace_period"`
	ClosingPeriod      time.Duration `mapstructure:"closing_period"        yaml:"closing_period"`
	FeePerBatch        string        `mapstructure:"fee_per_batch"         yaml:"fee_per_batch"`
	CostOracles        []string      `mapstructure:"cost_oracles"          yaml:"cost_oracles"`
}

// Load loads configuration from file and environment.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("api.listen_addr", ":8081")
	v.SetDefault("api.read_header_timeout", "5s")
	v.SetDefault("api.read_timeout", "15s")
	v.SetDefault("api.write_timeout", "30s")
	v.SetDefault("api.idle_timeout", "120s")
	v.SetDefault("api.max_header_bytes", 1048576)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9091)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetDefault("pool.unit_price", "1")
	v.SetDefault("pool.base_gas", 21000)
	v.SetDefault("pool.byte_gas", 16)
	v.SetDefault("pool.cost_oracle", "")
	v.SetDefault("pool.data_fee_per_byte", 0)
	v.SetDefault("pool.data_fee_scalar_bps", 10000)

	v.SetDefault("registry.check_gas_limit", 6000000)
	v.SetDefault("registry.perform_gas_limit", 5000000)
	v.SetDefault("registry.min_balance_per_batch", "1000000")
	v.SetDefault("registry.max_batches_per_pool", 500)
	v.SetDefault("registry.platform_fee_bps", 1000)
	v.SetDefault("registry.registry_fee_bps", 500)
	v.SetDefault("registry.gas_premium_percent", 20)
	v.SetDefault("registry.billing_interval", "720h")
	v.SetDefault("registry.grace_period", "168h")
	v.SetDefault("registry.closing_period", "336h")
	v.SetDefault("registry.fee_per_batch", "100")
}

// Validate checks the loaded configuration for consistency.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.API.ListenAddr) == "" {
		return fmt.Errorf("api.listen_addr is required")
	}
	if _, ok := new(big.Int).SetString(c.Pool.UnitPrice, 10); !ok {
		return fmt.Errorf("pool.unit_price is not a decimal number: %q", c.Pool.UnitPrice)
	}
	if _, ok := new(big.Int).SetString(c.Registry.FeePerBatch, 10); !ok {
		return fmt.Errorf("registry.fee_per_batch is not a decimal number: %q", c.Registry.FeePerBatch)
	}
	if _, ok := new(big.Int).SetString(c.Registry.MinBalancePerBatch, 10); !ok {
		return fmt.Errorf("registry.min_balance_per_batch is not a decimal number: %q", c.Registry.MinBalancePerBatch)
	}
	if c.Registry.BillingInterval <= 0 {
		return fmt.Errorf("registry.billing_interval must be positive")
	}
	if c.Pool.CostOracle != "" && !common.IsHexAddress(c.Pool.CostOracle) {
		return fmt.Errorf("pool.cost_oracle is not a hex address: %q", c.Pool.CostOracle)
	}
	for _, addr := range c.Registry.CostOracles {
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("registry.cost_oracles entry is not a hex address: %q", addr)
		}
	}
	return nil
}
