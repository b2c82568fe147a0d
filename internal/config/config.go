// Package config defines the server configuration. Config is loaded
// from a YAML file (default: configs/config.yaml) with fields
// overridable via NJORD_* environment variables.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"njord/internal/fixed"
)

// Config is the top-level configuration. Maps directly to the YAML
// file structure.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Pool    PoolConfig    `mapstructure:"pool"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig holds the TCP gateway listen parameters.
type ServerConfig struct {
	Address string `mapstructure:"address"`
	Port    int    `mapstructure:"port"`
	Workers int    `mapstructure:"workers"`
}

// PoolConfig describes the single trading pair the engine serves.
// Rates are scaled by 10^9; tick and lot sizes are in the assets'
// smallest units.
type PoolConfig struct {
	BaseAsset       string `mapstructure:"base_asset"`
	QuoteAsset      string `mapstructure:"quote_asset"`
	TakerFeeRate    uint64 `mapstructure:"taker_fee_rate"`
	MakerRebateRate uint64 `mapstructure:"maker_rebate_rate"`
	TickSize        uint64 `mapstructure:"tick_size"`
	LotSize         uint64 `mapstructure:"lot_size"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file with env var overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("NJORD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.address", "0.0.0.0")
	v.SetDefault("server.port", 9001)
	v.SetDefault("server.workers", 10)
	v.SetDefault("pool.tick_size", fixed.Scale)
	v.SetDefault("pool.lot_size", 1)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in (0, 65535]")
	}
	if c.Server.Workers <= 0 {
		return fmt.Errorf("server.workers must be > 0")
	}
	if c.Pool.BaseAsset == "" || c.Pool.QuoteAsset == "" {
		return fmt.Errorf("pool.base_asset and pool.quote_asset are required")
	}
	if c.Pool.BaseAsset == c.Pool.QuoteAsset {
		return fmt.Errorf("pool.base_asset and pool.quote_asset must differ")
	}
	if c.Pool.TakerFeeRate < c.Pool.MakerRebateRate {
		return fmt.Errorf("pool.taker_fee_rate must be >= pool.maker_rebate_rate")
	}
	if c.Pool.TickSize == 0 {
		return fmt.Errorf("pool.tick_size must be > 0")
	}
	if c.Pool.LotSize == 0 {
		return fmt.Errorf("pool.lot_size must be > 0")
	}
	return nil
}
