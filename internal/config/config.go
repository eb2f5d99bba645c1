// Package config loads and validates the YAML configuration consumed by the
// ordergate admission controller: per-exchange rate ceilings, layered risk
// limits, and execution cost parameters.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the ordergate platform.
type Config struct {
	Server    Server                    `yaml:"server"`
	Storage   Storage                   `yaml:"storage"`
	Logging   Logging                   `yaml:"logging"`
	Exchanges map[string]ExchangeLimits `yaml:"exchanges"`
	Risk      RiskConfig                `yaml:"risk"`
	Cost      CostConfig                `yaml:"cost"`
}

// Server holds network listener configuration.
type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ExchangeLimits holds the per-exchange rate ceilings. Orders and queries
// draw from separate token buckets.
type ExchangeLimits struct {
	OrdersPerSecond  float64 `yaml:"orders_per_second"`
	QueriesPerMinute float64 `yaml:"queries_per_minute"`
}

// RiskConfig defines the layered pre-trade risk limits. Per-instrument maps
// may be sparse; instruments without an entry fall back to the documented
// defaults (no position cap, DefaultMaxOrderQuantity).
type RiskConfig struct {
	PositionLimits          map[string]float64 `yaml:"position_limits"`
	MaxOrderQuantity        map[string]float64 `yaml:"max_order_quantity"`
	DefaultMaxOrderQuantity float64            `yaml:"default_max_order_quantity"`
	MaxPositionValuePct     float64            `yaml:"max_position_value_pct"`
	MaxDrawdownPct          float64            `yaml:"max_drawdown_pct"`
	DrawdownWindowDays      int                `yaml:"drawdown_window_days"`
	MaxDailyLoss            float64            `yaml:"max_daily_loss"`
	DayBoundaryTZ           string             `yaml:"day_boundary_tz"`
	StrategyExposureLimits  map[string]float64 `yaml:"strategy_exposure_limits"`
}

// CostConfig defines the execution cost model parameters.
type CostConfig struct {
	SlippageType      string  `yaml:"slippage_type"`
	SlippageValue     float64 `yaml:"slippage_value"`
	CommissionRate    float64 `yaml:"commission_rate"`
	MinimumCommission float64 `yaml:"minimum_commission"`
}

// SlippageFixedBps is the only slippage model currently supported:
// executedPrice = fillPrice × (1 ± value/10000).
const SlippageFixedBps = "fixed_bps"

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, applies environment variable overrides, and validates the
// result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("ORDERGATE_HOST"); v != "" {
		cfg.Server.Host = v
	}
}

// applyDefaults fills in the permissive fallbacks documented in the risk
// contract.
func (c *Config) applyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Risk.DayBoundaryTZ == "" {
		c.Risk.DayBoundaryTZ = "UTC"
	}
	if c.Risk.DrawdownWindowDays <= 0 {
		c.Risk.DrawdownWindowDays = 1
	}
	if c.Cost.SlippageType == "" {
		c.Cost.SlippageType = SlippageFixedBps
	}
}

// Validate rejects configurations that would make the risk or cost layers
// misbehave at runtime: non-positive limits, an unknown slippage model, or an
// unloadable day-boundary timezone.
func (c *Config) Validate() error {
	if c.Cost.SlippageType != SlippageFixedBps {
		return fmt.Errorf("config: unsupported slippage_type %q", c.Cost.SlippageType)
	}
	if c.Cost.SlippageValue < 0 {
		return fmt.Errorf("config: slippage_value must be >= 0, got %v", c.Cost.SlippageValue)
	}
	if c.Cost.CommissionRate < 0 {
		return fmt.Errorf("config: commission_rate must be >= 0, got %v", c.Cost.CommissionRate)
	}
	if c.Cost.MinimumCommission < 0 {
		return fmt.Errorf("config: minimum_commission must be >= 0, got %v", c.Cost.MinimumCommission)
	}
	if _, err := time.LoadLocation(c.Risk.DayBoundaryTZ); err != nil {
		return fmt.Errorf("config: invalid day_boundary_tz %q: %w", c.Risk.DayBoundaryTZ, err)
	}
	for sym, lim := range c.Risk.PositionLimits {
		if lim <= 0 {
			return fmt.Errorf("config: position_limits[%s] must be > 0, got %v", sym, lim)
		}
	}
	for sym, lim := range c.Risk.MaxOrderQuantity {
		if lim <= 0 {
			return fmt.Errorf("config: max_order_quantity[%s] must be > 0, got %v", sym, lim)
		}
	}
	for sid, lim := range c.Risk.StrategyExposureLimits {
		if lim <= 0 {
			return fmt.Errorf("config: strategy_exposure_limits[%s] must be > 0, got %v", sid, lim)
		}
	}
	for name, ex := range c.Exchanges {
		if ex.OrdersPerSecond <= 0 {
			return fmt.Errorf("config: exchanges[%s].orders_per_second must be > 0, got %v", name, ex.OrdersPerSecond)
		}
		if ex.QueriesPerMinute <= 0 {
			return fmt.Errorf("config: exchanges[%s].queries_per_minute must be > 0, got %v", name, ex.QueriesPerMinute)
		}
	}
	return nil
}
