package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/defistate/defistate-clmm/protocols/clmm"
	"github.com/defistate/defistate-clmm/store"
	"github.com/gagliardetto/solana-go"
	"gopkg.in/yaml.v3"
)

// FeeTier is the YAML form of a clmm.AmmConfig.
type FeeTier struct {
	Index           uint16 `yaml:"index"`
	TickSpacing     uint16 `yaml:"tick_spacing"`
	TradeFeeRate    uint32 `yaml:"trade_fee_rate"`
	ProtocolFeeRate uint32 `yaml:"protocol_fee_rate"`
}

// Config is the CLI configuration file.
type Config struct {
	ProgramID              string    `yaml:"program_id"`
	FeeTiers               []FeeTier `yaml:"fee_tiers"`
	ObservationCardinality uint16    `yaml:"observation_cardinality"`
	// MetricsAddr is where prometheus metrics are served; empty disables the server.
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
}

// DefaultFeeTiers are used when the file names none.
var DefaultFeeTiers = []FeeTier{
	{Index: 0, TickSpacing: 1, TradeFeeRate: 100, ProtocolFeeRate: 120_000},
	{Index: 1, TickSpacing: 10, TradeFeeRate: 500, ProtocolFeeRate: 120_000},
	{Index: 2, TickSpacing: 60, TradeFeeRate: 2_500, ProtocolFeeRate: 120_000},
	{Index: 3, TickSpacing: 120, TradeFeeRate: 10_000, ProtocolFeeRate: 120_000},
}

// Default returns the configuration used without a file.
func Default() *Config {
	cfg := &Config{LogLevel: "info"}
	cfg.FeeTiers = append(cfg.FeeTiers, DefaultFeeTiers...)
	return cfg
}

// LoadConfig reads a YAML configuration file and fills in defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if len(cfg.FeeTiers) == 0 {
		cfg.FeeTiers = append(cfg.FeeTiers, DefaultFeeTiers...)
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if _, err := c.Program(); err != nil {
		return err
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	if len(c.FeeTiers) == 0 {
		return errors.New("config: at least one fee tier is required")
	}
	for _, tier := range c.AmmConfigs() {
		if err := tier.Validate(); err != nil {
			return fmt.Errorf("config: fee tier %d: %w", tier.Index, err)
		}
	}
	return nil
}

// Program returns the configured program id, or store.DefaultProgramID.
func (c *Config) Program() (solana.PublicKey, error) {
	if c.ProgramID == "" {
		return store.DefaultProgramID, nil
	}
	id, err := solana.PublicKeyFromBase58(c.ProgramID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("config: program_id: %w", err)
	}
	return id, nil
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("config: log_level: %w", err)
	}
	return level, nil
}

func (c *Config) AmmConfigs() []clmm.AmmConfig {
	tiers := make([]clmm.AmmConfig, len(c.FeeTiers))
	for i, t := range c.FeeTiers {
		tiers[i] = clmm.AmmConfig{
			Index:           t.Index,
			TickSpacing:     t.TickSpacing,
			TradeFeeRate:    t.TradeFeeRate,
			ProtocolFeeRate: t.ProtocolFeeRate,
		}
	}
	return tiers
}
