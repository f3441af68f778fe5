package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/defistate/defistate-clmm/protocols/clmm"
	"github.com/defistate/defistate-clmm/store"
	"github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus"
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Clock returns the current unix time in seconds.
type Clock func() uint64

// SystemClock reads the wall clock.
func SystemClock() uint64 {
	return uint64(time.Now().Unix())
}

// Config holds the fee tiers and dependencies of an Engine.
type Config struct {
	// FeeTiers are the registered fee tiers pools may be created in.
	FeeTiers []clmm.AmmConfig
	// ProgramID is the program record addresses are derived under. Defaults to store.DefaultProgramID.
	ProgramID solana.PublicKey
	// ObservationCardinality is the oracle capacity new pools are grown to. Zero keeps one slot.
	ObservationCardinality uint16

	// Store persists committed state. An in-memory store is created when nil.
	Store    *store.Store
	Clock    Clock
	Registry prometheus.Registerer // Required for metrics.
	Logger   Logger                // Required for logging.
}

// validate checks if the configuration is valid, ensuring required dependencies are present.
func (c *Config) validate() error {
	if c.Registry == nil {
		return errors.New("config: Registry cannot be nil")
	}
	if c.Logger == nil {
		return errors.New("config: Logger cannot be nil")
	}
	seen := make(map[uint16]bool, len(c.FeeTiers))
	for _, tier := range c.FeeTiers {
		if err := tier.Validate(); err != nil {
			return fmt.Errorf("config: fee tier %d: %w", tier.Index, err)
		}
		if seen[tier.Index] {
			return fmt.Errorf("config: fee tier %d registered twice", tier.Index)
		}
		seen[tier.Index] = true
	}
	return nil
}
