// Package engine runs concentrated-liquidity operations against committed pool state.
//
// Every operation locks the pools it touches, works on a deep copy of their committed state and
// either commits the copy as a whole or discards it. Readers see committed snapshots only.
package engine

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/defistate/defistate-clmm/protocols/clmm"
	"github.com/defistate/defistate-clmm/protocols/clmm/calculator"
	"github.com/defistate/defistate-clmm/protocols/clmm/calculator/liquiditymath"
	"github.com/defistate/defistate-clmm/protocols/clmm/calculator/tickmath"
	"github.com/defistate/defistate-clmm/store"
	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"lukechampine.com/uint128"
)

// poolEntry serializes writers of one pool and publishes its committed state.
type poolEntry struct {
	id        solana.PublicKey
	mu        sync.Mutex
	committed atomic.Pointer[clmm.PoolState]
}

// Engine holds every pool and the fee tiers they are created in.
type Engine struct {
	programID   solana.PublicKey
	feeTiers    map[uint16]clmm.AmmConfig
	cardinality uint16

	store   *store.Store
	clock   Clock
	metrics *Metrics
	logger  Logger

	mu    sync.RWMutex
	pools map[solana.PublicKey]*poolEntry
}

// New constructs an Engine from a configuration, returning an error if the config is invalid.
func New(cfg *Config) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	feeTiers := make(map[uint16]clmm.AmmConfig, len(cfg.FeeTiers))
	for _, tier := range cfg.FeeTiers {
		feeTiers[tier.Index] = tier
	}

	programID := cfg.ProgramID
	if programID.IsZero() {
		programID = store.DefaultProgramID
	}
	clock := cfg.Clock
	if clock == nil {
		clock = SystemClock
	}
	st := cfg.Store
	if st == nil {
		var err error
		st, err = store.New(&store.Config{Logger: cfg.Logger})
		if err != nil {
			return nil, err
		}
	}

	return &Engine{
		programID:   programID,
		feeTiers:    feeTiers,
		cardinality: cfg.ObservationCardinality,
		store:       st,
		clock:       clock,
		metrics:     NewMetrics(cfg.Registry),
		logger:      cfg.Logger,
		pools:       make(map[solana.PublicKey]*poolEntry),
	}, nil
}

// ProgramID returns the program record addresses are derived under.
func (e *Engine) ProgramID() solana.PublicKey {
	return e.programID
}

// Now is the engine clock.
func (e *Engine) Now() uint64 {
	return e.clock()
}

// LoadPool registers a pool persisted by an earlier engine over the same store.
func (e *Engine) LoadPool(id solana.PublicKey) error {
	state, err := e.store.LoadPool(id)
	if err != nil {
		return err
	}
	if err := state.CheckInvariants(); err != nil {
		return fmt.Errorf("loading pool %s: %w", id, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.pools[id]; ok {
		return fmt.Errorf("%w: %s", clmm.ErrPoolExists, id)
	}
	entry := &poolEntry{id: id}
	entry.committed.Store(state)
	e.pools[id] = entry
	e.metrics.pools.Inc()
	e.logger.Info("Pool loaded", "pool", id, "ticks", len(state.Ticks), "positions", len(state.Positions))
	return nil
}

// Pools returns the ids of every pool, sorted.
func (e *Engine) Pools() []solana.PublicKey {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]solana.PublicKey, 0, len(e.pools))
	for id := range e.pools {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, comparePublicKeys)
	return ids
}

// Snapshot returns the committed state of a pool. The snapshot is shared and must not be mutated;
// Clone it first.
func (e *Engine) Snapshot(id solana.PublicKey) (*clmm.PoolState, error) {
	entry, err := e.entry(id)
	if err != nil {
		return nil, err
	}
	return entry.committed.Load(), nil
}

// Pool returns the committed pool record.
func (e *Engine) Pool(id solana.PublicKey) (clmm.Pool, error) {
	s, err := e.Snapshot(id)
	if err != nil {
		return clmm.Pool{}, err
	}
	return s.Pool, nil
}

// Position returns a committed position record.
func (e *Engine) Position(pool, id solana.PublicKey) (clmm.Position, error) {
	s, err := e.Snapshot(pool)
	if err != nil {
		return clmm.Position{}, err
	}
	p, err := s.Position(id)
	if err != nil {
		return clmm.Position{}, err
	}
	return *p, nil
}

// PositionValue returns what withdrawing all of a position's liquidity would release at the
// committed price. Fees and rewards owed are not included.
func (e *Engine) PositionValue(pool, id solana.PublicKey) (amount0, amount1 uint64, err error) {
	s, err := e.Snapshot(pool)
	if err != nil {
		return 0, 0, err
	}
	p, err := s.Position(id)
	if err != nil {
		return 0, 0, err
	}
	sqrtLower, err := tickmath.GetSqrtPriceAtTick(p.TickLower)
	if err != nil {
		return 0, 0, err
	}
	sqrtUpper, err := tickmath.GetSqrtPriceAtTick(p.TickUpper)
	if err != nil {
		return 0, 0, err
	}
	return liquiditymath.GetAmountsForLiquidity(s.Pool.SqrtPriceX64, sqrtLower, sqrtUpper, p.Liquidity, false)
}

// Observe returns the oracle's cumulative values as of each secondsAgo.
func (e *Engine) Observe(pool solana.PublicKey, secondsAgos []uint32) ([]int64, []uint128.Uint128, error) {
	s, err := e.Snapshot(pool)
	if err != nil {
		return nil, nil, err
	}
	return s.Observe(e.clock(), secondsAgos)
}

// TWAP returns the time-weighted average tick of a pool over the last window seconds.
func (e *Engine) TWAP(pool solana.PublicKey, window uint32) (int32, error) {
	s, err := e.Snapshot(pool)
	if err != nil {
		return 0, err
	}
	return s.TWAP(e.clock(), window)
}

func (e *Engine) entry(id solana.PublicKey) (*poolEntry, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	entry, ok := e.pools[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", clmm.ErrPoolNotFound, id)
	}
	return entry, nil
}

func comparePublicKeys(a, b solana.PublicKey) int {
	return bytes.Compare(a[:], b[:])
}

// Tx is the working copy of the pools locked by one operation.
type Tx struct {
	now          uint64
	states       map[solana.PublicKey]*clmm.PoolState
	ticksCrossed int
}

// Now is the time every step of the transaction runs at.
func (tx *Tx) Now() uint64 {
	return tx.now
}

// State returns the working copy of a locked pool.
func (tx *Tx) State(id solana.PublicKey) (*clmm.PoolState, error) {
	s, ok := tx.states[id]
	if !ok {
		return nil, fmt.Errorf("%w: pool %s is not part of this transaction", clmm.ErrPoolNotFound, id)
	}
	return s, nil
}

// Swap runs a swap against the working copy of a locked pool.
func (tx *Tx) Swap(pool solana.PublicKey, params calculator.SwapParams) (calculator.SwapResult, error) {
	s, err := tx.State(pool)
	if err != nil {
		return calculator.SwapResult{}, err
	}
	res, err := calculator.Swap(s, params, tx.now)
	if err != nil {
		return calculator.SwapResult{}, fmt.Errorf("pool %s: %w", pool, err)
	}
	tx.ticksCrossed += res.TicksCrossed
	return res, nil
}

// Transact runs fn over the listed pools as one operation: the pools are locked in key order, fn
// works on copies, and the copies are committed together only if fn and every invariant check
// succeed.
func (e *Engine) Transact(ctx context.Context, pools []solana.PublicKey, fn func(tx *Tx) error) error {
	return e.transact(ctx, "transact", pools, fn)
}

func (e *Engine) transact(ctx context.Context, op string, ids []solana.PublicKey, fn func(tx *Tx) error) (err error) {
	start := time.Now()
	opID := uuid.New()
	defer func() {
		e.metrics.observe(op, start, err)
		if err != nil {
			e.logger.Debug("Operation failed", "op", op, "id", opID, "error", err)
		}
	}()

	ids = slices.Clone(ids)
	slices.SortFunc(ids, comparePublicKeys)
	ids = slices.Compact(ids)

	entries := make([]*poolEntry, 0, len(ids))
	for _, id := range ids {
		entry, err := e.entry(id)
		if err != nil {
			return err
		}
		entries = append(entries, entry)
	}

	for _, entry := range entries {
		entry.mu.Lock()
		defer entry.mu.Unlock()
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &Tx{
		now:    e.clock(),
		states: make(map[solana.PublicKey]*clmm.PoolState, len(entries)),
	}
	for _, entry := range entries {
		tx.states[entry.id] = entry.committed.Load().Clone()
	}

	if err := fn(tx); err != nil {
		return err
	}

	changes := make([]store.Change, 0, len(entries))
	for _, entry := range entries {
		next := tx.states[entry.id]
		if err := next.CheckInvariants(); err != nil {
			e.logger.Error("Invariant check failed", "op", op, "id", opID, "pool", entry.id, "error", err)
			return err
		}
		changes = append(changes, store.Change{Pool: entry.id, Diff: clmm.Differ(entry.committed.Load(), next)})
	}
	if err := e.store.Commit(changes...); err != nil {
		return err
	}

	for _, entry := range entries {
		entry.committed.Store(tx.states[entry.id])
	}
	e.metrics.ticksCrossed.Add(float64(tx.ticksCrossed))
	e.logger.Debug("Operation committed", "op", op, "id", opID, "pools", len(entries), "duration", time.Since(start))
	return nil
}

// withPool runs fn as a single-pool operation.
func (e *Engine) withPool(ctx context.Context, op string, pool solana.PublicKey, fn func(tx *Tx, s *clmm.PoolState) error) error {
	return e.transact(ctx, op, []solana.PublicKey{pool}, func(tx *Tx) error {
		s, err := tx.State(pool)
		if err != nil {
			return err
		}
		return fn(tx, s)
	})
}
