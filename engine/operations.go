package engine

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/defistate/defistate-clmm/protocols/clmm"
	"github.com/defistate/defistate-clmm/protocols/clmm/calculator"
	"github.com/defistate/defistate-clmm/store"
	"github.com/gagliardetto/solana-go"
	"lukechampine.com/uint128"
)

// InitializePool creates a pool in a registered fee tier at the given price and returns its record.
func (e *Engine) InitializePool(ctx context.Context, params InitializePoolParams) (pool clmm.Pool, err error) {
	start := time.Now()
	defer func() { e.metrics.observe("initialize_pool", start, err) }()

	if err := ctx.Err(); err != nil {
		return clmm.Pool{}, err
	}
	tier, ok := e.feeTiers[params.AmmConfig]
	if !ok {
		return clmm.Pool{}, fmt.Errorf("%w: %d", clmm.ErrFeeTierNotRegistered, params.AmmConfig)
	}
	id, err := store.PoolAddress(e.programID, tier.Index, params.TokenMint0, params.TokenMint1)
	if err != nil {
		return clmm.Pool{}, err
	}

	state, err := clmm.NewPoolState(tier, id, params.TokenMint0, params.TokenMint1, params.SqrtPriceX64, e.clock())
	if err != nil {
		return clmm.Pool{}, err
	}
	if e.cardinality > 1 {
		if _, err := state.GrowOracle(e.cardinality); err != nil {
			return clmm.Pool{}, err
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.pools[id]; ok {
		return clmm.Pool{}, fmt.Errorf("%w: %s", clmm.ErrPoolExists, id)
	}
	if err := e.store.Commit(store.Change{Pool: id, Diff: clmm.Differ(nil, state)}); err != nil {
		return clmm.Pool{}, err
	}

	entry := &poolEntry{id: id}
	entry.committed.Store(state)
	e.pools[id] = entry
	e.metrics.pools.Inc()

	e.logger.Info("Pool initialized",
		"pool", id,
		"ammConfig", tier.Index,
		"mint0", params.TokenMint0,
		"mint1", params.TokenMint1,
		"tick", state.Pool.TickCurrent,
	)
	return state.Pool, nil
}

// AddLiquidity deposits liquidity into a position, opening the position first if needed.
func (e *Engine) AddLiquidity(ctx context.Context, params AddLiquidityParams) (LiquidityResult, error) {
	var res LiquidityResult
	err := e.withPool(ctx, "add_liquidity", params.Pool, func(tx *Tx, s *clmm.PoolState) error {
		var err error
		res, err = e.deposit(tx, s, params.Owner, params.PositionMint, params.TickLower, params.TickUpper, params.Liquidity)
		if err != nil {
			return err
		}
		if res.Amount0 > params.Amount0Max || res.Amount1 > params.Amount1Max {
			return fmt.Errorf("%w: deposit needs %d/%d, maxima %d/%d",
				clmm.ErrSlippageExceeded, res.Amount0, res.Amount1, params.Amount0Max, params.Amount1Max)
		}
		return nil
	})
	if err != nil {
		return LiquidityResult{}, err
	}
	return res, nil
}

// AddLiquidityFromAmounts deposits the most liquidity that the desired amounts can fund at the
// current price.
func (e *Engine) AddLiquidityFromAmounts(ctx context.Context, params AddLiquidityFromAmountsParams) (LiquidityResult, error) {
	var res LiquidityResult
	err := e.withPool(ctx, "add_liquidity", params.Pool, func(tx *Tx, s *clmm.PoolState) error {
		liquidity, err := s.LiquidityForAmounts(params.TickLower, params.TickUpper, params.Amount0Desired, params.Amount1Desired)
		if err != nil {
			return err
		}
		res, err = e.deposit(tx, s, params.Owner, params.PositionMint, params.TickLower, params.TickUpper, liquidity)
		if err != nil {
			return err
		}
		if res.Amount0 > params.Amount0Desired || res.Amount1 > params.Amount1Desired {
			return fmt.Errorf("%w: deposit needs %d/%d, desired %d/%d",
				clmm.ErrInvariantViolation, res.Amount0, res.Amount1, params.Amount0Desired, params.Amount1Desired)
		}
		if res.Amount0 < params.Amount0Min || res.Amount1 < params.Amount1Min {
			return fmt.Errorf("%w: deposit takes %d/%d, minima %d/%d",
				clmm.ErrSlippageExceeded, res.Amount0, res.Amount1, params.Amount0Min, params.Amount1Min)
		}
		return nil
	})
	if err != nil {
		return LiquidityResult{}, err
	}
	return res, nil
}

func (e *Engine) deposit(
	tx *Tx,
	s *clmm.PoolState,
	owner, positionMint solana.PublicKey,
	tickLower, tickUpper int32,
	liquidity uint128.Uint128,
) (LiquidityResult, error) {
	if liquidity.IsZero() {
		return LiquidityResult{}, fmt.Errorf("%w: liquidity", clmm.ErrInvalidAmount)
	}
	id, err := store.PositionAddress(e.programID, positionMint)
	if err != nil {
		return LiquidityResult{}, err
	}

	pos, ok := s.Positions[id]
	if !ok {
		if pos, err = s.OpenPosition(id, owner, tickLower, tickUpper); err != nil {
			return LiquidityResult{}, err
		}
	} else if pos.TickLower != tickLower || pos.TickUpper != tickUpper {
		return LiquidityResult{}, fmt.Errorf("%w: position %s spans [%d, %d), not [%d, %d)",
			clmm.ErrInvalidTickOrdering, id, pos.TickLower, pos.TickUpper, tickLower, tickUpper)
	}

	amount0, amount1, err := s.ModifyPosition(pos, liquidity.Big(), tx.now)
	if err != nil {
		return LiquidityResult{}, err
	}
	return LiquidityResult{Position: id, Liquidity: liquidity, Amount0: amount0, Amount1: amount1}, nil
}

// RemoveLiquidity withdraws liquidity from a position and returns the token amounts released.
func (e *Engine) RemoveLiquidity(ctx context.Context, params RemoveLiquidityParams) (LiquidityResult, error) {
	var res LiquidityResult
	err := e.withPool(ctx, "remove_liquidity", params.Pool, func(tx *Tx, s *clmm.PoolState) error {
		if params.Liquidity.IsZero() {
			return fmt.Errorf("%w: liquidity", clmm.ErrInvalidAmount)
		}
		pos, err := s.Position(params.Position)
		if err != nil {
			return err
		}
		amount0, amount1, err := s.ModifyPosition(pos, new(big.Int).Neg(params.Liquidity.Big()), tx.now)
		if err != nil {
			return err
		}
		if amount0 < params.Amount0Min || amount1 < params.Amount1Min {
			return fmt.Errorf("%w: withdrawal releases %d/%d, minima %d/%d",
				clmm.ErrSlippageExceeded, amount0, amount1, params.Amount0Min, params.Amount1Min)
		}
		res = LiquidityResult{Position: pos.ID, Liquidity: params.Liquidity, Amount0: amount0, Amount1: amount1}
		return nil
	})
	if err != nil {
		return LiquidityResult{}, err
	}
	return res, nil
}

// settle credits a position with everything it earned up to tx.now.
func settle(tx *Tx, s *clmm.PoolState, pos *clmm.Position) error {
	if pos.Liquidity.IsZero() {
		return nil
	}
	_, _, err := s.ModifyPosition(pos, new(big.Int), tx.now)
	return err
}

// CollectFees settles a position and moves out the requested fees.
func (e *Engine) CollectFees(ctx context.Context, params CollectFeesParams) (amount0, amount1 uint64, err error) {
	err = e.withPool(ctx, "collect_fees", params.Pool, func(tx *Tx, s *clmm.PoolState) error {
		pos, err := s.Position(params.Position)
		if err != nil {
			return err
		}
		if err := settle(tx, s, pos); err != nil {
			return err
		}
		amount0, amount1 = pos.CollectFees(params.Amount0Requested, params.Amount1Requested)
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return amount0, amount1, nil
}

// CollectRewards settles a position and moves out the requested rewards of one stream.
func (e *Engine) CollectRewards(ctx context.Context, params CollectRewardsParams) (amount uint64, err error) {
	err = e.withPool(ctx, "collect_rewards", params.Pool, func(tx *Tx, s *clmm.PoolState) error {
		pos, err := s.Position(params.Position)
		if err != nil {
			return err
		}
		if err := settle(tx, s, pos); err != nil {
			return err
		}
		if amount, err = pos.CollectRewards(params.RewardIndex, params.AmountRequested); err != nil {
			return err
		}
		return s.Pool.RecordRewardClaim(params.RewardIndex, amount)
	})
	if err != nil {
		return 0, err
	}
	return amount, nil
}

// ClosePosition removes a position that holds no liquidity and is owed nothing.
func (e *Engine) ClosePosition(ctx context.Context, pool, position solana.PublicKey) error {
	return e.withPool(ctx, "close_position", pool, func(_ *Tx, s *clmm.PoolState) error {
		return s.ClosePosition(position)
	})
}

// Swap trades against one pool.
func (e *Engine) Swap(ctx context.Context, params SwapParams) (calculator.SwapResult, error) {
	var res calculator.SwapResult
	err := e.withPool(ctx, "swap", params.Pool, func(tx *Tx, _ *clmm.PoolState) error {
		var err error
		res, err = tx.Swap(params.Pool, params.SwapParams)
		return err
	})
	if err != nil {
		return calculator.SwapResult{}, err
	}
	return res, nil
}

// Quote simulates a swap against the committed state of a pool without locking it.
func (e *Engine) Quote(params SwapParams) (calculator.SwapResult, error) {
	s, err := e.Snapshot(params.Pool)
	if err != nil {
		return calculator.SwapResult{}, err
	}
	return calculator.Quote(s, params.SwapParams, e.clock())
}

// GrowOracleCapacity raises the number of observations a pool keeps and returns the new target.
func (e *Engine) GrowOracleCapacity(ctx context.Context, pool solana.PublicKey, next uint16) (cardinalityNext uint16, err error) {
	err = e.withPool(ctx, "grow_oracle_capacity", pool, func(_ *Tx, s *clmm.PoolState) error {
		var err error
		cardinalityNext, err = s.GrowOracle(next)
		return err
	})
	if err != nil {
		return 0, err
	}
	return cardinalityNext, nil
}

// SetRewardEmission installs or updates a reward stream and returns it.
func (e *Engine) SetRewardEmission(ctx context.Context, params SetRewardEmissionParams) (info clmm.RewardInfo, err error) {
	err = e.withPool(ctx, "set_reward_emission", params.Pool, func(tx *Tx, s *clmm.PoolState) error {
		err := s.Pool.SetRewardEmission(
			params.RewardIndex,
			params.TokenMint,
			params.EmissionsPerSecondX64,
			params.OpenTime,
			params.EndTime,
			tx.now,
		)
		if err != nil {
			return err
		}
		info = s.Pool.RewardInfos[params.RewardIndex]
		return nil
	})
	if err != nil {
		return clmm.RewardInfo{}, err
	}
	return info, nil
}

// CollectProtocolFee moves out accrued protocol fees; a zero amount collects everything.
func (e *Engine) CollectProtocolFee(ctx context.Context, pool solana.PublicKey, amount0Requested, amount1Requested uint64) (amount0, amount1 uint64, err error) {
	err = e.withPool(ctx, "collect_protocol_fee", pool, func(_ *Tx, s *clmm.PoolState) error {
		amount0, amount1 = s.Pool.CollectProtocolFee(amount0Requested, amount1Requested)
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return amount0, amount1, nil
}

// SetProtocolFeeRate changes the share of trade fees a pool keeps for the protocol.
func (e *Engine) SetProtocolFeeRate(ctx context.Context, pool solana.PublicKey, rate uint32) error {
	return e.withPool(ctx, "set_protocol_fee_rate", pool, func(_ *Tx, s *clmm.PoolState) error {
		return s.Pool.SetProtocolFeeRate(rate)
	})
}
