package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"os"
	"sync/atomic"

	"github.com/defistate/defistate-clmm/engine"
	"github.com/defistate/defistate-clmm/protocols/clmm"
	"github.com/defistate/defistate-clmm/protocols/clmm/calculator"
	"github.com/defistate/defistate-clmm/router"
	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
	"lukechampine.com/uint128"
)

// Scenario is a scripted sequence of engine operations.
type Scenario struct {
	StartTime uint64           `yaml:"start_time"`
	Owner     string           `yaml:"owner"`
	Tokens    map[string]Token `yaml:"tokens"`
	Steps     []Step           `yaml:"steps"`
}

type Token struct {
	Mint     string `yaml:"mint"`
	Decimals uint8  `yaml:"decimals"`
}

// Step is one operation. Pools and positions are referred to by the names the steps give them.
type Step struct {
	Op       string `yaml:"op"`
	Pool     string `yaml:"pool"`
	Position string `yaml:"position"`

	// initialize_pool
	FeeTier uint16 `yaml:"fee_tier"`
	Mint0   string `yaml:"mint0"`
	Mint1   string `yaml:"mint1"`
	Price   string `yaml:"price"`

	// add_liquidity, remove_liquidity
	TickLower int32  `yaml:"tick_lower"`
	TickUpper int32  `yaml:"tick_upper"`
	Amount0   uint64 `yaml:"amount0"`
	Amount1   uint64 `yaml:"amount1"`
	Liquidity string `yaml:"liquidity"`

	// swap, route
	TokenIn     string   `yaml:"token_in"`
	Amount      uint64   `yaml:"amount"`
	ExactOutput bool     `yaml:"exact_output"`
	Limit       uint64   `yaml:"limit"`
	Path        []string `yaml:"path"`

	// set_reward_emission
	RewardIndex        int    `yaml:"reward_index"`
	RewardMint         string `yaml:"reward_mint"`
	EmissionsPerSecond string `yaml:"emissions_per_second"`
	OpenIn             uint64 `yaml:"open_in"`
	Duration           uint64 `yaml:"duration"`

	// advance, grow_oracle, twap, position
	Seconds     uint64 `yaml:"seconds"`
	Cardinality uint16 `yaml:"cardinality"`
	Window      uint32 `yaml:"window"`
}

// LoadScenario reads a YAML scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	s := &Scenario{}
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}
	return s, nil
}

type token struct {
	mint     solana.PublicKey
	decimals uint8
}

type positionRef struct {
	pool solana.PublicKey
	id   solana.PublicKey
}

// Runner executes scenarios against an engine. It owns the clock the engine reads.
type Runner struct {
	engine *engine.Engine
	router *router.Router
	now    atomic.Uint64
	logger *slog.Logger

	owner     solana.PublicKey
	tokens    map[string]token
	byMint    map[solana.PublicKey]string
	pools     map[string]solana.PublicKey
	positions map[string]positionRef
}

// Clock is the engine clock driven by the scenario.
func (r *Runner) Clock() uint64 {
	return r.now.Load()
}

// NewRunner prepares a runner for s; the engine must be created with r.Clock and attached with Attach.
func NewRunner(s *Scenario, logger *slog.Logger) (*Runner, error) {
	r := &Runner{
		logger:    logger,
		tokens:    make(map[string]token, len(s.Tokens)),
		byMint:    make(map[solana.PublicKey]string, len(s.Tokens)),
		pools:     make(map[string]solana.PublicKey),
		positions: make(map[string]positionRef),
	}
	r.now.Store(s.StartTime)

	if s.Owner != "" {
		owner, err := solana.PublicKeyFromBase58(s.Owner)
		if err != nil {
			return nil, fmt.Errorf("scenario owner: %w", err)
		}
		r.owner = owner
	}
	for name, t := range s.Tokens {
		mint, err := solana.PublicKeyFromBase58(t.Mint)
		if err != nil {
			return nil, fmt.Errorf("token %s: %w", name, err)
		}
		r.tokens[name] = token{mint: mint, decimals: t.Decimals}
		r.byMint[mint] = name
	}
	return r, nil
}

// Attach connects the runner to the engine it drives.
func (r *Runner) Attach(e *engine.Engine) error {
	rt, err := router.New(&router.Config{Engine: e, Logger: r.logger.With("component", "router")})
	if err != nil {
		return err
	}
	r.engine, r.router = e, rt
	return nil
}

// Run executes every step in order and stops at the first failure.
func (r *Runner) Run(ctx context.Context, s *Scenario) error {
	for i, step := range s.Steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		attrs, err := r.step(ctx, step)
		if err != nil {
			return fmt.Errorf("step %d (%s): %w", i, step.Op, err)
		}
		r.logger.Info("Step executed", append([]any{"step", i, "op", step.Op, "time", r.Clock()}, attrs...)...)
	}
	return nil
}

func (r *Runner) step(ctx context.Context, s Step) ([]any, error) {
	switch s.Op {
	case "initialize_pool":
		return r.initializePool(ctx, s)
	case "add_liquidity":
		return r.addLiquidity(ctx, s)
	case "remove_liquidity":
		return r.removeLiquidity(ctx, s)
	case "collect_fees":
		pos, err := r.position(s.Position)
		if err != nil {
			return nil, err
		}
		amount0, amount1, err := r.engine.CollectFees(ctx, engine.CollectFeesParams{Pool: pos.pool, Position: pos.id})
		if err != nil {
			return nil, err
		}
		return []any{"amount0", amount0, "amount1", amount1}, nil
	case "collect_rewards":
		pos, err := r.position(s.Position)
		if err != nil {
			return nil, err
		}
		amount, err := r.engine.CollectRewards(ctx, engine.CollectRewardsParams{Pool: pos.pool, Position: pos.id, RewardIndex: s.RewardIndex})
		if err != nil {
			return nil, err
		}
		return []any{"rewardIndex", s.RewardIndex, "amount", amount}, nil
	case "close_position":
		pos, err := r.position(s.Position)
		if err != nil {
			return nil, err
		}
		if err := r.engine.ClosePosition(ctx, pos.pool, pos.id); err != nil {
			return nil, err
		}
		delete(r.positions, s.Position)
		return []any{"position", pos.id}, nil
	case "swap":
		return r.swap(ctx, s)
	case "route":
		return r.route(ctx, s)
	case "set_reward_emission":
		return r.setRewardEmission(ctx, s)
	case "grow_oracle":
		pool, err := r.pool(s.Pool)
		if err != nil {
			return nil, err
		}
		next, err := r.engine.GrowOracleCapacity(ctx, pool, s.Cardinality)
		if err != nil {
			return nil, err
		}
		return []any{"cardinalityNext", next}, nil
	case "twap":
		return r.twap(s)
	case "advance":
		r.now.Add(s.Seconds)
		return []any{"seconds", s.Seconds}, nil
	case "pool":
		return r.describePool(s)
	case "position":
		return r.describePosition(s)
	}
	return nil, fmt.Errorf("unknown op %q", s.Op)
}

func (r *Runner) token(name string) (token, error) {
	t, ok := r.tokens[name]
	if !ok {
		return token{}, fmt.Errorf("unknown token %q", name)
	}
	return t, nil
}

func (r *Runner) pool(name string) (solana.PublicKey, error) {
	id, ok := r.pools[name]
	if !ok {
		return solana.PublicKey{}, fmt.Errorf("unknown pool %q", name)
	}
	return id, nil
}

func (r *Runner) position(name string) (positionRef, error) {
	pos, ok := r.positions[name]
	if !ok {
		return positionRef{}, fmt.Errorf("unknown position %q", name)
	}
	return pos, nil
}

// decimals returns the decimals of a pool's two tokens; unknown mints count as zero.
func (r *Runner) decimals(p clmm.Pool) (uint8, uint8) {
	return r.tokens[r.byMint[p.TokenMint0]].decimals, r.tokens[r.byMint[p.TokenMint1]].decimals
}

func (r *Runner) initializePool(ctx context.Context, s Step) ([]any, error) {
	if _, ok := r.pools[s.Pool]; ok || s.Pool == "" {
		return nil, fmt.Errorf("pool name %q is empty or taken", s.Pool)
	}
	t0, err := r.token(s.Mint0)
	if err != nil {
		return nil, err
	}
	t1, err := r.token(s.Mint1)
	if err != nil {
		return nil, err
	}
	price, err := decimal.NewFromString(s.Price)
	if err != nil {
		return nil, fmt.Errorf("price: %w", err)
	}
	sqrtPrice, err := calculator.SqrtPriceFromPrice(price, t0.decimals, t1.decimals)
	if err != nil {
		return nil, err
	}

	p, err := r.engine.InitializePool(ctx, engine.InitializePoolParams{
		AmmConfig:    s.FeeTier,
		TokenMint0:   t0.mint,
		TokenMint1:   t1.mint,
		SqrtPriceX64: sqrtPrice,
	})
	if err != nil {
		return nil, err
	}
	r.pools[s.Pool] = p.ID
	return []any{"pool", p.ID, "tick", p.TickCurrent}, nil
}

func (r *Runner) addLiquidity(ctx context.Context, s Step) ([]any, error) {
	pool, err := r.pool(s.Pool)
	if err != nil {
		return nil, err
	}
	if pos, ok := r.positions[s.Position]; ok && pos.pool != pool {
		return nil, fmt.Errorf("position %q belongs to another pool", s.Position)
	}
	// the position mint is derived from its name so reruns address the same records
	mint, err := solana.CreateWithSeed(pool, s.Position, r.engine.ProgramID())
	if err != nil {
		return nil, fmt.Errorf("position mint: %w", err)
	}

	res, err := r.engine.AddLiquidityFromAmounts(ctx, engine.AddLiquidityFromAmountsParams{
		Pool:           pool,
		Owner:          r.owner,
		PositionMint:   mint,
		TickLower:      s.TickLower,
		TickUpper:      s.TickUpper,
		Amount0Desired: s.Amount0,
		Amount1Desired: s.Amount1,
	})
	if err != nil {
		return nil, err
	}
	r.positions[s.Position] = positionRef{pool: pool, id: res.Position}
	return []any{"position", res.Position, "liquidity", res.Liquidity.String(), "amount0", res.Amount0, "amount1", res.Amount1}, nil
}

func (r *Runner) removeLiquidity(ctx context.Context, s Step) ([]any, error) {
	pos, err := r.position(s.Position)
	if err != nil {
		return nil, err
	}
	var liquidity uint128.Uint128
	if s.Liquidity == "" || s.Liquidity == "all" {
		held, err := r.engine.Position(pos.pool, pos.id)
		if err != nil {
			return nil, err
		}
		liquidity = held.Liquidity
	} else if liquidity, err = parseUint128(s.Liquidity); err != nil {
		return nil, err
	}

	res, err := r.engine.RemoveLiquidity(ctx, engine.RemoveLiquidityParams{Pool: pos.pool, Position: pos.id, Liquidity: liquidity})
	if err != nil {
		return nil, err
	}
	return []any{"liquidity", res.Liquidity.String(), "amount0", res.Amount0, "amount1", res.Amount1}, nil
}

func (r *Runner) swap(ctx context.Context, s Step) ([]any, error) {
	pool, err := r.pool(s.Pool)
	if err != nil {
		return nil, err
	}
	in, err := r.token(s.TokenIn)
	if err != nil {
		return nil, err
	}
	p, err := r.engine.Pool(pool)
	if err != nil {
		return nil, err
	}
	if in.mint != p.TokenMint0 && in.mint != p.TokenMint1 {
		return nil, fmt.Errorf("pool %q does not trade %s", s.Pool, s.TokenIn)
	}

	limit := s.Limit
	if s.ExactOutput && limit == 0 {
		limit = math.MaxUint64
	}
	res, err := r.engine.Swap(ctx, engine.SwapParams{Pool: pool, SwapParams: calculator.SwapParams{
		ZeroForOne:           in.mint == p.TokenMint0,
		Amount:               s.Amount,
		IsBaseInput:          !s.ExactOutput,
		OtherAmountThreshold: limit,
	}})
	if err != nil {
		return nil, err
	}
	d0, d1 := r.decimals(p)
	return []any{
		"amountIn", res.AmountIn,
		"amountOut", res.AmountOut,
		"fee", res.FeeAmount,
		"tick", res.Tick,
		"price", calculator.SpotPrice(res.SqrtPriceX64, d0, d1).String(),
		"ticksCrossed", res.TicksCrossed,
	}, nil
}

func (r *Runner) route(ctx context.Context, s Step) ([]any, error) {
	in, err := r.token(s.TokenIn)
	if err != nil {
		return nil, err
	}
	path := make([]router.Hop, len(s.Path))
	sell := in.mint
	for i, name := range s.Path {
		pool, err := r.pool(name)
		if err != nil {
			return nil, err
		}
		p, err := r.engine.Pool(pool)
		if err != nil {
			return nil, err
		}
		path[i] = router.Hop{Pool: pool, TokenIn: sell}
		if sell == p.TokenMint0 {
			sell = p.TokenMint1
		} else {
			sell = p.TokenMint0
		}
	}

	var res router.Result
	if s.ExactOutput {
		maxIn := s.Limit
		if maxIn == 0 {
			maxIn = math.MaxUint64
		}
		res, err = r.router.ExactOutput(ctx, path, s.Amount, maxIn)
	} else {
		res, err = r.router.ExactInput(ctx, path, s.Amount, s.Limit)
	}
	if err != nil {
		return nil, err
	}
	return []any{"hops", len(res.Hops), "amountIn", res.AmountIn, "amountOut", res.AmountOut, "tokenOut", r.byMint[sell]}, nil
}

func (r *Runner) setRewardEmission(ctx context.Context, s Step) ([]any, error) {
	pool, err := r.pool(s.Pool)
	if err != nil {
		return nil, err
	}
	mint, err := r.token(s.RewardMint)
	if err != nil {
		return nil, err
	}
	rate, err := decimal.NewFromString(s.EmissionsPerSecond)
	if err != nil {
		return nil, fmt.Errorf("emissions_per_second: %w", err)
	}
	rateX64, err := toX64(rate)
	if err != nil {
		return nil, err
	}

	open := r.Clock() + s.OpenIn
	info, err := r.engine.SetRewardEmission(ctx, engine.SetRewardEmissionParams{
		Pool:                  pool,
		RewardIndex:           s.RewardIndex,
		TokenMint:             mint.mint,
		EmissionsPerSecondX64: rateX64,
		OpenTime:              open,
		EndTime:               open + s.Duration,
	})
	if err != nil {
		return nil, err
	}
	return []any{"rewardIndex", s.RewardIndex, "openTime", info.OpenTime, "endTime", info.EndTime, "perSecond", calculator.EmissionsPerSecond(info).String()}, nil
}

func (r *Runner) twap(s Step) ([]any, error) {
	pool, err := r.pool(s.Pool)
	if err != nil {
		return nil, err
	}
	tick, err := r.engine.TWAP(pool, s.Window)
	if err != nil {
		return nil, err
	}
	p, err := r.engine.Pool(pool)
	if err != nil {
		return nil, err
	}
	d0, d1 := r.decimals(p)
	price, err := calculator.TickPrice(tick, d0, d1)
	if err != nil {
		return nil, err
	}
	return []any{"window", s.Window, "tick", tick, "price", price.String()}, nil
}

func (r *Runner) describePool(s Step) ([]any, error) {
	pool, err := r.pool(s.Pool)
	if err != nil {
		return nil, err
	}
	p, err := r.engine.Pool(pool)
	if err != nil {
		return nil, err
	}
	d0, d1 := r.decimals(p)
	reserve0, reserve1, err := calculator.GetVirtualReserves(p)
	if err != nil {
		return nil, err
	}
	return []any{
		"pool", p.ID,
		"tick", p.TickCurrent,
		"price", calculator.SpotPrice(p.SqrtPriceX64, d0, d1).String(),
		"liquidity", p.Liquidity.String(),
		"virtualReserve0", decimal.NewFromBigInt(reserve0.ToBig(), -int32(d0)).String(),
		"virtualReserve1", decimal.NewFromBigInt(reserve1.ToBig(), -int32(d1)).String(),
		"protocolFees0", calculator.AmountToDecimal(p.ProtocolFeesToken0, d0).String(),
		"protocolFees1", calculator.AmountToDecimal(p.ProtocolFeesToken1, d1).String(),
		"observations", p.ObservationCardinality,
	}, nil
}

func (r *Runner) describePosition(s Step) ([]any, error) {
	ref, err := r.position(s.Position)
	if err != nil {
		return nil, err
	}
	pos, err := r.engine.Position(ref.pool, ref.id)
	if err != nil {
		return nil, err
	}
	amount0, amount1, err := r.engine.PositionValue(ref.pool, ref.id)
	if err != nil {
		return nil, err
	}
	p, err := r.engine.Pool(ref.pool)
	if err != nil {
		return nil, err
	}
	d0, d1 := r.decimals(p)
	return []any{
		"position", pos.ID,
		"ticks", fmt.Sprintf("[%d, %d)", pos.TickLower, pos.TickUpper),
		"liquidity", pos.Liquidity.String(),
		"value0", calculator.AmountToDecimal(amount0, d0).String(),
		"value1", calculator.AmountToDecimal(amount1, d1).String(),
		"feesOwed0", calculator.AmountToDecimal(pos.TokenFeesOwed0, d0).String(),
		"feesOwed1", calculator.AmountToDecimal(pos.TokenFeesOwed1, d1).String(),
	}, nil
}

var q64 = decimal.NewFromBigInt(new(big.Int).Lsh(big.NewInt(1), 64), 0)

// toX64 converts a non-negative decimal to Q64.64, rounding down.
func toX64(v decimal.Decimal) (uint128.Uint128, error) {
	if v.IsNegative() {
		return uint128.Zero, fmt.Errorf("%w: %s is negative", clmm.ErrInvalidAmount, v)
	}
	n := v.Mul(q64).BigInt()
	if n.BitLen() > 128 {
		return uint128.Zero, fmt.Errorf("%w: %s", clmm.ErrArithmeticOverflow, v)
	}
	return uint128.FromBig(n), nil
}

func parseUint128(s string) (uint128.Uint128, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Sign() < 0 {
		return uint128.Zero, fmt.Errorf("%w: %q", clmm.ErrInvalidAmount, s)
	}
	if n.BitLen() > 128 {
		return uint128.Zero, errors.Join(clmm.ErrArithmeticOverflow, fmt.Errorf("liquidity %s", s))
	}
	return uint128.FromBig(n), nil
}
