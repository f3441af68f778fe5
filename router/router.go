// Package router trades along multi-pool paths as single engine transactions.
package router

import (
	"context"
	"errors"
	"fmt"
	"math"

	sdkmath "cosmossdk.io/math"
	"github.com/defistate/defistate-clmm/engine"
	"github.com/defistate/defistate-clmm/protocols/clmm"
	"github.com/defistate/defistate-clmm/protocols/clmm/calculator"
	"github.com/gagliardetto/solana-go"
)

var (
	ErrInvalidPath = errors.New("router: invalid path")
	ErrNoRoute     = errors.New("router: no route")
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Hop is one swap of a path: TokenIn is sold into Pool.
type Hop struct {
	Pool    solana.PublicKey
	TokenIn solana.PublicKey
}

// Result is the outcome of a routed trade.
type Result struct {
	AmountIn  uint64
	AmountOut uint64
	Hops      []calculator.SwapResult
}

type Config struct {
	Engine *engine.Engine
	// Index is used by the best-route methods; a nil index is filled from Engine.
	Index  *PoolIndex
	Logger Logger
}

func (c *Config) validate() error {
	if c.Engine == nil {
		return errors.New("config: Engine cannot be nil")
	}
	if c.Logger == nil {
		return errors.New("config: Logger cannot be nil")
	}
	return nil
}

// Router executes paths against an Engine.
type Router struct {
	engine *engine.Engine
	index  *PoolIndex
	logger Logger
}

func New(cfg *Config) (*Router, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	index := cfg.Index
	if index == nil {
		index = NewPoolIndex()
		if err := index.Sync(cfg.Engine); err != nil {
			return nil, err
		}
	}
	return &Router{engine: cfg.Engine, index: index, logger: cfg.Logger}, nil
}

// Index returns the pool index the router searches.
func (r *Router) Index() *PoolIndex {
	return r.index
}

// ExactInput sells amountIn along path and fails unless at least minOut comes out of the last hop.
// All hops commit together or not at all.
func (r *Router) ExactInput(ctx context.Context, path []Hop, amountIn, minOut uint64) (Result, error) {
	pools, err := poolsOf(path)
	if err != nil {
		return Result{}, err
	}
	var res Result
	err = r.engine.Transact(ctx, pools, func(tx *engine.Tx) error {
		var err error
		res, err = exactInput(path, amountIn, tx.State, tx.Swap)
		if err != nil {
			return err
		}
		if res.AmountOut < minOut {
			return fmt.Errorf("%w: route pays %d, minimum %d", clmm.ErrSlippageExceeded, res.AmountOut, minOut)
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	r.logger.Debug("Exact input routed", "hops", len(path), "amountIn", res.AmountIn, "amountOut", res.AmountOut)
	return res, nil
}

// ExactOutput buys amountOut along path and fails if the first hop needs more than maxIn.
//
// The required amounts are quoted from the last hop backwards, each hop's input becoming the
// exact output of the hop before it. The hops then run forwards as exact-output swaps in one
// transaction, so each rounds its input up and pays its own protocol fee.
func (r *Router) ExactOutput(ctx context.Context, path []Hop, amountOut, maxIn uint64) (Result, error) {
	pools, err := poolsOf(path)
	if err != nil {
		return Result{}, err
	}
	var res Result
	err = r.engine.Transact(ctx, pools, func(tx *engine.Tx) error {
		outs, err := requiredOutputs(path, amountOut, tx.State, tx.Now())
		if err != nil {
			return err
		}
		if outs[0].in > maxIn {
			return fmt.Errorf("%w: route needs %d, maximum %d", clmm.ErrSlippageExceeded, outs[0].in, maxIn)
		}

		zeroForOne, err := directions(tx.State, path)
		if err != nil {
			return err
		}

		res = Result{AmountOut: amountOut, Hops: make([]calculator.SwapResult, len(path))}
		for i, hop := range path {
			// a hop may not take more than the previous hop delivered
			limit := maxIn
			if i > 0 {
				limit = res.Hops[i-1].AmountOut
			}
			swap, err := tx.Swap(hop.Pool, calculator.SwapParams{
				ZeroForOne:           zeroForOne[i],
				Amount:               outs[i].out,
				IsBaseInput:          false,
				OtherAmountThreshold: limit,
			})
			if err != nil {
				return fmt.Errorf("hop %d: %w", i, err)
			}
			res.Hops[i] = swap
		}
		res.AmountIn = res.Hops[0].AmountIn
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	r.logger.Debug("Exact output routed", "hops", len(path), "amountIn", res.AmountIn, "amountOut", res.AmountOut)
	return res, nil
}

// QuoteExactInput simulates ExactInput against committed state.
func (r *Router) QuoteExactInput(path []Hop, amountIn uint64) (Result, error) {
	if _, err := poolsOf(path); err != nil {
		return Result{}, err
	}
	q := r.newQuoter()
	return exactInput(path, amountIn, q.state, q.swap)
}

// QuoteExactOutput returns the input the first hop of path needs to buy amountOut.
func (r *Router) QuoteExactOutput(path []Hop, amountOut uint64) (uint64, error) {
	if _, err := poolsOf(path); err != nil {
		return 0, err
	}
	q := r.newQuoter()
	outs, err := requiredOutputs(path, amountOut, q.state, q.now)
	if err != nil {
		return 0, err
	}
	return outs[0].in, nil
}

// BestExactInput routes amountIn over the indexed path of at most maxHops hops that quotes the
// largest output.
func (r *Router) BestExactInput(ctx context.Context, tokenIn, tokenOut solana.PublicKey, maxHops int, amountIn, minOut uint64) (Result, error) {
	var (
		best    []Hop
		bestOut = sdkmath.ZeroInt()
	)
	for _, path := range r.index.Paths(tokenIn, tokenOut, maxHops) {
		quote, err := r.QuoteExactInput(path, amountIn)
		if err != nil {
			r.logger.Debug("Path skipped", "hops", len(path), "error", err)
			continue
		}
		if out := sdkmath.NewIntFromUint64(quote.AmountOut); best == nil || out.GT(bestOut) {
			best, bestOut = path, out
		}
	}
	if best == nil {
		return Result{}, fmt.Errorf("%w: %s to %s in %d hops", ErrNoRoute, tokenIn, tokenOut, maxHops)
	}
	return r.ExactInput(ctx, best, amountIn, minOut)
}

type stateFunc func(solana.PublicKey) (*clmm.PoolState, error)

type swapFunc func(solana.PublicKey, calculator.SwapParams) (calculator.SwapResult, error)

func exactInput(path []Hop, amountIn uint64, state stateFunc, swap swapFunc) (Result, error) {
	res := Result{AmountIn: amountIn, Hops: make([]calculator.SwapResult, len(path))}
	zeroForOne, err := directions(state, path)
	if err != nil {
		return Result{}, err
	}
	amount := sdkmath.NewIntFromUint64(amountIn)
	for i, hop := range path {
		in, err := narrow(amount)
		if err != nil {
			return Result{}, err
		}
		out, err := swap(hop.Pool, calculator.SwapParams{ZeroForOne: zeroForOne[i], Amount: in, IsBaseInput: true})
		if err != nil {
			return Result{}, fmt.Errorf("hop %d: %w", i, err)
		}
		res.Hops[i] = out
		amount = sdkmath.NewIntFromUint64(out.AmountOut)
	}
	res.AmountOut = amount.Uint64()
	return res, nil
}

type hopAmounts struct {
	in, out uint64
}

// requiredOutputs quotes path backwards from amountOut and returns what each hop must take in and
// pay out. Quotes run on copies.
func requiredOutputs(path []Hop, amountOut uint64, state stateFunc, now uint64) ([]hopAmounts, error) {
	zeroForOne, err := directions(state, path)
	if err != nil {
		return nil, err
	}
	amounts := make([]hopAmounts, len(path))
	need := sdkmath.NewIntFromUint64(amountOut)
	for i := len(path) - 1; i >= 0; i-- {
		hop := path[i]
		s, err := state(hop.Pool)
		if err != nil {
			return nil, err
		}
		out, err := narrow(need)
		if err != nil {
			return nil, err
		}
		quote, err := calculator.Quote(s, calculator.SwapParams{
			ZeroForOne:           zeroForOne[i],
			Amount:               out,
			IsBaseInput:          false,
			OtherAmountThreshold: math.MaxUint64,
		}, now)
		if err != nil {
			return nil, fmt.Errorf("hop %d: %w", i, err)
		}
		amounts[i] = hopAmounts{in: quote.AmountIn, out: out}
		need = sdkmath.NewIntFromUint64(quote.AmountIn)
	}
	return amounts, nil
}

// quoter runs swaps on private copies of committed state.
type quoter struct {
	engine *engine.Engine
	now    uint64
	states map[solana.PublicKey]*clmm.PoolState
}

func (r *Router) newQuoter() *quoter {
	return &quoter{engine: r.engine, now: r.engine.Now(), states: make(map[solana.PublicKey]*clmm.PoolState)}
}

func (q *quoter) state(id solana.PublicKey) (*clmm.PoolState, error) {
	if s, ok := q.states[id]; ok {
		return s, nil
	}
	s, err := q.engine.Snapshot(id)
	if err != nil {
		return nil, err
	}
	s = s.Clone()
	q.states[id] = s
	return s, nil
}

func (q *quoter) swap(id solana.PublicKey, params calculator.SwapParams) (calculator.SwapResult, error) {
	s, err := q.state(id)
	if err != nil {
		return calculator.SwapResult{}, err
	}
	return calculator.Swap(s, params, q.now)
}

// directions reports for each hop whether it sells token0 of its pool, and checks every hop sells
// what the hop before it bought.
func directions(state stateFunc, path []Hop) ([]bool, error) {
	zeroForOne := make([]bool, len(path))
	var bought solana.PublicKey
	for i, hop := range path {
		if i > 0 && hop.TokenIn != bought {
			return nil, fmt.Errorf("%w: hop %d sells %s, previous hop buys %s", ErrInvalidPath, i, hop.TokenIn, bought)
		}
		s, err := state(hop.Pool)
		if err != nil {
			return nil, err
		}
		switch hop.TokenIn {
		case s.Pool.TokenMint0:
			zeroForOne[i], bought = true, s.Pool.TokenMint1
		case s.Pool.TokenMint1:
			zeroForOne[i], bought = false, s.Pool.TokenMint0
		default:
			return nil, fmt.Errorf("%w: pool %s does not trade %s", ErrInvalidPath, hop.Pool, hop.TokenIn)
		}
	}
	return zeroForOne, nil
}

// poolsOf checks path is non-empty and visits no pool twice, and returns its pools.
func poolsOf(path []Hop) ([]solana.PublicKey, error) {
	if len(path) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrInvalidPath)
	}
	pools := make([]solana.PublicKey, len(path))
	seen := make(map[solana.PublicKey]bool, len(path))
	for i, hop := range path {
		if seen[hop.Pool] {
			return nil, fmt.Errorf("%w: pool %s visited twice", ErrInvalidPath, hop.Pool)
		}
		seen[hop.Pool] = true
		pools[i] = hop.Pool
	}
	return pools, nil
}

func narrow(v sdkmath.Int) (uint64, error) {
	if !v.IsUint64() {
		return 0, fmt.Errorf("%w: amount %s", clmm.ErrArithmeticOverflow, v)
	}
	return v.Uint64(), nil
}
