package clmm

import (
	"errors"

	"github.com/defistate/defistate-clmm/protocols/clmm/calculator/fullmath"
	"github.com/defistate/defistate-clmm/protocols/clmm/calculator/tickmath"
)

// Error classes. Every error returned by the engine matches exactly one of the first eight
// with errors.Is; the remaining ones describe bad requests.
var (
	ErrArithmeticOverflow    = fullmath.ErrOverflow
	ErrTickOutOfRange        = tickmath.ErrTickOutOfBounds
	ErrInvalidTickOrdering   = errors.New("invalid tick ordering")
	ErrPriceLimitViolation   = errors.New("price limit violation")
	ErrSlippageExceeded      = errors.New("slippage exceeded")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrRewardWindowInvalid   = errors.New("reward window invalid")
	ErrInvariantViolation    = errors.New("invariant violation")

	ErrPoolNotFound         = errors.New("pool not found")
	ErrPoolExists           = errors.New("pool already exists")
	ErrPositionNotFound     = errors.New("position not found")
	ErrPositionNotEmpty     = errors.New("position not empty")
	ErrInvalidAmount        = errors.New("amount must be greater than zero")
	ErrFeeTierNotRegistered = errors.New("fee tier not registered")
	ErrInvalidFeeRate       = errors.New("invalid fee rate")
	ErrInvalidRewardIndex   = errors.New("invalid reward index")
	ErrInvalidTickSpacing   = errors.New("tick spacing must be greater than zero")
	ErrInvalidMintOrder     = errors.New("token mint 0 must sort before token mint 1")
)
