package clmm

import (
	"fmt"

	"github.com/defistate/defistate-clmm/protocols/clmm/calculator/fullmath"
	"github.com/gagliardetto/solana-go"
	"github.com/holiman/uint256"
	"lukechampine.com/uint128"
)

// UpdateRewardInfos advances every open reward stream to now. Growth accrues only while the stream
// is inside [OpenTime, EndTime) and the pool has active liquidity; time without liquidity is skipped,
// not carried forward.
func (p *Pool) UpdateRewardInfos(now uint64) error {
	for i := range p.RewardInfos {
		r := &p.RewardInfos[i]
		if !r.Initialized {
			continue
		}

		latest := min(now, r.EndTime)
		start := max(r.LastUpdateTime, r.OpenTime)

		if latest > start && !p.Liquidity.IsZero() {
			elapsed := uint128.From64(latest - start)

			growth, err := fullmath.MulDivFloor128(elapsed, r.EmissionsPerSecondX64, p.Liquidity)
			if err != nil {
				return fmt.Errorf("reward %d growth: %w", i, err)
			}
			r.RewardGrowthGlobalX64 = r.RewardGrowthGlobalX64.AddWrap(growth)

			emitted, err := fullmath.MulDivCeil(new(uint256.Int), fullmath.U256(elapsed), fullmath.U256(r.EmissionsPerSecondX64), fullmath.Q64)
			if err != nil {
				return fmt.Errorf("reward %d emitted: %w", i, err)
			}
			total := new(uint256.Int).AddUint64(emitted, r.RewardTotalEmissioned)
			if r.RewardTotalEmissioned, err = fullmath.ToUint64(total); err != nil {
				return fmt.Errorf("reward %d emitted: %w", i, err)
			}
		}

		if latest > r.LastUpdateTime {
			r.LastUpdateTime = latest
		}
	}
	return nil
}

// SetRewardEmission opens a reward stream or changes a running one. The stream is first brought
// up to now at its old rate so that earnings already accrued keep their price.
//
// A stream past its end is immutable. A started stream keeps its open time. A fresh stream may
// not open in the past.
func (p *Pool) SetRewardEmission(
	index int,
	mint solana.PublicKey,
	emissionsPerSecondX64 uint128.Uint128,
	openTime, endTime, now uint64,
) error {
	if index < 0 || index >= RewardCount {
		return fmt.Errorf("%w: %d", ErrInvalidRewardIndex, index)
	}
	if endTime <= openTime {
		return fmt.Errorf("%w: end %d is not after open %d", ErrRewardWindowInvalid, endTime, openTime)
	}
	if endTime <= now {
		return fmt.Errorf("%w: end %d is not in the future", ErrRewardWindowInvalid, endTime)
	}

	r := &p.RewardInfos[index]
	if r.Initialized {
		if now >= r.EndTime {
			return fmt.Errorf("%w: stream %d ended at %d", ErrRewardWindowInvalid, index, r.EndTime)
		}
		if now >= r.OpenTime && openTime != r.OpenTime {
			return fmt.Errorf("%w: stream %d already opened at %d", ErrRewardWindowInvalid, index, r.OpenTime)
		}
		if mint != r.TokenMint {
			return fmt.Errorf("%w: stream %d pays %s", ErrRewardWindowInvalid, index, r.TokenMint)
		}
	} else if openTime < now {
		return fmt.Errorf("%w: open %d is in the past", ErrRewardWindowInvalid, openTime)
	}

	if err := p.UpdateRewardInfos(now); err != nil {
		return err
	}

	if !r.Initialized || now < r.OpenTime {
		r.LastUpdateTime = openTime
	}
	r.Initialized = true
	r.TokenMint = mint
	r.OpenTime = openTime
	r.EndTime = endTime
	r.EmissionsPerSecondX64 = emissionsPerSecondX64
	return nil
}

// CollectRewards pays out up to amountRequested of the position's owed reward for one stream;
// a request of zero takes everything.
func (p *Position) CollectRewards(index int, amountRequested uint64) (uint64, error) {
	if index < 0 || index >= RewardCount {
		return 0, fmt.Errorf("%w: %d", ErrInvalidRewardIndex, index)
	}
	amount := capRequest(amountRequested, p.RewardInfos[index].RewardAmountOwed)
	p.RewardInfos[index].RewardAmountOwed -= amount
	return amount, nil
}

// RecordRewardClaim adds a paid-out reward to the stream's claimed total.
func (p *Pool) RecordRewardClaim(index int, amount uint64) error {
	if index < 0 || index >= RewardCount {
		return fmt.Errorf("%w: %d", ErrInvalidRewardIndex, index)
	}
	r := &p.RewardInfos[index]
	claimed := r.RewardClaimed + amount
	if claimed < r.RewardClaimed {
		return ErrArithmeticOverflow
	}
	r.RewardClaimed = claimed
	return nil
}
