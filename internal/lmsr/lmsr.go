// Package lmsr implements the logarithmic market scoring rule for binary
// outcome markets on top of the deterministic fixed-point core.
//
// The cost function is C(q) = b * ln(exp(q_yes/b) + exp(q_no/b)). Trades are
// priced as cost differences, instantaneous prices are the softmax of the
// share quantities, and the market maker's loss is bounded by b*ln(2)
// regardless of trading volume.
package lmsr

import (
	"errors"
	"fmt"

	"github.com/zmartlabs/zmart-engine/internal/fixedpoint"
)

// Liquidity parameter bounds, in fixed-point units of the collateral token.
const (
	MinB uint64 = 100 * fixedpoint.Precision
	MaxB uint64 = 1_000_000 * fixedpoint.Precision
)

const (
	// costTolerance terminates the share search once the bracket's cost
	// difference is below one thousandth of a token.
	costTolerance = fixedpoint.Precision / 1000

	// maxSearchIterations caps the binary search. 64 halvings of the
	// initial bracket already exceed uint64 resolution, so the tolerance
	// check is what normally terminates the loop.
	maxSearchIterations = 100

	// searchSpanMultiple bounds the share search at 20*b. A single trade
	// moving the price near certainty needs far fewer shares than this.
	searchSpanMultiple = 20
)

var (
	ErrInvalidLiquidity    = errors.New("lmsr: liquidity parameter out of range")
	ErrBoundedLossViolated = errors.New("lmsr: pool balance below worst-case payout")
)

// ValidateB checks the liquidity parameter against the allowed range.
func ValidateB(b uint64) error {
	if b < MinB || b > MaxB {
		return fmt.Errorf("%w: b=%d", ErrInvalidLiquidity, b)
	}
	return nil
}

// Cost evaluates C(q) = b * ln(exp(qYes/b) + exp(qNo/b)).
func Cost(b, qYes, qNo uint64) (uint64, error) {
	xYes, err := fixedpoint.Div(qYes, b)
	if err != nil {
		return 0, fmt.Errorf("lmsr: cost: %w", err)
	}
	xNo, err := fixedpoint.Div(qNo, b)
	if err != nil {
		return 0, fmt.Errorf("lmsr: cost: %w", err)
	}
	lse, err := fixedpoint.LogSumExp(xYes, xNo)
	if err != nil {
		return 0, fmt.Errorf("lmsr: cost: %w", err)
	}
	c, err := fixedpoint.Mul(b, lse)
	if err != nil {
		return 0, fmt.Errorf("lmsr: cost: %w", err)
	}
	return c, nil
}

// Price returns the instantaneous YES and NO prices. The prices are computed
// from the softmax of the share quantities and always sum to exactly
// fixedpoint.Precision: the larger side is computed and the other is derived
// by subtraction so rounding cannot break the invariant.
func Price(b, qYes, qNo uint64) (yes, no uint64, err error) {
	if qYes >= qNo {
		yes, err = dominantPrice(b, qYes-qNo)
		if err != nil {
			return 0, 0, err
		}
		return yes, fixedpoint.Precision - yes, nil
	}
	no, err = dominantPrice(b, qNo-qYes)
	if err != nil {
		return 0, 0, err
	}
	return fixedpoint.Precision - no, no, nil
}

// dominantPrice computes 1 / (1 + exp(-diff/b)) for diff >= 0, the price of
// the side holding more shares. The result is always in [0.5, 1].
func dominantPrice(b, diff uint64) (uint64, error) {
	x, err := fixedpoint.Div(diff, b)
	if err != nil {
		return 0, fmt.Errorf("lmsr: price: %w", err)
	}
	en, err := fixedpoint.ExpNeg(x)
	if err != nil {
		return 0, fmt.Errorf("lmsr: price: %w", err)
	}
	p, err := fixedpoint.Div(fixedpoint.Precision, fixedpoint.Precision+en)
	if err != nil {
		return 0, fmt.Errorf("lmsr: price: %w", err)
	}
	if p > fixedpoint.Precision {
		p = fixedpoint.Precision
	}
	return p, nil
}

// BuyCost returns the collateral cost of buying shares on one side,
// C(q + dq) - C(q).
func BuyCost(b, qYes, qNo, shares uint64, buyYes bool) (uint64, error) {
	before, err := Cost(b, qYes, qNo)
	if err != nil {
		return 0, err
	}
	newYes, newNo := qYes, qNo
	if buyYes {
		newYes, err = fixedpoint.Add(qYes, shares)
	} else {
		newNo, err = fixedpoint.Add(qNo, shares)
	}
	if err != nil {
		return 0, fmt.Errorf("lmsr: buy cost: %w", err)
	}
	after, err := Cost(b, newYes, newNo)
	if err != nil {
		return 0, err
	}
	// The cost function is strictly increasing in each argument, but
	// fixed-point rounding can make a tiny trade register as zero.
	if after < before {
		return 0, nil
	}
	return after - before, nil
}

// SellProceeds returns the collateral released by selling shares back,
// C(q) - C(q - dq).
func SellProceeds(b, qYes, qNo, shares uint64, sellYes bool) (uint64, error) {
	before, err := Cost(b, qYes, qNo)
	if err != nil {
		return 0, err
	}
	newYes, newNo := qYes, qNo
	if sellYes {
		newYes, err = fixedpoint.Sub(qYes, shares)
	} else {
		newNo, err = fixedpoint.Sub(qNo, shares)
	}
	if err != nil {
		return 0, fmt.Errorf("lmsr: sell proceeds: %w", err)
	}
	after, err := Cost(b, newYes, newNo)
	if err != nil {
		return 0, err
	}
	if before < after {
		return 0, nil
	}
	return before - after, nil
}

// SharesForCost finds the largest share quantity whose buy cost does not
// exceed budget, by binary search over [0, 20*b]. The search runs a bounded
// number of iterations and stops early once the bracket tightens below the
// cost tolerance, so it terminates deterministically on all inputs.
func SharesForCost(b, qYes, qNo, budget uint64, buyYes bool) (uint64, error) {
	if budget == 0 {
		return 0, nil
	}
	lo := uint64(0)
	hi, err := fixedpoint.Mul(searchSpanMultiple*fixedpoint.Precision, b)
	if err != nil {
		return 0, fmt.Errorf("lmsr: shares for cost: %w", err)
	}
	for i := 0; i < maxSearchIterations && hi-lo > 1; i++ {
		mid := lo + (hi-lo)/2
		cost, err := BuyCost(b, qYes, qNo, mid, buyYes)
		if err != nil {
			// Costs past the overflow frontier act as an upper bound.
			if errors.Is(err, fixedpoint.ErrOverflow) || errors.Is(err, fixedpoint.ErrExpOverflow) {
				hi = mid
				continue
			}
			return 0, err
		}
		if cost <= budget {
			lo = mid
			if budget-cost <= costTolerance {
				break
			}
		} else {
			hi = mid
		}
	}
	return lo, nil
}

// MaxLoss returns the market maker's worst-case loss, b*ln(2). This equals
// C(0, 0) and is the minimum collateral the pool must hold at creation.
func MaxLoss(b uint64) (uint64, error) {
	return fixedpoint.Mul(b, fixedpoint.Ln2)
}

// VerifyBoundedLoss checks that the pool can cover the worst-case
// resolution payout max(qYes, qNo). poolBalance is the collateral actually
// available for payouts: the creation seed plus net trade flow, excluding
// earmarked fees. Because max(q) <= C(q) and the seed covers C(0) = b*ln(2),
// a pool seeded with at least the maker's worst-case loss always passes; a
// failure indicates upstream accounting corruption.
func VerifyBoundedLoss(qYes, qNo, poolBalance uint64) error {
	maxQ := qYes
	if qNo > maxQ {
		maxQ = qNo
	}
	if poolBalance < maxQ {
		return fmt.Errorf("%w: pool=%d owed=%d", ErrBoundedLossViolated, poolBalance, maxQ)
	}
	return nil
}
