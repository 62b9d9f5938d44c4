package lmsr

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zmartlabs/zmart-engine/internal/fixedpoint"
)

func fp(v float64) uint64 {
	return uint64(v * float64(fixedpoint.Precision))
}

func toFloat(v uint64) float64 {
	return float64(v) / float64(fixedpoint.Precision)
}

// refCost is the float reference of the cost function for comparison.
func refCost(b, qYes, qNo float64) float64 {
	return b * math.Log(math.Exp(qYes/b)+math.Exp(qNo/b))
}

func TestValidateB(t *testing.T) {
	assert.NoError(t, ValidateB(MinB))
	assert.NoError(t, ValidateB(MaxB))
	assert.NoError(t, ValidateB(fp(1000)))
	assert.ErrorIs(t, ValidateB(MinB-1), ErrInvalidLiquidity)
	assert.ErrorIs(t, ValidateB(MaxB+1), ErrInvalidLiquidity)
}

func TestCostAtZeroIsMaxLoss(t *testing.T) {
	b := fp(1000)

	cost, err := Cost(b, 0, 0)
	require.NoError(t, err)
	loss, err := MaxLoss(b)
	require.NoError(t, err)

	// C(0,0) = b*ln(2) up to fixed-point rounding.
	assert.InDelta(t, loss, cost, float64(fixedpoint.Precision)/1000)
	assert.InDelta(t, 1000*math.Ln2, toFloat(cost), 1e-3)
}

func TestCostMatchesReference(t *testing.T) {
	b := fp(1000)
	for _, tc := range []struct{ qYes, qNo float64 }{
		{0, 0},
		{100, 0},
		{0, 250},
		{500, 500},
		{3000, 1200},
		{50, 4900},
	} {
		got, err := Cost(b, fp(tc.qYes), fp(tc.qNo))
		require.NoError(t, err, "cost(%v,%v)", tc.qYes, tc.qNo)
		want := refCost(1000, tc.qYes, tc.qNo)
		assert.InEpsilon(t, want, toFloat(got), 1e-3, "cost(%v,%v)", tc.qYes, tc.qNo)
	}
}

func TestPriceSumInvariant(t *testing.T) {
	b := fp(1000)
	for _, tc := range []struct{ qYes, qNo float64 }{
		{0, 0},
		{100, 0},
		{0, 100},
		{1234, 987},
		{5000, 100},
		{100, 5000},
	} {
		yes, no, err := Price(b, fp(tc.qYes), fp(tc.qNo))
		require.NoError(t, err)
		assert.Equal(t, fixedpoint.Precision, yes+no, "prices must sum to one at q=(%v,%v)", tc.qYes, tc.qNo)
	}
}

func TestPriceSymmetric(t *testing.T) {
	b := fp(1000)

	yes, no, err := Price(b, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, fixedpoint.Precision/2, yes)
	assert.Equal(t, fixedpoint.Precision/2, no)

	// Swapping the quantities swaps the prices.
	y1, n1, err := Price(b, fp(700), fp(300))
	require.NoError(t, err)
	y2, n2, err := Price(b, fp(300), fp(700))
	require.NoError(t, err)
	assert.Equal(t, y1, n2)
	assert.Equal(t, n1, y2)
	assert.Greater(t, y1, n1)
}

func TestPriceMatchesSoftmax(t *testing.T) {
	b := fp(1000)
	yes, _, err := Price(b, fp(1500), fp(500))
	require.NoError(t, err)

	want := 1 / (1 + math.Exp(-(1500.0-500.0)/1000.0))
	assert.InDelta(t, want, toFloat(yes), 1e-4)
}

func TestBuyCostIncreasesWithSize(t *testing.T) {
	b := fp(1000)

	small, err := BuyCost(b, 0, 0, fp(10), true)
	require.NoError(t, err)
	large, err := BuyCost(b, 0, 0, fp(100), true)
	require.NoError(t, err)

	assert.Greater(t, large, small)
	// Near even odds each share costs about half a token.
	assert.InDelta(t, 5.0, toFloat(small), 0.1)
}

func TestBuyCostMovesPrice(t *testing.T) {
	b := fp(1000)
	shares := fp(500)

	cost, err := BuyCost(b, 0, 0, shares, true)
	require.NoError(t, err)
	// Buying pushes the average price above the starting spot price.
	assert.Greater(t, cost, shares/2)

	yesAfter, _, err := Price(b, shares, 0)
	require.NoError(t, err)
	assert.Greater(t, yesAfter, fixedpoint.Precision/2)
}

func TestSellRoundTrip(t *testing.T) {
	b := fp(1000)
	shares := fp(200)

	cost, err := BuyCost(b, 0, 0, shares, true)
	require.NoError(t, err)
	proceeds, err := SellProceeds(b, shares, 0, shares, true)
	require.NoError(t, err)

	// Selling everything back returns the cost up to rounding.
	assert.InDelta(t, cost, proceeds, float64(fixedpoint.Precision)/100)
}

func TestSellMoreThanOutstanding(t *testing.T) {
	b := fp(1000)
	_, err := SellProceeds(b, fp(10), 0, fp(20), true)
	assert.ErrorIs(t, err, fixedpoint.ErrOverflow)
}

func TestSharesForCost(t *testing.T) {
	b := fp(1000)
	budget := fp(100)

	shares, err := SharesForCost(b, 0, 0, budget, true)
	require.NoError(t, err)
	require.NotZero(t, shares)

	cost, err := BuyCost(b, 0, 0, shares, true)
	require.NoError(t, err)
	assert.LessOrEqual(t, cost, budget)
	assert.InDelta(t, budget, cost, float64(fixedpoint.Precision)/100)

	// One more tolerance step must exceed the budget.
	over, err := BuyCost(b, 0, 0, shares+fp(0.01), true)
	require.NoError(t, err)
	assert.Greater(t, over, budget)
}

func TestSharesForCostZeroBudget(t *testing.T) {
	b := fp(1000)
	shares, err := SharesForCost(b, 0, 0, 0, true)
	require.NoError(t, err)
	assert.Zero(t, shares)
}

func TestSharesForCostSkewedBook(t *testing.T) {
	b := fp(1000)
	qYes := fp(3000)

	// Buying the cheap side gets more shares per token than the dear side.
	cheap, err := SharesForCost(b, qYes, 0, fp(50), false)
	require.NoError(t, err)
	dear, err := SharesForCost(b, qYes, 0, fp(50), true)
	require.NoError(t, err)
	assert.Greater(t, cheap, dear)
}

func TestVerifyBoundedLoss(t *testing.T) {
	b := fp(1000)
	seed, err := MaxLoss(b)
	require.NoError(t, err)

	// Fresh market seeded with b*ln2 satisfies the bound.
	assert.NoError(t, VerifyBoundedLoss(0, 0, seed))

	// After trades the collected cost keeps the bound intact.
	shares := fp(2500)
	cost, err := BuyCost(b, 0, 0, shares, true)
	require.NoError(t, err)
	assert.NoError(t, VerifyBoundedLoss(shares, 0, seed+cost))

	// A drained pool fails.
	assert.ErrorIs(t, VerifyBoundedLoss(shares, 0, 0), ErrBoundedLossViolated)
}
