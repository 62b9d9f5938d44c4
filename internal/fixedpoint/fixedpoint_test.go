package fixedpoint

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fromFloat converts a float to fixed-point for test inputs only.
func fromFloat(v float64) uint64 {
	return uint64(v * float64(Precision))
}

func toFloat(v uint64) float64 {
	return float64(v) / float64(Precision)
}

func TestMul(t *testing.T) {
	got, err := Mul(fromFloat(1.5), fromFloat(2.0))
	require.NoError(t, err)
	assert.Equal(t, fromFloat(3.0), got)

	got, err = Mul(fromFloat(0.5), fromFloat(0.5))
	require.NoError(t, err)
	assert.Equal(t, fromFloat(0.25), got)

	// Identity and zero.
	got, err = Mul(Precision, fromFloat(5.5))
	require.NoError(t, err)
	assert.Equal(t, fromFloat(5.5), got)

	got, err = Mul(0, fromFloat(5.0))
	require.NoError(t, err)
	assert.Zero(t, got)
}

func TestMulOverflow(t *testing.T) {
	_, err := Mul(math.MaxUint64, math.MaxUint64)
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestDiv(t *testing.T) {
	got, err := Div(fromFloat(5.0), fromFloat(2.0))
	require.NoError(t, err)
	assert.Equal(t, fromFloat(2.5), got)

	got, err = Div(fromFloat(1.0), fromFloat(4.0))
	require.NoError(t, err)
	assert.Equal(t, fromFloat(0.25), got)

	_, err = Div(fromFloat(5.0), 0)
	assert.ErrorIs(t, err, ErrDivideByZero)
}

func TestMulDivRoundTrip(t *testing.T) {
	a := fromFloat(3.5)
	b := fromFloat(7.2)

	product, err := Mul(a, b)
	require.NoError(t, err)
	back, err := Div(product, b)
	require.NoError(t, err)

	assert.InDelta(t, a, back, 10)
}

func TestAddSub(t *testing.T) {
	sum, err := Add(1, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), sum)

	_, err = Add(math.MaxUint64, 1)
	assert.ErrorIs(t, err, ErrOverflow)

	diff, err := Sub(5, 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), diff)

	_, err = Sub(3, 5)
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestExp(t *testing.T) {
	got, err := Exp(0)
	require.NoError(t, err)
	assert.Equal(t, Precision, got)

	for _, x := range []float64{0.1, 0.5, 1.0, 2.0, 5.0, 10.0, 19.5} {
		got, err := Exp(fromFloat(x))
		require.NoError(t, err, "exp(%v)", x)
		want := math.Exp(x)
		assert.InEpsilon(t, want, toFloat(got), 1e-4, "exp(%v)", x)
	}

	_, err = Exp(MaxExp + 1)
	assert.ErrorIs(t, err, ErrExpOverflow)
}

func TestExpNeg(t *testing.T) {
	for _, x := range []float64{0.0, 0.5, 1.0, 3.0, 10.0} {
		got, err := ExpNeg(fromFloat(x))
		require.NoError(t, err)
		assert.InDelta(t, math.Exp(-x), toFloat(got), 1e-4, "exp(-%v)", x)
	}

	// Beyond MaxExp the value is below one ulp and collapses to zero.
	got, err := ExpNeg(MaxExp + Precision)
	require.NoError(t, err)
	assert.Zero(t, got)
}

func TestLn(t *testing.T) {
	got, err := Ln(Precision)
	require.NoError(t, err)
	assert.Zero(t, got)

	for _, x := range []float64{1.0001, 1.5, 2.0, 2.718281828, 10.0, 1000.0, 1e6} {
		got, err := Ln(fromFloat(x))
		require.NoError(t, err, "ln(%v)", x)
		assert.InDelta(t, math.Log(x), toFloat(got), 1e-4, "ln(%v)", x)
	}

	_, err = Ln(0)
	assert.ErrorIs(t, err, ErrLogDomain)
}

func TestLogSumExp(t *testing.T) {
	for _, tc := range []struct{ x, y float64 }{
		{0, 0},
		{1, 0},
		{0, 1},
		{5, 3},
		{15, 14},
		{19, 1},
	} {
		got, err := LogSumExp(fromFloat(tc.x), fromFloat(tc.y))
		require.NoError(t, err)
		want := math.Log(math.Exp(tc.x) + math.Exp(tc.y))
		assert.InDelta(t, want, toFloat(got), 1e-3, "logsumexp(%v,%v)", tc.x, tc.y)
	}
}

func TestLogSumExpLargeValuesStable(t *testing.T) {
	// The naive form would overflow; the reduced form stays near max(x,y).
	x := fromFloat(19.0)
	y := fromFloat(18.0)
	got, err := LogSumExp(x, y)
	require.NoError(t, err)
	assert.Greater(t, got, x)
	assert.Less(t, got, x+2*Precision)
}
