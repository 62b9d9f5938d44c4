// Package fixedpoint implements deterministic 9-decimal fixed-point
// arithmetic. Every executing node must reproduce trade costs bit-exactly, so
// all values are scaled uint64 integers and every operation is
// overflow-checked; floating point is never used outside tests.
package fixedpoint

import (
	"errors"
	"math/bits"
)

const (
	// Precision is the fixed-point scale: 1.0 is represented as 10^9.
	Precision uint64 = 1_000_000_000

	// Ln2 is ln(2) ≈ 0.693147180 in fixed-point.
	Ln2 uint64 = 693_147_180

	// MaxExp is the largest exponent accepted by Exp. e^20 ≈ 4.85e8 still
	// fits in a uint64 at 9 decimals; anything larger risks overflow in
	// downstream multiplications.
	MaxExp uint64 = 20 * Precision
)

var (
	ErrOverflow     = errors.New("fixedpoint: arithmetic overflow")
	ErrDivideByZero = errors.New("fixedpoint: division by zero")
	ErrExpOverflow  = errors.New("fixedpoint: exponent too large")
	ErrLogDomain    = errors.New("fixedpoint: logarithm of zero")
)

// Add returns a+b, failing on overflow.
func Add(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, ErrOverflow
	}
	return sum, nil
}

// Sub returns a-b, failing on underflow.
func Sub(a, b uint64) (uint64, error) {
	diff, borrow := bits.Sub64(a, b, 0)
	if borrow != 0 {
		return 0, ErrOverflow
	}
	return diff, nil
}

// Mul returns (a*b)/Precision using a 128-bit intermediate.
func Mul(a, b uint64) (uint64, error) {
	return mulDiv(a, b, Precision)
}

// Div returns (a*Precision)/b using a 128-bit intermediate.
func Div(a, b uint64) (uint64, error) {
	if b == 0 {
		return 0, ErrDivideByZero
	}
	return mulDiv(a, Precision, b)
}

// mulDiv computes (a*b)/d with a full 128-bit product. The quotient fits in
// 64 bits exactly when the high word of the product is below the divisor.
func mulDiv(a, b, d uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi >= d {
		return 0, ErrOverflow
	}
	q, _ := bits.Div64(hi, lo, d)
	return q, nil
}

// Exp approximates e^x for x in [0, MaxExp].
//
// The exponent is reduced by powers of two (x = n*ln2 + r, r < ln2) and the
// residual is evaluated with a Padé (2,2) rational approximation, which is
// accurate to better than 1e-9 on [0, ln2). The result is e^r << n.
func Exp(x uint64) (uint64, error) {
	if x > MaxExp {
		return 0, ErrExpOverflow
	}

	n := x / Ln2
	r := x - n*Ln2

	er, err := expPade(r)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return er, nil
	}
	if n >= 64 || bits.LeadingZeros64(er) < int(n) {
		return 0, ErrOverflow
	}
	return er << n, nil
}

// expPade evaluates e^r ≈ (1 + r/2 + r²/12) / (1 - r/2 + r²/12) for r < ln2.
func expPade(r uint64) (uint64, error) {
	r2, err := Mul(r, r)
	if err != nil {
		return 0, err
	}

	num, err := Add(Precision, r/2)
	if err != nil {
		return 0, err
	}
	num, err = Add(num, r2/12)
	if err != nil {
		return 0, err
	}

	// r < ln2 < 2.0 so Precision - r/2 cannot underflow.
	den, err := Sub(Precision, r/2)
	if err != nil {
		return 0, err
	}
	den, err = Add(den, r2/12)
	if err != nil {
		return 0, err
	}

	return Div(num, den)
}

// ExpNeg approximates e^(-x). Exponents beyond MaxExp collapse to zero,
// which is below one fixed-point ulp anyway.
func ExpNeg(x uint64) (uint64, error) {
	if x > MaxExp {
		return 0, nil
	}
	ex, err := Exp(x)
	if err != nil {
		return 0, err
	}
	return Div(Precision, ex)
}

// Ln approximates the natural logarithm of x (x > 0, x >= 1.0 in practice;
// results for x < 1 would be negative and are rejected by the underflow
// check in the final adjustment).
//
// Range reduction factors out powers of two until x is in [0.5, 2.0), then a
// Taylor series in y = (x-1)/(x+1) converges quickly:
// ln(x) = 2*(y + y³/3 + y⁵/5 + y⁷/7) + n*ln2.
func Ln(x uint64) (uint64, error) {
	if x == 0 {
		return 0, ErrLogDomain
	}
	if x == Precision {
		return 0, nil
	}

	reduced := x
	exponent := int64(0)
	for reduced >= 2*Precision {
		reduced /= 2
		exponent++
	}
	for reduced < Precision/2 {
		reduced *= 2
		exponent--
	}

	var y uint64
	var err error
	negSeries := reduced < Precision
	if !negSeries {
		num := reduced - Precision
		den := reduced + Precision
		y, err = Div(num, den)
	} else {
		// For x < 1 compute the series on 1/x and negate.
		inv, ierr := Div(Precision, reduced)
		if ierr != nil {
			return 0, ierr
		}
		y, err = Div(inv-Precision, inv+Precision)
	}
	if err != nil {
		return 0, err
	}

	y2, err := Mul(y, y)
	if err != nil {
		return 0, err
	}
	y3, err := Mul(y2, y)
	if err != nil {
		return 0, err
	}
	y5, err := Mul(y3, y2)
	if err != nil {
		return 0, err
	}
	y7, err := Mul(y5, y2)
	if err != nil {
		return 0, err
	}

	series := 2 * (y + y3/3 + y5/5 + y7/7)

	total := int64(series)
	if negSeries {
		total = -total
	}
	total += exponent * int64(Ln2)
	if total < 0 {
		return 0, ErrOverflow
	}
	return uint64(total), nil
}

// LogSumExp computes ln(e^x + e^y) without overflowing for large inputs:
// ln(e^x + e^y) = max(x,y) + ln(1 + e^(-|x-y|)).
func LogSumExp(x, y uint64) (uint64, error) {
	maxVal, diff := x, x-y
	if y > x {
		maxVal, diff = y, y-x
	}

	expNeg, err := ExpNeg(diff)
	if err != nil {
		return 0, err
	}
	lnTerm, err := Ln(Precision + expNeg)
	if err != nil {
		return 0, err
	}
	return Add(maxVal, lnTerm)
}
