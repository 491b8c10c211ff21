// package lmsr implements a Logarithmic Market Scoring Rule for binary
// YES/NO markets.

package lmsr

import (
	"errors"
	"math"
	"strings"
)

// DefaultLiquidity is used for markets created without an explicit
// liquidity parameter.
const DefaultLiquidity = float64(100.0)

var (
	ErrInvalidTrade     = errors.New("trade quantity must be positive")
	ErrInvalidSide      = errors.New("side must be YES or NO")
	ErrInvalidLiquidity = errors.New("liquidity must be positive")
)

// Side is one of the two outcomes of a binary market.
type Side int

const (
	Yes Side = iota
	No
)

func (s Side) String() string {
	if s == Yes {
		return "YES"
	}
	return "NO"
}

// ParseSide normalizes a side label. Any capitalization of "yes" or "no"
// is accepted; everything else is ErrInvalidSide.
func ParseSide(label string) (Side, error) {
	switch strings.ToUpper(label) {
	case "YES":
		return Yes, nil
	case "NO":
		return No, nil
	}
	return 0, ErrInvalidSide
}

// Cost calculates the LMSR cost function C(qYes, qNo) = b*ln(e^(qYes/b) +
// e^(qNo/b)), given a liquidity constant b and the number of outstanding
// shares on each side. The shared maximum exponent is factored out before
// exponentiating so the result stays finite even when q/b is far outside
// the range a float64 exponential can represent.
func Cost(qYes, qNo, b float64) float64 {
	m := math.Max(qYes/b, qNo/b)
	return b * (m + math.Log(math.Exp(qYes/b-m)+math.Exp(qNo/b-m)))
}

// CostForShares calculates the cost of buying `delta` shares of a side,
// given a liquidity constant b and the current outstanding shares on both
// sides. The caller applies the delta to its own share totals; this
// function never mutates anything.
func CostForShares(qYes, qNo, delta float64, side Side, b float64) (float64, error) {
	if delta <= 0 {
		return 0, ErrInvalidTrade
	}
	if b <= 0 {
		return 0, ErrInvalidLiquidity
	}
	costBefore := Cost(qYes, qNo, b)
	var costAfter float64
	if side == Yes {
		costAfter = Cost(qYes+delta, qNo, b)
	} else {
		costAfter = Cost(qYes, qNo+delta, b)
	}
	return costAfter - costBefore, nil
}

// PriceYes calculates the instantaneous probability of the YES outcome,
// e^(qYes/b) / (e^(qYes/b) + e^(qNo/b)), with the same max-exponent
// normalization as Cost. The result is strictly between 0 and 1 for
// finite inputs.
func PriceYes(qYes, qNo, b float64) float64 {
	m := math.Max(qYes/b, qNo/b)
	expYes := math.Exp(qYes/b - m)
	expNo := math.Exp(qNo/b - m)
	return expYes / (expYes + expNo)
}

// PriceNo is the complement of PriceYes. It is derived algebraically so
// that PriceYes + PriceNo is exactly 1.
func PriceNo(qYes, qNo, b float64) float64 {
	return 1 - PriceYes(qYes, qNo, b)
}
