// Copyright 2025 Certen Protocol

package types

import (
	"fmt"
	"math/big"
)

// maxUint256 is the inclusive upper bound for an Amount: 2^256 - 1.
var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// Amount is a 256-bit unsigned integer. It wraps *big.Int rather than a
// fixed-width array so that arithmetic reuses
// the standard library, while NewAmount enforces the width and sign
// invariants at every construction site.
type Amount struct {
	v *big.Int
}

// ZeroAmount is the additive identity.
func ZeroAmount() Amount {
	return Amount{v: big.NewInt(0)}
}

// NewAmount validates that v is non-negative and fits in 256 bits and
// returns a defensive copy.
func NewAmount(v *big.Int) (Amount, error) {
	if v == nil {
		return Amount{}, fmt.Errorf("amount: nil value")
	}
	if v.Sign() < 0 {
		return Amount{}, fmt.Errorf("amount: negative value %s", v.String())
	}
	if v.Cmp(maxUint256) > 0 {
		return Amount{}, fmt.Errorf("amount: value %s exceeds uint256 range", v.String())
	}
	return Amount{v: new(big.Int).Set(v)}, nil
}

// AmountFromUint64 is a convenience constructor for small literal amounts
// (tests, fees).
func AmountFromUint64(v uint64) Amount {
	return Amount{v: new(big.Int).SetUint64(v)}
}

// Int returns a defensive copy of the underlying big.Int.
func (a Amount) Int() *big.Int {
	if a.v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(a.v)
}

func (a Amount) IsZero() bool {
	return a.v == nil || a.v.Sign() == 0
}

func (a Amount) Cmp(o Amount) int {
	return a.Int().Cmp(o.Int())
}

// Sub returns a-o. Callers must ensure a >= o; a negative result is
// rejected rather than silently wrapping.
func (a Amount) Sub(o Amount) (Amount, error) {
	return NewAmount(new(big.Int).Sub(a.Int(), o.Int()))
}

func (a Amount) Add(o Amount) (Amount, error) {
	return NewAmount(new(big.Int).Add(a.Int(), o.Int()))
}

func (a Amount) String() string {
	return a.Int().String()
}

// MarshalJSON encodes the amount as a decimal string so it survives
// round-trips through the coordinator store's JSON documents without
// float precision loss.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.String() + `"`), nil
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	if s == "" {
		*a = ZeroAmount()
		return nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return fmt.Errorf("amount: invalid decimal string %q", s)
	}
	amt, err := NewAmount(v)
	if err != nil {
		return err
	}
	*a = amt
	return nil
}

// ScaleByDecimals rescales an amount expressed in fromDecimals units to
// toDecimals units, for propagating a step's output across chains that
// represent the same underlying asset with different decimal precision.
func ScaleByDecimals(a Amount, fromDecimals, toDecimals int) (Amount, error) {
	if fromDecimals == toDecimals {
		return a, nil
	}
	v := a.Int()
	if toDecimals > fromDecimals {
		factor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(toDecimals-fromDecimals)), nil)
		v.Mul(v, factor)
	} else {
		factor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(fromDecimals-toDecimals)), nil)
		v.Div(v, factor)
	}
	return NewAmount(v)
}
