// Package fixedpoint implements the unsigned 18 decimal fixed point numbers
// used by Balancer pools for fees, weights and scaled balances.
package fixedpoint

import (
	"errors"
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

// Decimals is the number of decimals of a Bfp.
const Decimals = 18

var (
	oneWei = uint256.NewInt(1_000_000_000_000_000_000)

	ErrOverflow  = errors.New("fixedpoint: overflow")
	ErrUnderflow = errors.New("fixedpoint: underflow")
	ErrDivByZero = errors.New("fixedpoint: division by zero")
)

// Bfp is an unsigned fixed point number with 18 decimals, where a raw value
// of 1e18 represents 1.0. The zero value is 0.
type Bfp struct {
	raw uint256.Int
}

// Zero returns 0.0.
func Zero() Bfp { return Bfp{} }

// One returns 1.0.
func One() Bfp { return FromWei(oneWei) }

// FromWei interprets raw as an already scaled value.
func FromWei(raw *uint256.Int) Bfp {
	var b Bfp
	if raw != nil {
		b.raw.Set(raw)
	}
	return b
}

// FromUint64 returns the fixed point representation of the integer n.
func FromUint64(n uint64) (Bfp, error) {
	var b Bfp
	if _, overflow := b.raw.MulOverflow(uint256.NewInt(n), oneWei); overflow {
		return Bfp{}, ErrOverflow
	}
	return b, nil
}

// Wei returns a copy of the raw scaled value.
func (b Bfp) Wei() *uint256.Int {
	return new(uint256.Int).Set(&b.raw)
}

func (b Bfp) IsZero() bool { return b.raw.IsZero() }

func (b Bfp) Cmp(other Bfp) int { return b.raw.Cmp(&other.raw) }

func (b Bfp) Add(other Bfp) (Bfp, error) {
	var out Bfp
	if _, overflow := out.raw.AddOverflow(&b.raw, &other.raw); overflow {
		return Bfp{}, ErrOverflow
	}
	return out, nil
}

func (b Bfp) Sub(other Bfp) (Bfp, error) {
	var out Bfp
	if _, underflow := out.raw.SubOverflow(&b.raw, &other.raw); underflow {
		return Bfp{}, ErrUnderflow
	}
	return out, nil
}

// AbsDiff returns |b - other|.
func (b Bfp) AbsDiff(other Bfp) Bfp {
	var out Bfp
	if b.raw.Cmp(&other.raw) >= 0 {
		out.raw.Sub(&b.raw, &other.raw)
	} else {
		out.raw.Sub(&other.raw, &b.raw)
	}
	return out
}

// MulDown multiplies and rounds towards zero.
func (b Bfp) MulDown(other Bfp) (Bfp, error) {
	var out Bfp
	if _, overflow := out.raw.MulDivOverflow(&b.raw, &other.raw, oneWei); overflow {
		return Bfp{}, ErrOverflow
	}
	return out, nil
}

// DivDown divides and rounds towards zero.
func (b Bfp) DivDown(other Bfp) (Bfp, error) {
	if other.raw.IsZero() {
		return Bfp{}, ErrDivByZero
	}
	var out Bfp
	if _, overflow := out.raw.MulDivOverflow(&b.raw, oneWei, &other.raw); overflow {
		return Bfp{}, ErrOverflow
	}
	return out, nil
}

// String formats b as a decimal number, e.g. "0.003".
func (b Bfp) String() string {
	var intPart, fracPart uint256.Int
	intPart.DivMod(&b.raw, oneWei, &fracPart)
	if fracPart.IsZero() {
		return intPart.Dec()
	}
	frac := fracPart.Dec()
	frac = strings.Repeat("0", Decimals-len(frac)) + frac
	return intPart.Dec() + "." + strings.TrimRight(frac, "0")
}

// MarshalText encodes the raw value as a base 10 integer so that snapshots
// round trip without precision loss.
func (b Bfp) MarshalText() ([]byte, error) {
	return []byte(b.raw.Dec()), nil
}

func (b *Bfp) UnmarshalText(text []byte) error {
	v, err := uint256.FromDecimal(string(text))
	if err != nil {
		return fmt.Errorf("fixedpoint: invalid raw value %q: %w", text, err)
	}
	b.raw.Set(v)
	return nil
}
