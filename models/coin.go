package models

import (
	"errors"
	"fmt"
	"math/bits"
	"sort"
)

var (
	ErrOverflow  = errors.New("amount overflow")
	ErrUnderflow = errors.New("amount underflow")
)

// Coin is an amount of a single native denomination
type Coin struct {
	Denom  string `json:"denom"`
	Amount uint64 `json:"amount"`
}

func (c Coin) String() string {
	return fmt.Sprintf("%d%s", c.Amount, c.Denom)
}

// Balance is a set of coins. A normalized Balance is sorted by denom,
// has no zero amounts and no duplicate denoms.
type Balance []Coin

// Has returns true if the balance holds at least the required amount
func (b Balance) Has(required Coin) bool {
	return b.AmountOf(required.Denom) >= required.Amount
}

// AmountOf returns the amount held of denom
func (b Balance) AmountOf(denom string) uint64 {
	var total uint64
	for _, c := range b {
		if c.Denom == denom {
			total += c.Amount
		}
	}
	return total
}

// Normalize returns a normalized copy of b. Amounts of duplicate denoms
// are merged, failing with ErrOverflow if they don't fit.
func (b Balance) Normalize() (Balance, error) {
	out := make(Balance, 0, len(b))
	for _, c := range b {
		if c.Amount == 0 {
			continue
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Denom < out[j].Denom })

	merged := out[:0]
	for _, c := range out {
		n := len(merged)
		if n > 0 && merged[n-1].Denom == c.Denom {
			sum, carry := bits.Add64(merged[n-1].Amount, c.Amount, 0)
			if carry != 0 {
				return nil, fmt.Errorf("%s: %w", c.Denom, ErrOverflow)
			}
			merged[n-1].Amount = sum
			continue
		}
		merged = append(merged, c)
	}
	return merged, nil
}

// Add returns b with c added, keeping denom order
func (b Balance) Add(c Coin) (Balance, error) {
	out := make(Balance, len(b), len(b)+1)
	copy(out, b)
	if c.Amount == 0 {
		return out, nil
	}
	i := sort.Search(len(out), func(i int) bool { return out[i].Denom >= c.Denom })
	if i < len(out) && out[i].Denom == c.Denom {
		sum, carry := bits.Add64(out[i].Amount, c.Amount, 0)
		if carry != 0 {
			return nil, fmt.Errorf("%s: %w", c.Denom, ErrOverflow)
		}
		out[i].Amount = sum
		return out, nil
	}
	out = append(out, Coin{})
	copy(out[i+1:], out[i:])
	out[i] = c
	return out, nil
}

// Sub returns b with c removed. Denoms that fall to zero are dropped.
func (b Balance) Sub(c Coin) (Balance, error) {
	out := make(Balance, 0, len(b))
	found := c.Amount == 0
	for _, have := range b {
		if have.Denom != c.Denom {
			out = append(out, have)
			continue
		}
		if have.Amount < c.Amount {
			return nil, fmt.Errorf("%s < %s: %w", have, c, ErrUnderflow)
		}
		found = true
		if rest := have.Amount - c.Amount; rest > 0 {
			out = append(out, Coin{Denom: have.Denom, Amount: rest})
		}
	}
	if !found {
		return nil, fmt.Errorf("no %s: %w", c.Denom, ErrUnderflow)
	}
	return out, nil
}
