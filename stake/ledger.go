package stake

import (
	"fmt"
	"math/bits"

	"stake-group/models"
	"stake-group/repository"
)

// bondingLedger tracks how much each member has bonded
type bondingLedger struct {
	repo   *repository.Repository
	policy Policy
}

// bond adds amount to the member's bond and returns the weights it implies
// before and after.
func (l bondingLedger) bond(member string, amount uint64) (oldWeight, newWeight uint64, err error) {
	if amount == 0 {
		return 0, 0, ErrZeroAmount
	}
	bonded, err := l.repo.Bonded(member)
	if err != nil {
		return 0, 0, err
	}
	next, carry := bits.Add64(bonded, amount, 0)
	if carry != 0 {
		return 0, 0, fmt.Errorf("bond of %s: %w", member, ErrOverflow)
	}
	if err := l.repo.SetBonded(member, next); err != nil {
		return 0, 0, err
	}
	return l.policy.Weight(bonded), l.policy.Weight(next), nil
}

// unbond removes amount from the member's bond
func (l bondingLedger) unbond(member string, amount uint64) (oldWeight, newWeight uint64, err error) {
	if amount == 0 {
		return 0, 0, ErrZeroAmount
	}
	bonded, err := l.repo.Bonded(member)
	if err != nil {
		return 0, 0, err
	}
	if amount > bonded {
		return 0, 0, fmt.Errorf("%w: %d > %d", ErrInsufficientBalance, amount, bonded)
	}
	next := bonded - amount
	if err := l.repo.SetBonded(member, next); err != nil {
		return 0, 0, err
	}
	return l.policy.Weight(bonded), l.policy.Weight(next), nil
}

// claimsLedger keeps each member's pending claims in creation order
type claimsLedger struct {
	repo *repository.Repository
}

// create appends a new pending claim, claims are never merged
func (l claimsLedger) create(member string, amount uint64, releaseAt models.Expiration) error {
	claims, err := l.repo.Claims(member)
	if err != nil {
		return err
	}
	claims = append(claims, models.Claim{Amount: amount, ReleaseAt: releaseAt})
	return l.repo.SetClaims(member, claims)
}

// release removes every claim matured at block and returns their sum.
// Immature claims stay pending in their original order. When nothing has
// matured it fails with ErrNothingToClaim and changes nothing.
func (l claimsLedger) release(member string, block models.BlockInfo) (uint64, error) {
	claims, err := l.repo.Claims(member)
	if err != nil {
		return 0, err
	}

	var total uint64
	pending := make([]models.Claim, 0, len(claims))
	for _, c := range claims {
		if !c.ReleaseAt.IsExpired(block) {
			pending = append(pending, c)
			continue
		}
		var carry uint64
		total, carry = bits.Add64(total, c.Amount, 0)
		if carry != 0 {
			return 0, fmt.Errorf("claims of %s: %w", member, ErrOverflow)
		}
	}
	if total == 0 {
		return 0, ErrNothingToClaim
	}
	if err := l.repo.SetClaims(member, pending); err != nil {
		return 0, err
	}
	return total, nil
}
