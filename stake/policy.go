package stake

import (
	"fmt"

	"stake-group/models"
)

// Policy converts bonded tokens into voting weight
type Policy struct {
	MinBond         uint64
	TokensPerWeight uint64
}

func NewPolicy(cfg models.Config) Policy {
	return Policy{MinBond: cfg.MinBond, TokensPerWeight: cfg.TokensPerWeight}
}

// Weight is zero below the minimum bond and floor(bonded / TokensPerWeight) from it on
func (p Policy) Weight(bonded uint64) uint64 {
	if bonded < p.MinBond || p.TokensPerWeight == 0 {
		return 0
	}
	return bonded / p.TokensPerWeight
}

// validateConfig checks cfg for a group instantiated at block. The unbonding
// period must yield a representable release point from there on.
func validateConfig(cfg models.Config, block models.BlockInfo) error {
	if cfg.TokensPerWeight == 0 {
		return wrapConfig("tokens_per_weight must be greater than zero")
	}
	if cfg.Denom == "" {
		return wrapConfig("denom is required")
	}
	if err := cfg.UnbondingPeriod.Validate(); err != nil {
		return wrapConfig(err.Error())
	}
	if _, err := cfg.UnbondingPeriod.After(block); err != nil {
		return wrapConfig("unbonding_period: " + err.Error())
	}
	return nil
}

func wrapConfig(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, msg)
}
