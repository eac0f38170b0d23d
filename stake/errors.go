package stake

import (
	"errors"

	"stake-group/models"
)

var (
	ErrZeroAmount            = errors.New("amount must be greater than zero")
	ErrInsufficientBalance   = errors.New("unbond amount exceeds bonded amount")
	ErrNothingToClaim        = errors.New("no matured claims")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrMissingDenom          = errors.New("must send the staking denom")
	ErrExtraDenoms           = errors.New("sent denoms other than the staking denom")
	ErrHookAlreadyRegistered = errors.New("hook already registered")
	ErrHookNotRegistered     = errors.New("hook not registered")
	ErrInvalidConfig         = errors.New("invalid config")
	ErrNotInitialized        = errors.New("group not instantiated")
	ErrAlreadyInitialized    = errors.New("group already instantiated")
	ErrOverflow              = models.ErrOverflow
)
