package stake

import (
	"context"

	"stake-group/bank"
	"stake-group/models"
	"stake-group/repository"
)

const (
	DefaultLimit = 10
	MaxLimit     = 30
)

// view runs fn against a snapshot of the last committed state
func (e *Engine) view(fn func(repo *repository.Repository) error) error {
	snap, err := e.db.Snapshot()
	if err != nil {
		return err
	}
	defer snap.Release()
	return fn(repository.NewReadRepository(snap))
}

// Query dispatches a validated QueryMsg and returns the matching response
func (e *Engine) Query(ctx context.Context, q models.QueryMsg) (any, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	switch {
	case q.Claims != nil:
		return e.Claims(q.Claims.Address)
	case q.Staked != nil:
		return e.Staked(q.Staked.Address)
	case q.Admin != nil:
		return e.Admin()
	case q.TotalWeight != nil:
		return e.TotalWeight(q.TotalWeight.AtHeight)
	case q.ListMembers != nil:
		return e.ListMembers(q.ListMembers.StartAfter, q.ListMembers.Limit)
	case q.Member != nil:
		return e.Member(q.Member.Addr, q.Member.AtHeight)
	default:
		return e.Hooks()
	}
}

// Claims returns the pending claims of addr
func (e *Engine) Claims(addr string) (*models.ClaimsResponse, error) {
	resp := &models.ClaimsResponse{}
	err := e.view(func(repo *repository.Repository) (err error) {
		resp.Claims, err = repo.Claims(addr)
		return err
	})
	return resp, err
}

// Staked returns the amount bonded by addr along with the unbonding period
func (e *Engine) Staked(addr string) (*models.StakedResponse, error) {
	resp := &models.StakedResponse{}
	err := e.view(func(repo *repository.Repository) error {
		cfg, found, err := repo.GetConfig()
		if err != nil {
			return err
		}
		if !found {
			return ErrNotInitialized
		}
		bonded, err := repo.Bonded(addr)
		if err != nil {
			return err
		}
		resp.BondedAmount = bonded
		resp.Denom = cfg.Denom
		resp.UnbondingPeriod = cfg.UnbondingPeriod
		return nil
	})
	return resp, err
}

func (e *Engine) Admin() (*models.AdminResponse, error) {
	resp := &models.AdminResponse{}
	err := e.view(func(repo *repository.Repository) (err error) {
		resp.Admin, err = repo.GetAdmin()
		return err
	})
	return resp, err
}

// TotalWeight returns the current total, or the total as of atHeight
func (e *Engine) TotalWeight(atHeight *uint64) (*models.TotalWeightResponse, error) {
	resp := &models.TotalWeightResponse{}
	err := e.view(func(repo *repository.Repository) (err error) {
		if atHeight != nil {
			resp.Weight, err = repo.TotalAt(*atHeight)
		} else {
			resp.Weight, err = repo.Total()
		}
		return err
	})
	return resp, err
}

// ListMembers pages through members with positive weight ordered by address
func (e *Engine) ListMembers(startAfter *string, limit *uint32) (*models.MemberListResponse, error) {
	n := DefaultLimit
	if limit != nil {
		n = int(min(*limit, MaxLimit))
	}
	resp := &models.MemberListResponse{}
	err := e.view(func(repo *repository.Repository) (err error) {
		resp.Members, err = repo.Members(startAfter, n)
		return err
	})
	return resp, err
}

// Member returns the current weight of addr, or its weight as of atHeight
func (e *Engine) Member(addr string, atHeight *uint64) (*models.MemberResponse, error) {
	resp := &models.MemberResponse{}
	err := e.view(func(repo *repository.Repository) (err error) {
		if atHeight != nil {
			resp.Weight, err = repo.WeightAt(addr, *atHeight)
		} else {
			resp.Weight, err = repo.Weight(addr)
		}
		return err
	})
	return resp, err
}

func (e *Engine) Hooks() (*models.HooksResponse, error) {
	resp := &models.HooksResponse{}
	err := e.view(func(repo *repository.Repository) (err error) {
		resp.Hooks, err = repo.GetHooks()
		return err
	})
	return resp, err
}

// Balance returns the bank balance of addr
func (e *Engine) Balance(addr string) (models.Balance, error) {
	var balance models.Balance
	err := e.view(func(repo *repository.Repository) (err error) {
		balance, err = bank.NewLedger(repo.KV(), e.custody).Balance(addr)
		return err
	})
	return balance, err
}

// Block returns the current block of the engine's chain source
func (e *Engine) Block() models.BlockInfo {
	return e.chain.Current()
}
