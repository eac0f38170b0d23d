package models

import (
	"errors"
	"fmt"
)

// ErrInvalidMsg is returned for requests that are structurally wrong
var ErrInvalidMsg = errors.New("invalid message")

// QueryMsg is a tagged query. Exactly one variant is set.
type QueryMsg struct {
	Claims      *ClaimsQuery      `json:"claims,omitempty"`
	Staked      *StakedQuery      `json:"staked,omitempty"`
	Admin       *AdminQuery       `json:"admin,omitempty"`
	TotalWeight *TotalWeightQuery `json:"total_weight,omitempty"`
	ListMembers *ListMembersQuery `json:"list_members,omitempty"`
	Member      *MemberQuery      `json:"member,omitempty"`
	Hooks       *HooksQuery       `json:"hooks,omitempty"`
}

type ClaimsQuery struct {
	Address string `json:"address"`
}

type StakedQuery struct {
	Address string `json:"address"`
}

type AdminQuery struct{}

type TotalWeightQuery struct {
	AtHeight *uint64 `json:"at_height,omitempty"`
}

type ListMembersQuery struct {
	StartAfter *string `json:"start_after,omitempty"`
	Limit      *uint32 `json:"limit,omitempty"`
}

type MemberQuery struct {
	Addr     string  `json:"addr"`
	AtHeight *uint64 `json:"at_height,omitempty"`
}

type HooksQuery struct{}

// Validate checks that exactly one variant is set and its required fields are present
func (q QueryMsg) Validate() error {
	set := 0
	for _, v := range []bool{
		q.Claims != nil, q.Staked != nil, q.Admin != nil, q.TotalWeight != nil,
		q.ListMembers != nil, q.Member != nil, q.Hooks != nil,
	} {
		if v {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("%w: expected exactly one query variant, got %d", ErrInvalidMsg, set)
	}
	switch {
	case q.Claims != nil && q.Claims.Address == "":
		return fmt.Errorf("%w: claims.address is required", ErrInvalidMsg)
	case q.Staked != nil && q.Staked.Address == "":
		return fmt.Errorf("%w: staked.address is required", ErrInvalidMsg)
	case q.Member != nil && q.Member.Addr == "":
		return fmt.Errorf("%w: member.addr is required", ErrInvalidMsg)
	}
	return nil
}

// ExecuteMsg is a tagged state-changing call. Exactly one variant is set.
type ExecuteMsg struct {
	Bond        *BondMsg        `json:"bond,omitempty"`
	Unbond      *UnbondMsg      `json:"unbond,omitempty"`
	Claim       *ClaimMsg       `json:"claim,omitempty"`
	UpdateAdmin *UpdateAdminMsg `json:"update_admin,omitempty"`
	AddHook     *AddHookMsg     `json:"add_hook,omitempty"`
	RemoveHook  *RemoveHookMsg  `json:"remove_hook,omitempty"`
}

type BondMsg struct{}

type UnbondMsg struct {
	Tokens uint64 `json:"tokens"`
}

type ClaimMsg struct{}

type UpdateAdminMsg struct {
	Admin *string `json:"admin,omitempty"`
}

type AddHookMsg struct {
	Addr string `json:"addr"`
}

type RemoveHookMsg struct {
	Addr string `json:"addr"`
}

func (m ExecuteMsg) Validate() error {
	set := 0
	for _, v := range []bool{
		m.Bond != nil, m.Unbond != nil, m.Claim != nil,
		m.UpdateAdmin != nil, m.AddHook != nil, m.RemoveHook != nil,
	} {
		if v {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("%w: expected exactly one execute variant, got %d", ErrInvalidMsg, set)
	}
	switch {
	case m.AddHook != nil && m.AddHook.Addr == "":
		return fmt.Errorf("%w: add_hook.addr is required", ErrInvalidMsg)
	case m.RemoveHook != nil && m.RemoveHook.Addr == "":
		return fmt.Errorf("%w: remove_hook.addr is required", ErrInvalidMsg)
	}
	return nil
}

// ExecuteRequest frames an ExecuteMsg with its caller and attached funds
type ExecuteRequest struct {
	Sender string     `json:"sender"`
	Funds  []Coin     `json:"funds,omitempty"`
	Msg    ExecuteMsg `json:"msg"`
}

type ExecuteResponse struct {
	Height   uint64       `json:"height"`
	Diffs    []MemberDiff `json:"diffs"`
	Released []Coin       `json:"released,omitempty"`
}

type ClaimsResponse struct {
	Claims []Claim `json:"claims"`
}

type StakedResponse struct {
	BondedAmount    uint64   `json:"bonded_amount"`
	Denom           string   `json:"denom"`
	UnbondingPeriod Duration `json:"unbonding_period"`
}

type AdminResponse struct {
	Admin *string `json:"admin"`
}

type TotalWeightResponse struct {
	Weight uint64 `json:"weight"`
}

type MemberListResponse struct {
	Members []Member `json:"members"`
}

type MemberResponse struct {
	Weight uint64 `json:"weight"`
}

type HooksResponse struct {
	Hooks []string `json:"hooks"`
}
