package models

// Config is fixed at instantiation
type Config struct {
	Denom           string   `json:"denom"`
	TokensPerWeight uint64   `json:"tokens_per_weight"`
	MinBond         uint64   `json:"min_bond"`
	UnbondingPeriod Duration `json:"unbonding_period"`
}

// InstantiateMsg sets up a fresh group
type InstantiateMsg struct {
	Config
	Admin *string `json:"admin,omitempty"`
}

// Member is a group member with its current weight
type Member struct {
	Addr   string `json:"addr"`
	Weight uint64 `json:"weight"`
}

// Claim is a pending release of unbonded tokens
type Claim struct {
	Amount    uint64     `json:"amount"`
	ReleaseAt Expiration `json:"release_at"`
}

// MemberDiff describes a weight change. A nil weight means the address
// held no weight on that side of the change.
type MemberDiff struct {
	Key string  `json:"key"`
	Old *uint64 `json:"old"`
	New *uint64 `json:"new"`
}

func NewMemberDiff(key string, oldWeight, newWeight uint64) MemberDiff {
	d := MemberDiff{Key: key}
	if oldWeight > 0 {
		d.Old = &oldWeight
	}
	if newWeight > 0 {
		d.New = &newWeight
	}
	return d
}

// MemberChangedHookMsg is delivered to every registered hook
type MemberChangedHookMsg struct {
	Diffs []MemberDiff `json:"diffs"`
}

// HookEnvelope is the wire form of a hook delivery
type HookEnvelope struct {
	MemberChangedHook *MemberChangedHookMsg `json:"member_changed_hook"`
}
