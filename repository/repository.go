package repository

import (
	"encoding/binary"
	"encoding/json"
	"errors"

	"stake-group/db"
	"stake-group/models"
)

// Key layout. Every address-keyed prefix is followed by the raw address,
// so iteration order is lexicographic by address.
var (
	keyConfig = []byte("config")
	keyAdmin  = []byte("admin")
	keyHooks  = []byte("hooks")
	keyTotal  = []byte("total")

	prefixBonded    = []byte("bonded/")
	prefixMembers   = []byte("members/")
	prefixMemberLog = []byte("member_log/")
	prefixTotalLog  = []byte("total_log/")
	prefixClaims    = []byte("claims/")
)

// Repository is the typed view of the group's state over a KV. Built on a
// transaction it sees and buffers that transaction's writes; built on a
// snapshot it is read-only.
type Repository struct {
	kv db.KV
}

// NewRepository creates a Repository writing through kv
func NewRepository(kv db.KV) *Repository {
	return &Repository{kv: kv}
}

// NewReadRepository creates a Repository that rejects writes
func NewReadRepository(r db.Reader) *Repository {
	return &Repository{kv: db.ReadOnly(r)}
}

// KV exposes the underlying store so collaborators can share the transaction
func (r *Repository) KV() db.KV {
	return r.kv
}

// GetConfig returns the stored config, found is false before instantiation
func (r *Repository) GetConfig() (cfg models.Config, found bool, err error) {
	found, err = r.getJSON(keyConfig, &cfg)
	return cfg, found, err
}

func (r *Repository) PutConfig(cfg models.Config) error {
	return r.putJSON(keyConfig, cfg)
}

// GetAdmin returns the admin address or nil when there is none
func (r *Repository) GetAdmin() (*string, error) {
	var admin *string
	if _, err := r.getJSON(keyAdmin, &admin); err != nil {
		return nil, err
	}
	return admin, nil
}

func (r *Repository) SetAdmin(admin *string) error {
	if admin == nil {
		return r.kv.Delete(keyAdmin)
	}
	return r.putJSON(keyAdmin, admin)
}

// GetHooks returns the registered hooks in registration order
func (r *Repository) GetHooks() ([]string, error) {
	hooks := []string{}
	if _, err := r.getJSON(keyHooks, &hooks); err != nil {
		return nil, err
	}
	return hooks, nil
}

func (r *Repository) SetHooks(hooks []string) error {
	return r.putJSON(keyHooks, hooks)
}

// Bonded returns the amount bonded by addr, zero for unknown addresses
func (r *Repository) Bonded(addr string) (uint64, error) {
	data, err := r.kv.Get(addrKey(prefixBonded, addr))
	if errors.Is(err, db.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(data), nil
}

// SetBonded stores the bonded amount. The record is kept at zero so the
// member stays known after a full unbond.
func (r *Repository) SetBonded(addr string, amount uint64) error {
	return r.kv.Put(addrKey(prefixBonded, addr), encodeUint64(amount))
}

// Claims returns the pending claims of addr in creation order
func (r *Repository) Claims(addr string) ([]models.Claim, error) {
	claims := []models.Claim{}
	if _, err := r.getJSON(addrKey(prefixClaims, addr), &claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// SetClaims replaces the pending claims of addr, an empty list removes the record
func (r *Repository) SetClaims(addr string, claims []models.Claim) error {
	key := addrKey(prefixClaims, addr)
	if len(claims) == 0 {
		return r.kv.Delete(key)
	}
	return r.putJSON(key, claims)
}

func (r *Repository) getJSON(key []byte, v any) (bool, error) {
	data, err := r.kv.Get(key)
	if errors.Is(err, db.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal(data, v)
}

func (r *Repository) putJSON(key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return r.kv.Put(key, data)
}

func addrKey(prefix []byte, addr string) []byte {
	key := make([]byte, 0, len(prefix)+len(addr))
	key = append(key, prefix...)
	return append(key, addr...)
}

func encodeUint64(v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return buf[:]
}
