package bank

import (
	"encoding/json"
	"errors"
	"fmt"

	"stake-group/db"
	"stake-group/models"
)

// ErrInsufficientFunds is returned when the custody account can't cover a send
var ErrInsufficientFunds = errors.New("insufficient funds")

var prefixBalance = []byte("bank/")

// Ledger holds native token balances. Bonded tokens sit in the custody
// account until a claim sends them back out. It writes through the same KV
// as the caller, so inside a transaction a failed call leaves no trace.
type Ledger struct {
	kv      db.KV
	custody string
}

// NewLedger creates a Ledger whose custody account is the given address
func NewLedger(kv db.KV, custody string) *Ledger {
	return &Ledger{kv: kv, custody: custody}
}

// Custody returns the custody account address
func (l *Ledger) Custody() string {
	return l.custody
}

// Balance returns the normalized balance of addr
func (l *Ledger) Balance(addr string) (models.Balance, error) {
	data, err := l.kv.Get(balanceKey(addr))
	if errors.Is(err, db.ErrNotFound) {
		return models.Balance{}, nil
	}
	if err != nil {
		return nil, err
	}
	var b models.Balance
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, err
	}
	return b, nil
}

// Receive credits coins already transferred by the caller to custody
func (l *Ledger) Receive(coins []models.Coin) error {
	b, err := l.Balance(l.custody)
	if err != nil {
		return err
	}
	for _, c := range coins {
		if b, err = b.Add(c); err != nil {
			return err
		}
	}
	return l.setBalance(l.custody, b)
}

// Send moves coins out of custody to the recipient
func (l *Ledger) Send(to string, coins []models.Coin) error {
	from, err := l.Balance(l.custody)
	if err != nil {
		return err
	}
	dest, err := l.Balance(to)
	if err != nil {
		return err
	}
	for _, c := range coins {
		if from, err = from.Sub(c); err != nil {
			return fmt.Errorf("%w: %v", ErrInsufficientFunds, err)
		}
		if dest, err = dest.Add(c); err != nil {
			return err
		}
	}
	if err := l.setBalance(l.custody, from); err != nil {
		return err
	}
	return l.setBalance(to, dest)
}

func (l *Ledger) setBalance(addr string, b models.Balance) error {
	if len(b) == 0 {
		return l.kv.Delete(balanceKey(addr))
	}
	data, err := json.Marshal(b)
	if err != nil {
		return err
	}
	return l.kv.Put(balanceKey(addr), data)
}

func balanceKey(addr string) []byte {
	return append(append([]byte{}, prefixBalance...), addr...)
}
