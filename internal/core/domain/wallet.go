package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Wallet holds the mixer-side state behind a single deposit address.
// It is not safe for concurrent use; the mixer serializes access to it.
type Wallet struct {
	Address          string          `json:"address"`
	PrivateAddresses []string        `json:"private_addresses"`
	Balance          decimal.Decimal `json:"balance"`
	History          []*Transaction  `json:"-"` // Append-only, execution order
	CreatedAt        time.Time       `json:"created_at"`
}

// NewWallet creates an empty wallet bound to the given private addresses.
// Blank and repeated private addresses are dropped; order is preserved.
func NewWallet(address string, privateAddresses []string) *Wallet {
	seen := make(map[string]struct{}, len(privateAddresses))
	addrs := make([]string, 0, len(privateAddresses))
	for _, a := range privateAddresses {
		if a == "" {
			continue
		}
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		addrs = append(addrs, a)
	}

	return &Wallet{
		Address:          address,
		PrivateAddresses: addrs,
		Balance:          decimal.Zero,
		CreatedAt:        time.Now().UTC(),
	}
}

// NumAddresses returns how many credits a fan-out to this wallet is split into.
func (w *Wallet) NumAddresses() int {
	if len(w.PrivateAddresses) == 0 {
		return 1
	}
	return len(w.PrivateAddresses)
}

// CanCover returns true if the balance covers amount.
func (w *Wallet) CanCover(amount decimal.Decimal) bool {
	return w.Balance.GreaterThanOrEqual(amount)
}

func (w *Wallet) Credit(amount decimal.Decimal) {
	w.Balance = w.Balance.Add(amount)
}

func (w *Wallet) Debit(amount decimal.Decimal) {
	w.Balance = w.Balance.Sub(amount)
}

// Record appends a transaction to the wallet history.
func (w *Wallet) Record(tx *Transaction) {
	w.History = append(w.History, tx)
}

// Transactions returns a copy of the history in execution order.
func (w *Wallet) Transactions() []Transaction {
	out := make([]Transaction, len(w.History))
	for i, tx := range w.History {
		out[i] = *tx
	}
	return out
}
