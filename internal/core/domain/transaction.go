package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MintedAddress is the sender of newly created coins. It never maps to a wallet.
const MintedAddress = "(new)"

// Transaction represents an immutable ledger movement between two deposit addresses.
type Transaction struct {
	ID        uuid.UUID       `json:"id"`
	Seq       int64           `json:"seq"` // Position in the mixer's global log, starting at 1
	From      string          `json:"fromAddress"`
	To        string          `json:"toAddress"`
	Amount    decimal.Decimal `json:"amount"`
	Fee       decimal.Decimal `json:"fee"`
	CreatedAt time.Time       `json:"created_at"`
}

// NewTransaction builds a transaction record stamped with a fresh ID.
func NewTransaction(from, to string, amount decimal.Decimal) *Transaction {
	return &Transaction{
		ID:        uuid.New(),
		From:      from,
		To:        to,
		Amount:    amount,
		CreatedAt: time.Now().UTC(),
	}
}

// IsMinted returns true if the transaction created new coins.
func (t *Transaction) IsMinted() bool {
	return t.From == MintedAddress
}

// Involves returns true if address is the sender or the receiver.
func (t *Transaction) Involves(address string) bool {
	return t.From == address || t.To == address
}

// String renders the transaction the way the command shell prints it.
func (t *Transaction) String() string {
	return fmt.Sprintf("{'fromAddress': '%s', 'toAddress': '%s', 'amount': '%s'}",
		t.From, t.To, FormatAmount(t.Amount))
}

// FormatTransactions renders a list of transactions as a single bracketed line.
func FormatTransactions(txs []Transaction) string {
	parts := make([]string, len(txs))
	for i := range txs {
		parts[i] = txs[i].String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// FormatAmount prints an amount with at least one fractional digit (100 -> "100.0").
func FormatAmount(d decimal.Decimal) string {
	if d.Equal(d.Truncate(0)) {
		return d.StringFixed(1)
	}
	return d.String()
}
