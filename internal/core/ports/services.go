package ports

import (
	"context"
	"errors"
	"time"

	"coin-mixer/internal/core/domain"

	"github.com/shopspring/decimal"
)

// --- Service Ports (Business Logic) ---

// MixerService is the capability shared by the in-memory engine and the
// remote-ledger adapter.
type MixerService interface {
	// IssueDepositAddress registers the private addresses and returns a fresh deposit address.
	IssueDepositAddress(ctx context.Context, privateAddresses []string) (string, error)
	// ExecuteTransfer moves value from sender (or domain.MintedAddress) to receiver.
	ExecuteTransfer(ctx context.Context, req TransferRequest) (*domain.Transaction, error)
	// BalanceOf returns zero for unknown addresses.
	BalanceOf(ctx context.Context, address string) (decimal.Decimal, error)
	// TransactionsFor returns the global log when address is empty and an
	// empty slice for unknown addresses.
	TransactionsFor(ctx context.Context, address string) ([]domain.Transaction, error)
	FeesCollected(ctx context.Context) (decimal.Decimal, error)
	MintedTotal(ctx context.Context) (decimal.Decimal, error)
	// Settle blocks until every deferred fan-out share has landed or ctx is done.
	Settle(ctx context.Context) error
}

// PrivateAddressBook is implemented by mixers that keep the private
// addresses registered to each deposit address.
type PrivateAddressBook interface {
	PrivateAddresses(address string) ([]string, bool)
}

// TransferRequest holds validated input for a transfer.
type TransferRequest struct {
	Sender   string
	Receiver string
	Amount   decimal.Decimal
}

// IsMinted returns true if the transfer creates new coins.
func (r TransferRequest) IsMinted() bool {
	return r.Sender == domain.MintedAddress
}

// Scheduler runs deferred fan-out shares.
type Scheduler interface {
	// Schedule runs task once after delay. It must not block the caller.
	Schedule(delay time.Duration, task func())
}

// --- Remote ledger (delegated mixer) ---

// ErrLedgerRejected is returned when the remote ledger answers a write with a
// non-2xx status, typically because the sender cannot cover the amount.
var ErrLedgerRejected = errors.New("ledger rejected request")

// LedgerClient talks to the remote ledger API used by the delegated mixer.
// Amounts travel as decimal strings.
type LedgerClient interface {
	// Mint asks the ledger to create coins for address.
	Mint(ctx context.Context, address string) error
	// Transfer moves amount between two ledger addresses. A non-2xx response
	// is reported as ErrLedgerRejected.
	Transfer(ctx context.Context, from, to, amount string) error
	AddressInfo(ctx context.Context, address string) (*LedgerAddressInfo, error)
	Transactions(ctx context.Context) ([]LedgerTransaction, error)
}

// LedgerAddressInfo is the remote view of one address.
type LedgerAddressInfo struct {
	Balance      string              `json:"balance"`
	Transactions []LedgerTransaction `json:"transactions"`
}

// LedgerTransaction is one entry of the remote ledger.
type LedgerTransaction struct {
	Timestamp   string `json:"timestamp"`
	FromAddress string `json:"fromAddress,omitempty"`
	ToAddress   string `json:"toAddress"`
	Amount      string `json:"amount"`
}

// --- Caching ---

// IdempotencyCache is the Redis-layer store of rendered transfer responses.
type IdempotencyCache interface {
	Get(ctx context.Context, key string) ([]byte, error) // Returns cached response JSON or nil
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// RateLimitStore counts requests per key in fixed windows.
type RateLimitStore interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (*RateLimitResult, error)
}

// RateLimitResult holds the outcome of a rate limit check.
type RateLimitResult struct {
	Allowed   bool
	Limit     int64
	Remaining int64
	ResetAt   int64 // Unix timestamp
}
