package service

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"coin-mixer/internal/core/domain"
	"coin-mixer/internal/core/ports"
	"coin-mixer/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// DefaultMaxShareDelay bounds the wait before each deferred fan-out share.
const DefaultMaxShareDelay = 2500 * time.Millisecond

// MixerOption customizes a mixer at construction time.
type MixerOption func(*mixerOptions)

type mixerOptions struct {
	scheduler  ports.Scheduler
	rng        *rand.Rand
	maxDelay   time.Duration
	newAddress func() string
	splitMin   int
	splitMax   int
	mintAmount decimal.Decimal
}

// WithScheduler replaces the timer-based scheduler for deferred shares.
func WithScheduler(s ports.Scheduler) MixerOption {
	return func(o *mixerOptions) { o.scheduler = s }
}

// WithRand fixes the random source used for splits and delays.
func WithRand(rng *rand.Rand) MixerOption {
	return func(o *mixerOptions) { o.rng = rng }
}

// WithMaxShareDelay sets the upper bound of the per-share delay.
func WithMaxShareDelay(d time.Duration) MixerOption {
	return func(o *mixerOptions) { o.maxDelay = d }
}

// WithAddressGenerator replaces the deposit address generator.
func WithAddressGenerator(gen func() string) MixerOption {
	return func(o *mixerOptions) { o.newAddress = gen }
}

func applyOptions(opts []MixerOption) mixerOptions {
	o := mixerOptions{
		scheduler:  NewTimerScheduler(),
		rng:        rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		maxDelay:   DefaultMaxShareDelay,
		newAddress: newDepositAddress,
		splitMin:   DefaultSplitMin,
		splitMax:   DefaultSplitMax,
		mintAmount: DefaultLedgerMintAmount,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// newDepositAddress returns 32 hex characters.
func newDepositAddress() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// MixerServiceImpl is the in-memory mixing engine. It implements ports.MixerService.
type MixerServiceImpl struct {
	mu            sync.RWMutex
	wallets       map[string]*domain.Wallet
	houseAddress  string
	houseBalance  decimal.Decimal
	feeRate       decimal.Decimal
	feesCollected decimal.Decimal
	mintedTotal   decimal.Decimal
	ledger        []*domain.Transaction // Global log, execution order
	rng           *rand.Rand            // Guarded by mu
	shares        inflight

	maxDelay   time.Duration
	scheduler  ports.Scheduler
	newAddress func() string
	journal    ports.TransactionJournal // nil = journaling disabled
	log        zerolog.Logger
}

// NewMixerService creates a mixer charging feeRate on every transfer.
// journal may be nil.
func NewMixerService(
	feeRate decimal.Decimal,
	journal ports.TransactionJournal,
	log zerolog.Logger,
	opts ...MixerOption,
) (*MixerServiceImpl, error) {
	if feeRate.IsNegative() || feeRate.GreaterThanOrEqual(one) {
		return nil, fmt.Errorf("fee rate %s outside [0, 1)", feeRate)
	}

	o := applyOptions(opts)

	m := &MixerServiceImpl{
		wallets:       make(map[string]*domain.Wallet),
		houseAddress:  newDepositAddress(),
		houseBalance:  decimal.Zero,
		feeRate:       feeRate,
		feesCollected: decimal.Zero,
		mintedTotal:   decimal.Zero,
		rng:           o.rng,
		maxDelay:      o.maxDelay,
		scheduler:     o.scheduler,
		newAddress:    o.newAddress,
		journal:       journal,
		log:           log,
	}

	log.Info().Str("fee_rate", feeRate.String()).Dur("max_share_delay", o.maxDelay).Msg("mixer initialised")
	return m, nil
}

// IssueDepositAddress implements ports.MixerService. It never fails.
func (m *MixerServiceImpl) IssueDepositAddress(_ context.Context, privateAddresses []string) (string, error) {
	m.mu.Lock()
	address := m.newAddress()
	for m.isTaken(address) {
		address = m.newAddress()
	}
	wallet := domain.NewWallet(address, privateAddresses)
	m.wallets[address] = wallet
	m.mu.Unlock()

	m.log.Info().
		Str("deposit_address", address).
		Int("private_addresses", len(wallet.PrivateAddresses)).
		Msg("deposit address issued")

	return address, nil
}

// isTaken must be called with mu held.
func (m *MixerServiceImpl) isTaken(address string) bool {
	if address == m.houseAddress || address == domain.MintedAddress {
		return true
	}
	_, ok := m.wallets[address]
	return ok
}

// ExecuteTransfer implements ports.MixerService.
//
// The precondition checks, the debit into the house account and the first
// fan-out credit happen in one critical section. The remaining credits are
// scheduled after the lock is released and lock only for their own increment.
func (m *MixerServiceImpl) ExecuteTransfer(ctx context.Context, req ports.TransferRequest) (*domain.Transaction, error) {
	if req.Amount.IsNegative() {
		return nil, apperror.ErrInvalidAmount()
	}
	minted := req.IsMinted()

	m.mu.Lock()

	var sender *domain.Wallet
	if !minted {
		w, ok := m.wallets[req.Sender]
		if !ok {
			m.mu.Unlock()
			return nil, apperror.ErrUnknownAddress(req.Sender)
		}
		sender = w
	}
	receiver, ok := m.wallets[req.Receiver]
	if !ok {
		m.mu.Unlock()
		return nil, apperror.ErrUnknownAddress(req.Receiver)
	}
	if !minted && !sender.CanCover(req.Amount) {
		m.mu.Unlock()
		return nil, apperror.ErrInsufficientBalance()
	}

	fee := req.Amount.Mul(m.feeRate)
	net := req.Amount.Sub(fee)

	// Sender -> house. Minted coins enter the house directly and pay the fee too.
	if minted {
		m.mintedTotal = m.mintedTotal.Add(req.Amount)
	} else {
		sender.Debit(req.Amount)
	}
	m.houseBalance = m.houseBalance.Add(req.Amount)

	// House -> receiver, first share now.
	plan := planFanOut(m.rng, receiver.NumAddresses(), net, m.maxDelay)
	m.houseBalance = m.houseBalance.Sub(plan[0].amount)
	receiver.Credit(plan[0].amount)

	tx := domain.NewTransaction(req.Sender, req.Receiver, req.Amount)
	tx.Fee = fee
	tx.Seq = int64(len(m.ledger) + 1)
	m.ledger = append(m.ledger, tx)
	receiver.Record(tx)
	if !minted && sender != receiver {
		sender.Record(tx)
	}
	m.feesCollected = m.feesCollected.Add(fee)

	m.mu.Unlock()

	m.shares.add(len(plan) - 1)
	for _, s := range plan[1:] {
		m.scheduleShare(req.Receiver, tx.Seq, s)
	}

	if m.journal != nil {
		if err := m.journal.Append(ctx, tx); err != nil {
			m.log.Warn().Err(err).Int64("seq", tx.Seq).Msg("failed to journal transaction")
		}
	}

	m.log.Info().
		Int64("seq", tx.Seq).
		Str("from", req.Sender).
		Str("to", req.Receiver).
		Str("amount", req.Amount.String()).
		Str("fee", fee.String()).
		Int("shares", len(plan)).
		Msg("transfer executed")

	result := *tx
	return &result, nil
}

func (m *MixerServiceImpl) scheduleShare(receiver string, seq int64, s share) {
	m.scheduler.Schedule(s.delay, func() {
		m.landShare(receiver, s.amount)
		m.shares.done()
		m.log.Debug().
			Int64("seq", seq).
			Str("to", receiver).
			Str("amount", s.amount.String()).
			Dur("delay", s.delay).
			Msg("fan-out share landed")
	})
}

// landShare credits one deferred share from the house account.
func (m *MixerServiceImpl) landShare(receiver string, amount decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Wallets are never removed, so the receiver is still registered.
	m.wallets[receiver].Credit(amount)
	m.houseBalance = m.houseBalance.Sub(amount)
}

// Settle implements ports.MixerService.
func (m *MixerServiceImpl) Settle(ctx context.Context) error {
	return m.shares.wait(ctx)
}

// BalanceOf implements ports.MixerService.
func (m *MixerServiceImpl) BalanceOf(_ context.Context, address string) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	w, ok := m.wallets[address]
	if !ok {
		return decimal.Zero, nil
	}
	return w.Balance, nil
}

// TransactionsFor implements ports.MixerService.
func (m *MixerServiceImpl) TransactionsFor(_ context.Context, address string) ([]domain.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if address == "" {
		out := make([]domain.Transaction, len(m.ledger))
		for i, tx := range m.ledger {
			out[i] = *tx
		}
		return out, nil
	}

	w, ok := m.wallets[address]
	if !ok {
		return []domain.Transaction{}, nil
	}
	return w.Transactions(), nil
}

// FeesCollected implements ports.MixerService.
func (m *MixerServiceImpl) FeesCollected(_ context.Context) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.feesCollected, nil
}

// MintedTotal implements ports.MixerService.
func (m *MixerServiceImpl) MintedTotal(_ context.Context) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mintedTotal, nil
}

var _ ports.PrivateAddressBook = (*MixerServiceImpl)(nil)

// PrivateAddresses returns the private addresses registered to a deposit address.
func (m *MixerServiceImpl) PrivateAddresses(address string) ([]string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	w, ok := m.wallets[address]
	if !ok {
		return nil, false
	}
	return append([]string(nil), w.PrivateAddresses...), true
}
