package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"coin-mixer/internal/core/domain"
	"coin-mixer/internal/core/ports"
	"coin-mixer/pkg/apperror"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Split count range drawn by the remote mixer, which does not know the
// receiver's private addresses.
const (
	DefaultSplitMin = 2
	DefaultSplitMax = 6
)

// DefaultLedgerMintAmount is what the remote ledger credits on /create.
var DefaultLedgerMintAmount = decimal.NewFromInt(50)

// WithSplitRange bounds the split count of the remote mixer. The in-memory
// mixer ignores it and splits by the receiver's private address count.
func WithSplitRange(lo, hi int) MixerOption {
	return func(o *mixerOptions) { o.splitMin, o.splitMax = lo, hi }
}

// WithMintAmount sets the amount the remote ledger credits per mint. The
// in-memory mixer ignores it.
func WithMintAmount(amount decimal.Decimal) MixerOption {
	return func(o *mixerOptions) { o.mintAmount = amount }
}

// RemoteMixerService mixes through a remote ledger. Balances and history live
// on the ledger; fees, minted totals and deposit addresses are tracked here.
type RemoteMixerService struct {
	client ports.LedgerClient

	mu            sync.Mutex
	deposits      map[string]struct{}
	houseAddress  string
	feeRate       decimal.Decimal
	feesCollected decimal.Decimal
	mintedTotal   decimal.Decimal
	seq           int64
	rng           *rand.Rand // Guarded by mu
	shares        inflight

	maxDelay   time.Duration
	splitMin   int
	splitMax   int
	mintAmount decimal.Decimal // Fixed by the ledger
	scheduler  ports.Scheduler
	newAddress func() string
	log        zerolog.Logger
}

// NewRemoteMixerService creates a mixer backed by client.
func NewRemoteMixerService(
	client ports.LedgerClient,
	feeRate decimal.Decimal,
	log zerolog.Logger,
	opts ...MixerOption,
) (*RemoteMixerService, error) {
	if feeRate.IsNegative() || feeRate.GreaterThanOrEqual(one) {
		return nil, fmt.Errorf("fee rate %s outside [0, 1)", feeRate)
	}
	o := applyOptions(opts)
	if o.splitMin < 1 || o.splitMax < o.splitMin {
		return nil, fmt.Errorf("invalid split range [%d, %d]", o.splitMin, o.splitMax)
	}
	if !o.mintAmount.IsPositive() {
		return nil, fmt.Errorf("mint amount %s must be positive", o.mintAmount)
	}

	return &RemoteMixerService{
		client:        client,
		deposits:      make(map[string]struct{}),
		houseAddress:  "house_" + newDepositAddress(),
		feeRate:       feeRate,
		feesCollected: decimal.Zero,
		mintedTotal:   decimal.Zero,
		rng:           o.rng,
		maxDelay:      o.maxDelay,
		splitMin:      o.splitMin,
		splitMax:      o.splitMax,
		mintAmount:    o.mintAmount,
		scheduler:     o.scheduler,
		newAddress:    o.newAddress,
		log:           log,
	}, nil
}

// HouseAddress returns the ledger address that collects deposits and fees.
func (r *RemoteMixerService) HouseAddress() string {
	return r.houseAddress
}

// IssueDepositAddress implements ports.MixerService. The ledger has no notion of
// private addresses, so they are accepted and not stored.
func (r *RemoteMixerService) IssueDepositAddress(_ context.Context, privateAddresses []string) (string, error) {
	r.mu.Lock()
	address := r.newAddress()
	for {
		_, taken := r.deposits[address]
		if !taken && address != r.houseAddress && address != domain.MintedAddress {
			break
		}
		address = r.newAddress()
	}
	r.deposits[address] = struct{}{}
	r.mu.Unlock()

	r.log.Info().
		Str("deposit_address", address).
		Int("private_addresses", len(privateAddresses)).
		Msg("deposit address issued")
	return address, nil
}

// ExecuteTransfer implements ports.MixerService. The deposit into the house
// account is synchronous; a ledger rejection is reported as insufficient
// balance. The remaining shares are posted in the background. The ledger mints
// a fixed amount, so a minted transfer of any other amount is invalid.
func (r *RemoteMixerService) ExecuteTransfer(ctx context.Context, req ports.TransferRequest) (*domain.Transaction, error) {
	if req.Amount.IsNegative() {
		return nil, apperror.ErrInvalidAmount()
	}
	if req.IsMinted() && !req.Amount.Equal(r.mintAmount) {
		return nil, apperror.ErrInvalidAmount()
	}

	var err error
	if req.IsMinted() {
		err = r.client.Mint(ctx, r.houseAddress)
	} else {
		err = r.client.Transfer(ctx, req.Sender, r.houseAddress, req.Amount.String())
	}
	if err != nil {
		return nil, ledgerError(err)
	}

	fee := req.Amount.Mul(r.feeRate)
	net := req.Amount.Sub(fee)

	r.mu.Lock()
	k := splitCount(r.rng, r.splitMin, r.splitMax)
	plan := planFanOut(r.rng, k, net, r.maxDelay)
	if req.IsMinted() {
		r.mintedTotal = r.mintedTotal.Add(req.Amount)
	}
	r.feesCollected = r.feesCollected.Add(fee)
	r.seq++
	seq := r.seq
	r.mu.Unlock()

	tx := domain.NewTransaction(req.Sender, req.Receiver, req.Amount)
	tx.Seq = seq
	tx.Fee = fee

	r.payShare(ctx, req.Receiver, seq, plan[0].amount)

	r.shares.add(len(plan) - 1)
	for _, s := range plan[1:] {
		r.scheduler.Schedule(s.delay, func() {
			defer r.shares.done()
			r.payShare(context.Background(), req.Receiver, seq, s.amount)
		})
	}

	r.log.Info().
		Int64("seq", seq).
		Str("from", req.Sender).
		Str("to", req.Receiver).
		Str("amount", req.Amount.String()).
		Str("fee", fee.String()).
		Int("shares", len(plan)).
		Msg("remote transfer executed")

	return tx, nil
}

// payShare posts one house -> receiver credit. Failures are logged; the
// deposit has already reached the house account by then.
func (r *RemoteMixerService) payShare(ctx context.Context, receiver string, seq int64, amount decimal.Decimal) {
	if err := r.client.Transfer(ctx, r.houseAddress, receiver, amount.String()); err != nil {
		r.log.Error().
			Err(err).
			Int64("seq", seq).
			Str("to", receiver).
			Str("amount", amount.String()).
			Msg("failed to post fan-out share")
	}
}

// BalanceOf implements ports.MixerService.
func (r *RemoteMixerService) BalanceOf(ctx context.Context, address string) (decimal.Decimal, error) {
	info, err := r.client.AddressInfo(ctx, address)
	if err != nil {
		return decimal.Zero, apperror.ErrLedgerUnavailable(err)
	}
	if info.Balance == "" {
		return decimal.Zero, nil
	}
	balance, err := decimal.NewFromString(info.Balance)
	if err != nil {
		return decimal.Zero, apperror.ErrLedgerUnavailable(fmt.Errorf("parsing balance %q: %w", info.Balance, err))
	}
	return balance, nil
}

// TransactionsFor implements ports.MixerService.
func (r *RemoteMixerService) TransactionsFor(ctx context.Context, address string) ([]domain.Transaction, error) {
	var (
		remote []ports.LedgerTransaction
		err    error
	)
	if address == "" {
		remote, err = r.client.Transactions(ctx)
	} else {
		var info *ports.LedgerAddressInfo
		info, err = r.client.AddressInfo(ctx, address)
		if info != nil {
			remote = info.Transactions
		}
	}
	if err != nil {
		return nil, apperror.ErrLedgerUnavailable(err)
	}

	out := make([]domain.Transaction, 0, len(remote))
	for i, lt := range remote {
		tx, err := fromLedger(lt)
		if err != nil {
			return nil, apperror.ErrLedgerUnavailable(err)
		}
		tx.Seq = int64(i + 1)
		out = append(out, tx)
	}
	return out, nil
}

// FeesCollected implements ports.MixerService.
func (r *RemoteMixerService) FeesCollected(_ context.Context) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.feesCollected, nil
}

// MintedTotal implements ports.MixerService.
func (r *RemoteMixerService) MintedTotal(_ context.Context) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mintedTotal, nil
}

// Settle implements ports.MixerService.
func (r *RemoteMixerService) Settle(ctx context.Context) error {
	return r.shares.wait(ctx)
}

func ledgerError(err error) error {
	if errors.Is(err, ports.ErrLedgerRejected) {
		return apperror.ErrInsufficientBalance()
	}
	return apperror.ErrLedgerUnavailable(err)
}

// fromLedger converts a remote entry. A missing sender means minted coins.
func fromLedger(lt ports.LedgerTransaction) (domain.Transaction, error) {
	amount, err := decimal.NewFromString(lt.Amount)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("parsing amount %q: %w", lt.Amount, err)
	}
	from := lt.FromAddress
	if from == "" {
		from = domain.MintedAddress
	}

	tx := domain.Transaction{
		From:   from,
		To:     lt.ToAddress,
		Amount: amount,
		Fee:    decimal.Zero,
	}
	if ts, err := time.Parse(time.RFC3339Nano, lt.Timestamp); err == nil {
		tx.CreatedAt = ts.UTC()
	}
	return tx, nil
}
