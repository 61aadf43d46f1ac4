package service

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"coin-mixer/internal/core/domain"
	"coin-mixer/internal/core/ports"
	"coin-mixer/internal/core/ports/mocks"
	"coin-mixer/pkg/apperror"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

// syncScheduler lands every deferred share immediately.
type syncScheduler struct{}

func (syncScheduler) Schedule(_ time.Duration, task func()) { task() }

// queueScheduler holds deferred shares until flush is called.
type queueScheduler struct {
	mu    sync.Mutex
	tasks []func()
}

func (q *queueScheduler) Schedule(_ time.Duration, task func()) {
	q.mu.Lock()
	q.tasks = append(q.tasks, task)
	q.mu.Unlock()
}

func (q *queueScheduler) flush() {
	q.mu.Lock()
	tasks := q.tasks
	q.tasks = nil
	q.mu.Unlock()
	for _, task := range tasks {
		task()
	}
}

func (q *queueScheduler) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

var feeRate = decimal.RequireFromString("0.02")

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), "want %s, got %s", want, got)
}

func newTestMixer(t *testing.T, opts ...MixerOption) *MixerServiceImpl {
	t.Helper()
	base := []MixerOption{
		WithScheduler(syncScheduler{}),
		WithRand(rand.New(rand.NewPCG(1, 2))),
		WithMaxShareDelay(0),
	}
	m, err := NewMixerService(feeRate, nil, zerolog.Nop(), append(base, opts...)...)
	require.NoError(t, err)
	return m
}

func issue(t *testing.T, m *MixerServiceImpl, private ...string) string {
	t.Helper()
	addr, err := m.IssueDepositAddress(context.Background(), private)
	require.NoError(t, err)
	return addr
}

func send(m *MixerServiceImpl, from, to, amount string) (*domain.Transaction, error) {
	return m.ExecuteTransfer(context.Background(), ports.TransferRequest{
		Sender:   from,
		Receiver: to,
		Amount:   dec(amount),
	})
}

func balance(t *testing.T, m *MixerServiceImpl, addr string) decimal.Decimal {
	t.Helper()
	b, err := m.BalanceOf(context.Background(), addr)
	require.NoError(t, err)
	return b
}

func (m *MixerServiceImpl) house() decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.houseBalance
}

// ==================== Construction ====================

func TestNewMixerService_RejectsFeeRateOutOfRange(t *testing.T) {
	for _, rate := range []string{"-0.01", "1", "1.5"} {
		_, err := NewMixerService(dec(rate), nil, zerolog.Nop())
		assert.Error(t, err, "rate %s", rate)
	}

	m, err := NewMixerService(decimal.Zero, nil, zerolog.Nop())
	require.NoError(t, err)
	assert.NotNil(t, m)
}

// ==================== Address Issuance ====================

func TestIssueDepositAddress_Format(t *testing.T) {
	m := newTestMixer(t)

	addr := issue(t, m, "a", "b")

	assert.Len(t, addr, 32)
	assertDecimal(t, "0", balance(t, m, addr))
	private, ok := m.PrivateAddresses(addr)
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, private)
}

func TestIssueDepositAddress_Unique(t *testing.T) {
	m := newTestMixer(t)
	seen := make(map[string]struct{})

	for i := 0; i < 1000; i++ {
		addr := issue(t, m, "p")
		_, dup := seen[addr]
		require.False(t, dup, "address %s issued twice", addr)
		seen[addr] = struct{}{}
	}
}

func TestIssueDepositAddress_RegeneratesOnCollision(t *testing.T) {
	candidates := []string{"dup", "dup", domain.MintedAddress, "fresh"}
	var calls int
	gen := func() string {
		c := candidates[calls]
		calls++
		return c
	}
	m := newTestMixer(t, WithAddressGenerator(gen))

	first := issue(t, m, "a")
	second := issue(t, m, "b")

	assert.Equal(t, "dup", first)
	assert.Equal(t, "fresh", second)
	assert.Equal(t, 4, calls)
}

func TestIssueDepositAddress_Concurrent(t *testing.T) {
	m := newTestMixer(t)
	const n = 200

	addrs := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			addr, err := m.IssueDepositAddress(context.Background(), []string{"x"})
			assert.NoError(t, err)
			addrs[i] = addr
		}(i)
	}
	wg.Wait()

	unique := make(map[string]struct{}, n)
	for _, a := range addrs {
		unique[a] = struct{}{}
	}
	assert.Len(t, unique, n)
}

// ==================== Transfers ====================

func TestExecuteTransfer_MintedDeposit(t *testing.T) {
	m := newTestMixer(t)
	d1 := issue(t, m, "a", "b", "c")

	tx, err := send(m, domain.MintedAddress, d1, "100.0")
	require.NoError(t, err)

	assert.True(t, tx.IsMinted())
	assert.Equal(t, int64(1), tx.Seq)
	assertDecimal(t, "2", tx.Fee)

	minted, _ := m.MintedTotal(context.Background())
	assertDecimal(t, "100", minted)
	assertDecimal(t, "98", balance(t, m, d1))

	history, _ := m.TransactionsFor(context.Background(), d1)
	require.Len(t, history, 1)
	assert.Equal(t, domain.MintedAddress, history[0].From)
	assert.Equal(t, d1, history[0].To)
	assertDecimal(t, "100", history[0].Amount)
}

func TestExecuteTransfer_BetweenWallets(t *testing.T) {
	m := newTestMixer(t)
	d1 := issue(t, m, "a")
	d2 := issue(t, m, "b", "c", "d")

	_, err := send(m, domain.MintedAddress, d1, "100.0")
	require.NoError(t, err)
	_, err = send(m, d1, d2, "90.0")
	require.NoError(t, err)

	assertDecimal(t, "8", balance(t, m, d1))
	assertDecimal(t, "88.2", balance(t, m, d2))

	h1, _ := m.TransactionsFor(context.Background(), d1)
	h2, _ := m.TransactionsFor(context.Background(), d2)
	assert.Len(t, h1, 2)
	assert.Len(t, h2, 1)
	assert.Equal(t, h1[1].ID, h2[0].ID)
}

func TestExecuteTransfer_InsufficientBalance(t *testing.T) {
	m := newTestMixer(t)
	d1 := issue(t, m, "a")
	d2 := issue(t, m, "b", "c")
	_, _ = send(m, domain.MintedAddress, d1, "100.0")
	_, _ = send(m, d1, d2, "90.0")

	_, err := send(m, d1, d2, "200.0")

	require.Error(t, err)
	assert.True(t, apperror.HasCode(err, apperror.CodeInsufficientBalance))
	assertDecimal(t, "8", balance(t, m, d1))
	assertDecimal(t, "88.2", balance(t, m, d2))
	all, _ := m.TransactionsFor(context.Background(), "")
	assert.Len(t, all, 2)
}

func TestExecuteTransfer_UnknownSender(t *testing.T) {
	m := newTestMixer(t)
	d1 := issue(t, m, "a")

	_, err := send(m, "0x90y6", d1, "1")

	require.Error(t, err)
	addr, ok := apperror.UnknownAddress(err)
	require.True(t, ok)
	assert.Equal(t, "0x90y6", addr)
}

func TestExecuteTransfer_UnknownReceiver(t *testing.T) {
	m := newTestMixer(t)
	d1 := issue(t, m, "a")
	_, _ = send(m, domain.MintedAddress, d1, "10")

	_, err := send(m, d1, "nowhere", "1")

	addr, ok := apperror.UnknownAddress(err)
	require.True(t, ok)
	assert.Equal(t, "nowhere", addr)
	assertDecimal(t, "9.8", balance(t, m, d1))
}

func TestExecuteTransfer_CheckOrder(t *testing.T) {
	m := newTestMixer(t)

	// Both ends unknown: the sender is reported first.
	_, err := send(m, "ghost-sender", "ghost-receiver", "5")
	addr, ok := apperror.UnknownAddress(err)
	require.True(t, ok)
	assert.Equal(t, "ghost-sender", addr)

	// Known but empty sender, unknown receiver: receiver beats balance.
	d1 := issue(t, m, "a")
	_, err = send(m, d1, "ghost-receiver", "5")
	addr, ok = apperror.UnknownAddress(err)
	require.True(t, ok)
	assert.Equal(t, "ghost-receiver", addr)
}

func TestExecuteTransfer_NegativeAmount(t *testing.T) {
	m := newTestMixer(t)
	d1 := issue(t, m, "a")

	_, err := send(m, domain.MintedAddress, d1, "-1")

	assert.True(t, apperror.HasCode(err, apperror.CodeInvalidAmount))
	minted, _ := m.MintedTotal(context.Background())
	assert.True(t, minted.IsZero())
}

func TestExecuteTransfer_ZeroAmount(t *testing.T) {
	m := newTestMixer(t)
	d1 := issue(t, m, "a")
	d2 := issue(t, m, "b")

	_, err := send(m, d1, d2, "0")

	require.NoError(t, err)
	assertDecimal(t, "0", balance(t, m, d1))
	assertDecimal(t, "0", balance(t, m, d2))
}

func TestExecuteTransfer_SelfTransferRecordedOnce(t *testing.T) {
	m := newTestMixer(t)
	d1 := issue(t, m, "a", "b")
	_, _ = send(m, domain.MintedAddress, d1, "50")

	_, err := send(m, d1, d1, "10")
	require.NoError(t, err)

	assertDecimal(t, "48.8", balance(t, m, d1))
	history, _ := m.TransactionsFor(context.Background(), d1)
	assert.Len(t, history, 2)
}

func TestExecuteTransfer_FeesAccumulate(t *testing.T) {
	m := newTestMixer(t)
	d1 := issue(t, m, "a")
	d2 := issue(t, m, "b", "c")
	d3 := issue(t, m, "d", "e", "f")

	_, err := send(m, domain.MintedAddress, d1, "100")
	require.NoError(t, err)
	_, err = send(m, d1, d2, "50")
	require.NoError(t, err)
	_, err = send(m, d1, d3, "30")
	require.NoError(t, err)

	fees, _ := m.FeesCollected(context.Background())
	assertDecimal(t, "3.6", fees)
	assertDecimal(t, "18", balance(t, m, d1))
	assertDecimal(t, "49", balance(t, m, d2))
	assertDecimal(t, "29.4", balance(t, m, d3))
	assertDecimal(t, "3.6", m.house())
}

func TestExecuteTransfer_Conservation(t *testing.T) {
	m := newTestMixer(t)
	addrs := []string{
		issue(t, m, "a"),
		issue(t, m, "b", "c"),
		issue(t, m, "d", "e", "f", "g"),
	}
	rng := rand.New(rand.NewPCG(10, 20))

	expectedFees := decimal.Zero
	for i := 0; i < 300; i++ {
		from := domain.MintedAddress
		if i%4 != 0 {
			from = addrs[rng.IntN(len(addrs))]
		}
		to := addrs[rng.IntN(len(addrs))]
		amount := decimal.NewFromInt(int64(rng.IntN(5000))).Shift(-2)

		_, err := m.ExecuteTransfer(context.Background(), ports.TransferRequest{Sender: from, Receiver: to, Amount: amount})
		if err != nil {
			require.True(t, apperror.HasCode(err, apperror.CodeInsufficientBalance), "unexpected error: %v", err)
			continue
		}
		expectedFees = expectedFees.Add(amount.Mul(feeRate))
	}

	fees, _ := m.FeesCollected(context.Background())
	minted, _ := m.MintedTotal(context.Background())
	assert.True(t, fees.Equal(expectedFees))

	held := decimal.Zero
	for _, a := range addrs {
		held = held.Add(balance(t, m, a))
	}
	assert.True(t, held.Add(fees).Equal(minted), "held %s + fees %s != minted %s", held, fees, minted)
	assert.True(t, m.house().Equal(fees))
}

func TestExecuteTransfer_LogCompleteness(t *testing.T) {
	m := newTestMixer(t)
	d1 := issue(t, m, "a")
	d2 := issue(t, m, "b")
	d3 := issue(t, m, "c")

	_, _ = send(m, domain.MintedAddress, d1, "10")
	_, _ = send(m, domain.MintedAddress, d2, "10")
	_, _ = send(m, d1, d2, "5")
	_, _ = send(m, d2, d3, "1")

	all, _ := m.TransactionsFor(context.Background(), "")
	require.Len(t, all, 4)
	for i, tx := range all {
		assert.Equal(t, int64(i+1), tx.Seq)
	}

	for _, addr := range []string{d1, d2, d3} {
		history, _ := m.TransactionsFor(context.Background(), addr)
		var want int
		for _, tx := range all {
			if tx.To == addr || (!tx.IsMinted() && tx.From == addr) {
				want++
			}
		}
		assert.Len(t, history, want, "address %s", addr)
	}
}

func TestExecuteTransfer_ReturnsCopy(t *testing.T) {
	m := newTestMixer(t)
	d1 := issue(t, m, "a")

	tx, err := send(m, domain.MintedAddress, d1, "10")
	require.NoError(t, err)
	tx.Amount = dec("999")

	history, _ := m.TransactionsFor(context.Background(), d1)
	assertDecimal(t, "10", history[0].Amount)
}

// ==================== Fan-out ====================

func TestExecuteTransfer_FirstShareIsAtomicWithDebit(t *testing.T) {
	sched := &queueScheduler{}
	m := newTestMixer(t, WithScheduler(sched))
	d1 := issue(t, m, "a")
	d2 := issue(t, m, "p1", "p2", "p3", "p4")

	_, err := send(m, domain.MintedAddress, d1, "100")
	require.NoError(t, err)
	require.Equal(t, 0, sched.len())

	_, err = send(m, d1, d2, "50")
	require.NoError(t, err)

	// Value left d1 and sits either with d2 or in the house account.
	assert.Equal(t, 3, sched.len())
	assertDecimal(t, "48", balance(t, m, d1))
	assertDecimal(t, "52", balance(t, m, d2).Add(m.house()))

	sched.flush()

	assertDecimal(t, "49", balance(t, m, d2))
	assertDecimal(t, "3", m.house())
	require.NoError(t, m.Settle(context.Background()))
}

func TestExecuteTransfer_SharesPerPrivateAddress(t *testing.T) {
	ctrl := gomock.NewController(t)
	sched := mocks.NewMockScheduler(ctrl)
	m := newTestMixer(t, WithScheduler(sched), WithMaxShareDelay(2500*time.Millisecond))
	d1 := issue(t, m, "a", "b", "c", "d", "e")

	var tasks []func()
	sched.EXPECT().Schedule(gomock.Any(), gomock.Any()).Times(4).DoAndReturn(func(delay time.Duration, task func()) {
		assert.LessOrEqual(t, delay, 2500*time.Millisecond)
		tasks = append(tasks, task)
	})

	_, err := send(m, domain.MintedAddress, d1, "100")
	require.NoError(t, err)

	for _, task := range tasks {
		task()
	}
	assertDecimal(t, "98", balance(t, m, d1))
}

func TestExecuteTransfer_SplitRangeIgnored(t *testing.T) {
	sched := &queueScheduler{}
	m := newTestMixer(t, WithScheduler(sched), WithSplitRange(6, 6), WithMintAmount(dec("7")))
	d1 := issue(t, m, "a", "b")

	// Any minted amount is fine in memory.
	_, err := send(m, domain.MintedAddress, d1, "10")
	require.NoError(t, err)

	assert.Equal(t, 1, sched.len())
	sched.flush()
	assertDecimal(t, "9.8", balance(t, m, d1))
}

func TestExecuteTransfer_NoPrivateAddresses(t *testing.T) {
	sched := &queueScheduler{}
	m := newTestMixer(t, WithScheduler(sched))
	d1 := issue(t, m)

	_, err := send(m, domain.MintedAddress, d1, "10")
	require.NoError(t, err)

	assert.Equal(t, 0, sched.len())
	assertDecimal(t, "9.8", balance(t, m, d1))
}

func TestExecuteTransfer_TimerScheduler(t *testing.T) {
	m := newTestMixer(t, WithScheduler(NewTimerScheduler()), WithMaxShareDelay(20*time.Millisecond))
	d1 := issue(t, m, "a", "b", "c", "d", "e", "f")

	_, err := send(m, domain.MintedAddress, d1, "100")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Settle(ctx))
	assertDecimal(t, "98", balance(t, m, d1))
}

// ==================== Settle ====================

func TestSettle_NothingPending(t *testing.T) {
	m := newTestMixer(t)
	assert.NoError(t, m.Settle(context.Background()))
}

func TestSettle_TimesOut(t *testing.T) {
	sched := &queueScheduler{}
	m := newTestMixer(t, WithScheduler(sched))
	d1 := issue(t, m, "a", "b", "c")
	_, err := send(m, domain.MintedAddress, d1, "10")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err = m.Settle(ctx)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 fan-out shares still pending")
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestSettle_WakesAllWaiters(t *testing.T) {
	sched := &queueScheduler{}
	m := newTestMixer(t, WithScheduler(sched))
	d1 := issue(t, m, "a", "b")
	_, err := send(m, domain.MintedAddress, d1, "10")
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			errs <- m.Settle(ctx)
		}()
	}

	time.Sleep(10 * time.Millisecond)
	sched.flush()
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
}

// ==================== Queries ====================

func TestBalanceOf_UnknownAddressIsZero(t *testing.T) {
	m := newTestMixer(t)
	assertDecimal(t, "0", balance(t, m, "unknown"))
}

func TestTransactionsFor_UnknownAddressIsEmpty(t *testing.T) {
	m := newTestMixer(t)

	txs, err := m.TransactionsFor(context.Background(), "unknown")

	require.NoError(t, err)
	assert.NotNil(t, txs)
	assert.Empty(t, txs)
}

func TestTransactionsFor_Idempotent(t *testing.T) {
	m := newTestMixer(t)
	d1 := issue(t, m, "a")
	d2 := issue(t, m, "b")
	_, _ = send(m, domain.MintedAddress, d1, "20")
	_, _ = send(m, d1, d2, "7.5")

	for _, addr := range []string{"", d1, d2} {
		first, _ := m.TransactionsFor(context.Background(), addr)
		second, _ := m.TransactionsFor(context.Background(), addr)
		assert.Equal(t, first, second)
	}
}

// ==================== Journal ====================

func TestExecuteTransfer_Journals(t *testing.T) {
	ctrl := gomock.NewController(t)
	journal := mocks.NewMockTransactionJournal(ctrl)
	m, err := NewMixerService(feeRate, journal, zerolog.Nop(), WithScheduler(syncScheduler{}))
	require.NoError(t, err)
	d1 := issue(t, m, "a")

	journal.EXPECT().Append(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, tx *domain.Transaction) error {
		assert.Equal(t, d1, tx.To)
		assertDecimal(t, "0.2", tx.Fee)
		return nil
	})

	_, err = send(m, domain.MintedAddress, d1, "10")
	require.NoError(t, err)
}

func TestExecuteTransfer_JournalFailureIsNotFatal(t *testing.T) {
	ctrl := gomock.NewController(t)
	journal := mocks.NewMockTransactionJournal(ctrl)
	m, err := NewMixerService(feeRate, journal, zerolog.Nop(), WithScheduler(syncScheduler{}))
	require.NoError(t, err)
	d1 := issue(t, m, "a")

	journal.EXPECT().Append(gomock.Any(), gomock.Any()).Return(errors.New("connection refused"))

	_, err = send(m, domain.MintedAddress, d1, "10")
	require.NoError(t, err)
	assertDecimal(t, "9.8", balance(t, m, d1))
}

// ==================== Concurrency ====================

func TestExecuteTransfer_ConcurrentNeverOverdraws(t *testing.T) {
	m := newTestMixer(t, WithScheduler(NewTimerScheduler()), WithMaxShareDelay(time.Millisecond))
	a := issue(t, m, "a")
	b := issue(t, m, "b")
	_, err := send(m, domain.MintedAddress, a, "100")
	require.NoError(t, err)

	const workers = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	var succeeded int
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			from, to := a, b
			if i%2 == 1 {
				from, to = b, a
			}
			_, err := send(m, from, to, "7")
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.True(t, apperror.HasCode(err, apperror.CodeInsufficientBalance))
		}(i)
	}
	wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Settle(ctx))

	balA, balB := balance(t, m, a), balance(t, m, b)
	assert.False(t, balA.IsNegative())
	assert.False(t, balB.IsNegative())

	fees, _ := m.FeesCollected(context.Background())
	expected := dec("2").Add(dec("0.14").Mul(decimal.NewFromInt(int64(succeeded))))
	assert.True(t, fees.Equal(expected), "fees %s, expected %s", fees, expected)
	assertDecimal(t, "100", balA.Add(balB).Add(fees))
}
