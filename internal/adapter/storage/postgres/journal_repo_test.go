package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"coin-mixer/internal/core/domain"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newJournalTx(from, to, amount string, seq int64) *domain.Transaction {
	tx := domain.NewTransaction(from, to, decimal.RequireFromString(amount))
	tx.Seq = seq
	tx.Fee = tx.Amount.Mul(decimal.RequireFromString("0.02"))
	tx.CreatedAt = time.Now().UTC().Truncate(time.Microsecond)
	return tx
}

func journalColumnNames() []string {
	return []string{"id", "seq", "from_address", "to_address", "amount", "fee", "created_at"}
}

func journalRow(rows *pgxmock.Rows, t *domain.Transaction) *pgxmock.Rows {
	return rows.AddRow(t.ID, t.Seq, t.From, t.To, t.Amount.String(), t.Fee.String(), t.CreatedAt)
}

func TestJournalRepo_EnsureSchema(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewJournalRepo(mock)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS mixer_transactions").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	assert.NoError(t, repo.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJournalRepo_Append(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewJournalRepo(mock)
	txn := newJournalTx(domain.MintedAddress, "d1", "100.0", 1)

	mock.ExpectExec("INSERT INTO mixer_transactions").
		WithArgs(txn.ID, int64(1), domain.MintedAddress, "d1", "100", "2", txn.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	assert.NoError(t, repo.Append(context.Background(), txn))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJournalRepo_Append_Error(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewJournalRepo(mock)

	mock.ExpectExec("INSERT INTO mixer_transactions").
		WillReturnError(errors.New("connection refused"))

	err = repo.Append(context.Background(), newJournalTx("a", "b", "1", 2))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert journal entry")
}

func TestJournalRepo_ListByAddress(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewJournalRepo(mock)
	t1 := newJournalTx(domain.MintedAddress, "d1", "100", 1)
	t2 := newJournalTx("d1", "d2", "90", 2)

	rows := pgxmock.NewRows(journalColumnNames())
	journalRow(rows, t1)
	journalRow(rows, t2)
	mock.ExpectQuery("SELECT .+ FROM mixer_transactions\\s+WHERE from_address = \\$1 OR to_address = \\$1\\s+ORDER BY created_at ASC, seq ASC").
		WithArgs("d1", 50).
		WillReturnRows(rows)

	txs, err := repo.ListByAddress(context.Background(), "d1", 50)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, t1.ID, txs[0].ID)
	assert.True(t, txs[0].Amount.Equal(decimal.NewFromInt(100)))
	assert.True(t, txs[1].Fee.Equal(decimal.RequireFromString("1.8")))
	assert.Equal(t, "d2", txs[1].To)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJournalRepo_ListAll_DefaultLimit(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewJournalRepo(mock)

	mock.ExpectQuery("SELECT .+ FROM mixer_transactions\\s+ORDER BY created_at ASC, seq ASC").
		WithArgs(DefaultJournalLimit).
		WillReturnRows(pgxmock.NewRows(journalColumnNames()))

	txs, err := repo.ListByAddress(context.Background(), "", 0)
	require.NoError(t, err)
	assert.NotNil(t, txs)
	assert.Empty(t, txs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJournalRepo_ListByAddress_BadAmount(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewJournalRepo(mock)

	rows := pgxmock.NewRows(journalColumnNames()).
		AddRow(uuid.New(), int64(1), "a", "b", "not-a-number", "0", time.Now())
	mock.ExpectQuery("SELECT .+ FROM mixer_transactions").
		WithArgs("a", 10).
		WillReturnRows(rows)

	_, err = repo.ListByAddress(context.Background(), "a", 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse journal amount")
}

func TestJournalRepo_ListByAddress_QueryError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewJournalRepo(mock)

	mock.ExpectQuery("SELECT .+ FROM mixer_transactions").
		WithArgs("a", 10).
		WillReturnError(errors.New("timeout"))

	_, err = repo.ListByAddress(context.Background(), "a", 10)
	assert.Error(t, err)
}
