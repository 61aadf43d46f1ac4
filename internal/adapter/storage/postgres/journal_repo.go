package postgres

import (
	"context"
	"fmt"

	"coin-mixer/internal/core/domain"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// journalSchema creates the journal table. Amounts are NUMERIC so they keep
// every decimal place the mixer produced.
const journalSchema = `CREATE TABLE IF NOT EXISTS mixer_transactions (
	id           UUID PRIMARY KEY,
	seq          BIGINT NOT NULL,
	from_address TEXT NOT NULL,
	to_address   TEXT NOT NULL,
	amount       NUMERIC NOT NULL,
	fee          NUMERIC NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_mixer_transactions_from ON mixer_transactions (from_address, created_at);
CREATE INDEX IF NOT EXISTS idx_mixer_transactions_to ON mixer_transactions (to_address, created_at)`

const journalColumns = `id, seq, from_address, to_address, amount::text, fee::text, created_at`

// DefaultJournalLimit caps journal listings when the caller gives no limit.
const DefaultJournalLimit = 100

// JournalRepo implements ports.TransactionJournal.
type JournalRepo struct {
	pool Pool
}

// NewJournalRepo creates a new JournalRepo.
func NewJournalRepo(pool Pool) *JournalRepo {
	return &JournalRepo{pool: pool}
}

// EnsureSchema creates the journal table and indexes if they are missing.
func (r *JournalRepo) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, journalSchema); err != nil {
		return fmt.Errorf("create journal schema: %w", err)
	}
	return nil
}

// Append records one executed transaction. Re-appending the same ID is a no-op.
func (r *JournalRepo) Append(ctx context.Context, t *domain.Transaction) error {
	query := `INSERT INTO mixer_transactions (id, seq, from_address, to_address, amount, fee, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`

	_, err := r.pool.Exec(ctx, query,
		t.ID, t.Seq, t.From, t.To,
		t.Amount.String(), t.Fee.String(), t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert journal entry: %w", err)
	}
	return nil
}

// ListByAddress returns journaled transactions touching address, oldest first.
// An empty address lists the whole journal.
func (r *JournalRepo) ListByAddress(ctx context.Context, address string, limit int) ([]domain.Transaction, error) {
	if limit <= 0 {
		limit = DefaultJournalLimit
	}

	var (
		rows pgx.Rows
		err  error
	)
	if address == "" {
		query := `SELECT ` + journalColumns + ` FROM mixer_transactions
			ORDER BY created_at ASC, seq ASC LIMIT $1`
		rows, err = r.pool.Query(ctx, query, limit)
	} else {
		query := `SELECT ` + journalColumns + ` FROM mixer_transactions
			WHERE from_address = $1 OR to_address = $1
			ORDER BY created_at ASC, seq ASC LIMIT $2`
		rows, err = r.pool.Query(ctx, query, address, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list journal: %w", err)
	}
	defer rows.Close()

	txs := []domain.Transaction{}
	for rows.Next() {
		t, err := scanJournalRow(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate journal rows: %w", err)
	}
	return txs, nil
}

func scanJournalRow(row pgx.Row) (domain.Transaction, error) {
	var (
		t           domain.Transaction
		amount, fee string
	)
	if err := row.Scan(&t.ID, &t.Seq, &t.From, &t.To, &amount, &fee, &t.CreatedAt); err != nil {
		return domain.Transaction{}, fmt.Errorf("scan journal row: %w", err)
	}

	var err error
	if t.Amount, err = decimal.NewFromString(amount); err != nil {
		return domain.Transaction{}, fmt.Errorf("parse journal amount %q: %w", amount, err)
	}
	if t.Fee, err = decimal.NewFromString(fee); err != nil {
		return domain.Transaction{}, fmt.Errorf("parse journal fee %q: %w", fee, err)
	}
	return t, nil
}
