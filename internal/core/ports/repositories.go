package ports

import (
	"context"

	"coin-mixer/internal/core/domain"
)

// TransactionJournal durably records executed transactions.
// The mixer keeps its own in-memory log; the journal is write-behind.
type TransactionJournal interface {
	Append(ctx context.Context, tx *domain.Transaction) error
	// ListByAddress returns journaled transactions touching address, oldest first.
	ListByAddress(ctx context.Context, address string, limit int) ([]domain.Transaction, error)
}
