package app

import (
	"context"
	"sync"

	"coin-mixer/internal/core/domain"
)

// inMemoryJournal stands in for the PostgreSQL journal in end-to-end tests.
type inMemoryJournal struct {
	mu  sync.RWMutex
	txs []domain.Transaction
}

func newInMemoryJournal() *inMemoryJournal {
	return &inMemoryJournal{}
}

func (j *inMemoryJournal) Append(_ context.Context, tx *domain.Transaction) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, existing := range j.txs {
		if existing.ID == tx.ID {
			return nil
		}
	}
	j.txs = append(j.txs, *tx)
	return nil
}

func (j *inMemoryJournal) ListByAddress(_ context.Context, address string, limit int) ([]domain.Transaction, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := []domain.Transaction{}
	for _, tx := range j.txs {
		if address != "" && !tx.Involves(address) {
			continue
		}
		out = append(out, tx)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (j *inMemoryJournal) len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.txs)
}
