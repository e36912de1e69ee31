package funds

import (
	"context"
	"sync"

	"github.com/warp/parametric-cover/cover"
)

// MemoryStore is an in-memory Store (for testing/dev).
type MemoryStore struct {
	mu          sync.RWMutex
	transfers   []Transfer
	byAccount   map[cover.Principal][]int
	idempotency map[string]bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byAccount:   make(map[cover.Principal][]int),
		idempotency: make(map[string]bool),
	}
}

func (m *MemoryStore) AppendTransfer(_ context.Context, t Transfer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t.IdempotencyKey != "" {
		if m.idempotency[t.IdempotencyKey] {
			return ErrDuplicateTransfer
		}
		m.idempotency[t.IdempotencyKey] = true
	}

	i := len(m.transfers)
	m.transfers = append(m.transfers, t)
	m.byAccount[t.From] = append(m.byAccount[t.From], i)
	m.byAccount[t.To] = append(m.byAccount[t.To], i)
	return nil
}

func (m *MemoryStore) LoadTransfers(_ context.Context, account cover.Principal) ([]Transfer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	idx := m.byAccount[account]
	result := make([]Transfer, len(idx))
	for i, j := range idx {
		result[i] = m.transfers[j]
	}
	return result, nil
}

func (m *MemoryStore) TransferExists(_ context.Context, idempotencyKey string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.idempotency[idempotencyKey], nil
}

var _ Store = (*MemoryStore)(nil)
