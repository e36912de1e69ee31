// Package store provides in-memory cover.Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/parametric-cover/cover"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu       sync.RWMutex
	policies map[cover.PolicyID]cover.Policy
	byOwner  map[cover.Principal][]cover.PolicyID
	nextID   cover.PolicyID
}

func NewMemory() *Memory {
	return &Memory{
		policies: make(map[cover.PolicyID]cover.Policy),
		byOwner:  make(map[cover.Principal][]cover.PolicyID),
		nextID:   1,
	}
}

// NextID returns the current counter value and advances it.
func (m *Memory) NextID(_ context.Context) (cover.PolicyID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nextIDLocked(), nil
}

func (m *Memory) nextIDLocked() cover.PolicyID {
	id := m.nextID
	m.nextID++
	return id
}

func (m *Memory) Insert(_ context.Context, p cover.Policy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(p)
}

func (m *Memory) insertLocked(p cover.Policy) error {
	if _, ok := m.policies[p.ID]; ok {
		return cover.ErrDuplicateID
	}
	m.policies[p.ID] = p

	// Ids arrive in increasing order from NextID, but keep the index sorted
	// for records inserted with explicit ids.
	ids := m.byOwner[p.Owner]
	i := sort.Search(len(ids), func(i int) bool { return ids[i] > p.ID })
	ids = append(ids, 0)
	copy(ids[i+1:], ids[i:])
	ids[i] = p.ID
	m.byOwner[p.Owner] = ids
	return nil
}

func (m *Memory) Get(_ context.Context, id cover.PolicyID) (cover.Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getLocked(id)
}

func (m *Memory) getLocked(id cover.PolicyID) (cover.Policy, error) {
	p, ok := m.policies[id]
	if !ok {
		return cover.Policy{}, cover.ErrPolicyNotFound
	}
	return p, nil
}

func (m *Memory) Deactivate(_ context.Context, id cover.PolicyID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deactivateLocked(id)
}

func (m *Memory) deactivateLocked(id cover.PolicyID) error {
	p, ok := m.policies[id]
	if !ok {
		return cover.ErrPolicyNotFound
	}
	p.Active = false
	m.policies[id] = p
	return nil
}

func (m *Memory) ListByOwner(_ context.Context, owner cover.Principal) ([]cover.Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listLocked(owner), nil
}

func (m *Memory) listLocked(owner cover.Principal) []cover.Policy {
	ids := m.byOwner[owner]
	result := make([]cover.Policy, 0, len(ids))
	for _, id := range ids {
		result = append(result, m.policies[id])
	}
	return result
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (tm *TxMemory) WithTx(_ context.Context, fn func(cover.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()

	if err := fn(&txMemoryView{parent: tm}); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	policies map[cover.PolicyID]cover.Policy
	byOwner  map[cover.Principal][]cover.PolicyID
	nextID   cover.PolicyID
}

func (tm *TxMemory) snapshot() memorySnapshot {
	policies := make(map[cover.PolicyID]cover.Policy, len(tm.policies))
	for k, v := range tm.policies {
		policies[k] = v
	}
	byOwner := make(map[cover.Principal][]cover.PolicyID, len(tm.byOwner))
	for k, v := range tm.byOwner {
		byOwner[k] = append([]cover.PolicyID{}, v...)
	}
	return memorySnapshot{policies: policies, byOwner: byOwner, nextID: tm.nextID}
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.policies = s.policies
	tm.byOwner = s.byOwner
	tm.nextID = s.nextID
}

// txMemoryView runs against the parent while its lock is held by WithTx.
type txMemoryView struct {
	parent *TxMemory
}

func (tv *txMemoryView) NextID(_ context.Context) (cover.PolicyID, error) {
	return tv.parent.nextIDLocked(), nil
}

func (tv *txMemoryView) Insert(_ context.Context, p cover.Policy) error {
	return tv.parent.insertLocked(p)
}

func (tv *txMemoryView) Get(_ context.Context, id cover.PolicyID) (cover.Policy, error) {
	return tv.parent.getLocked(id)
}

func (tv *txMemoryView) Deactivate(_ context.Context, id cover.PolicyID) error {
	return tv.parent.deactivateLocked(id)
}

func (tv *txMemoryView) ListByOwner(_ context.Context, owner cover.Principal) ([]cover.Policy, error) {
	return tv.parent.listLocked(owner), nil
}

var (
	_ cover.Store   = (*Memory)(nil)
	_ cover.TxStore = (*TxMemory)(nil)
)
