/*
store.go - Persistence interface for policy records

PURPOSE:
  Defines the boundary between the lifecycle engine and storage. The Store
  owns identifier allocation and record mutation; it enforces uniqueness and
  existence but no business rules.

KEY INTERFACES:
  Store:   Id allocation, insert, lookup, deactivate, owner index
  TxStore: Store plus all-or-nothing execution (WithTx)

NO DELETES:
  There is no Delete method. A policy is inserted once and mutated at most
  once, by Deactivate.

IDENTIFIERS:
  NextID hands out 1, 2, 3, ... The counter is part of the transactional
  state: if WithTx rolls back, the id is handed out again by the next call.

IMPLEMENTATIONS:
  - cover/store/memory.go: In-memory, for tests and single-process use
  - store/sqlite/sqlite.go: Durable SQLite

SEE ALSO:
  - engine.go: The only writer
*/
package cover

import "context"

// =============================================================================
// STORE - Policy persistence
// =============================================================================

type Store interface {
	// NextID returns the next policy id and advances the counter.
	NextID(ctx context.Context) (PolicyID, error)

	// Insert adds a new policy. Returns ErrDuplicateID if the id exists.
	Insert(ctx context.Context, p Policy) error

	// Get returns the policy or ErrPolicyNotFound.
	Get(ctx context.Context, id PolicyID) (Policy, error)

	// Deactivate sets Active to false. Idempotent.
	// Returns ErrPolicyNotFound if the id is absent.
	Deactivate(ctx context.Context, id PolicyID) error

	// ListByOwner returns the owner's policies ordered by id.
	ListByOwner(ctx context.Context, owner Principal) ([]Policy, error)
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, everything fn did is rolled back, including NextID.
	WithTx(ctx context.Context, fn func(Store) error) error
}
