/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Durable storage for the cover engine and its funds collaborator. One
  database file holds the policy records, the id counter, the transfer
  ledger and the last checkpointed block height.

INTERFACES IMPLEMENTED:
  cover.Store:   Policy records and id allocation
  cover.TxStore: WithTx over a SQL transaction
  funds.Store:   Append-only transfer ledger

KEY TABLES:
  counters:    Named monotonic counters ('policy_id' starts at 1)
  policies:    One row per policy; only the active column is ever updated
  transfers:   Immutable ledger of funds movements
  chain_state: Single row with the last block height seen

NUMERIC COLUMNS:
  Amounts, block heights, location and threshold values are uint64. SQLite
  integers are signed, so they are stored as base-10 TEXT. Policy ids stay
  INTEGER for ordering; the counter never reaches the sign bit in practice.

APPEND-ONLY ENFORCEMENT:
  - No UPDATE or DELETE statements on transfers
  - No DELETE statements on policies

CONCURRENCY:
  Uses sync.RWMutex for thread-safety and a single open connection, so an
  open WithTx transaction never competes with another writer.

USAGE:
  store, err := sqlite.New("./data/cover.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := cover.NewEngine(store, funds.NewLedger(store), cfg)

SEE ALSO:
  - cover/store.go: Policy store interface
  - funds/ledger.go: Transfer store interface
  - cover/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/warp/parametric-cover/cover"
	"github.com/warp/parametric-cover/funds"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: ":memory:" databases are per-connection, and WithTx
	// must not race a second writer.
	db.SetMaxOpenConns(1)

	store := NewWithDB(db)
	if err := store.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// NewWithDB wraps an already-open, already-migrated database.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate(ctx context.Context) error {
	schema := `
	-- Named counters
	CREATE TABLE IF NOT EXISTS counters (
		name TEXT PRIMARY KEY,
		value INTEGER NOT NULL
	);
	INSERT OR IGNORE INTO counters (name, value) VALUES ('policy_id', 1);

	-- Policies
	CREATE TABLE IF NOT EXISTS policies (
		id INTEGER PRIMARY KEY,
		owner TEXT NOT NULL,
		coverage_amount TEXT NOT NULL,
		premium_amount TEXT NOT NULL,
		location_id TEXT NOT NULL,
		threshold_value TEXT NOT NULL,
		start_block TEXT NOT NULL,
		end_block TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Owner index (ListByOwner)
	CREATE INDEX IF NOT EXISTS idx_policies_owner
		ON policies(owner, id);

	-- Transfers (append-only ledger)
	CREATE TABLE IF NOT EXISTS transfers (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		from_account TEXT NOT NULL,
		to_account TEXT NOT NULL,
		amount TEXT NOT NULL,
		kind TEXT NOT NULL,
		policy_id INTEGER,
		idempotency_key TEXT UNIQUE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transfers_from
		ON transfers(from_account, seq);
	CREATE INDEX IF NOT EXISTS idx_transfers_to
		ON transfers(to_account, seq);
	CREATE INDEX IF NOT EXISTS idx_transfers_policy
		ON transfers(policy_id) WHERE policy_id IS NOT NULL;

	-- Chain height checkpoint
	CREATE TABLE IF NOT EXISTS chain_state (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		height TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// =============================================================================
// POLICY STORE (cover.Store interface)
// =============================================================================

const policyColumns = `id, owner, coverage_amount, premium_amount, location_id, threshold_value,
		       start_block, end_block, active`

// NextID allocates the next policy id.
func (s *Store) NextID(ctx context.Context) (cover.PolicyID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	id, err := nextID(ctx, sqlTx)
	if err != nil {
		return 0, err
	}
	return id, sqlTx.Commit()
}

func nextID(ctx context.Context, q querier) (cover.PolicyID, error) {
	var value int64
	err := q.QueryRowContext(ctx, "SELECT value FROM counters WHERE name = 'policy_id'").Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("failed to read policy counter: %w", err)
	}
	if _, err := q.ExecContext(ctx, "UPDATE counters SET value = value + 1 WHERE name = 'policy_id'"); err != nil {
		return 0, fmt.Errorf("failed to advance policy counter: %w", err)
	}
	return cover.PolicyID(value), nil
}

// Insert adds a new policy.
func (s *Store) Insert(ctx context.Context, p cover.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertPolicy(ctx, s.db, p)
}

func insertPolicy(ctx context.Context, q querier, p cover.Policy) error {
	query := `
		INSERT INTO policies
		(id, owner, coverage_amount, premium_amount, location_id, threshold_value,
		 start_block, end_block, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	now := time.Now().UTC().Format(time.RFC3339)
	_, err := q.ExecContext(ctx, query,
		int64(p.ID),
		string(p.Owner),
		formatUint(uint64(p.CoverageAmount)),
		formatUint(uint64(p.PremiumAmount)),
		formatUint(p.LocationID),
		formatUint(p.ThresholdValue),
		formatUint(uint64(p.StartBlock)),
		formatUint(uint64(p.EndBlock)),
		p.Active,
		now,
		now,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return cover.ErrDuplicateID
		}
		return fmt.Errorf("failed to insert policy: %w", err)
	}
	return nil
}

// Get retrieves a policy by id.
func (s *Store) Get(ctx context.Context, id cover.PolicyID) (cover.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getPolicy(ctx, s.db, id)
}

func getPolicy(ctx context.Context, q querier, id cover.PolicyID) (cover.Policy, error) {
	row := q.QueryRowContext(ctx, "SELECT "+policyColumns+" FROM policies WHERE id = ?", int64(id))
	p, err := scanPolicy(row)
	if errors.Is(err, sql.ErrNoRows) {
		return cover.Policy{}, cover.ErrPolicyNotFound
	}
	if err != nil {
		return cover.Policy{}, fmt.Errorf("failed to get policy %s: %w", id, err)
	}
	return p, nil
}

// Deactivate marks a policy cancelled. Idempotent.
func (s *Store) Deactivate(ctx context.Context, id cover.PolicyID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deactivatePolicy(ctx, s.db, id)
}

func deactivatePolicy(ctx context.Context, q querier, id cover.PolicyID) error {
	res, err := q.ExecContext(ctx,
		"UPDATE policies SET active = FALSE, updated_at = ? WHERE id = ?",
		time.Now().UTC().Format(time.RFC3339), int64(id),
	)
	if err != nil {
		return fmt.Errorf("failed to deactivate policy %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to deactivate policy %s: %w", id, err)
	}
	if n == 0 {
		return cover.ErrPolicyNotFound
	}
	return nil
}

// ListByOwner returns the owner's policies ordered by id.
func (s *Store) ListByOwner(ctx context.Context, owner cover.Principal) ([]cover.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listByOwner(ctx, s.db, owner)
}

func listByOwner(ctx context.Context, q querier, owner cover.Principal) ([]cover.Policy, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT "+policyColumns+" FROM policies WHERE owner = ? ORDER BY id ASC",
		string(owner),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query policies: %w", err)
	}
	defer rows.Close()

	policies := []cover.Policy{}
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan policy: %w", err)
		}
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPolicy(row scanner) (cover.Policy, error) {
	var (
		p         cover.Policy
		id        int64
		owner     string
		coverage  string
		premium   string
		location  string
		threshold string
		start     string
		end       string
	)

	if err := row.Scan(&id, &owner, &coverage, &premium, &location, &threshold, &start, &end, &p.Active); err != nil {
		return p, err
	}

	nums, err := parseUints(coverage, premium, location, threshold, start, end)
	if err != nil {
		return p, err
	}
	p.ID = cover.PolicyID(id)
	p.Owner = cover.Principal(owner)
	p.CoverageAmount = cover.Amount(nums[0])
	p.PremiumAmount = cover.Amount(nums[1])
	p.LocationID = nums[2]
	p.ThresholdValue = nums[3]
	p.StartBlock = cover.BlockHeight(nums[4])
	p.EndBlock = cover.BlockHeight(nums[5])
	return p, nil
}

// =============================================================================
// TRANSACTIONAL STORE (cover.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store cover.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) NextID(ctx context.Context) (cover.PolicyID, error) {
	return nextID(ctx, ts.tx)
}

func (ts *txStore) Insert(ctx context.Context, p cover.Policy) error {
	return insertPolicy(ctx, ts.tx, p)
}

func (ts *txStore) Get(ctx context.Context, id cover.PolicyID) (cover.Policy, error) {
	return getPolicy(ctx, ts.tx, id)
}

func (ts *txStore) Deactivate(ctx context.Context, id cover.PolicyID) error {
	return deactivatePolicy(ctx, ts.tx, id)
}

func (ts *txStore) ListByOwner(ctx context.Context, owner cover.Principal) ([]cover.Policy, error) {
	return listByOwner(ctx, ts.tx, owner)
}

// =============================================================================
// TRANSFER STORE (funds.Store interface)
// =============================================================================

// AppendTransfer adds a transfer to the ledger.
func (s *Store) AppendTransfer(ctx context.Context, t funds.Transfer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO transfers
		(id, from_account, to_account, amount, kind, policy_id, idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		t.ID,
		string(t.From),
		string(t.To),
		formatUint(uint64(t.Amount)),
		string(t.Kind),
		nullPolicyID(t.PolicyID),
		nullString(t.IdempotencyKey),
		t.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return funds.ErrDuplicateTransfer
		}
		return fmt.Errorf("failed to append transfer: %w", err)
	}
	return nil
}

// LoadTransfers returns every transfer touching the account, oldest first.
func (s *Store) LoadTransfers(ctx context.Context, account cover.Principal) ([]funds.Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, from_account, to_account, amount, kind, policy_id, idempotency_key, created_at
		FROM transfers
		WHERE from_account = ? OR to_account = ?
		ORDER BY seq ASC
	`

	rows, err := s.db.QueryContext(ctx, query, string(account), string(account))
	if err != nil {
		return nil, fmt.Errorf("failed to query transfers: %w", err)
	}
	defer rows.Close()

	transfers := []funds.Transfer{}
	for rows.Next() {
		var (
			t              funds.Transfer
			from, to, kind string
			amount         string
			policyID       sql.NullInt64
			idempotencyKey sql.NullString
			createdAt      string
		)
		if err := rows.Scan(&t.ID, &from, &to, &amount, &kind, &policyID, &idempotencyKey, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan transfer: %w", err)
		}
		value, err := strconv.ParseUint(amount, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse transfer amount %q: %w", amount, err)
		}
		t.From = cover.Principal(from)
		t.To = cover.Principal(to)
		t.Amount = cover.Amount(value)
		t.Kind = cover.TransferKind(kind)
		t.PolicyID = cover.PolicyID(policyID.Int64)
		t.IdempotencyKey = idempotencyKey.String
		t.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		transfers = append(transfers, t)
	}
	return transfers, rows.Err()
}

// TransferExists checks if an idempotency key exists.
func (s *Store) TransferExists(ctx context.Context, idempotencyKey string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM transfers WHERE idempotency_key = ?",
		idempotencyKey,
	).Scan(&count)

	return count > 0, err
}

// =============================================================================
// CHAIN CHECKPOINT (chain.Checkpointer)
// =============================================================================

// SaveHeight records the latest block height. A height below the saved one
// is ignored, so concurrent checkpointers can finish in any order.
func (s *Store) SaveHeight(ctx context.Context, height cover.BlockHeight) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	saved, err := loadHeight(ctx, s.db)
	if err != nil {
		return err
	}
	if height < saved {
		return nil
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO chain_state (id, height, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET height = excluded.height, updated_at = excluded.updated_at
	`, formatUint(uint64(height)), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to save chain height: %w", err)
	}
	return nil
}

// LoadHeight returns the last saved block height, or 0 if none was saved.
func (s *Store) LoadHeight(ctx context.Context) (cover.BlockHeight, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return loadHeight(ctx, s.db)
}

func loadHeight(ctx context.Context, q querier) (cover.BlockHeight, error) {
	var height string
	err := q.QueryRowContext(ctx, "SELECT height FROM chain_state WHERE id = 1").Scan(&height)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load chain height: %w", err)
	}
	h, err := strconv.ParseUint(height, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse chain height %q: %w", height, err)
	}
	return cover.BlockHeight(h), nil
}

// =============================================================================
// HELPERS
// =============================================================================

func formatUint(v uint64) string {
	return strconv.FormatUint(v, 10)
}

func parseUints(values ...string) ([]uint64, error) {
	out := make([]uint64, len(values))
	for i, v := range values {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %q: %w", v, err)
		}
		out[i] = n
	}
	return out, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullPolicyID(id cover.PolicyID) sql.NullInt64 {
	if id == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(id), Valid: true}
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintUnique ||
		se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

var (
	_ cover.TxStore = (*Store)(nil)
	_ funds.Store   = (*Store)(nil)
)
