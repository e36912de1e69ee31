/*
Package funds provides the funds-transfer collaborator of the cover engine.

PURPOSE:
  An append-only transfer ledger. Every premium, refund, reversal and
  deposit is one immutable Transfer row. Balances are never stored; they
  are computed by replaying an account's transfers.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: Transfers are never updated or deleted.
  2. NO OVERDRAFT: Only the External account may go negative.
  3. ALL-OR-NOTHING: A rejected transfer leaves no trace.
  4. IDEMPOTENT: A repeated idempotency key is rejected.

CORRECTIONS:
  A mistaken transfer is undone by a reversal transfer in the opposite
  direction. Both remain in the history.

ACCOUNTS:
  External: the outside world. Deposits come from it.
  Reserve:  configured by the deployment; premiums in, refunds out.
  Anything else is a policyholder account.

SEE ALSO:
  - cover/funds.go: The interface this implements
  - store/sqlite/sqlite.go: Durable Store
*/
package funds

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/parametric-cover/cover"
)

// External is the account outside the system. It may hold a negative balance.
const External cover.Principal = "external"

// =============================================================================
// TRANSFER - One immutable movement
// =============================================================================

type Transfer struct {
	ID             string
	From           cover.Principal
	To             cover.Principal
	Amount         cover.Amount
	Kind           cover.TransferKind
	PolicyID       cover.PolicyID
	IdempotencyKey string
	CreatedAt      time.Time
}

// Delta returns the signed effect of the transfer on the account.
func (t Transfer) Delta(account cover.Principal) decimal.Decimal {
	amount := amountDecimal(t.Amount)
	switch account {
	case t.To:
		return amount
	case t.From:
		return amount.Neg()
	default:
		return decimal.Zero
	}
}

// =============================================================================
// STORE - Persistence for transfers (append-only)
// =============================================================================

type Store interface {
	// AppendTransfer persists a transfer. Returns ErrDuplicateTransfer if the
	// idempotency key exists. This is the ONLY write operation.
	AppendTransfer(ctx context.Context, t Transfer) error

	// LoadTransfers returns every transfer into or out of the account,
	// oldest first.
	LoadTransfers(ctx context.Context, account cover.Principal) ([]Transfer, error)

	// TransferExists checks if an idempotency key was already used.
	TransferExists(ctx context.Context, idempotencyKey string) (bool, error)
}

// =============================================================================
// LEDGER
// =============================================================================

type Ledger struct {
	store Store
	now   func() time.Time

	// mu makes the balance check and the append one step.
	mu sync.Mutex
}

func NewLedger(store Store) *Ledger {
	return &Ledger{store: store, now: time.Now}
}

// Transfer implements cover.Funds.
func (l *Ledger) Transfer(ctx context.Context, req cover.TransferRequest) error {
	if req.Amount == 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidTransfer)
	}
	if req.From == req.To {
		return fmt.Errorf("%w: source and destination are both %q", ErrInvalidTransfer, req.From)
	}
	if req.From == "" || req.To == "" {
		return fmt.Errorf("%w: empty account", ErrInvalidTransfer)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if req.IdempotencyKey != "" {
		exists, err := l.store.TransferExists(ctx, req.IdempotencyKey)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicateTransfer
		}
	}

	if req.From != External {
		available, err := l.balance(ctx, req.From)
		if err != nil {
			return err
		}
		requested := amountDecimal(req.Amount)
		if available.LessThan(requested) {
			return &InsufficientFundsError{
				Account:   req.From,
				Available: available,
				Requested: requested,
			}
		}
	}

	return l.store.AppendTransfer(ctx, Transfer{
		ID:             uuid.NewString(),
		From:           req.From,
		To:             req.To,
		Amount:         req.Amount,
		Kind:           req.Kind,
		PolicyID:       req.PolicyID,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      l.now().UTC(),
	})
}

// Deposit credits an account from External.
func (l *Ledger) Deposit(ctx context.Context, account cover.Principal, amount cover.Amount) error {
	return l.Transfer(ctx, cover.TransferRequest{
		From:   External,
		To:     account,
		Amount: amount,
		Kind:   cover.TransferDeposit,
	})
}

// Balance computes the account's balance by replaying its transfers.
func (l *Ledger) Balance(ctx context.Context, account cover.Principal) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balance(ctx, account)
}

func (l *Ledger) balance(ctx context.Context, account cover.Principal) (decimal.Decimal, error) {
	transfers, err := l.store.LoadTransfers(ctx, account)
	if err != nil {
		return decimal.Zero, err
	}
	balance := decimal.Zero
	for _, t := range transfers {
		balance = balance.Add(t.Delta(account))
	}
	return balance, nil
}

// History returns the account's transfers, oldest first. Read-only.
func (l *Ledger) History(ctx context.Context, account cover.Principal) ([]Transfer, error) {
	return l.store.LoadTransfers(ctx, account)
}

func amountDecimal(a cover.Amount) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(uint64(a)), 0)
}

var _ cover.Funds = (*Ledger)(nil)
