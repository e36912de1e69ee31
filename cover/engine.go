/*
engine.go - Policy lifecycle engine

PURPOSE:
  Decides whether a policy may be issued or cancelled, computes the refund,
  and drives the two collaborators (Store and Funds) so that each operation
  is observed as one atomic unit.

OPERATIONS:
  Issue:  validate -> collect premium -> allocate id + insert (one store tx)
  Cancel: lookup -> owner/active/expiry checks -> pay refund -> deactivate
  Quote:  Cancel's checks and arithmetic without any mutation

VALIDATION ORDER (Issue, first failure wins):
  1. premium > 0           ErrInvalidAmount
  2. coverage > 0          ErrInvalidAmount
  3. duration > 0          ErrInvalidDuration (also on block overflow)
  4. deployment limits     ErrOutOfRange

ATOMICITY:
  The funds transfer is the only step that may fail for reasons outside
  the engine, so it runs first. If it is rejected nothing was written. If
  the store write that follows fails, the transfer is undone with a
  reversal transfer in the opposite direction. Corrections are always new
  transfers, never edits.

CONCURRENCY:
  A single mutex serializes Issue and Cancel. Two cancellations of the same
  policy can never both observe Active == true.

SEE ALSO:
  - refund.go: Proration
  - store.go, funds.go: Collaborator interfaces
*/
package cover

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/rs/zerolog"
)

// EngineConfig holds the engine's dependencies beyond the two collaborators.
type EngineConfig struct {
	// Reserve is the account premiums are paid into and refunds paid from.
	Reserve Principal
	Limits  Limits

	Logger   *zerolog.Logger // nil disables logging
	Recorder Recorder        // nil disables metrics
}

type Engine struct {
	store    TxStore
	funds    Funds
	reserve  Principal
	limits   Limits
	log      zerolog.Logger
	recorder Recorder

	mu sync.Mutex
}

func NewEngine(store TxStore, funds Funds, cfg EngineConfig) *Engine {
	e := &Engine{
		store:    store,
		funds:    funds,
		reserve:  cfg.Reserve,
		limits:   cfg.Limits,
		log:      zerolog.Nop(),
		recorder: nopRecorder{},
	}
	if cfg.Logger != nil {
		e.log = cfg.Logger.With().Str("component", "engine").Logger()
	}
	if cfg.Recorder != nil {
		e.recorder = cfg.Recorder
	}
	return e
}

// Reserve returns the reserve account.
func (e *Engine) Reserve() Principal { return e.reserve }

// =============================================================================
// ISSUE
// =============================================================================

// Issue validates the request, collects the premium and records a new
// active policy. It returns the new policy's id.
func (e *Engine) Issue(ctx context.Context, req IssueRequest) (PolicyID, error) {
	if err := e.validateIssue(req); err != nil {
		e.recorder.Rejected("issue", err)
		return 0, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	premium := TransferRequest{
		From:           req.Sender,
		To:             e.reserve,
		Amount:         req.PremiumAmount,
		Kind:           TransferPremium,
		IdempotencyKey: req.IdempotencyKey,
	}
	if err := e.funds.Transfer(ctx, premium); err != nil {
		terr := &TransferError{Request: premium, Err: err}
		e.recorder.Rejected("issue", terr)
		e.log.Warn().Err(err).Str("sender", string(req.Sender)).Uint64("premium", uint64(req.PremiumAmount)).
			Msg("premium transfer rejected")
		return 0, terr
	}

	var policy Policy
	err := e.store.WithTx(ctx, func(s Store) error {
		id, err := s.NextID(ctx)
		if err != nil {
			return err
		}
		policy = Policy{
			ID:             id,
			Owner:          req.Sender,
			CoverageAmount: req.CoverageAmount,
			PremiumAmount:  req.PremiumAmount,
			LocationID:     req.LocationID,
			ThresholdValue: req.ThresholdValue,
			StartBlock:     req.CurrentBlock,
			EndBlock:       req.CurrentBlock + BlockHeight(req.Duration),
			Active:         true,
		}
		return s.Insert(ctx, policy)
	})
	if err != nil {
		e.compensate(ctx, premium)
		e.recorder.Rejected("issue", err)
		return 0, fmt.Errorf("record policy: %w", err)
	}

	e.recorder.PolicyIssued(policy)
	e.log.Info().
		Stringer("policy_id", policy.ID).
		Str("owner", string(policy.Owner)).
		Uint64("premium", uint64(policy.PremiumAmount)).
		Uint64("start_block", uint64(policy.StartBlock)).
		Uint64("end_block", uint64(policy.EndBlock)).
		Msg("policy issued")
	return policy.ID, nil
}

func (e *Engine) validateIssue(req IssueRequest) error {
	if req.PremiumAmount == 0 {
		return fmt.Errorf("%w: premium must be positive", ErrInvalidAmount)
	}
	if req.CoverageAmount == 0 {
		return fmt.Errorf("%w: coverage must be positive", ErrInvalidAmount)
	}
	if req.Duration == 0 {
		return fmt.Errorf("%w: duration must be positive", ErrInvalidDuration)
	}
	if req.Duration > math.MaxUint64-uint64(req.CurrentBlock) {
		return fmt.Errorf("%w: end block overflows", ErrInvalidDuration)
	}
	return e.limits.check(req)
}

// =============================================================================
// CANCEL
// =============================================================================

// Cancel terminates an active policy owned by the sender and pays back the
// unused share of the premium. It returns the refund.
func (e *Engine) Cancel(ctx context.Context, req CancelRequest) (Amount, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, refund, err := e.cancellable(ctx, req.PolicyID, &req.Sender, req.CurrentBlock)
	if err != nil {
		e.recorder.Rejected("cancel", err)
		return 0, err
	}

	payout := TransferRequest{
		From:     e.reserve,
		To:       req.Sender,
		Amount:   refund,
		Kind:     TransferRefund,
		PolicyID: p.ID,
	}
	if refund > 0 {
		if err := e.funds.Transfer(ctx, payout); err != nil {
			terr := &TransferError{Request: payout, Err: err}
			e.recorder.Rejected("cancel", terr)
			e.log.Warn().Err(err).Stringer("policy_id", p.ID).Uint64("refund", uint64(refund)).
				Msg("refund transfer rejected")
			return 0, terr
		}
	}

	if err := e.store.Deactivate(ctx, p.ID); err != nil {
		if refund > 0 {
			e.compensate(ctx, payout)
		}
		e.recorder.Rejected("cancel", err)
		return 0, fmt.Errorf("deactivate policy %s: %w", p.ID, err)
	}

	p.Active = false
	e.recorder.PolicyCancelled(p, refund)
	e.log.Info().
		Stringer("policy_id", p.ID).
		Uint64("refund", uint64(refund)).
		Uint64("at_block", uint64(req.CurrentBlock)).
		Msg("policy cancelled")
	return refund, nil
}

// Quote returns the refund Cancel would pay at the given height, without
// checking ownership or changing anything.
func (e *Engine) Quote(ctx context.Context, id PolicyID, at BlockHeight) (Amount, error) {
	_, refund, err := e.cancellable(ctx, id, nil, at)
	return refund, err
}

// cancellable runs the cancel checks in order. A nil sender skips ownership.
func (e *Engine) cancellable(ctx context.Context, id PolicyID, sender *Principal, at BlockHeight) (Policy, Amount, error) {
	p, err := e.store.Get(ctx, id)
	if err != nil {
		return Policy{}, 0, err
	}
	if sender != nil && *sender != p.Owner {
		return p, 0, ErrNotOwner
	}
	if !p.Active {
		return p, 0, ErrPolicyNotActive
	}
	if p.ExpiredAt(at) {
		return p, 0, &ExpiredError{PolicyID: p.ID, EndBlock: p.EndBlock, At: at}
	}
	refund, err := RefundFor(p, at)
	if err != nil {
		return p, 0, err
	}
	return p, refund, nil
}

// =============================================================================
// READS
// =============================================================================

func (e *Engine) Get(ctx context.Context, id PolicyID) (Policy, error) {
	return e.store.Get(ctx, id)
}

func (e *Engine) ListByOwner(ctx context.Context, owner Principal) ([]Policy, error) {
	return e.store.ListByOwner(ctx, owner)
}

// =============================================================================
// COMPENSATION
// =============================================================================

// compensate undoes a completed transfer after the store write it paid for
// failed. A failure here leaves the books unbalanced and is logged loudly.
func (e *Engine) compensate(ctx context.Context, orig TransferRequest) {
	rev := TransferRequest{
		From:     orig.To,
		To:       orig.From,
		Amount:   orig.Amount,
		Kind:     TransferReversal,
		PolicyID: orig.PolicyID,
	}
	if orig.IdempotencyKey != "" {
		rev.IdempotencyKey = "reversal-" + orig.IdempotencyKey
	}
	if err := e.funds.Transfer(ctx, rev); err != nil {
		e.log.Error().Err(err).
			Str("kind", string(orig.Kind)).
			Str("from", string(rev.From)).
			Str("to", string(rev.To)).
			Uint64("amount", uint64(rev.Amount)).
			Msg("reversal transfer failed, manual reconciliation required")
		return
	}
	e.recorder.Compensated(orig.Kind)
	e.log.Warn().Str("kind", string(orig.Kind)).Uint64("amount", uint64(orig.Amount)).Msg("transfer reversed")
}
