/*
Package cover provides the policy lifecycle and refund engine.

PURPOSE:
  This package contains the accounting core of a parametric insurance
  product. Policies are issued against a premium, stay active for a window
  measured in block heights, and may be cancelled early for a prorated
  refund of the unused premium.

KEY CONCEPTS IN THIS FILE (types.go):
  - Policy: A single coverage contract with its block-height window
  - PolicyID: Sequential identifier allocated by the Store (starts at 1)
  - Principal: Opaque identity of a purchaser or account
  - Amount: Non-negative integer quantity of the product's single asset
  - BlockHeight: Monotonic time unit used instead of wall-clock time

DESIGN PRINCIPLES:
  1. Collaborators at the edges: persistence (Store), funds movement (Funds)
     and the block clock are interfaces; the engine owns only decisions.
  2. No deletes: a policy is created once and mutated at most once
     (Active flips to false on cancellation).
  3. Exact arithmetic: refunds use a widening multiply before the integer
     division so premium * remaining never overflows.

USAGE:
  engine := cover.NewEngine(store, ledger, cover.EngineConfig{Reserve: "reserve"})
  id, err := engine.Issue(ctx, cover.IssueRequest{...})
  refund, err := engine.Cancel(ctx, cover.CancelRequest{PolicyID: id, ...})

SEE ALSO:
  - engine.go: Issue / Cancel / Quote
  - refund.go: Proration arithmetic
  - store.go: Persistence interface
  - funds.go: Funds collaborator interface
*/
package cover

import "strconv"

// =============================================================================
// IDENTIFIERS AND UNITS
// =============================================================================

type PolicyID uint64

func (id PolicyID) String() string { return strconv.FormatUint(uint64(id), 10) }

// Principal identifies a purchaser or a funds account. Only equality matters.
type Principal string

type Amount uint64

type BlockHeight uint64

// =============================================================================
// POLICY - One coverage contract
// =============================================================================

type Policy struct {
	ID             PolicyID
	Owner          Principal
	CoverageAmount Amount // maximum payout
	PremiumAmount  Amount // paid at issuance
	LocationID     uint64 // parametric zone, passed through
	ThresholdValue uint64 // trigger threshold, passed through
	StartBlock     BlockHeight
	EndBlock       BlockHeight // StartBlock + duration, always > StartBlock
	Active         bool
}

// Window returns the number of blocks covered by the policy.
func (p Policy) Window() uint64 {
	return uint64(p.EndBlock - p.StartBlock)
}

// ExpiredAt reports whether the coverage window has closed at the given height.
func (p Policy) ExpiredAt(at BlockHeight) bool {
	return at >= p.EndBlock
}

type Status string

const (
	StatusActive    Status = "active"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// Status derives the policy's state at a block height. It never mutates the
// record; expiry sweeping is a separate concern.
func (p Policy) Status(at BlockHeight) Status {
	switch {
	case !p.Active:
		return StatusCancelled
	case p.ExpiredAt(at):
		return StatusExpired
	default:
		return StatusActive
	}
}

// =============================================================================
// REQUESTS
// =============================================================================

type IssueRequest struct {
	CoverageAmount Amount
	PremiumAmount  Amount
	LocationID     uint64
	ThresholdValue uint64
	Duration       uint64 // in blocks
	Sender         Principal
	CurrentBlock   BlockHeight

	// IdempotencyKey is forwarded to the premium transfer. Optional.
	IdempotencyKey string
}

type CancelRequest struct {
	PolicyID     PolicyID
	Sender       Principal
	CurrentBlock BlockHeight
}
