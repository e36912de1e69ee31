package cover

import "context"

// TransferKind labels why funds moved.
type TransferKind string

const (
	TransferPremium  TransferKind = "premium"  // sender -> reserve at issuance
	TransferRefund   TransferKind = "refund"   // reserve -> sender at cancellation
	TransferReversal TransferKind = "reversal" // compensates a transfer whose store write failed
	TransferDeposit  TransferKind = "deposit"  // external -> account, outside the engine
)

// TransferRequest is one funds movement asked of the Funds collaborator.
type TransferRequest struct {
	From           Principal
	To             Principal
	Amount         Amount
	Kind           TransferKind
	PolicyID       PolicyID // zero for premiums, the id is allocated afterwards
	IdempotencyKey string   // optional; a repeated key is rejected with ErrDuplicateRequest
}

// Funds moves value between accounts. Transfer either fully happens or
// returns an error and leaves balances untouched.
type Funds interface {
	Transfer(ctx context.Context, req TransferRequest) error
}

// Recorder receives lifecycle outcomes for metrics. Optional.
type Recorder interface {
	PolicyIssued(p Policy)
	PolicyCancelled(p Policy, refund Amount)
	Rejected(operation string, err error)
	Compensated(kind TransferKind)
}

type nopRecorder struct{}

func (nopRecorder) PolicyIssued(Policy)            {}
func (nopRecorder) PolicyCancelled(Policy, Amount) {}
func (nopRecorder) Rejected(string, error)         {}
func (nopRecorder) Compensated(TransferKind)       {}
