/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication, decoupled from the
  cover and funds domain types.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Small response wrappers

VALIDATION:
  Validation is done by the engine, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/parametric-cover/cover"
	"github.com/warp/parametric-cover/funds"
)

// =============================================================================
// POLICIES
// =============================================================================

type IssuePolicyRequest struct {
	CoverageAmount uint64 `json:"coverage_amount"`
	PremiumAmount  uint64 `json:"premium_amount"`
	LocationID     uint64 `json:"location_id"`
	ThresholdValue uint64 `json:"threshold_value"`
	Duration       uint64 `json:"duration"`
}

type CancelPolicyResponse struct {
	PolicyID uint64 `json:"policy_id"`
	Refund   uint64 `json:"refund"`
	AtBlock  uint64 `json:"at_block"`
}

type RefundQuoteResponse struct {
	PolicyID uint64 `json:"policy_id"`
	Refund   uint64 `json:"refund"`
	AtBlock  uint64 `json:"at_block"`
}

type PolicyDTO struct {
	ID             uint64  `json:"id"`
	Owner          string  `json:"owner"`
	CoverageAmount uint64  `json:"coverage_amount"`
	PremiumAmount  uint64  `json:"premium_amount"`
	LocationID     uint64  `json:"location_id"`
	ThresholdValue uint64  `json:"threshold_value"`
	StartBlock     uint64  `json:"start_block"`
	EndBlock       uint64  `json:"end_block"`
	Active         bool    `json:"active"`
	Status         string  `json:"status"`
	RefundQuote    *uint64 `json:"refund_quote,omitempty"` // set while cancellable
}

func toPolicyDTO(p cover.Policy, at cover.BlockHeight) PolicyDTO {
	dto := PolicyDTO{
		ID:             uint64(p.ID),
		Owner:          string(p.Owner),
		CoverageAmount: uint64(p.CoverageAmount),
		PremiumAmount:  uint64(p.PremiumAmount),
		LocationID:     p.LocationID,
		ThresholdValue: p.ThresholdValue,
		StartBlock:     uint64(p.StartBlock),
		EndBlock:       uint64(p.EndBlock),
		Active:         p.Active,
		Status:         string(p.Status(at)),
	}
	if p.Status(at) == cover.StatusActive {
		if refund, err := cover.RefundFor(p, at); err == nil {
			v := uint64(refund)
			dto.RefundQuote = &v
		}
	}
	return dto
}

// =============================================================================
// ACCOUNTS
// =============================================================================

type DepositRequest struct {
	Amount uint64 `json:"amount"`
}

type BalanceDTO struct {
	Account string `json:"account"`
	Balance string `json:"balance"` // decimal string, may be negative for external
}

type TransferDTO struct {
	ID        string  `json:"id"`
	From      string  `json:"from"`
	To        string  `json:"to"`
	Amount    uint64  `json:"amount"`
	Kind      string  `json:"kind"`
	PolicyID  *uint64 `json:"policy_id,omitempty"`
	CreatedAt string  `json:"created_at"`
}

func toTransferDTO(t funds.Transfer) TransferDTO {
	dto := TransferDTO{
		ID:        t.ID,
		From:      string(t.From),
		To:        string(t.To),
		Amount:    uint64(t.Amount),
		Kind:      string(t.Kind),
		CreatedAt: t.CreatedAt.Format(time.RFC3339),
	}
	if t.PolicyID != 0 {
		id := uint64(t.PolicyID)
		dto.PolicyID = &id
	}
	return dto
}

// =============================================================================
// CHAIN
// =============================================================================

type ChainDTO struct {
	Height uint64 `json:"height"`
}

type AdvanceChainRequest struct {
	Blocks uint64 `json:"blocks"`
}

// =============================================================================
// ERRORS
// =============================================================================

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}
