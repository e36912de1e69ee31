/*
handlers.go - HTTP API handlers for the cover engine

PURPOSE:
  Exposes issue-policy and cancel-policy over REST, plus the read and
  account endpoints needed to drive them. Handlers parse the request,
  read the current block height, call the engine, and serialize.

ENDPOINTS:
  Policies:
    POST   /api/policies               Issue a policy (sender = X-Principal), returns it
    GET    /api/policies/{id}          Policy with derived status
    POST   /api/policies/{id}/cancel   Cancel, returns the refund
    GET    /api/policies/{id}/refund   Refund quote (?at=<height>)
    GET    /api/owners/{owner}/policies

  Accounts:
    GET    /api/accounts/{account}/balance
    GET    /api/accounts/{account}/transfers
    POST   /api/accounts/{account}/deposits

  Chain:
    GET    /api/chain                  Current block height
    POST   /api/chain/advance          Advance the clock (dev)

IDENTITY:
  The caller's principal is read from the X-Principal header. There is no
  authentication here; put the service behind something that sets it.

ERROR HANDLING:
  Errors are returned as JSON {error, code, details}. code carries the
  engine's ERR_* name. Status:
  - 400: Validation errors, invalid input
  - 402: Funds transfer rejected
  - 403: Sender is not the owner
  - 404: Policy not found
  - 409: Policy inactive or expired, duplicate id, replayed Idempotency-Key
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/warp/parametric-cover/chain"
	"github.com/warp/parametric-cover/cover"
	"github.com/warp/parametric-cover/funds"
)

const (
	principalHeader   = "X-Principal"
	idempotencyHeader = "Idempotency-Key"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *cover.Engine
	Ledger *funds.Ledger
	Clock  *chain.Manual

	// Checkpoint persists the height after a manual advance. Optional.
	Checkpoint chain.Checkpointer

	log zerolog.Logger
}

// NewHandler creates a new handler. checkpoint may be nil.
func NewHandler(engine *cover.Engine, ledger *funds.Ledger, clock *chain.Manual, checkpoint chain.Checkpointer, log zerolog.Logger) *Handler {
	return &Handler{
		Engine:     engine,
		Ledger:     ledger,
		Clock:      clock,
		Checkpoint: checkpoint,
		log:        log.With().Str("component", "api").Logger(),
	}
}

// =============================================================================
// POLICY HANDLERS
// =============================================================================

// IssuePolicy issues a new policy for the calling principal.
// POST /api/policies
func (h *Handler) IssuePolicy(w http.ResponseWriter, r *http.Request) {
	sender, ok := principal(w, r)
	if !ok {
		return
	}

	var req IssuePolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	at := h.Clock.Height()
	id, err := h.Engine.Issue(r.Context(), cover.IssueRequest{
		CoverageAmount: cover.Amount(req.CoverageAmount),
		PremiumAmount:  cover.Amount(req.PremiumAmount),
		LocationID:     req.LocationID,
		ThresholdValue: req.ThresholdValue,
		Duration:       req.Duration,
		Sender:         sender,
		CurrentBlock:   at,
		IdempotencyKey: r.Header.Get(idempotencyHeader),
	})
	if err != nil {
		h.writeEngineError(w, "Failed to issue policy", err)
		return
	}

	p, err := h.Engine.Get(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, "Failed to read issued policy", err)
		return
	}
	writeJSON(w, http.StatusCreated, toPolicyDTO(p, at))
}

// GetPolicy returns a single policy.
// GET /api/policies/{id}
func (h *Handler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	id, ok := policyID(w, r)
	if !ok {
		return
	}

	p, err := h.Engine.Get(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, "Failed to get policy", err)
		return
	}

	writeJSON(w, http.StatusOK, toPolicyDTO(p, h.Clock.Height()))
}

// CancelPolicy cancels the policy on behalf of the calling principal.
// POST /api/policies/{id}/cancel
func (h *Handler) CancelPolicy(w http.ResponseWriter, r *http.Request) {
	sender, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := policyID(w, r)
	if !ok {
		return
	}

	at := h.Clock.Height()
	refund, err := h.Engine.Cancel(r.Context(), cover.CancelRequest{
		PolicyID:     id,
		Sender:       sender,
		CurrentBlock: at,
	})
	if err != nil {
		h.writeEngineError(w, "Failed to cancel policy", err)
		return
	}

	writeJSON(w, http.StatusOK, CancelPolicyResponse{
		PolicyID: uint64(id),
		Refund:   uint64(refund),
		AtBlock:  uint64(at),
	})
}

// QuoteRefund previews the refund at a block height (default: now).
// GET /api/policies/{id}/refund?at=4400
func (h *Handler) QuoteRefund(w http.ResponseWriter, r *http.Request) {
	id, ok := policyID(w, r)
	if !ok {
		return
	}

	at := h.Clock.Height()
	if v := r.URL.Query().Get("at"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid at parameter", err)
			return
		}
		at = cover.BlockHeight(n)
	}

	refund, err := h.Engine.Quote(r.Context(), id, at)
	if err != nil {
		h.writeEngineError(w, "Failed to quote refund", err)
		return
	}

	writeJSON(w, http.StatusOK, RefundQuoteResponse{
		PolicyID: uint64(id),
		Refund:   uint64(refund),
		AtBlock:  uint64(at),
	})
}

// ListOwnerPolicies returns every policy of an owner.
// GET /api/owners/{owner}/policies
func (h *Handler) ListOwnerPolicies(w http.ResponseWriter, r *http.Request) {
	owner := cover.Principal(chi.URLParam(r, "owner"))

	policies, err := h.Engine.ListByOwner(r.Context(), owner)
	if err != nil {
		h.writeEngineError(w, "Failed to list policies", err)
		return
	}

	at := h.Clock.Height()
	dtos := make([]PolicyDTO, len(policies))
	for i, p := range policies {
		dtos[i] = toPolicyDTO(p, at)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

// GetBalance returns an account balance.
// GET /api/accounts/{account}/balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	account := cover.Principal(chi.URLParam(r, "account"))

	balance, err := h.Ledger.Balance(r.Context(), account)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get balance", err)
		return
	}

	writeJSON(w, http.StatusOK, BalanceDTO{Account: string(account), Balance: balance.String()})
}

// ListTransfers returns an account's transfer history.
// GET /api/accounts/{account}/transfers
func (h *Handler) ListTransfers(w http.ResponseWriter, r *http.Request) {
	account := cover.Principal(chi.URLParam(r, "account"))

	transfers, err := h.Ledger.History(r.Context(), account)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list transfers", err)
		return
	}

	dtos := make([]TransferDTO, len(transfers))
	for i, t := range transfers {
		dtos[i] = toTransferDTO(t)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// Deposit credits an account from outside the system.
// POST /api/accounts/{account}/deposits
func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	account := cover.Principal(chi.URLParam(r, "account"))

	var req DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := h.Ledger.Deposit(r.Context(), account, cover.Amount(req.Amount)); err != nil {
		if errors.Is(err, funds.ErrInvalidTransfer) {
			writeError(w, http.StatusBadRequest, "Invalid deposit", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to deposit", err)
		return
	}

	h.log.Info().Str("account", string(account)).Uint64("amount", req.Amount).Msg("deposit")
	h.GetBalance(w, r)
}

// =============================================================================
// CHAIN HANDLERS
// =============================================================================

// GetChain returns the current block height.
// GET /api/chain
func (h *Handler) GetChain(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ChainDTO{Height: uint64(h.Clock.Height())})
}

// AdvanceChain moves the clock forward and checkpoints the new height.
// Body is optional, default 1 block. A step past the largest height is 400.
// POST /api/chain/advance
func (h *Handler) AdvanceChain(w http.ResponseWriter, r *http.Request) {
	req := AdvanceChainRequest{Blocks: 1}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	height, err := h.Clock.Advance(req.Blocks)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid block count", err)
		return
	}
	if h.Checkpoint != nil {
		if err := h.Checkpoint.SaveHeight(r.Context(), height); err != nil {
			h.log.Error().Err(err).Uint64("height", uint64(height)).Msg("checkpoint failed")
			writeError(w, http.StatusInternalServerError, "Failed to checkpoint height", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, ChainDTO{Height: uint64(height)})
}

// Healthz reports liveness.
// GET /healthz
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func principal(w http.ResponseWriter, r *http.Request) (cover.Principal, bool) {
	p := r.Header.Get(principalHeader)
	if p == "" {
		writeError(w, http.StatusBadRequest, "Missing "+principalHeader+" header", nil)
		return "", false
	}
	return cover.Principal(p), true
}

func policyID(w http.ResponseWriter, r *http.Request) (cover.PolicyID, bool) {
	n, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid policy id", err)
		return 0, false
	}
	return cover.PolicyID(n), true
}

// errorStatus maps an engine error to an HTTP status.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, cover.ErrInvalidAmount),
		errors.Is(err, cover.ErrInvalidDuration),
		errors.Is(err, cover.ErrOutOfRange):
		return http.StatusBadRequest
	case errors.Is(err, cover.ErrDuplicateRequest):
		return http.StatusConflict
	case errors.Is(err, cover.ErrTransferFailed):
		return http.StatusPaymentRequired
	case errors.Is(err, cover.ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, cover.ErrPolicyNotFound):
		return http.StatusNotFound
	case errors.Is(err, cover.ErrPolicyNotActive),
		errors.Is(err, cover.ErrPolicyExpired),
		errors.Is(err, cover.ErrDuplicateID):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeEngineError(w http.ResponseWriter, message string, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Msg(message)
	}
	writeJSON(w, status, ErrorResponse{
		Error:   message,
		Code:    cover.Code(err),
		Details: err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
