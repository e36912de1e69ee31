package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/parametric-cover/chain"
	"github.com/warp/parametric-cover/cover"
	"github.com/warp/parametric-cover/cover/store"
	"github.com/warp/parametric-cover/funds"
	"github.com/warp/parametric-cover/observability"
	"github.com/warp/parametric-cover/store/sqlite"
)

const alice = "ST2CY5V39NHDPWSXMW9QDT3HC3GD6Q6XX4CFRK9AG"

type testServer struct {
	router     http.Handler
	clock      *chain.Manual
	ledger     *funds.Ledger
	metrics    *observability.Metrics
	checkpoint *savedHeights
}

type savedHeights struct {
	heights []cover.BlockHeight
	err     error
}

func (s *savedHeights) SaveHeight(_ context.Context, h cover.BlockHeight) error {
	if s.err != nil {
		return s.err
	}
	s.heights = append(s.heights, h)
	return nil
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	ledger := funds.NewLedger(funds.NewMemoryStore())
	require.NoError(t, ledger.Deposit(context.Background(), alice, 1_000_000))

	metrics := observability.NewMetrics()
	engine := cover.NewEngine(store.NewTxMemory(), ledger, cover.EngineConfig{
		Reserve:  "reserve",
		Recorder: metrics,
	})
	clock := chain.NewManual(0)
	cp := &savedHeights{}
	h := NewHandler(engine, ledger, clock, cp, zerolog.Nop())

	return &testServer{
		router:     NewRouter(h, RouterOptions{Metrics: metrics.Registry}),
		clock:      clock,
		ledger:     ledger,
		metrics:    metrics,
		checkpoint: cp,
	}
}

func (s *testServer) do(t *testing.T, method, path, principal string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if principal != "" {
		req.Header.Set(principalHeader, principal)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func standardRequest() IssuePolicyRequest {
	return IssuePolicyRequest{
		CoverageAmount: 1_000_000,
		PremiumAmount:  50_000,
		LocationID:     1,
		ThresholdValue: 100,
		Duration:       4320,
	}
}

// =============================================================================
// POLICY LIFECYCLE
// =============================================================================

func TestAPI_IssueQuoteCancel(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/policies", alice, standardRequest())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	issued := decode[PolicyDTO](t, rec)
	assert.Equal(t, uint64(1), issued.ID)
	assert.Equal(t, alice, issued.Owner)
	assert.Equal(t, uint64(0), issued.StartBlock)
	assert.Equal(t, uint64(4320), issued.EndBlock)
	assert.Equal(t, "active", issued.Status)
	assert.True(t, issued.Active)

	rec = s.do(t, http.MethodPost, "/api/chain/advance", "", AdvanceChainRequest{Blocks: 100})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, uint64(100), decode[ChainDTO](t, rec).Height)

	rec = s.do(t, http.MethodGet, "/api/policies/1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	policy := decode[PolicyDTO](t, rec)
	assert.Equal(t, "active", policy.Status)
	require.NotNil(t, policy.RefundQuote)
	assert.Equal(t, uint64(48_842), *policy.RefundQuote)

	rec = s.do(t, http.MethodGet, "/api/policies/1/refund?at=2160", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, uint64(25_000), decode[RefundQuoteResponse](t, rec).Refund)

	rec = s.do(t, http.MethodPost, "/api/policies/1/cancel", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, CancelPolicyResponse{PolicyID: 1, Refund: 48_842, AtBlock: 100}, decode[CancelPolicyResponse](t, rec))

	rec = s.do(t, http.MethodGet, "/api/policies/1", "", nil)
	policy = decode[PolicyDTO](t, rec)
	assert.Equal(t, "cancelled", policy.Status)
	assert.Nil(t, policy.RefundQuote)

	rec = s.do(t, http.MethodGet, "/api/accounts/"+alice+"/balance", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "998842", decode[BalanceDTO](t, rec).Balance)

	rec = s.do(t, http.MethodGet, "/api/accounts/reserve/transfers", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	transfers := decode[[]TransferDTO](t, rec)
	require.Len(t, transfers, 2)
	assert.Equal(t, "premium", transfers[0].Kind)
	assert.Nil(t, transfers[0].PolicyID)
	assert.Equal(t, "refund", transfers[1].Kind)
	require.NotNil(t, transfers[1].PolicyID)
	assert.Equal(t, uint64(1), *transfers[1].PolicyID)
}

func TestAPI_IssueErrors(t *testing.T) {
	s := newTestServer(t)

	zeroPremium := standardRequest()
	zeroPremium.PremiumAmount = 0
	zeroDuration := standardRequest()
	zeroDuration.Duration = 0

	tests := []struct {
		name      string
		principal string
		body      any
		status    int
		code      string
	}{
		{"missing principal", "", standardRequest(), http.StatusBadRequest, ""},
		{"zero premium", alice, zeroPremium, http.StatusBadRequest, "ERR_INVALID_AMOUNT"},
		{"zero duration", alice, zeroDuration, http.StatusBadRequest, "ERR_INVALID_DURATION"},
		{"unfunded sender", "nobody", standardRequest(), http.StatusPaymentRequired, "ERR_TRANSFER_FAILED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/policies", tt.principal, tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, decode[ErrorResponse](t, rec).Code)
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/api/policies", strings.NewReader("{"))
	req.Header.Set(principalHeader, alice)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_CancelErrors(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/policies", alice, standardRequest()).Code)

	rec := s.do(t, http.MethodPost, "/api/policies/1/cancel", "mallory", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "ERR_NOT_OWNER", decode[ErrorResponse](t, rec).Code)

	rec = s.do(t, http.MethodPost, "/api/policies/9/cancel", alice, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "ERR_POLICY_NOT_FOUND", decode[ErrorResponse](t, rec).Code)

	rec = s.do(t, http.MethodPost, "/api/policies/abc/cancel", alice, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	_, err := s.clock.Advance(4320)
	require.NoError(t, err)
	rec = s.do(t, http.MethodPost, "/api/policies/1/cancel", alice, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "ERR_POLICY_EXPIRED", decode[ErrorResponse](t, rec).Code)

	rec = s.do(t, http.MethodGet, "/api/policies/1", "", nil)
	assert.Equal(t, "expired", decode[PolicyDTO](t, rec).Status)
}

func TestAPI_CancelTwiceConflict(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/policies", alice, standardRequest()).Code)

	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/policies/1/cancel", alice, nil).Code)

	rec := s.do(t, http.MethodPost, "/api/policies/1/cancel", alice, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "ERR_POLICY_NOT_ACTIVE", decode[ErrorResponse](t, rec).Code)
}

func TestAPI_IdempotencyKeyHeader(t *testing.T) {
	s := newTestServer(t)

	send := func() *httptest.ResponseRecorder {
		var buf bytes.Buffer
		require.NoError(t, json.NewEncoder(&buf).Encode(standardRequest()))
		req := httptest.NewRequest(http.MethodPost, "/api/policies", &buf)
		req.Header.Set(principalHeader, alice)
		req.Header.Set(idempotencyHeader, "checkout-1")
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusCreated, send().Code)

	// A replay is a conflict, distinguishable from a failed payment.
	rec := send()
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "ERR_DUPLICATE_REQUEST", decode[ErrorResponse](t, rec).Code)

	rec = s.do(t, http.MethodPost, "/api/policies", "nobody", standardRequest())
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/owners/"+alice+"/policies", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]PolicyDTO](t, rec), 1)
}

// =============================================================================
// ACCOUNTS, CHAIN, OPS
// =============================================================================

func TestAPI_Deposit(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/accounts/bob/deposits", "", DepositRequest{Amount: 250})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, BalanceDTO{Account: "bob", Balance: "250"}, decode[BalanceDTO](t, rec))

	rec = s.do(t, http.MethodPost, "/api/accounts/bob/deposits", "", DepositRequest{Amount: 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_AdvanceChainDefaultsToOneBlock(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/chain/advance", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, uint64(1), decode[ChainDTO](t, rec).Height)

	rec = s.do(t, http.MethodGet, "/api/chain", "", nil)
	assert.Equal(t, uint64(1), decode[ChainDTO](t, rec).Height)
	assert.Equal(t, []cover.BlockHeight{1}, s.checkpoint.heights)
}

func TestAPI_AdvanceChainOverflowRejected(t *testing.T) {
	// GIVEN: A policy issued at block 5000
	// WHEN: Advancing by a count that would wrap the clock below 5000
	// THEN: 400, the height stays put and cancellation still prorates

	s := newTestServer(t)
	require.NoError(t, s.clock.Set(5000))
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/policies", alice, standardRequest()).Code)

	rec := s.do(t, http.MethodPost, "/api/chain/advance", "", map[string]uint64{"blocks": math.MaxUint64})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, cover.BlockHeight(5000), s.clock.Height())
	assert.Empty(t, s.checkpoint.heights)

	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/chain/advance", "", AdvanceChainRequest{Blocks: 2160}).Code)
	rec = s.do(t, http.MethodPost, "/api/policies/1/cancel", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, uint64(25_000), decode[CancelPolicyResponse](t, rec).Refund)
}

func TestAPI_AdvanceChainCheckpointFailure(t *testing.T) {
	s := newTestServer(t)
	s.checkpoint.err = errors.New("disk full")

	rec := s.do(t, http.MethodPost, "/api/chain/advance", "", AdvanceChainRequest{Blocks: 3})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestAPI_AdvancedHeightSurvivesRestart(t *testing.T) {
	// GIVEN: A SQLite-backed server with no block producer
	// WHEN: The clock is advanced over HTTP and the process restarts
	// THEN: The restored height is the advanced one, not the start height

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cover.db")

	db, err := sqlite.New(path)
	require.NoError(t, err)
	engine := cover.NewEngine(db, funds.NewLedger(db), cover.EngineConfig{Reserve: "reserve"})
	h := NewHandler(engine, funds.NewLedger(db), chain.NewManual(0), db, zerolog.Nop())
	router := NewRouter(h, RouterOptions{})

	for _, blocks := range []uint64{100, 4000} {
		body := strings.NewReader(`{"blocks":` + strconv.FormatUint(blocks, 10) + `}`)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chain/advance", body))
		require.Equal(t, http.StatusOK, rec.Code)
	}
	require.NoError(t, db.Close())

	db, err = sqlite.New(path)
	require.NoError(t, err)
	defer db.Close()

	height, err := db.LoadHeight(ctx)
	require.NoError(t, err)
	assert.Equal(t, cover.BlockHeight(4100), height)
}

func TestAPI_QuoteBadHeight(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/api/policies/1/refund?at=soon", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_MetricsAndHealth(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/policies", alice, standardRequest()).Code)

	rec := s.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "cover_policies_issued_total 1")

	rec = s.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestErrorStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, errorStatus(cover.ErrOutOfRange))
	assert.Equal(t, http.StatusConflict, errorStatus(cover.ErrDuplicateID))
	assert.Equal(t, http.StatusPaymentRequired, errorStatus(&cover.TransferError{Err: funds.ErrInsufficientFunds}))
	assert.Equal(t, http.StatusInternalServerError, errorStatus(assert.AnError))
}
