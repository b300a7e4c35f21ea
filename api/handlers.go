/*
handlers.go - HTTP API handlers for the vesting engine

PURPOSE:
  Exposes the allocator over REST. Handles HTTP request/response and JSON
  serialization; every rule lives in the allocator.

CALLER IDENTITY:
  The acting address is read from the X-Caller header. Authentication is
  expected in front of this service (gateway or mTLS); the header is trusted.

ENDPOINTS:
  Plans:
    GET    /api/plans                          List plans
    POST   /api/plans                          Add plan (administrator)
    GET    /api/plans/{id}                     Get plan
    GET    /api/plans/{id}/schedule            Preview release steps

  Beneficiaries:
    GET    /api/beneficiaries                  List beneficiaries
    POST   /api/beneficiaries                  Connect to plan (administrator)
    GET    /api/beneficiaries/{address}        Summary
    POST   /api/beneficiaries/{address}/approve
    POST   /api/beneficiaries/{address}/start
    POST   /api/beneficiaries/{address}/stop

  Escrows (addressed by beneficiary):
    POST   /api/escrows/{address}/retrieve
    POST   /api/escrows/{address}/delegate
    POST   /api/escrows/{address}/undelegate
    POST   /api/escrows/{address}/bounty
    POST   /api/escrows/{address}/settle

  Accounts:
    GET    /api/accounts/{address}             Balance, locked, history

  Admin:
    GET    /api/admin/roles
    POST   /api/admin/roles                    Grant (owner)
    DELETE /api/admin/roles                    Revoke (owner)
    POST   /api/admin/bounties                 Accrue a staking reward (owner)

ERROR HANDLING:
  - 400: Validation errors, invalid input
  - 403: Caller lacks the required capability
  - 404: Plan, escrow or delegation not found
  - 409: State-machine rejection or insufficient balance
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/warp/vesting-engine/access"
	"github.com/warp/vesting-engine/allocator"
	"github.com/warp/vesting-engine/factory"
	"github.com/warp/vesting-engine/staking"
	"github.com/warp/vesting-engine/token"
	"github.com/warp/vesting-engine/vesting"
)

const CallerHeader = "X-Caller"

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Allocator *allocator.Allocator
	Roles     *access.Roles

	// Optional; enables the delegations list on account responses.
	Staking *staking.Controller

	log *slog.Logger
}

func NewHandler(a *allocator.Allocator, roles *access.Roles, sc *staking.Controller, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Allocator: a,
		Roles:     roles,
		Staking:   sc,
		log:       logger.With("component", "api"),
	}
}

func caller(r *http.Request) token.Address {
	return token.Address(r.Header.Get(CallerHeader))
}

func addressParam(r *http.Request) token.Address {
	return token.Address(chi.URLParam(r, "address"))
}

// =============================================================================
// PLAN ENDPOINTS
// =============================================================================

func (h *Handler) ListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.Allocator.ListPlans(r.Context())
	if err != nil {
		writeDomainError(w, "Failed to list plans", err)
		return
	}
	out := make([]factory.PlanJSON, 0, len(plans))
	for _, p := range plans {
		out = append(out, factory.FromPlan(p))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) CreatePlan(w http.ResponseWriter, r *http.Request) {
	var req factory.PlanJSON
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	req.ID = 0

	plan, err := req.ToPlan()
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid plan configuration", err)
		return
	}
	plan, err = h.Allocator.AddPlan(r.Context(), caller(r), plan)
	if err != nil {
		writeDomainError(w, "Failed to add plan", err)
		return
	}
	writeJSON(w, http.StatusCreated, factory.FromPlan(plan))
}

func (h *Handler) GetPlan(w http.ResponseWriter, r *http.Request) {
	plan, ok := h.planParam(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, factory.FromPlan(plan))
}

// GetPlanSchedule previews the release steps of a plan for the given start
// month and amounts (query: start, full, cliff).
func (h *Handler) GetPlanSchedule(w http.ResponseWriter, r *http.Request) {
	plan, ok := h.planParam(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	start, err := parseStartMonth(q.Get("start"))
	if err == nil && !vesting.IsMonthAligned(start) {
		err = vesting.ErrInvalidStartMonth
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start month", err)
		return
	}
	full, err := token.ParseAmount(q.Get("full"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid full amount", err)
		return
	}
	cliff := token.Zero
	if s := q.Get("cliff"); s != "" {
		if cliff, err = token.ParseAmount(s); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid cliff amount", err)
			return
		}
	}
	if err := vesting.ValidateAmounts(full, cliff); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amounts", err)
		return
	}

	b := vesting.Beneficiary{StartMonth: start, FullAmount: full, CliffAmount: cliff}
	writeJSON(w, http.StatusOK, toScheduleResponse(plan, b.Schedule(plan)))
}

func (h *Handler) planParam(w http.ResponseWriter, r *http.Request) (vesting.Plan, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid plan id", err)
		return vesting.Plan{}, false
	}
	plan, err := h.Allocator.GetPlan(r.Context(), vesting.PlanID(id))
	if err != nil {
		writeDomainError(w, "Plan not found", err)
		return vesting.Plan{}, false
	}
	return plan, true
}

// =============================================================================
// BENEFICIARY ENDPOINTS
// =============================================================================

func (h *Handler) ListBeneficiaries(w http.ResponseWriter, r *http.Request) {
	list, err := h.Allocator.ListBeneficiaries(r.Context())
	if err != nil {
		writeDomainError(w, "Failed to list beneficiaries", err)
		return
	}
	out := make([]BeneficiaryDTO, 0, len(list))
	for _, b := range list {
		out = append(out, toBeneficiaryDTO(b))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) ConnectBeneficiary(w http.ResponseWriter, r *http.Request) {
	var req ConnectBeneficiaryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	start, err := parseStartMonth(req.StartMonth)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start month", err)
		return
	}

	b, err := h.Allocator.ConnectBeneficiaryToPlan(r.Context(), caller(r), allocator.ConnectRequest{
		Address:     token.Address(req.Address),
		PlanID:      vesting.PlanID(req.PlanID),
		StartMonth:  start,
		FullAmount:  req.FullAmount,
		CliffAmount: req.CliffAmount,
	})
	if err != nil {
		writeDomainError(w, "Failed to connect beneficiary", err)
		return
	}
	writeJSON(w, http.StatusCreated, toBeneficiaryDTO(b))
}

func (h *Handler) GetBeneficiary(w http.ResponseWriter, r *http.Request) {
	s, err := h.Allocator.Summary(r.Context(), addressParam(r))
	if err != nil {
		writeDomainError(w, "Failed to load beneficiary", err)
		return
	}
	writeJSON(w, http.StatusOK, toSummaryDTO(s))
}

func (h *Handler) ApproveBeneficiary(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "Failed to approve", h.Allocator.Approve)
}

func (h *Handler) StartVesting(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "Failed to start vesting", h.Allocator.StartVesting)
}

func (h *Handler) StopVesting(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "Failed to stop vesting", h.Allocator.StopVesting)
}

// transition runs a state change and answers with the new summary.
func (h *Handler) transition(w http.ResponseWriter, r *http.Request, message string,
	fn func(ctx context.Context, caller, beneficiary token.Address) error) {
	addr := addressParam(r)
	if err := fn(r.Context(), caller(r), addr); err != nil {
		writeDomainError(w, message, err)
		return
	}
	s, err := h.Allocator.Summary(r.Context(), addr)
	if err != nil {
		writeDomainError(w, "Failed to load beneficiary", err)
		return
	}
	writeJSON(w, http.StatusOK, toSummaryDTO(s))
}

// =============================================================================
// ESCROW ENDPOINTS
// =============================================================================

func (h *Handler) escrowParam(w http.ResponseWriter, r *http.Request) (*allocator.Escrow, bool) {
	e, err := h.Allocator.Escrow(r.Context(), addressParam(r))
	if err != nil {
		writeDomainError(w, "Escrow not found", err)
		return nil, false
	}
	return e, true
}

func (h *Handler) Retrieve(w http.ResponseWriter, r *http.Request) {
	e, ok := h.escrowParam(w, r)
	if !ok {
		return
	}
	paid, err := e.Retrieve(r.Context(), caller(r))
	if err != nil {
		writeDomainError(w, "Failed to retrieve", err)
		return
	}
	writeJSON(w, http.StatusOK, AmountResponse{Amount: paid})
}

func (h *Handler) Delegate(w http.ResponseWriter, r *http.Request) {
	e, ok := h.escrowParam(w, r)
	if !ok {
		return
	}
	var req DelegateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	id, err := e.Delegate(r.Context(), caller(r), allocator.DelegateRequest{
		Validator:    staking.ValidatorID(req.Validator),
		Amount:       req.Amount,
		PeriodMonths: req.PeriodMonths,
		Info:         req.Info,
	})
	if err != nil {
		writeDomainError(w, "Failed to delegate", err)
		return
	}
	writeJSON(w, http.StatusCreated, DelegationResponse{DelegationID: uint64(id)})
}

func (h *Handler) Undelegate(w http.ResponseWriter, r *http.Request) {
	e, ok := h.escrowParam(w, r)
	if !ok {
		return
	}
	var req UndelegateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := e.RequestUndelegation(r.Context(), caller(r), staking.DelegationID(req.DelegationID)); err != nil {
		writeDomainError(w, "Failed to undelegate", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) WithdrawBounty(w http.ResponseWriter, r *http.Request) {
	e, ok := h.escrowParam(w, r)
	if !ok {
		return
	}
	var req BountyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	paid, err := e.WithdrawBounty(r.Context(), caller(r), staking.ValidatorID(req.Validator), token.Address(req.Recipient))
	if err != nil {
		writeDomainError(w, "Failed to withdraw bounty", err)
		return
	}
	writeJSON(w, http.StatusOK, AmountResponse{Amount: paid})
}

func (h *Handler) Settle(w http.ResponseWriter, r *http.Request) {
	e, ok := h.escrowParam(w, r)
	if !ok {
		return
	}
	returned, err := e.RetrieveAfterTermination(r.Context(), caller(r))
	if err != nil {
		writeDomainError(w, "Failed to settle", err)
		return
	}
	writeJSON(w, http.StatusOK, AmountResponse{Amount: returned})
}

// =============================================================================
// ACCOUNT ENDPOINTS
// =============================================================================

func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	addr := addressParam(r)
	ledger := h.Allocator.Ledger()

	b, err := ledger.Balances(r.Context(), addr)
	if err != nil {
		writeDomainError(w, "Failed to load balance", err)
		return
	}
	history, err := ledger.History(r.Context(), addr)
	if err != nil {
		writeDomainError(w, "Failed to load history", err)
		return
	}

	dto := AccountDTO{
		Address:      string(addr),
		Balance:      b.Total,
		Locked:       b.Locked,
		Free:         b.Free(),
		Transactions: make([]TransactionDTO, 0, len(history)),
	}
	for _, tx := range history {
		dto.Transactions = append(dto.Transactions, toTransactionDTO(tx))
	}
	if h.Staking != nil {
		delegations, err := h.Staking.Delegations(r.Context(), addr)
		if err != nil {
			writeDomainError(w, "Failed to load delegations", err)
			return
		}
		for _, d := range delegations {
			dto.Delegations = append(dto.Delegations, toDelegationDTO(d))
		}
	}
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// ADMIN ENDPOINTS
// =============================================================================

func (h *Handler) ListRoles(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.rolesDTO())
}

func (h *Handler) GrantRole(w http.ResponseWriter, r *http.Request) {
	h.changeRole(w, r, h.Roles.Grant)
}

func (h *Handler) RevokeRole(w http.ResponseWriter, r *http.Request) {
	h.changeRole(w, r, h.Roles.Revoke)
}

func (h *Handler) changeRole(w http.ResponseWriter, r *http.Request, fn func(caller token.Address, c access.Capability, addr token.Address) error) {
	var req RoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	c, err := access.ParseCapability(req.Capability)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid capability", err)
		return
	}
	if req.Address == "" {
		writeError(w, http.StatusBadRequest, "Address is required", nil)
		return
	}
	if err := fn(caller(r), c, token.Address(req.Address)); err != nil {
		writeDomainError(w, "Failed to change role", err)
		return
	}
	h.log.Info("role changed", "caller", caller(r), "capability", c, "address", req.Address, "method", r.Method)
	writeJSON(w, http.StatusOK, h.rolesDTO())
}

// AccrueBounty credits a staking reward to a beneficiary's escrow, payable
// from the rewards pool. Owner only.
func (h *Handler) AccrueBounty(w http.ResponseWriter, r *http.Request) {
	if err := h.Roles.RequireOwner(caller(r)); err != nil {
		writeDomainError(w, "Failed to accrue bounty", err)
		return
	}
	if h.Staking == nil {
		writeDomainError(w, "Failed to accrue bounty", vesting.ErrStakingUnavailable)
		return
	}
	var req AccrueBountyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	e, err := h.Allocator.Escrow(r.Context(), token.Address(req.Beneficiary))
	if err != nil {
		writeDomainError(w, "Escrow not found", err)
		return
	}

	validator := staking.ValidatorID(req.Validator)
	if err := h.Staking.AccrueBounty(r.Context(), validator, e.Address(), req.Amount); err != nil {
		writeDomainError(w, "Failed to accrue bounty", err)
		return
	}
	accrued, err := h.Staking.Bounty(r.Context(), validator, e.Address())
	if err != nil {
		writeDomainError(w, "Failed to load bounty", err)
		return
	}
	h.log.Info("bounty accrued", "validator", validator, "escrow", e.Address(), "amount", req.Amount, "accrued", accrued)
	writeJSON(w, http.StatusOK, BountyDTO{
		Validator:   req.Validator,
		Beneficiary: req.Beneficiary,
		Escrow:      string(e.Address()),
		Accrued:     accrued,
	})
}

func (h *Handler) rolesDTO() RolesDTO {
	return RolesDTO{
		Owner:           string(h.Roles.Owner()),
		Administrators:  addressStrings(h.Roles.Members(access.CapAdministrator)),
		VestingManagers: addressStrings(h.Roles.Members(access.CapVestingManager)),
	}
}

func addressStrings(in []token.Address) []string {
	out := make([]string, len(in))
	for i, a := range in {
		out[i] = string(a)
	}
	return out
}

// =============================================================================
// HELPERS
// =============================================================================

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

// writeDomainError picks the status from the error's class.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	writeError(w, statusFor(err), message, err)
}

func statusFor(err error) int {
	switch {
	case access.IsUnauthorized(err), errors.Is(err, staking.ErrNotDelegator):
		return http.StatusForbidden
	case vesting.IsNotFound(err), errors.Is(err, staking.ErrDelegationNotFound):
		return http.StatusNotFound
	case vesting.IsClientError(err),
		errors.Is(err, staking.ErrUnknownValidator),
		errors.Is(err, staking.ErrInvalidPeriod),
		errors.Is(err, token.ErrInvalidAddress):
		return http.StatusBadRequest
	case vesting.IsStateError(err),
		errors.Is(err, staking.ErrNotDelegated),
		errors.Is(err, token.ErrInsufficientBalance),
		errors.Is(err, token.ErrInsufficientLocked):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}
