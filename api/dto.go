/*
dto.go - Data Transfer Objects for API requests and responses

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Small response wrappers

AMOUNTS:
  Token amounts are JSON strings of whole units ("1200000"). Bare JSON
  numbers are accepted on input.

TIMES:
  RFC 3339 in UTC. Start months may also be given as "2006-01".

SEE ALSO:
  - handlers.go: Uses these types
  - factory/plan.go: PlanJSON type
*/
package api

import (
	"fmt"
	"time"

	"github.com/warp/vesting-engine/allocator"
	"github.com/warp/vesting-engine/factory"
	"github.com/warp/vesting-engine/staking"
	"github.com/warp/vesting-engine/token"
	"github.com/warp/vesting-engine/vesting"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

type ConnectBeneficiaryRequest struct {
	Address     string       `json:"address"`
	PlanID      int64        `json:"plan_id"`
	StartMonth  string       `json:"start_month"`
	FullAmount  token.Amount `json:"full_amount"`
	CliffAmount token.Amount `json:"cliff_amount"`
}

type DelegateRequest struct {
	Validator    uint64       `json:"validator"`
	Amount       token.Amount `json:"amount"`
	PeriodMonths int          `json:"period_months"`
	Info         string       `json:"info,omitempty"`
}

type UndelegateRequest struct {
	DelegationID uint64 `json:"delegation_id"`
}

type BountyRequest struct {
	Validator uint64 `json:"validator"`
	// Defaults to the beneficiary.
	Recipient string `json:"recipient,omitempty"`
}

// AccrueBountyRequest credits a staking reward to a beneficiary's escrow.
type AccrueBountyRequest struct {
	Validator   uint64       `json:"validator"`
	Beneficiary string       `json:"beneficiary"`
	Amount      token.Amount `json:"amount"`
}

type RoleRequest struct {
	Capability string `json:"capability"`
	Address    string `json:"address"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

type BountyDTO struct {
	Validator   uint64       `json:"validator"`
	Beneficiary string       `json:"beneficiary"`
	Escrow      string       `json:"escrow"`
	Accrued     token.Amount `json:"accrued"`
}

type BeneficiaryDTO struct {
	Address       string       `json:"address"`
	Status        string       `json:"status"`
	PlanID        int64        `json:"plan_id,omitempty"`
	StartMonth    *time.Time   `json:"start_month,omitempty"`
	FullAmount    token.Amount `json:"full_amount"`
	CliffAmount   token.Amount `json:"cliff_amount"`
	EscrowAddress string       `json:"escrow_address,omitempty"`
	TerminatedAt  *time.Time   `json:"terminated_at,omitempty"`
	CreatedAt     *time.Time   `json:"created_at,omitempty"`
}

type SummaryDTO struct {
	Beneficiary   BeneficiaryDTO    `json:"beneficiary"`
	Plan          *factory.PlanJSON `json:"plan,omitempty"`
	Vested        token.Amount      `json:"vested"`
	Locked        token.Amount      `json:"locked"`
	Withdrawn     token.Amount      `json:"withdrawn"`
	Returned      token.Amount      `json:"returned"`
	EscrowBalance token.Amount      `json:"escrow_balance"`
	EscrowStaked  token.Amount      `json:"escrow_staked"`
	CliffEnd      *time.Time        `json:"cliff_end,omitempty"`
	VestingEnd    *time.Time        `json:"vesting_end,omitempty"`
	NextVest      *time.Time        `json:"next_vest,omitempty"`
}

type ScheduleStepDTO struct {
	At     time.Time    `json:"at"`
	Vested token.Amount `json:"vested"`
	Locked token.Amount `json:"locked"`
}

type ScheduleResponse struct {
	Plan  factory.PlanJSON  `json:"plan"`
	Start time.Time         `json:"start"`
	Steps []ScheduleStepDTO `json:"steps"`
}

type AmountResponse struct {
	Amount token.Amount `json:"amount"`
}

type DelegationResponse struct {
	DelegationID uint64 `json:"delegation_id"`
}

type TransactionDTO struct {
	ID        string       `json:"id"`
	Type      string       `json:"type"`
	From      string       `json:"from,omitempty"`
	To        string       `json:"to,omitempty"`
	Amount    token.Amount `json:"amount"`
	Reason    string       `json:"reason,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

type DelegationDTO struct {
	ID           uint64       `json:"id"`
	Validator    uint64       `json:"validator"`
	Amount       token.Amount `json:"amount"`
	PeriodMonths int          `json:"period_months"`
	Info         string       `json:"info,omitempty"`
	State        string       `json:"state"`
}

type AccountDTO struct {
	Address      string           `json:"address"`
	Balance      token.Amount     `json:"balance"`
	Locked       token.Amount     `json:"locked"`
	Free         token.Amount     `json:"free"`
	Transactions []TransactionDTO `json:"transactions"`
	Delegations  []DelegationDTO  `json:"delegations,omitempty"`
}

type RolesDTO struct {
	Owner           string   `json:"owner"`
	Administrators  []string `json:"administrators"`
	VestingManagers []string `json:"vesting_managers"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toBeneficiaryDTO(b vesting.Beneficiary) BeneficiaryDTO {
	dto := BeneficiaryDTO{
		Address:       string(b.Address),
		Status:        string(b.Status),
		PlanID:        int64(b.PlanID),
		FullAmount:    b.FullAmount,
		CliffAmount:   b.CliffAmount,
		EscrowAddress: string(b.EscrowAddress),
		StartMonth:    timePtr(b.StartMonth),
		TerminatedAt:  timePtr(b.TerminatedAt),
		CreatedAt:     timePtr(b.CreatedAt),
	}
	return dto
}

func toSummaryDTO(s allocator.Summary) SummaryDTO {
	dto := SummaryDTO{
		Beneficiary:   toBeneficiaryDTO(s.Beneficiary),
		Vested:        s.Vested,
		Locked:        s.Locked,
		Withdrawn:     s.Withdrawn,
		Returned:      s.Returned,
		EscrowBalance: s.EscrowBalance.Total,
		EscrowStaked:  s.EscrowBalance.Locked,
		CliffEnd:      timePtr(s.CliffEnd),
		VestingEnd:    timePtr(s.VestingEnd),
	}
	if s.Plan.ID != 0 {
		pj := factory.FromPlan(s.Plan)
		dto.Plan = &pj
	}
	if s.HasNextVest {
		dto.NextVest = timePtr(s.NextVest)
	}
	return dto
}

func toTransactionDTO(tx token.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:        string(tx.ID),
		Type:      string(tx.Type),
		From:      string(tx.From),
		To:        string(tx.To),
		Amount:    tx.Amount,
		Reason:    tx.Reason,
		CreatedAt: tx.CreatedAt,
	}
}

func toDelegationDTO(d staking.Delegation) DelegationDTO {
	return DelegationDTO{
		ID:           uint64(d.ID),
		Validator:    uint64(d.Validator),
		Amount:       d.Amount,
		PeriodMonths: d.PeriodMonths,
		Info:         d.Info,
		State:        string(d.State),
	}
}

func toScheduleResponse(plan vesting.Plan, sched vesting.Schedule) ScheduleResponse {
	resp := ScheduleResponse{Plan: factory.FromPlan(plan), Start: sched.Start}
	for _, st := range sched.Steps() {
		resp.Steps = append(resp.Steps, ScheduleStepDTO{At: st.At, Vested: st.Vested, Locked: st.Locked})
	}
	return resp
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// parseStartMonth accepts "2006-01" or an RFC 3339 timestamp.
func parseStartMonth(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01", s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q is neither YYYY-MM nor RFC 3339", vesting.ErrInvalidStartMonth, s)
	}
	return t.UTC(), nil
}
