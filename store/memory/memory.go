// Package memory provides an in-memory vesting.TxStore and staking.TxStore
// (for testing/dev).
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/vesting-engine/staking"
	"github.com/warp/vesting-engine/token"
	"github.com/warp/vesting-engine/vesting"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

type Memory struct {
	mu sync.RWMutex
	st *state
}

var (
	_ vesting.TxStore = (*Memory)(nil)
	_ staking.TxStore = (*Memory)(nil)
)

func New() *Memory {
	return &Memory{st: newState()}
}

func (m *Memory) AppendTransaction(ctx context.Context, tx token.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.AppendTransaction(ctx, tx)
}

func (m *Memory) LoadTransactions(ctx context.Context, addr token.Address) ([]token.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.LoadTransactions(ctx, addr)
}

// Atomic runs fn under the write lock. There is no rollback: ledger
// primitives only append after all checks passed.
func (m *Memory) Atomic(ctx context.Context, fn func(token.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(m.st)
}

func (m *Memory) AppendPlan(ctx context.Context, plan vesting.Plan) (vesting.PlanID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.AppendPlan(ctx, plan)
}

func (m *Memory) GetPlan(ctx context.Context, id vesting.PlanID) (*vesting.Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetPlan(ctx, id)
}

func (m *Memory) ListPlans(ctx context.Context) ([]vesting.Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ListPlans(ctx)
}

func (m *Memory) SaveBeneficiary(ctx context.Context, b vesting.Beneficiary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.SaveBeneficiary(ctx, b)
}

func (m *Memory) GetBeneficiary(ctx context.Context, addr token.Address) (*vesting.Beneficiary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetBeneficiary(ctx, addr)
}

func (m *Memory) ListBeneficiaries(ctx context.Context) ([]vesting.Beneficiary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ListBeneficiaries(ctx)
}

func (m *Memory) SaveEscrow(ctx context.Context, e vesting.EscrowState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.SaveEscrow(ctx, e)
}

func (m *Memory) GetEscrow(ctx context.Context, beneficiary token.Address) (*vesting.EscrowState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetEscrow(ctx, beneficiary)
}

func (m *Memory) AppendDelegation(ctx context.Context, d staking.Delegation) (staking.DelegationID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.AppendDelegation(ctx, d)
}

func (m *Memory) GetDelegation(ctx context.Context, id staking.DelegationID) (*staking.Delegation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetDelegation(ctx, id)
}

func (m *Memory) SetDelegationState(ctx context.Context, id staking.DelegationID, st staking.DelegationState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.SetDelegationState(ctx, id, st)
}

func (m *Memory) ListDelegations(ctx context.Context, delegator token.Address) ([]staking.Delegation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ListDelegations(ctx, delegator)
}

func (m *Memory) GetBounty(ctx context.Context, validator staking.ValidatorID, claimant token.Address) (token.Amount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetBounty(ctx, validator, claimant)
}

func (m *Memory) SaveBounty(ctx context.Context, validator staking.ValidatorID, claimant token.Address, amount token.Amount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.SaveBounty(ctx, validator, claimant, amount)
}

// WithTx executes fn within a transaction.
// Simulated with a snapshot + restore on error.
func (m *Memory) WithTx(ctx context.Context, fn func(vesting.Store) error) error {
	return m.withSnapshot(func(st *state) error { return fn(st) })
}

// WithStakingTx is WithTx for the staking controller.
func (m *Memory) WithStakingTx(ctx context.Context, fn func(staking.Store) error) error {
	return m.withSnapshot(func(st *state) error { return fn(st) })
}

func (m *Memory) withSnapshot(fn func(*state) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.st.clone()
	if err := fn(m.st); err != nil {
		*m.st = *snapshot
		return err
	}
	return nil
}

// =============================================================================
// STATE - Unlocked view, also handed to WithTx callbacks
// =============================================================================

type state struct {
	plans         []vesting.Plan
	beneficiaries map[token.Address]vesting.Beneficiary
	escrows       map[token.Address]vesting.EscrowState
	txs           []token.Transaction
	delegations   []staking.Delegation
	bounties      map[bountyKey]token.Amount
}

type bountyKey struct {
	validator staking.ValidatorID
	claimant  token.Address
}

func newState() *state {
	return &state{
		beneficiaries: make(map[token.Address]vesting.Beneficiary),
		escrows:       make(map[token.Address]vesting.EscrowState),
		bounties:      make(map[bountyKey]token.Amount),
	}
}

func (s *state) clone() *state {
	c := &state{
		plans:         append([]vesting.Plan(nil), s.plans...),
		beneficiaries: make(map[token.Address]vesting.Beneficiary, len(s.beneficiaries)),
		escrows:       make(map[token.Address]vesting.EscrowState, len(s.escrows)),
		txs:           append([]token.Transaction(nil), s.txs...),
		delegations:   append([]staking.Delegation(nil), s.delegations...),
		bounties:      make(map[bountyKey]token.Amount, len(s.bounties)),
	}
	for k, v := range s.beneficiaries {
		c.beneficiaries[k] = v
	}
	for k, v := range s.escrows {
		c.escrows[k] = v
	}
	for k, v := range s.bounties {
		c.bounties[k] = v
	}
	return c
}

func (s *state) AppendTransaction(_ context.Context, tx token.Transaction) error {
	s.txs = append(s.txs, tx)
	return nil
}

func (s *state) LoadTransactions(_ context.Context, addr token.Address) ([]token.Transaction, error) {
	var result []token.Transaction
	for _, tx := range s.txs {
		if tx.Touches(addr) {
			result = append(result, tx)
		}
	}
	return result, nil
}

func (s *state) Atomic(_ context.Context, fn func(token.Store) error) error {
	return fn(s)
}

func (s *state) AppendPlan(_ context.Context, plan vesting.Plan) (vesting.PlanID, error) {
	plan.ID = vesting.PlanID(len(s.plans) + 1)
	s.plans = append(s.plans, plan)
	return plan.ID, nil
}

func (s *state) GetPlan(_ context.Context, id vesting.PlanID) (*vesting.Plan, error) {
	if id < 1 || int(id) > len(s.plans) {
		return nil, nil
	}
	p := s.plans[id-1]
	return &p, nil
}

func (s *state) ListPlans(_ context.Context) ([]vesting.Plan, error) {
	return append([]vesting.Plan(nil), s.plans...), nil
}

func (s *state) SaveBeneficiary(_ context.Context, b vesting.Beneficiary) error {
	s.beneficiaries[b.Address] = b
	return nil
}

func (s *state) GetBeneficiary(_ context.Context, addr token.Address) (*vesting.Beneficiary, error) {
	b, ok := s.beneficiaries[addr]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (s *state) ListBeneficiaries(_ context.Context) ([]vesting.Beneficiary, error) {
	result := make([]vesting.Beneficiary, 0, len(s.beneficiaries))
	for _, b := range s.beneficiaries {
		result = append(result, b)
	}
	sortBeneficiaries(result)
	return result, nil
}

func (s *state) SaveEscrow(_ context.Context, e vesting.EscrowState) error {
	s.escrows[e.Beneficiary] = e
	return nil
}

func (s *state) GetEscrow(_ context.Context, beneficiary token.Address) (*vesting.EscrowState, error) {
	e, ok := s.escrows[beneficiary]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (s *state) AppendDelegation(_ context.Context, d staking.Delegation) (staking.DelegationID, error) {
	d.ID = staking.DelegationID(len(s.delegations) + 1)
	s.delegations = append(s.delegations, d)
	return d.ID, nil
}

func (s *state) GetDelegation(_ context.Context, id staking.DelegationID) (*staking.Delegation, error) {
	if id < 1 || int(id) > len(s.delegations) {
		return nil, nil
	}
	d := s.delegations[id-1]
	return &d, nil
}

func (s *state) SetDelegationState(_ context.Context, id staking.DelegationID, st staking.DelegationState) error {
	if id < 1 || int(id) > len(s.delegations) {
		return fmt.Errorf("%w: %d", staking.ErrDelegationNotFound, id)
	}
	s.delegations[id-1].State = st
	return nil
}

func (s *state) ListDelegations(_ context.Context, delegator token.Address) ([]staking.Delegation, error) {
	var result []staking.Delegation
	for _, d := range s.delegations {
		if d.Delegator == delegator {
			result = append(result, d)
		}
	}
	return result, nil
}

func (s *state) GetBounty(_ context.Context, validator staking.ValidatorID, claimant token.Address) (token.Amount, error) {
	if a, ok := s.bounties[bountyKey{validator, claimant}]; ok {
		return a, nil
	}
	return token.Zero, nil
}

func (s *state) SaveBounty(_ context.Context, validator staking.ValidatorID, claimant token.Address, amount token.Amount) error {
	k := bountyKey{validator, claimant}
	if !amount.IsPositive() {
		delete(s.bounties, k)
		return nil
	}
	s.bounties[k] = amount
	return nil
}

func sortBeneficiaries(bs []vesting.Beneficiary) {
	sort.Slice(bs, func(i, j int) bool { return bs[i].Address < bs[j].Address })
}
