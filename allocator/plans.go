package allocator

import (
	"context"
	"fmt"

	"github.com/warp/vesting-engine/access"
	"github.com/warp/vesting-engine/token"
	"github.com/warp/vesting-engine/vesting"
)

// =============================================================================
// PLAN REGISTRY
// =============================================================================

// AddPlan validates and appends a plan. The returned plan carries its id.
func (a *Allocator) AddPlan(ctx context.Context, caller token.Address, plan vesting.Plan) (vesting.Plan, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := access.RequireAdministrator(a.roles, caller); err != nil {
		return vesting.Plan{}, a.reject("add plan", err, "caller", caller)
	}
	if err := plan.Validate(); err != nil {
		return vesting.Plan{}, a.reject("add plan", err, "caller", caller)
	}

	id, err := a.store.AppendPlan(ctx, plan)
	if err != nil {
		return vesting.Plan{}, fmt.Errorf("append plan: %w", err)
	}
	plan.ID = id

	a.log.Info("plan added", "plan", plan.ID, "cliff_months", plan.CliffMonths,
		"total_months", plan.TotalDurationMonths, "interval", plan.IntervalLength, "unit", plan.IntervalUnit)
	return plan, nil
}

// GetPlan returns a plan or ErrPlanNotFound.
func (a *Allocator) GetPlan(ctx context.Context, id vesting.PlanID) (vesting.Plan, error) {
	plan, err := a.store.GetPlan(ctx, id)
	if err != nil {
		return vesting.Plan{}, err
	}
	if plan == nil {
		return vesting.Plan{}, fmt.Errorf("%w: %d", vesting.ErrPlanNotFound, id)
	}
	return *plan, nil
}

func (a *Allocator) ListPlans(ctx context.Context) ([]vesting.Plan, error) {
	return a.store.ListPlans(ctx)
}
