/*
Package factory provides JSON to Go plan conversion.

PURPOSE:
  Converts JSON plan definitions into vesting.Plan values, so plans can be
  seeded from configuration files or submitted over HTTP without code
  changes.

JSON SCHEMA:
  {
    "cliff_months": 12,
    "total_duration_months": 36,
    "interval_unit": "month",
    "interval_length": 3,
    "delegation_allowed": true,
    "terminable": true
  }

USAGE:
  plan, err := factory.ParsePlan(factory.LinearPlanJSON(12, 48, "month", 1, true, true))
  plan, err = allocator.AddPlan(ctx, admin, plan)

SEE ALSO:
  - vesting/plan.go: Plan type and validation
  - config/config.go: seed_plans
*/
package factory

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/warp/vesting-engine/vesting"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// PlanJSON is the JSON (and config file) representation of a plan.
type PlanJSON struct {
	ID                  int64  `json:"id,omitempty" koanf:"id"`
	CliffMonths         int    `json:"cliff_months" koanf:"cliff_months"`
	TotalDurationMonths int    `json:"total_duration_months" koanf:"total_duration_months"`
	IntervalUnit        string `json:"interval_unit" koanf:"interval_unit"`
	IntervalLength      int    `json:"interval_length" koanf:"interval_length"`
	DelegationAllowed   bool   `json:"delegation_allowed" koanf:"delegation_allowed"`
	Terminable          bool   `json:"terminable" koanf:"terminable"`
}

// ParsePlan parses and validates a JSON plan definition.
func ParsePlan(jsonStr string) (vesting.Plan, error) {
	var pj PlanJSON
	if err := json.Unmarshal([]byte(jsonStr), &pj); err != nil {
		return vesting.Plan{}, fmt.Errorf("failed to parse plan JSON: %w", err)
	}
	return pj.ToPlan()
}

// ToPlan converts and validates. Interval units are case-insensitive and
// default to "month".
func (pj PlanJSON) ToPlan() (vesting.Plan, error) {
	unitStr := strings.ToLower(strings.TrimSpace(pj.IntervalUnit))
	if unitStr == "" {
		unitStr = string(vesting.UnitMonth)
	}
	unit, err := vesting.ParseTimeUnit(unitStr)
	if err != nil {
		return vesting.Plan{}, err
	}

	plan := vesting.Plan{
		ID:                  vesting.PlanID(pj.ID),
		CliffMonths:         pj.CliffMonths,
		TotalDurationMonths: pj.TotalDurationMonths,
		IntervalUnit:        unit,
		IntervalLength:      pj.IntervalLength,
		DelegationAllowed:   pj.DelegationAllowed,
		Terminable:          pj.Terminable,
	}
	if err := plan.Validate(); err != nil {
		return vesting.Plan{}, err
	}
	return plan, nil
}

// FromPlan is the inverse of ToPlan.
func FromPlan(p vesting.Plan) PlanJSON {
	return PlanJSON{
		ID:                  int64(p.ID),
		CliffMonths:         p.CliffMonths,
		TotalDurationMonths: p.TotalDurationMonths,
		IntervalUnit:        string(p.IntervalUnit),
		IntervalLength:      p.IntervalLength,
		DelegationAllowed:   p.DelegationAllowed,
		Terminable:          p.Terminable,
	}
}

// =============================================================================
// PRESETS
// =============================================================================

// CliffOnlyPlanJSON returns JSON for a plan that releases everything at the
// cliff. Such plans cannot be terminated once started.
func CliffOnlyPlanJSON(months int, delegationAllowed bool) string {
	return marshal(PlanJSON{
		CliffMonths:         months,
		TotalDurationMonths: months,
		IntervalUnit:        string(vesting.UnitMonth),
		IntervalLength:      1,
		DelegationAllowed:   delegationAllowed,
	})
}

// LinearPlanJSON returns JSON for a cliff followed by equal releases every
// intervalLength units.
func LinearPlanJSON(cliffMonths, totalMonths int, unit string, intervalLength int, delegationAllowed, terminable bool) string {
	return marshal(PlanJSON{
		CliffMonths:         cliffMonths,
		TotalDurationMonths: totalMonths,
		IntervalUnit:        unit,
		IntervalLength:      intervalLength,
		DelegationAllowed:   delegationAllowed,
		Terminable:          terminable,
	})
}

func marshal(pj PlanJSON) string {
	b, _ := json.MarshalIndent(pj, "", "  ")
	return string(b)
}
