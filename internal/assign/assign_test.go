package assign

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dataparency-dev/territory-assign/internal/geo"
	"github.com/dataparency-dev/territory-assign/internal/ledger"
	"github.com/dataparency-dev/territory-assign/internal/solver"
	"github.com/dataparency-dev/territory-assign/pkg/model"
)

func westThresholds() model.CalibratedThresholds {
	return model.CalibratedThresholds{ARR: model.Band{Target: 1_000_000, Min: 850_000, Max: 1_150_000}}
}

func rep(id, region string) model.SalesRep {
	return model.SalesRep{RepID: id, Name: id, Region: region, IsActive: true, IncludeInAssignments: true}
}

// Scenario 1: tiny P1. All three accounts stay with rep_A, all P1, no warnings.
func TestScenarioTinyP1(t *testing.T) {
	repA := rep("rep_A", "West")
	accounts := []model.Account{
		{AccountID: "a1", IsParent: true, IsCustomer: true, Territory: "West", ARR: 300_000, CurrentOwnerID: "rep_A"},
		{AccountID: "a2", IsParent: true, IsCustomer: true, Territory: "West", ARR: 300_000, CurrentOwnerID: "rep_A"},
		{AccountID: "a3", IsParent: true, IsCustomer: true, Territory: "West", ARR: 300_000, CurrentOwnerID: "rep_A"},
	}

	led := ledger.New(model.CohortCustomer, westThresholds(), 1_000_000_000, 0)
	resolver := geo.NewResolver(nil)
	mip := solver.NewBranchAndBoundSolver()

	result, err := Run(context.Background(), Input{
		Cohort:     model.CohortCustomer,
		Accounts:   accounts,
		Reps:       []model.SalesRep{repA},
		Thresholds: westThresholds(),
	}, led, resolver, mip)
	require.NoError(t, err)

	require.Len(t, result.Proposals, 3)
	for _, p := range result.Proposals {
		assert.Equal(t, "rep_A", p.ProposedOwnerID)
		assert.Equal(t, model.RuleP1, p.RuleApplied)
		assert.Empty(t, p.Warnings)
	}
	assert.Empty(t, result.Warnings)
}

// Scenario 2: capacity forces P2. Two accounts stay with rep_A, one moves to
// rep_B with a continuity_broken warning.
func TestScenarioCapacityForcesP2(t *testing.T) {
	repA := rep("rep_A", "West")
	repB := rep("rep_B", "West")
	accounts := []model.Account{
		{AccountID: "a1", IsParent: true, IsCustomer: true, Territory: "West", ARR: 600_000, CurrentOwnerID: "rep_A"},
		{AccountID: "a2", IsParent: true, IsCustomer: true, Territory: "West", ARR: 600_000, CurrentOwnerID: "rep_A"},
		{AccountID: "a3", IsParent: true, IsCustomer: true, Territory: "West", ARR: 600_000, CurrentOwnerID: "rep_A"},
	}

	led := ledger.New(model.CohortCustomer, westThresholds(), 1_200_000, 0)
	resolver := geo.NewResolver(nil)
	mip := solver.NewBranchAndBoundSolver()

	result, err := Run(context.Background(), Input{
		Cohort:     model.CohortCustomer,
		Accounts:   accounts,
		Reps:       []model.SalesRep{repA, repB},
		Thresholds: westThresholds(),
	}, led, resolver, mip)
	require.NoError(t, err)
	require.Len(t, result.Proposals, 3)

	var toA, toB int
	var movedWarned bool
	for _, p := range result.Proposals {
		switch p.ProposedOwnerID {
		case "rep_A":
			toA++
			assert.Equal(t, model.RuleP1, p.RuleApplied)
		case "rep_B":
			toB++
			for _, w := range p.Warnings {
				if w.Code == model.WarnContinuityBroken {
					movedWarned = true
					assert.Equal(t, model.SeverityMedium, w.Severity)
				}
			}
		}
	}
	assert.Equal(t, 2, toA)
	assert.Equal(t, 1, toB)
	assert.True(t, movedWarned)
}

// Scenario 3: geography mismatch cascades to P3. rep_A (Central) keeps the
// account since rep_W (West) is at capacity; a cross_region warning fires.
func TestScenarioGeographyMismatchCascadesToP3(t *testing.T) {
	repA := rep("rep_A", "Central")
	repW := rep("rep_W", "West")
	account := model.Account{AccountID: "a1", IsParent: true, IsCustomer: true, Territory: "Pac NW", ARR: 1_000_000, CurrentOwnerID: "rep_A"}

	led := ledger.New(model.CohortCustomer, westThresholds(), 1_150_000, 0)
	led.Record("rep_W", model.Account{ARR: 1_150_000})
	resolver := geo.NewResolver(nil)
	mip := solver.NewBranchAndBoundSolver()

	result, err := Run(context.Background(), Input{
		Cohort:     model.CohortCustomer,
		Accounts:   []model.Account{account},
		Reps:       []model.SalesRep{repA, repW},
		Thresholds: westThresholds(),
	}, led, resolver, mip)
	require.NoError(t, err)
	require.Len(t, result.Proposals, 1)

	p := result.Proposals[0]
	assert.Equal(t, "rep_A", p.ProposedOwnerID)
	assert.Equal(t, model.RuleP3, p.RuleApplied)
	var hasCrossRegion bool
	for _, w := range p.Warnings {
		if w.Code == model.WarnCrossRegion {
			hasCrossRegion = true
		}
	}
	assert.True(t, hasCrossRegion)
}

// Scenario 4: forced assignment. One rep, ten accounts each at the hard cap;
// every account is still assigned (bijection over the pool).
func TestScenarioForcedAssignmentGuaranteesCoverage(t *testing.T) {
	solo := rep("rep_solo", "West")
	hardCap := 100_000.0
	var accounts []model.Account
	for i := 0; i < 10; i++ {
		accounts = append(accounts, model.Account{
			AccountID:      idFor(i),
			IsParent:       true,
			IsCustomer:     true,
			Territory:      "West",
			ARR:            hardCap,
			CurrentOwnerID: "rep_solo",
		})
	}

	led := ledger.New(model.CohortCustomer, model.CalibratedThresholds{ARR: model.Band{Target: hardCap, Min: hardCap * 0.85, Max: hardCap * 1.15}}, hardCap, 0)
	resolver := geo.NewResolver(nil)
	mip := solver.NewBranchAndBoundSolver()

	result, err := Run(context.Background(), Input{
		Cohort:     model.CohortCustomer,
		Accounts:   accounts,
		Reps:       []model.SalesRep{solo},
		Thresholds: led.Thresholds(),
	}, led, resolver, mip)
	require.NoError(t, err)

	require.Len(t, result.Proposals, 10)
	var forced int
	for _, p := range result.Proposals {
		assert.Equal(t, "rep_solo", p.ProposedOwnerID)
		if p.RuleApplied == model.RuleForcedFallback {
			forced++
			var hasCapacityExceeded bool
			for _, w := range p.Warnings {
				if w.Code == model.WarnCapacityExceeded {
					hasCapacityExceeded = true
				}
			}
			assert.True(t, hasCapacityExceeded)
		}
	}
	assert.GreaterOrEqual(t, forced, 9)
}

func TestHoldoverAccountIsNeverReassigned(t *testing.T) {
	repA := rep("rep_A", "West")
	repB := rep("rep_B", "West")
	account := model.Account{AccountID: "a1", IsParent: true, IsCustomer: true, Territory: "West", ARR: 9_000_000, CurrentOwnerID: "rep_A", ExcludeFromReassignment: true}

	led := ledger.New(model.CohortCustomer, westThresholds(), 1_000, 0)
	resolver := geo.NewResolver(nil)
	mip := solver.NewBranchAndBoundSolver()

	result, err := Run(context.Background(), Input{
		Cohort:   model.CohortCustomer,
		Accounts: []model.Account{account},
		Reps:     []model.SalesRep{repA, repB},
	}, led, resolver, mip)
	require.NoError(t, err)
	require.Len(t, result.Proposals, 1)
	assert.Equal(t, "rep_A", result.Proposals[0].ProposedOwnerID)
	assert.Equal(t, model.RuleHoldover, result.Proposals[0].RuleApplied)
}

func TestStrategicAccountsBypassWaterfall(t *testing.T) {
	strategicRep := model.SalesRep{RepID: "strat_A", Name: "strat_A", IsActive: true, IncludeInAssignments: true, IsStrategicRep: true}
	account := model.Account{AccountID: "a1", IsParent: true, IsCustomer: true, Territory: "Nowhere", ARR: 5_000_000, CurrentOwnerID: "strat_A"}

	led := ledger.New(model.CohortCustomer, westThresholds(), 1_000, 0)
	resolver := geo.NewResolver(nil)
	mip := solver.NewBranchAndBoundSolver()

	result, err := Run(context.Background(), Input{
		Cohort:   model.CohortCustomer,
		Accounts: []model.Account{account},
		Reps:     []model.SalesRep{strategicRep},
	}, led, resolver, mip)
	require.NoError(t, err)
	require.Len(t, result.Proposals, 1)
	assert.Equal(t, model.RuleStrategic, result.Proposals[0].RuleApplied)
	assert.Equal(t, "strat_A", result.Proposals[0].ProposedOwnerID)
}

// TestStrategicLeastLoadedTieBreaksOnHireDate exercises the residual tie
// in the strategic-pool least-loaded selection: with both strategic reps
// equally loaded, the earlier hire_date wins even though it sorts after
// the other rep's RepID. The account's owner is an inactive strategic rep,
// which makes the account strategic and sends it to the least-loaded rule.
func TestStrategicLeastLoadedTieBreaksOnHireDate(t *testing.T) {
	later := time.Date(2022, time.January, 1, 0, 0, 0, 0, time.UTC)
	earlier := time.Date(2018, time.January, 1, 0, 0, 0, 0, time.UTC)
	stratOld := model.SalesRep{RepID: "strat_old", Name: "strat_old", IsActive: false, IncludeInAssignments: true, IsStrategicRep: true}
	stratA := model.SalesRep{RepID: "strat_A", Name: "strat_A", IsActive: true, IncludeInAssignments: true, IsStrategicRep: true, HireDate: &later}
	stratB := model.SalesRep{RepID: "strat_B", Name: "strat_B", IsActive: true, IncludeInAssignments: true, IsStrategicRep: true, HireDate: &earlier}
	account := model.Account{AccountID: "a1", IsParent: true, IsCustomer: true, Territory: "Nowhere", ARR: 5_000_000, CurrentOwnerID: "strat_old"}

	led := ledger.New(model.CohortCustomer, westThresholds(), 1_000, 0)
	resolver := geo.NewResolver(nil)
	mip := solver.NewBranchAndBoundSolver()

	result, err := Run(context.Background(), Input{
		Cohort:   model.CohortCustomer,
		Accounts: []model.Account{account},
		Reps:     []model.SalesRep{stratOld, stratA, stratB},
	}, led, resolver, mip)
	require.NoError(t, err)
	require.Len(t, result.Proposals, 1)
	assert.Equal(t, "strat_B", result.Proposals[0].ProposedOwnerID, "earlier hire_date must win the tie even though strat_A sorts first by RepID")
}

func idFor(i int) string {
	return "a" + string(rune('0'+i))
}
