package solver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGreedySolverRespectsHardCap(t *testing.T) {
	problem := BatchProblem{
		Accounts: []AccountDemand{
			{AccountID: "a1", ARR: 900_000},
			{AccountID: "a2", ARR: 900_000},
		},
		Reps: []RepSupply{
			{RepID: "r1", TargetARR: 1_000_000, HardCapARR: 1_200_000},
		},
		Eligible: map[string][]string{"a1": {"r1"}, "a2": {"r1"}},
	}

	g := &GreedySolver{}
	result, err := g.Solve(context.Background(), problem)
	require.NoError(t, err)

	assert.Equal(t, "r1", result.AccountToRep["a1"])
	_, secondAssigned := result.AccountToRep["a2"]
	assert.False(t, secondAssigned, "second account should be left unassigned once the hard cap is reached")
	assert.False(t, result.Optimal)
}

func TestGreedySolverPrefersLeastLoadedRep(t *testing.T) {
	problem := BatchProblem{
		Accounts: []AccountDemand{{AccountID: "a1", ARR: 100_000}},
		Reps: []RepSupply{
			{RepID: "loaded", CurrentARR: 900_000, TargetARR: 1_000_000, HardCapARR: 1_500_000},
			{RepID: "light", CurrentARR: 100_000, TargetARR: 1_000_000, HardCapARR: 1_500_000},
		},
		Eligible: map[string][]string{"a1": {"loaded", "light"}},
	}

	g := &GreedySolver{}
	result, err := g.Solve(context.Background(), problem)
	require.NoError(t, err)
	assert.Equal(t, "light", result.AccountToRep["a1"])
}

func TestGreedySolverIsDeterministicAcrossRuns(t *testing.T) {
	problem := BatchProblem{
		Accounts: []AccountDemand{
			{AccountID: "a1", ARR: 500_000},
			{AccountID: "a2", ARR: 500_000},
			{AccountID: "a3", ARR: 200_000},
		},
		Reps: []RepSupply{
			{RepID: "r1", TargetARR: 1_000_000, HardCapARR: 2_000_000},
			{RepID: "r2", TargetARR: 1_000_000, HardCapARR: 2_000_000},
		},
		Eligible: map[string][]string{
			"a1": {"r1", "r2"},
			"a2": {"r1", "r2"},
			"a3": {"r1", "r2"},
		},
	}

	g := &GreedySolver{}
	first, err := g.Solve(context.Background(), problem)
	require.NoError(t, err)
	second, err := g.Solve(context.Background(), problem)
	require.NoError(t, err)
	assert.Equal(t, first.AccountToRep, second.AccountToRep)
}

func TestBranchAndBoundPrefersContinuityWhenBalanced(t *testing.T) {
	problem := BatchProblem{
		Accounts: []AccountDemand{{AccountID: "a1", ARR: 100_000, CurrentOwner: "r2"}},
		Reps: []RepSupply{
			{RepID: "r1", TargetARR: 1_000_000, HardCapARR: 2_000_000},
			{RepID: "r2", TargetARR: 1_000_000, HardCapARR: 2_000_000},
		},
		Eligible: map[string][]string{"a1": {"r1", "r2"}},
	}

	s := NewBranchAndBoundSolver()
	result, err := s.Solve(context.Background(), problem)
	require.NoError(t, err)
	assert.Equal(t, "r2", result.AccountToRep["a1"])
	assert.True(t, result.Optimal)
}

func TestBranchAndBoundRespectsCapacityConstraint(t *testing.T) {
	problem := BatchProblem{
		Accounts: []AccountDemand{
			{AccountID: "a1", ARR: 600_000},
			{AccountID: "a2", ARR: 600_000},
			{AccountID: "a3", ARR: 600_000},
		},
		Reps: []RepSupply{
			{RepID: "r1", TargetARR: 1_000_000, HardCapARR: 1_200_000},
		},
		Eligible: map[string][]string{"a1": {"r1"}, "a2": {"r1"}, "a3": {"r1"}},
	}

	s := NewBranchAndBoundSolver()
	result, err := s.Solve(context.Background(), problem)
	require.NoError(t, err)

	var total float64
	for accID, repID := range result.AccountToRep {
		require.Equal(t, "r1", repID)
		for _, a := range problem.Accounts {
			if a.AccountID == accID {
				total += a.ARR
			}
		}
	}
	assert.LessOrEqual(t, total, 1_200_000.0)
}

func TestBranchAndBoundNeverFallsBelowGreedyObjective(t *testing.T) {
	problem := BatchProblem{
		Accounts: []AccountDemand{
			{AccountID: "a1", ARR: 400_000, CurrentOwner: "r1"},
			{AccountID: "a2", ARR: 300_000, CurrentOwner: "r2"},
			{AccountID: "a3", ARR: 300_000},
		},
		Reps: []RepSupply{
			{RepID: "r1", CurrentARR: 200_000, TargetARR: 1_000_000, HardCapARR: 2_000_000},
			{RepID: "r2", CurrentARR: 800_000, TargetARR: 1_000_000, HardCapARR: 2_000_000},
		},
		Eligible: map[string][]string{
			"a1": {"r1", "r2"},
			"a2": {"r1", "r2"},
			"a3": {"r1", "r2"},
		},
	}

	g := &GreedySolver{}
	greedyResult, err := g.Solve(context.Background(), problem)
	require.NoError(t, err)

	s := NewBranchAndBoundSolver()
	bbResult, err := s.Solve(context.Background(), problem)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, bbResult.Objective, greedyResult.Objective)
}

func TestBranchAndBoundHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	problem := BatchProblem{
		Accounts: []AccountDemand{{AccountID: "a1", ARR: 100_000}},
		Reps:     []RepSupply{{RepID: "r1", TargetARR: 1_000_000, HardCapARR: 2_000_000}},
		Eligible: map[string][]string{"a1": {"r1"}},
	}

	s := NewBranchAndBoundSolver()
	result, err := s.Solve(ctx, problem)
	require.NoError(t, err)
	assert.False(t, result.Optimal)
}

func TestAccountWithNoEligibleRepsIsLeftUnassigned(t *testing.T) {
	problem := BatchProblem{
		Accounts: []AccountDemand{{AccountID: "a1", ARR: 100_000}},
		Reps:     []RepSupply{{RepID: "r1", TargetARR: 1_000_000, HardCapARR: 2_000_000}},
		Eligible: map[string][]string{"a1": {}},
	}

	s := NewBranchAndBoundSolver()
	result, err := s.Solve(context.Background(), problem)
	require.NoError(t, err)
	assert.Empty(t, result.AccountToRep)
}
