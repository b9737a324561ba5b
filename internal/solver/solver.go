// Package solver implements the batch MIP formulation used by passes
// P2-P4 of the priority-level assigner: a weighted-assignment problem
// over binary x_{a,r} decision variables, solved by a bounded
// branch-and-bound search with a deterministic greedy fallback.
//
// No MILP library ships anywhere in the retrieval pack this engine was
// grown from (see the project's DESIGN.md), so both solvers are
// hand-written; the branch-and-bound formulation and its bounds follow
// directly from the objective and constraints in the batch problem
// contract below.
package solver

import (
	"context"
	"math"
	"sort"
	"time"
)

// AccountDemand is one candidate account in a batch problem.
type AccountDemand struct {
	AccountID    string
	ARR          float64
	CurrentOwner string // empty if the account has no current owner
}

// RepSupply is one eligible rep's capacity state going into this pass.
type RepSupply struct {
	RepID      string
	CurrentARR float64
	TargetARR  float64
	HardCapARR float64 // <=0 means uncapped (prospect cohort)
}

// BatchProblem is one priority pass's MIP instance.
type BatchProblem struct {
	Accounts []AccountDemand
	Reps     []RepSupply
	// Eligible maps an account ID to the rep IDs allowed to take it.
	Eligible map[string][]string
}

// Assignment is the solver's decision for a BatchProblem.
type Assignment struct {
	// AccountToRep holds only the accounts the solver chose to assign;
	// accounts absent from the map stay unassigned and fall to the next
	// pass, by design (constraints are "≤1", not "=1").
	AccountToRep map[string]string
	Optimal      bool
	Objective    float64
}

// Solver is the contract every batch pass solves against.
type Solver interface {
	Solve(ctx context.Context, problem BatchProblem) (Assignment, error)
}

const continuityBonus = 30.0
const baseBonus = 10.0

func balanceBonus(currentARR, targetARR float64) float64 {
	if targetARR <= 0 {
		return 0
	}
	b := 100 - 50*currentARR/targetARR
	if b < 0 {
		return 0
	}
	return b
}

func score(a AccountDemand, r RepSupply) float64 {
	cb := 0.0
	if a.CurrentOwner == r.RepID {
		cb = continuityBonus
	}
	return balanceBonus(r.CurrentARR, r.TargetARR) + cb + baseBonus
}

// ─── Branch-and-bound solver ──────────────────────────────────────────────

// BranchAndBoundOptions configures the solver's wall-time budget,
// relative-gap tolerance, and node limit. The solver runs no presolve step.
type BranchAndBoundOptions struct {
	TimeBudget  time.Duration
	RelativeGap float64
	// NodeLimit bounds search effort independent of wall time, so a
	// pathological instance cannot stall the single-slot solver forever.
	NodeLimit int
}

// DefaultBranchAndBoundOptions returns the solver defaults (see spec.md
// §4.4.2): 10s wall-time budget, 5% relative gap, 50,000-node limit.
func DefaultBranchAndBoundOptions() BranchAndBoundOptions {
	return BranchAndBoundOptions{TimeBudget: 10 * time.Second, RelativeGap: 0.05, NodeLimit: 50_000}
}

// BranchAndBoundSolver solves the batch assignment MIP with a bounded
// depth-first branch and bound. Accounts are branched on in ARR-descending
// order (the same order the greedy fallback uses), which tends to fix the
// highest-value, most-constrained decisions first and prunes faster.
type BranchAndBoundSolver struct {
	Options BranchAndBoundOptions
}

// NewBranchAndBoundSolver builds a solver with the default options.
func NewBranchAndBoundSolver() *BranchAndBoundSolver {
	return &BranchAndBoundSolver{Options: DefaultBranchAndBoundOptions()}
}

type bbState struct {
	remainingCap map[string]float64 // repID -> remaining headroom to hard cap
	assigned     map[string]string
	objective    float64
}

func (s *BranchAndBoundSolver) Solve(ctx context.Context, problem BatchProblem) (Assignment, error) {
	deadline := time.Now().Add(s.Options.TimeBudget)

	accounts := make([]AccountDemand, len(problem.Accounts))
	copy(accounts, problem.Accounts)
	sortAccountsByARRDesc(accounts)

	repByID := make(map[string]RepSupply, len(problem.Reps))
	for _, r := range problem.Reps {
		repByID[r.RepID] = r
	}

	// Greedy incumbent first: always a valid, complete-as-possible
	// solution to fall back to if the search budget runs out.
	greedy := (&GreedySolver{}).solveOrdered(accounts, problem, repByID)

	root := &bbState{remainingCap: make(map[string]float64, len(problem.Reps)), assigned: map[string]string{}}
	for _, r := range problem.Reps {
		if r.HardCapARR > 0 {
			root.remainingCap[r.RepID] = r.HardCapARR - r.CurrentARR
		} else {
			root.remainingCap[r.RepID] = math.Inf(1)
		}
	}

	best := &bbState{remainingCap: cloneCap(root.remainingCap), assigned: cloneAssign(greedy.AccountToRep), objective: greedy.Objective}

	nodes := 0
	var explore func(idx int, st *bbState) bool // returns false to signal abort (deadline/node limit)
	explore = func(idx int, st *bbState) bool {
		nodes++
		if nodes > s.Options.NodeLimit || time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		default:
		}

		if idx == len(accounts) {
			if st.objective > best.objective {
				best = &bbState{assigned: cloneAssign(st.assigned), objective: st.objective}
			}
			return true
		}

		// Upper bound: best possible score for every remaining account,
		// ignoring capacity. If even that cannot beat the incumbent by
		// more than the relative gap, prune this whole branch.
		upper := st.objective
		for i := idx; i < len(accounts); i++ {
			upper += bestPossibleScore(accounts[i], problem, repByID)
		}
		if upper < best.objective*(1+s.Options.RelativeGap) {
			return true
		}

		acc := accounts[idx]
		// Branch: leave unassigned.
		if !explore(idx+1, st) {
			return false
		}

		// Branch: try each eligible rep with remaining capacity, best
		// score first.
		candidates := eligibleRepsSorted(acc, problem, repByID)
		for _, r := range candidates {
			remaining := st.remainingCap[r.RepID]
			if acc.ARR > remaining {
				continue
			}
			next := &bbState{
				remainingCap: cloneCap(st.remainingCap),
				assigned:     cloneAssign(st.assigned),
				objective:    st.objective + score(acc, r),
			}
			if next.remainingCap[r.RepID] != math.Inf(1) {
				next.remainingCap[r.RepID] -= acc.ARR
			}
			next.assigned[acc.AccountID] = r.RepID
			if !explore(idx+1, next) {
				return false
			}
		}
		return true
	}

	completed := explore(0, root)

	result := Assignment{AccountToRep: best.assigned, Objective: best.objective, Optimal: completed}
	return result, nil
}

func bestPossibleScore(a AccountDemand, problem BatchProblem, repByID map[string]RepSupply) float64 {
	best := 0.0
	for _, repID := range problem.Eligible[a.AccountID] {
		r, ok := repByID[repID]
		if !ok {
			continue
		}
		if s := score(a, r); s > best {
			best = s
		}
	}
	return best
}

func eligibleRepsSorted(a AccountDemand, problem BatchProblem, repByID map[string]RepSupply) []RepSupply {
	ids := problem.Eligible[a.AccountID]
	reps := make([]RepSupply, 0, len(ids))
	for _, id := range ids {
		if r, ok := repByID[id]; ok {
			reps = append(reps, r)
		}
	}
	sort.Slice(reps, func(i, j int) bool {
		si, sj := score(a, reps[i]), score(a, reps[j])
		if si != sj {
			return si > sj
		}
		return reps[i].RepID < reps[j].RepID
	})
	return reps
}

func cloneCap(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneAssign(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func sortAccountsByARRDesc(accounts []AccountDemand) {
	sort.Slice(accounts, func(i, j int) bool {
		if accounts[i].ARR != accounts[j].ARR {
			return accounts[i].ARR > accounts[j].ARR
		}
		return accounts[i].AccountID < accounts[j].AccountID
	})
}

// ─── Greedy fallback solver ────────────────────────────────────────────────

// GreedySolver implements the deterministic fallback of spec.md §4.4.2:
// accounts sorted by ARR descending, each assigned to the currently
// least-loaded eligible rep that still has capacity.
type GreedySolver struct{}

func (g *GreedySolver) Solve(_ context.Context, problem BatchProblem) (Assignment, error) {
	accounts := make([]AccountDemand, len(problem.Accounts))
	copy(accounts, problem.Accounts)
	sortAccountsByARRDesc(accounts)

	repByID := make(map[string]RepSupply, len(problem.Reps))
	for _, r := range problem.Reps {
		repByID[r.RepID] = r
	}

	result := g.solveOrdered(accounts, problem, repByID)
	result.Optimal = false // the greedy path never claims MIP optimality
	return result, nil
}

func (g *GreedySolver) solveOrdered(accounts []AccountDemand, problem BatchProblem, repByID map[string]RepSupply) Assignment {
	load := make(map[string]float64, len(problem.Reps))
	for _, r := range problem.Reps {
		load[r.RepID] = r.CurrentARR
	}

	assigned := make(map[string]string)
	var objective float64

	for _, acc := range accounts {
		candidates := problem.Eligible[acc.AccountID]
		var bestRep *RepSupply
		var bestLoad = math.Inf(1)
		var bestRawARR = math.Inf(1)
		for _, repID := range candidates {
			r, ok := repByID[repID]
			if !ok {
				continue
			}
			current := load[repID]
			newARR := current + acc.ARR
			if r.HardCapARR > 0 && newARR > r.HardCapARR {
				continue
			}
			balance := 0.0
			if r.TargetARR > 0 {
				balance = current / r.TargetARR
			}
			switch {
			case bestRep == nil:
				bestRep, bestLoad, bestRawARR = repPtr(r), balance, current
			case balance < bestLoad-1e-2:
				bestRep, bestLoad, bestRawARR = repPtr(r), balance, current
			case math.Abs(balance-bestLoad) <= 1e-2:
				if current < bestRawARR {
					bestRep, bestLoad, bestRawARR = repPtr(r), balance, current
				} else if current == bestRawARR && r.RepID < bestRep.RepID {
					bestRep, bestLoad, bestRawARR = repPtr(r), balance, current
				}
			}
		}
		if bestRep == nil {
			continue
		}
		assigned[acc.AccountID] = bestRep.RepID
		load[bestRep.RepID] += acc.ARR
		objective += score(acc, *bestRep)
	}

	return Assignment{AccountToRep: assigned, Objective: objective, Optimal: false}
}

func repPtr(r RepSupply) *RepSupply { return &r }
