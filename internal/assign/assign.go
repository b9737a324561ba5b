// Package assign implements the Priority-Level Batch Assigner (C4): the
// P1-P5 waterfall over non-strategic accounts, and the parallel two-rule
// flow for strategic accounts.
package assign

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/dataparency-dev/territory-assign/internal/apperrors"
	"github.com/dataparency-dev/territory-assign/internal/geo"
	"github.com/dataparency-dev/territory-assign/internal/ledger"
	"github.com/dataparency-dev/territory-assign/internal/solver"
	"github.com/dataparency-dev/territory-assign/internal/telemetry"
	"github.com/dataparency-dev/territory-assign/pkg/model"
)

// Input is one cohort's worth of work for a single Run call.
type Input struct {
	Cohort     model.Cohort
	Accounts   []model.Account
	Reps       []model.SalesRep
	Thresholds model.CalibratedThresholds

	// PreAligned carries accountID -> repID decisions made upstream by
	// parent-child alignment (geo.ResolveParentAlignment); these accounts
	// bypass the waterfall entirely.
	PreAligned map[string]string
	// SplitWarn flags accounts whose alignment raised will_create_split.
	SplitWarn map[string]bool

	// Metrics records pass/solve durations and per-pass account counts.
	// Nil disables telemetry for this run.
	Metrics *telemetry.Metrics
}

// Result is the proposals and warnings produced for one cohort.
type Result struct {
	Proposals []model.Proposal
	Warnings  []model.Warning
}

// Run executes the full per-account state machine for one cohort:
// holdover, alignment, P1..P5, then the strategic flow, in that output
// order. ctx is checked at each pass boundary and before each MIP solve.
func Run(ctx context.Context, in Input, led *ledger.Ledger, resolver *geo.Resolver, mip solver.Solver) (Result, error) {
	repsByID := make(map[string]model.SalesRep, len(in.Reps))
	var knownRegions []string
	seenRegion := map[string]bool{}
	for _, r := range in.Reps {
		repsByID[r.RepID] = r
		if r.Region != "" && !r.IsStrategicRep && !seenRegion[r.Region] {
			seenRegion[r.Region] = true
			knownRegions = append(knownRegions, r.Region)
		}
	}

	var result Result
	var strategic []model.Account
	var pool []model.Account
	var aligned []model.Proposal

	for _, a := range in.Accounts {
		if err := checkCtx(ctx); err != nil {
			return result, err
		}

		if geo.IsHoldover(a, repsByID) {
			owner := repsByID[a.CurrentOwnerID]
			p := proposal(a, owner, model.RuleHoldover, model.PriorityLevel1, "locked: exclude_from_reassignment", in.Cohort)
			led.Record(a.CurrentOwnerID, a)
			result.Proposals = append(result.Proposals, p)
			continue
		}

		if ownerID, ok := in.PreAligned[a.AccountID]; ok {
			owner := repsByID[ownerID]
			p := proposal(a, owner, model.RuleParentAlignment, model.PriorityLevel1, "parent-child alignment: adopting winning child's owner", in.Cohort)
			if in.SplitWarn[a.AccountID] {
				p.Warnings = append(p.Warnings, model.Warning{Code: model.WarnHierarchyConflict, Severity: model.SeverityMedium, AccountID: a.AccountID, Message: "locked children disagree on owner"})
			}
			led.Record(ownerID, a)
			aligned = append(aligned, p)
			continue
		}

		if geo.IsStrategic(a, repsByID) {
			strategic = append(strategic, a)
			continue
		}

		pool = append(pool, a)
	}
	result.Proposals = append(result.Proposals, aligned...)

	assigned := make(map[string]model.Proposal)
	cohortStr := string(in.Cohort)

	if err := checkCtx(ctx); err != nil {
		return result, err
	}
	passStart := time.Now()
	before := len(assigned)
	remaining := runP1(pool, repsByID, resolver, knownRegions, led, in.Cohort, assigned)
	in.Metrics.ObservePass(string(model.RuleP1), cohortStr, passStart)
	in.Metrics.AddAccounts(string(model.RuleP1), cohortStr, len(assigned)-before)

	if err := checkCtx(ctx); err != nil {
		return result, err
	}
	passStart, before = time.Now(), len(assigned)
	remaining, warnings, err := runMIPPass(ctx, remaining, repsByID, resolver, knownRegions, led, in.Cohort,
		model.RuleP2, model.PriorityLevel2, mip, eligibleByGeography, assigned, in.Metrics)
	if err != nil {
		return result, err
	}
	in.Metrics.ObservePass(string(model.RuleP2), cohortStr, passStart)
	in.Metrics.AddAccounts(string(model.RuleP2), cohortStr, len(assigned)-before)
	result.Warnings = append(result.Warnings, warnings...)

	if err := checkCtx(ctx); err != nil {
		return result, err
	}
	passStart, before = time.Now(), len(assigned)
	remaining, warnings, err = runMIPPass(ctx, remaining, repsByID, resolver, knownRegions, led, in.Cohort,
		model.RuleP3, model.PriorityLevel3, mip, eligibleByContinuity, assigned, in.Metrics)
	if err != nil {
		return result, err
	}
	in.Metrics.ObservePass(string(model.RuleP3), cohortStr, passStart)
	in.Metrics.AddAccounts(string(model.RuleP3), cohortStr, len(assigned)-before)
	result.Warnings = append(result.Warnings, warnings...)

	if err := checkCtx(ctx); err != nil {
		return result, err
	}
	passStart, before = time.Now(), len(assigned)
	remaining, warnings, err = runMIPPass(ctx, remaining, repsByID, resolver, knownRegions, led, in.Cohort,
		model.RuleP4, model.PriorityLevel4, mip, eligibleAnyRegion, assigned, in.Metrics)
	if err != nil {
		return result, err
	}
	in.Metrics.ObservePass(string(model.RuleP4), cohortStr, passStart)
	in.Metrics.AddAccounts(string(model.RuleP4), cohortStr, len(assigned)-before)
	result.Warnings = append(result.Warnings, warnings...)

	if err := checkCtx(ctx); err != nil {
		return result, err
	}
	passStart, before = time.Now(), len(assigned)
	forceWarnings := runP5(remaining, repsByID, led, in.Cohort, assigned)
	in.Metrics.ObservePass(string(model.RuleForcedFallback), cohortStr, passStart)
	in.Metrics.AddAccounts(string(model.RuleForcedFallback), cohortStr, len(assigned)-before)
	result.Warnings = append(result.Warnings, forceWarnings...)

	var waterfall []model.Proposal
	for _, a := range pool {
		if p, ok := assigned[a.AccountID]; ok {
			waterfall = append(waterfall, p)
		} else {
			result.Warnings = append(result.Warnings, model.Warning{Code: model.WarnUnassigned, Severity: model.SeverityHigh, AccountID: a.AccountID, Message: "account left unassigned after all passes"})
		}
	}
	passRank := map[model.RuleApplied]int{model.RuleP1: 1, model.RuleP2: 2, model.RuleP3: 3, model.RuleP4: 4, model.RuleForcedFallback: 5}
	sort.SliceStable(waterfall, func(i, j int) bool {
		return passRank[waterfall[i].RuleApplied] < passRank[waterfall[j].RuleApplied]
	})
	result.Proposals = append(result.Proposals, waterfall...)

	strategicStart := time.Now()
	strategicProposals := runStrategic(strategic, repsByID, led, in.Cohort)
	in.Metrics.ObservePass(string(model.RuleStrategic), cohortStr, strategicStart)
	in.Metrics.AddAccounts(string(model.RuleStrategic), cohortStr, len(strategicProposals))
	result.Proposals = append(result.Proposals, strategicProposals...)

	return result, nil
}

func checkCtx(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return apperrors.Cancelled("assignment cancelled")
	default:
		return nil
	}
}

// ─── P1: Continuity + Geography (greedy) ───────────────────────────────────

func runP1(accounts []model.Account, repsByID map[string]model.SalesRep, resolver *geo.Resolver, knownRegions []string, led *ledger.Ledger, cohort model.Cohort, assigned map[string]model.Proposal) []model.Account {
	sorted := make([]model.Account, len(accounts))
	copy(sorted, accounts)
	sortByARRDesc(sorted)

	var remaining []model.Account
	for _, a := range sorted {
		owner, ok := repsByID[a.CurrentOwnerID]
		if !ok || !owner.IsActive || owner.IsStrategicRep {
			remaining = append(remaining, a)
			continue
		}
		region, mapped := resolver.ResolveRegion(a.Territory, knownRegions)
		if !mapped || region != owner.Region {
			remaining = append(remaining, a)
			continue
		}
		if !led.HasCapacity(owner, a, false) {
			remaining = append(remaining, a)
			continue
		}
		led.Record(owner.RepID, a)
		assigned[a.AccountID] = proposal(a, owner, model.RuleP1, model.PriorityLevel1, "continuity and geography match, current owner has capacity", cohort)
	}
	return remaining
}

// ─── P2/P3/P4: MIP passes ───────────────────────────────────────────────────

// eligibilityFunc builds the per-account candidate rep list for a pass,
// returning ok=false if the account has no candidates at all (account is
// simply passed through to the next pass untouched).
type eligibilityFunc func(a model.Account, repsByID map[string]model.SalesRep, resolver *geo.Resolver, knownRegions []string) ([]string, bool)

func eligibleByGeography(a model.Account, repsByID map[string]model.SalesRep, resolver *geo.Resolver, knownRegions []string) ([]string, bool) {
	region, mapped := resolver.ResolveRegion(a.Territory, knownRegions)
	if !mapped {
		return nil, false
	}
	var ids []string
	for _, r := range repsByID {
		if eligibleNormal(r) && r.Region == region {
			ids = append(ids, r.RepID)
		}
	}
	sort.Strings(ids)
	return ids, len(ids) > 0
}

func eligibleByContinuity(a model.Account, repsByID map[string]model.SalesRep, _ *geo.Resolver, _ []string) ([]string, bool) {
	r, ok := repsByID[a.CurrentOwnerID]
	if !ok || !eligibleNormal(r) {
		return nil, false
	}
	return []string{r.RepID}, true
}

func eligibleAnyRegion(_ model.Account, repsByID map[string]model.SalesRep, _ *geo.Resolver, _ []string) ([]string, bool) {
	var ids []string
	for _, r := range repsByID {
		if eligibleNormal(r) {
			ids = append(ids, r.RepID)
		}
	}
	sort.Strings(ids)
	return ids, len(ids) > 0
}

func eligibleNormal(r model.SalesRep) bool {
	return r.IsActive && r.IncludeInAssignments && !r.IsStrategicRep
}

func runMIPPass(ctx context.Context, accounts []model.Account, repsByID map[string]model.SalesRep, resolver *geo.Resolver, knownRegions []string, led *ledger.Ledger, cohort model.Cohort, rule model.RuleApplied, level model.PriorityLevel, mip solver.Solver, elig eligibilityFunc, assigned map[string]model.Proposal, metrics *telemetry.Metrics) ([]model.Account, []model.Warning, error) {
	var candidates []model.Account
	var passthrough []model.Account
	eligibility := make(map[string][]string)

	for _, a := range accounts {
		ids, ok := elig(a, repsByID, resolver, knownRegions)
		if !ok {
			passthrough = append(passthrough, a)
			continue
		}
		candidates = append(candidates, a)
		eligibility[a.AccountID] = ids
	}
	if len(candidates) == 0 {
		return passthrough, nil, nil
	}

	repSet := map[string]bool{}
	for _, ids := range eligibility {
		for _, id := range ids {
			repSet[id] = true
		}
	}

	problem := solver.BatchProblem{Eligible: eligibility}
	for _, a := range candidates {
		problem.Accounts = append(problem.Accounts, solver.AccountDemand{AccountID: a.AccountID, ARR: a.EffectiveARR(), CurrentOwner: a.CurrentOwnerID})
	}
	for repID := range repSet {
		w := led.Load(repID)
		problem.Reps = append(problem.Reps, solver.RepSupply{
			RepID:      repID,
			CurrentARR: w.ARR,
			TargetARR:  led.Thresholds().ARR.Target,
			HardCapARR: led.HardCapARR(),
		})
	}

	solveStart := time.Now()
	result, err := mip.Solve(ctx, problem)
	if err != nil {
		metrics.ObserveSolve(string(rule), "error", solveStart)
		return nil, nil, err
	}
	if result.Optimal {
		metrics.ObserveSolve(string(rule), "optimal", solveStart)
	} else {
		metrics.ObserveSolve(string(rule), "incumbent", solveStart)
	}

	var warnings []model.Warning
	if !result.Optimal {
		warnings = append(warnings, model.Warning{Code: model.WarnSolverFailure, Severity: model.SeverityLow, Message: fmt.Sprintf("%s: MIP solve did not reach proven optimality within budget, using best incumbent", rule)})
	}

	var unresolved []model.Account
	for _, a := range candidates {
		repID, ok := result.AccountToRep[a.AccountID]
		if !ok {
			unresolved = append(unresolved, a)
			continue
		}
		rep := repsByID[repID]
		if !led.HasCapacity(rep, a, false) {
			unresolved = append(unresolved, a)
			continue
		}
		led.Record(repID, a)
		p := proposal(a, rep, rule, level, fmt.Sprintf("%s: batch-optimized assignment", rule), cohort)
		if a.CurrentOwnerID != "" && a.CurrentOwnerID != repID {
			p.Warnings = append(p.Warnings, model.Warning{Code: model.WarnContinuityBroken, Severity: model.SeverityMedium, AccountID: a.AccountID, RepID: repID, Message: "account moved away from its current owner"})
		}
		if rule == model.RuleP3 {
			if region, mapped := resolver.ResolveRegion(a.Territory, knownRegions); !mapped || region != rep.Region {
				p.Warnings = append(p.Warnings, model.Warning{Code: model.WarnCrossRegion, Severity: model.SeverityMedium, AccountID: a.AccountID, RepID: repID, Message: "continuity assignment crosses region boundary"})
			}
		}
		assigned[a.AccountID] = p
	}

	return append(passthrough, unresolved...), warnings, nil
}

// ─── P5: Forced assignment (greedy, ignores capacity) ──────────────────────

func runP5(accounts []model.Account, repsByID map[string]model.SalesRep, led *ledger.Ledger, cohort model.Cohort, assigned map[string]model.Proposal) []model.Warning {
	var warnings []model.Warning
	sorted := make([]model.Account, len(accounts))
	copy(sorted, accounts)
	sortByARRDesc(sorted)

	for _, a := range sorted {
		rep, ok := leastLoadedNormal(repsByID, led)
		if !ok {
			warnings = append(warnings, model.Warning{Code: model.WarnUnassigned, Severity: model.SeverityHigh, AccountID: a.AccountID, Message: "no active non-strategic rep available for forced assignment"})
			continue
		}
		led.Record(rep.RepID, a)
		p := proposal(a, rep, model.RuleForcedFallback, model.PriorityLevel4, "forced assignment: no capacity available in any pass", cohort)
		p.Warnings = append(p.Warnings, model.Warning{Code: model.WarnCapacityExceeded, Severity: model.SeverityHigh, AccountID: a.AccountID, RepID: rep.RepID, Message: "assigned beyond configured capacity to guarantee coverage"})
		assigned[a.AccountID] = p
	}
	return warnings
}

func leastLoadedNormal(repsByID map[string]model.SalesRep, led *ledger.Ledger) (model.SalesRep, bool) {
	var best model.SalesRep
	var bestScore = -1.0
	found := false
	var ids []string
	for id := range repsByID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		r := repsByID[id]
		if !eligibleNormal(r) {
			continue
		}
		score := led.BalanceScore(id)
		if !found || score < bestScore {
			best, bestScore, found = r, score, true
		}
	}
	return best, found
}

// ─── Strategic flow ─────────────────────────────────────────────────────────

func runStrategic(accounts []model.Account, repsByID map[string]model.SalesRep, led *ledger.Ledger, cohort model.Cohort) []model.Proposal {
	sorted := make([]model.Account, len(accounts))
	copy(sorted, accounts)
	sortByARRDesc(sorted)

	var proposals []model.Proposal
	for _, a := range sorted {
		if owner, ok := repsByID[a.CurrentOwnerID]; ok && owner.IsActive && owner.IsStrategicRep {
			led.Record(owner.RepID, a)
			proposals = append(proposals, proposal(a, owner, model.RuleStrategic, model.PriorityLevel1, "strategic: retained with current strategic owner", cohort))
			continue
		}
		rep, ok := leastLoadedStrategic(repsByID, led)
		if !ok {
			continue
		}
		led.Record(rep.RepID, a)
		proposals = append(proposals, proposal(a, rep, model.RuleStrategic, model.PriorityLevel1, "strategic: distributed to least-loaded strategic rep", cohort))
	}
	return proposals
}

// leastLoadedStrategic picks the strategic rep with the fewest accounts
// assigned so far this run. A tie on account count is broken by earliest
// hire_date, then by RepID ascending.
func leastLoadedStrategic(repsByID map[string]model.SalesRep, led *ledger.Ledger) (model.SalesRep, bool) {
	var best model.SalesRep
	bestCount := -1
	found := false
	var ids []string
	for id := range repsByID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		r := repsByID[id]
		if !r.IsStrategicRep || !r.IsActive {
			continue
		}
		count := led.Load(id).AccountCount
		switch {
		case !found:
			best, bestCount, found = r, count, true
		case count < bestCount:
			best, bestCount = r, count
		case count == bestCount && earlierHire(r, best):
			best = r
		}
	}
	return best, found
}

// earlierHire reports whether candidate was hired strictly before
// incumbent. A rep with no recorded hire_date is treated as hired last,
// so a known date always wins the tie.
func earlierHire(candidate, incumbent model.SalesRep) bool {
	if candidate.HireDate == nil {
		return false
	}
	if incumbent.HireDate == nil {
		return true
	}
	return candidate.HireDate.Before(*incumbent.HireDate)
}

// ─── Shared helpers ──────────────────────────────────────────────────────

func sortByARRDesc(accounts []model.Account) {
	sort.Slice(accounts, func(i, j int) bool {
		ai, aj := accounts[i].EffectiveARR(), accounts[j].EffectiveARR()
		if ai != aj {
			return ai > aj
		}
		return accounts[i].AccountID < accounts[j].AccountID
	})
}

func proposal(a model.Account, owner model.SalesRep, rule model.RuleApplied, level model.PriorityLevel, rationale string, cohort model.Cohort) model.Proposal {
	ownerChanged := a.CurrentOwnerID != "" && a.CurrentOwnerID != owner.RepID
	return model.Proposal{
		AccountID:         a.AccountID,
		ProposedOwnerID:   owner.RepID,
		ProposedOwnerName: owner.Name,
		RuleApplied:       rule,
		PriorityLevel:     level,
		Rationale:         rationale,
		Confidence:        confidenceFor(ownerChanged, rule, cohort),
	}
}

func confidenceFor(ownerChanged bool, rule model.RuleApplied, cohort model.Cohort) model.Confidence {
	if !ownerChanged || rule == model.RuleP1 {
		return model.ConfidenceHigh
	}
	if cohort == model.CohortCustomer {
		return model.ConfidenceLow
	}
	return model.ConfidenceMedium
}
