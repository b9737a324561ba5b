// Package engine ties the five components together into
// generate_assignments: the single pure batch function the CLI and any
// other caller drives per (build, cohort) invocation.
package engine

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/dataparency-dev/territory-assign/internal/apperrors"
	"github.com/dataparency-dev/territory-assign/internal/assign"
	"github.com/dataparency-dev/territory-assign/internal/audit"
	"github.com/dataparency-dev/territory-assign/internal/calibrate"
	"github.com/dataparency-dev/territory-assign/internal/cascade"
	"github.com/dataparency-dev/territory-assign/internal/geo"
	"github.com/dataparency-dev/territory-assign/internal/ledger"
	"github.com/dataparency-dev/territory-assign/internal/persistence"
	"github.com/dataparency-dev/territory-assign/internal/solver"
	"github.com/dataparency-dev/territory-assign/internal/telemetry"
	"github.com/dataparency-dev/territory-assign/pkg/model"
)

// Engine bundles the external collaborators one generate_assignments call
// needs: the persistence boundary, the solver, and the observability
// bundle. It carries no state between runs.
type Engine struct {
	Store   persistence.Store
	Config  model.Configuration
	Solver  solver.Solver
	Logger  logr.Logger
	Metrics *telemetry.Metrics

	// MipSem serializes access to the solver: the MIP solver is treated as
	// an exclusive process-wide resource with a bounded queue of one, so
	// two concurrent GenerateAssignments calls on the same Engine never
	// solve at the same time. A nil MipSem (e.g. an Engine built by struct
	// literal rather than New) disables this and runs unserialized.
	MipSem *semaphore.Weighted
}

// New builds an Engine with a branch-and-bound solver configured from the
// run's solver_time_budget/solver_relative_gap options, and a single-slot
// semaphore guarding that solver.
func New(store persistence.Store, cfg model.Configuration, logger logr.Logger, metrics *telemetry.Metrics) *Engine {
	opts := solver.DefaultBranchAndBoundOptions()
	if cfg.SolverTimeBudget > 0 {
		opts.TimeBudget = cfg.SolverTimeBudget
	}
	if cfg.SolverRelativeGap > 0 {
		opts.RelativeGap = cfg.SolverRelativeGap
	}
	return &Engine{
		Store:   store,
		Config:  cfg,
		Solver:  &solver.BranchAndBoundSolver{Options: opts},
		Logger:  logger,
		Metrics: metrics,
		MipSem:  semaphore.NewWeighted(1),
	}
}

// softLimits holds the per-stage soft limits for loading, the MIP passes
// and writing: they emit a stage_soft_limit warning but never abort the
// run. Scoring has no soft limit of its own.
var softLimits = struct {
	load  time.Duration
	mip   time.Duration
	write time.Duration
}{load: 2 * time.Minute, mip: 20 * time.Minute, write: 3 * time.Minute}

// GenerateAssignments runs one full pipeline pass for a single
// (build, cohort) pair: read, calibrate, assign, cascade, write.
func (e *Engine) GenerateAssignments(ctx context.Context, buildID string, cohort model.Cohort, tierFilter string) (model.AssignmentOutput, error) {
	globalTimeout := e.Config.GlobalTimeout
	if globalTimeout <= 0 {
		globalTimeout = 30 * time.Minute
	}
	runCtx, cancel := context.WithTimeout(ctx, globalTimeout)
	defer cancel()

	log := e.Logger.WithValues("build_id", buildID, "cohort", cohort)

	var output model.AssignmentOutput

	loadStart := time.Now()
	var accounts []model.Account
	var reps []model.SalesRep
	loadGroup, loadCtx := errgroup.WithContext(runCtx)
	loadGroup.Go(func() error {
		var err error
		accounts, err = e.Store.ReadAccounts(loadCtx, buildID, cohort, tierFilter)
		return err
	})
	loadGroup.Go(func() error {
		var err error
		reps, err = e.Store.ReadReps(loadCtx, buildID)
		return err
	})
	if err := loadGroup.Wait(); err != nil {
		return output, e.classifyErr(runCtx, err)
	}
	if time.Since(loadStart) > softLimits.load {
		output.Warnings = append(output.Warnings, model.Warning{Code: model.WarnStageSoftLimit, Severity: model.SeverityLow, Message: "loading accounts and reps exceeded its soft time budget"})
	}
	log.V(1).Info("loaded input snapshot", "accounts", len(accounts), "reps", len(reps))

	var parents, children []model.Account
	for _, a := range accounts {
		if a.IsParent {
			parents = append(parents, a)
		} else {
			children = append(children, a)
		}
	}

	repsByID := make(map[string]model.SalesRep, len(reps))
	for _, r := range reps {
		repsByID[r.RepID] = r
	}

	thresholds, calibWarnings, err := calibrate.Calibrate(parents, reps, e.Config)
	if err != nil {
		return output, err
	}
	output.Thresholds = thresholds
	output.Warnings = append(output.Warnings, calibWarnings...)

	led := ledger.New(cohort, thresholds, hardCapFor(cohort, e.Config), e.Config.MaxCREPerRep)
	// Seed from children only: they inherit their parent's proposed owner
	// verbatim via cascade and never flow through assign.Run, so their ARR
	// would otherwise be invisible to every capacity check. Parent ARR is
	// added incrementally by assign.Run's own ledger.Record calls as each
	// pass commits an assignment.
	led.Init(reps, children)

	resolver := geo.NewResolver(e.Config.TerritoryMappings)

	preAligned, splitWarn := resolveAlignment(parents, children, repsByID)

	if err := checkCancel(runCtx); err != nil {
		return output, err
	}

	if e.MipSem != nil {
		if err := e.MipSem.Acquire(runCtx, 1); err != nil {
			return output, e.classifyErr(runCtx, err)
		}
		defer e.MipSem.Release(1)
	}

	mipStart := time.Now()
	result, err := assign.Run(runCtx, assign.Input{
		Cohort:     cohort,
		Accounts:   parents,
		Reps:       reps,
		Thresholds: thresholds,
		PreAligned: preAligned,
		SplitWarn:  splitWarn,
		Metrics:    e.Metrics,
	}, led, resolver, e.Solver)
	if err != nil {
		return output, e.classifyErr(runCtx, err)
	}
	if time.Since(mipStart) > softLimits.mip {
		output.Warnings = append(output.Warnings, model.Warning{Code: model.WarnStageSoftLimit, Severity: model.SeverityLow, Message: "priority-pass assignment exceeded its soft time budget"})
	}

	// Stamp traceability fields before the proposals reach the audit sink
	// or the persistence boundary; C1..C5 never touch them.
	generatedAt := time.Now().UTC()
	for i := range result.Proposals {
		result.Proposals[i].BuildID = buildID
		result.Proposals[i].GeneratedAt = generatedAt
	}

	proposalsByAccount := make(map[string]model.Proposal, len(result.Proposals))
	for _, p := range result.Proposals {
		proposalsByAccount[p.AccountID] = p
	}
	if err := assertBijection(parents, proposalsByAccount); err != nil {
		return output, err
	}

	cascadeResult := cascade.Cascade(proposalsByAccount, children, opportunitiesFor(accounts))
	output.Warnings = append(output.Warnings, result.Warnings...)
	output.Warnings = append(output.Warnings, cascadeResult.Warnings...)

	allParentIDs := make([]string, len(parents))
	for i, p := range parents {
		allParentIDs[i] = p.AccountID
	}
	output.Warnings = append(output.Warnings, cascade.PostCheck(led, reps, e.Config, allParentIDs, proposalsByAccount)...)

	output.Proposals = result.Proposals
	output.Statistics = buildStatistics(result.Proposals, parents, repsByID, resolver)

	if e.Metrics != nil {
		var belowMin int
		for _, r := range reps {
			if led.IsBelowMinimum(r.RepID) {
				belowMin++
			}
		}
		e.Metrics.RepsBelowMinimum.Set(float64(belowMin))
	}

	writeStart := time.Now()
	if err := e.Store.WriteProposals(runCtx, buildID, output.Proposals); err != nil {
		return output, err
	}
	if err := e.Store.CascadeChildren(runCtx, buildID, cascadeResult.Children); err != nil {
		return output, err
	}
	if err := e.Store.CascadeOpportunities(runCtx, buildID, cascadeResult.Opportunities); err != nil {
		return output, err
	}
	entry := audit.BuildEntry(buildID, cohort, output.Proposals)
	if err := e.Store.AppendAudit(runCtx, buildID, []audit.Entry{entry}); err != nil {
		return output, err
	}
	if time.Since(writeStart) > softLimits.write {
		output.Warnings = append(output.Warnings, model.Warning{Code: model.WarnStageSoftLimit, Severity: model.SeverityLow, Message: "writing proposals exceeded its soft time budget"})
	}

	if e.Metrics != nil {
		for _, w := range output.Warnings {
			e.Metrics.WarningsEmitted.WithLabelValues(string(w.Code)).Inc()
		}
	}
	log.Info("run complete", "proposals", len(output.Proposals), "warnings", len(output.Warnings))

	return output, nil
}

func hardCapFor(cohort model.Cohort, cfg model.Configuration) float64 {
	if cohort == model.CohortProspect {
		return cfg.ProspectMaxARR
	}
	return cfg.CustomerMaxARR
}

func checkCancel(ctx context.Context) error {
	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return apperrors.Timeout("global wall-time ceiling reached")
		}
		return apperrors.Cancelled("run cancelled")
	default:
		return nil
	}
}

func (e *Engine) classifyErr(ctx context.Context, err error) error {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) && appErr.Type == apperrors.TypeCancelled && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperrors.Timeout("global wall-time ceiling reached")
	}
	return err
}

// resolveAlignment runs C3's parent-child alignment over every parent
// with at least one actively-owned child, before any priority pass runs.
func resolveAlignment(parents, children []model.Account, repsByID map[string]model.SalesRep) (map[string]string, map[string]bool) {
	byParent := make(map[string][]model.Account)
	for _, c := range children {
		if c.ParentID == "" {
			continue
		}
		byParent[c.ParentID] = append(byParent[c.ParentID], c)
	}

	preAligned := make(map[string]string)
	splitWarn := make(map[string]bool)
	for _, p := range parents {
		kids, ok := byParent[p.AccountID]
		if !ok {
			continue
		}
		result, aligned := geo.ResolveParentAlignment(p.AccountID, kids, repsByID)
		if !aligned {
			continue
		}
		preAligned[p.AccountID] = result.OwnerID
		if result.WillCreateSplit {
			splitWarn[p.AccountID] = true
		}
	}
	return preAligned, splitWarn
}

func opportunitiesFor(accounts []model.Account) []model.Opportunity {
	var out []model.Opportunity
	for _, a := range accounts {
		for _, o := range a.Opportunities {
			out = append(out, model.Opportunity{AccountID: a.AccountID, NetARR: o.NetARR})
		}
	}
	return out
}

// assertBijection enforces the proposal-set invariant: exactly one
// proposal per assignable parent account, no more, no less.
func assertBijection(parents []model.Account, proposalsByAccount map[string]model.Proposal) error {
	if len(proposalsByAccount) > len(parents) {
		return apperrors.InvariantViolation("more proposals than assignable accounts")
	}
	for _, p := range parents {
		if _, ok := proposalsByAccount[p.AccountID]; !ok {
			return apperrors.Newf(apperrors.TypeInvariantViolation, "account %s has no proposal after the full waterfall", p.AccountID)
		}
	}
	return nil
}

func buildStatistics(proposals []model.Proposal, parents []model.Account, repsByID map[string]model.SalesRep, resolver *geo.Resolver) map[string]map[string]model.StatBucket {
	arrByAccount := make(map[string]float64, len(parents))
	territoryByAccount := make(map[string]string, len(parents))
	tierByAccount := make(map[string]model.Tier, len(parents))
	for _, a := range parents {
		arrByAccount[a.AccountID] = a.EffectiveARR()
		territoryByAccount[a.AccountID] = a.Territory
		tierByAccount[a.AccountID] = a.Tier
	}

	stats := map[string]map[string]model.StatBucket{
		"per_geo":  {},
		"per_rep":  {},
		"per_tier": {},
	}

	var knownRegions []string
	for _, r := range repsByID {
		if r.Region != "" {
			knownRegions = append(knownRegions, r.Region)
		}
	}
	sort.Strings(knownRegions)

	for _, p := range proposals {
		arr := arrByAccount[p.AccountID]

		repBucket := stats["per_rep"][p.ProposedOwnerID]
		repBucket.AccountCount++
		repBucket.TotalARR += arr
		stats["per_rep"][p.ProposedOwnerID] = repBucket

		tierKey := string(tierByAccount[p.AccountID])
		tierBucket := stats["per_tier"][tierKey]
		tierBucket.AccountCount++
		tierBucket.TotalARR += arr
		stats["per_tier"][tierKey] = tierBucket

		region, ok := resolver.ResolveRegion(territoryByAccount[p.AccountID], knownRegions)
		if !ok {
			region = "unmapped"
		}
		geoBucket := stats["per_geo"][region]
		geoBucket.AccountCount++
		geoBucket.TotalARR += arr
		stats["per_geo"][region] = geoBucket
	}

	return stats
}
