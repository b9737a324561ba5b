// Package model defines the core data structures for the territory
// assignment engine: accounts, sales reps, proposals, workloads, and the
// configuration that calibrates them.
package model

import "time"

// ─── Cohort & Enumerations ────────────────────────────────────────────────

// Cohort partitions the account pool into customer and prospect populations
// that carry separate capacity bands.
type Cohort string

const (
	CohortCustomer Cohort = "customer"
	CohortProspect Cohort = "prospect"
)

// Tier is the account tier, sourced from expansion_tier (customers) or
// initial_sale_tier (prospects).
type Tier string

const (
	TierOne   Tier = "Tier 1"
	TierTwo   Tier = "Tier 2"
	TierThree Tier = "Tier 3"
	TierFour  Tier = "Tier 4"
	TierNone  Tier = "none"
)

// RenewalQuarter is derived from a fiscal-quarter calendar.
type RenewalQuarter string

const (
	Q1       RenewalQuarter = "Q1"
	Q2       RenewalQuarter = "Q2"
	Q3       RenewalQuarter = "Q3"
	Q4       RenewalQuarter = "Q4"
	NoneQtr  RenewalQuarter = "none"
)

// TeamTier is the sales rep's team tier.
type TeamTier string

const (
	TeamSMB    TeamTier = "SMB"
	TeamGrowth TeamTier = "Growth"
	TeamMM     TeamTier = "MM"
	TeamENT    TeamTier = "ENT"
	TeamNone   TeamTier = ""
)

// Confidence expresses how much a proposal should be trusted by reviewers.
type Confidence string

const (
	ConfidenceHigh   Confidence = "HIGH"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceLow    Confidence = "LOW"
)

// RuleApplied names the rule that produced a proposal, with one constant
// per rule below. It is a plain string type: the compiler does not stop
// other string values from being converted to it.
type RuleApplied string

const (
	RuleP1                RuleApplied = "P1"
	RuleP2                RuleApplied = "P2"
	RuleP3                RuleApplied = "P3"
	RuleP4                RuleApplied = "P4"
	RuleStrategic         RuleApplied = "Strategic"
	RuleContinuityCascade RuleApplied = "Continuity-Cascade"
	RuleHoldover          RuleApplied = "Holdover"
	RuleParentAlignment   RuleApplied = "Parent-Child Alignment"
	RuleForcedFallback    RuleApplied = "Forced-Fallback"
)

// PriorityLevel is the waterfall pass number recorded on a proposal. P5
// (Forced-Fallback) is still tagged as priority level 4.
type PriorityLevel int

const (
	PriorityLevel1 PriorityLevel = 1
	PriorityLevel2 PriorityLevel = 2
	PriorityLevel3 PriorityLevel = 3
	PriorityLevel4 PriorityLevel = 4
)

// ─── Account ──────────────────────────────────────────────────────────────

// Account is the unit of assignment. Only parents are directly assigned;
// children inherit the parent's proposed owner during the cascade.
type Account struct {
	AccountID         string  `json:"account_id" validate:"required"`
	Name              string  `json:"name"`
	IsParent          bool    `json:"is_parent"`
	ParentID          string  `json:"parent_id,omitempty"`
	UltimateParentID  string  `json:"ultimate_parent_id"`
	IsCustomer        bool    `json:"is_customer"`
	ARR               float64 `json:"arr"`
	CalculatedARR     float64 `json:"calculated_arr"`
	HierarchyBookingsARRConverted float64 `json:"hierarchy_bookings_arr_converted"`
	ATR               float64 `json:"atr"`
	CalculatedATR     float64 `json:"calculated_atr"`
	Tier              Tier    `json:"tier"`
	CRECount          int     `json:"cre_count"`
	RenewalQuarter    RenewalQuarter `json:"renewal_quarter"`
	Territory         string  `json:"territory"`
	CurrentOwnerID    string  `json:"current_owner_id,omitempty"`
	ExcludeFromReassignment bool `json:"exclude_from_reassignment"`

	// Opportunities rolls up the open opportunities attached to this account,
	// net_arr included, for the cascade_opportunities persistence contract.
	Opportunities []AccountOpportunity `json:"opportunities,omitempty"`

	// Segment is a free-text filter label (e.g. "Commercial", "Enterprise")
	// consumed only by the CLI's --tier flag; the core engine is
	// segment-agnostic.
	Segment string `json:"segment,omitempty"`
}

// IsRoot reports whether this account is the root of its hierarchy DAG.
// The source sentinel (ultimate_parent_id == account_id) is made total by
// routing all hierarchy lookups through this predicate instead of
// re-deriving it ad hoc.
func (a Account) IsRoot() bool {
	return a.UltimateParentID == "" || a.UltimateParentID == a.AccountID
}

// EffectiveARR returns the first non-zero value of
// (hierarchy_bookings_arr_converted, calculated_arr, arr).
func (a Account) EffectiveARR() float64 {
	if a.HierarchyBookingsARRConverted != 0 {
		return a.HierarchyBookingsARRConverted
	}
	if a.CalculatedARR != 0 {
		return a.CalculatedARR
	}
	return a.ARR
}

// EffectiveATR returns the first non-zero value of (calculated_atr, atr).
func (a Account) EffectiveATR() float64 {
	if a.CalculatedATR != 0 {
		return a.CalculatedATR
	}
	return a.ATR
}

// CohortOf reports which capacity-band cohort this account belongs to.
func (a Account) CohortOf() Cohort {
	if a.IsCustomer {
		return CohortCustomer
	}
	return CohortProspect
}

// Opportunity is a lightweight attachment used only by the cascade step.
type Opportunity struct {
	AccountID string  `json:"account_id"`
	NetARR    float64 `json:"net_arr"`
}

// AccountOpportunity is one open opportunity attached to an account, as
// read from the build snapshot. net_arr flows through to the
// cascade_opportunities contract unchanged; the engine never recomputes
// it.
type AccountOpportunity struct {
	OpportunityID string  `json:"opportunity_id"`
	NetARR        float64 `json:"net_arr"`
}

// ─── SalesRep ─────────────────────────────────────────────────────────────

// SalesRep is a candidate owner for an account.
type SalesRep struct {
	RepID               string   `json:"rep_id" validate:"required"`
	Name                string   `json:"name"`
	Region              string   `json:"region"`
	TeamTier            TeamTier `json:"team_tier"`
	IsActive            bool     `json:"is_active"`
	IncludeInAssignments bool    `json:"include_in_assignments"`
	IsStrategicRep      bool     `json:"is_strategic_rep"`
	IsBackfillSource    bool     `json:"is_backfill_source"`
	IsPlaceholder       bool     `json:"is_placeholder"`

	// HireDate breaks a residual tie in strategic-pool least-loaded
	// selection (earliest hire wins); never otherwise consulted.
	HireDate *time.Time `json:"hire_date,omitempty"`
}

// EligibleForThresholdDivisor reports whether this rep counts toward the
// C1 calibration divisor: active, included, non-strategic, with a region.
func (r SalesRep) EligibleForThresholdDivisor() bool {
	return r.IsActive && r.IncludeInAssignments && !r.IsStrategicRep && r.Region != ""
}

// Valid enforces the is_backfill_source ⇒ ¬include_in_assignments
// invariant.
func (r SalesRep) Valid() bool {
	if r.IsBackfillSource && r.IncludeInAssignments {
		return false
	}
	return true
}

// ─── Proposal ─────────────────────────────────────────────────────────────

// Proposal is the engine's output for a single account.
type Proposal struct {
	AccountID         string        `json:"account_id"`
	ProposedOwnerID   string        `json:"proposed_owner_id"`
	ProposedOwnerName string        `json:"proposed_owner_name"`
	RuleApplied       RuleApplied   `json:"rule_applied"`
	PriorityLevel     PriorityLevel `json:"priority_level"`
	Rationale         string        `json:"rationale"`
	Warnings          []Warning     `json:"warnings,omitempty"`
	Confidence        Confidence    `json:"confidence"`

	BuildID     string    `json:"build_id,omitempty"`
	GeneratedAt time.Time `json:"generated_at,omitempty"`
}

// ─── Warnings ─────────────────────────────────────────────────────────────

// WarningSeverity ranks a warning for reviewer triage.
type WarningSeverity string

const (
	SeverityLow    WarningSeverity = "low"
	SeverityMedium WarningSeverity = "medium"
	SeverityHigh   WarningSeverity = "high"
)

// WarningCode is the closed set of non-fatal conditions the engine can
// surface. These mirror the "warning only" half of the error taxonomy.
type WarningCode string

const (
	WarnUnmappedTerritory         WarningCode = "unmapped_territory"
	WarnSolverFailure             WarningCode = "solver_failure"
	WarnCapacityExceeded          WarningCode = "capacity_exceeded"
	WarnHierarchyConflict         WarningCode = "will_create_split"
	WarnCrossRegion               WarningCode = "cross_region"
	WarnContinuityBroken          WarningCode = "continuity_broken"
	WarnCRERisk                   WarningCode = "cre_risk"
	WarnTierConcentration         WarningCode = "tier_concentration"
	WarnUnassigned                WarningCode = "unassigned"
	WarnExcludedFromThresholdCalc WarningCode = "excluded_from_threshold_calc"
	WarnStageSoftLimit            WarningCode = "stage_soft_limit"
)

// Warning is a non-fatal condition surfaced on a proposal or in the
// run-level output.
type Warning struct {
	Code      WarningCode     `json:"code"`
	Severity  WarningSeverity `json:"severity"`
	AccountID string          `json:"account_id,omitempty"`
	RepID     string          `json:"rep_id,omitempty"`
	Message   string          `json:"message"`
}

// ─── Workload ─────────────────────────────────────────────────────────────

// Workload tracks one rep's accumulated load within a single cohort during
// a run.
type Workload struct {
	RepID        string
	ARR          float64
	NetARR       float64
	AccountCount int
	CRE          int
	ATR          float64
	Tier1Count   int
	Tier2Count   int
	Q1Renewals   int
	Q2Renewals   int
	Q3Renewals   int
	Q4Renewals   int
}

// ─── Calibrated Thresholds ────────────────────────────────────────────────

// Band is a {target, min, max} triple for one dimension.
type Band struct {
	Target float64
	Min    float64
	Max    float64
}

// CalibratedThresholds is the output of the Threshold Calibrator (C1).
type CalibratedThresholds struct {
	ARR        Band
	ATR        Band
	CRE        Band
	Tier1      Band
	Tier2      Band
	Q1         Band
	Q2         Band
	Q3         Band
	Q4         Band
	NormalRepCount int

	// Totals retains the raw sums used to compute the bands, for audit
	// and test assertions.
	Totals struct {
		ARR float64
		ATR float64
		CRE float64
		Tier1 float64
		Tier2 float64
		Q1, Q2, Q3, Q4 float64
	}
}

// ─── Configuration ────────────────────────────────────────────────────────

// Configuration holds the recognized options of the persistence boundary's
// configuration table.
type Configuration struct {
	CustomerTargetARR float64 `mapstructure:"customer_target_arr" validate:"gte=0"`
	CustomerMinARR    float64 `mapstructure:"customer_min_arr" validate:"gte=0"`
	CustomerMaxARR    float64 `mapstructure:"customer_max_arr" validate:"gte=0"`

	ProspectTargetARR float64 `mapstructure:"prospect_target_arr" validate:"gte=0"`
	ProspectMinARR    float64 `mapstructure:"prospect_min_arr" validate:"gte=0"`
	ProspectMaxARR    float64 `mapstructure:"prospect_max_arr" validate:"gte=0"`

	CapacityVariancePercent float64 `mapstructure:"capacity_variance_percent" validate:"gte=0,lte=200"`
	MaxCREPerRep            int     `mapstructure:"max_cre_per_rep" validate:"gte=0"`
	MaxTier1PerRep          int     `mapstructure:"max_tier1_per_rep" validate:"gte=0"`
	MaxTier2PerRep          int     `mapstructure:"max_tier2_per_rep" validate:"gte=0"`
	RenewalConcentrationMax float64 `mapstructure:"renewal_concentration_max" validate:"gte=0,lte=200"`

	TerritoryMappings map[string]string `mapstructure:"territory_mappings"`
	FiscalYearStartMonth int `mapstructure:"fiscal_year_start_month" validate:"gte=1,lte=12"`

	// WriteBatchSize bounds write_proposals batch size (≤500 rows/request).
	WriteBatchSize int `mapstructure:"write_batch_size" validate:"gte=1,lte=500"`

	// GlobalTimeout is the wall-time ceiling for a whole run (default 30m).
	GlobalTimeout time.Duration `mapstructure:"global_timeout"`

	// SolverTimeBudget and SolverRelativeGap set the per-pass MIP solver's
	// wall-time budget and gap tolerance; the solver runs no presolve step.
	SolverTimeBudget  time.Duration `mapstructure:"solver_time_budget"`
	SolverRelativeGap float64       `mapstructure:"solver_relative_gap" validate:"gte=0,lte=1"`
}

// ARRBand returns the {target,min,max} band for the given cohort as
// configured (not yet calibrated against the pool — see internal/calibrate).
func (c Configuration) ARRBand(cohort Cohort) Band {
	if cohort == CohortProspect {
		return Band{Target: c.ProspectTargetARR, Min: c.ProspectMinARR, Max: c.ProspectMaxARR}
	}
	return Band{Target: c.CustomerTargetARR, Min: c.CustomerMinARR, Max: c.CustomerMaxARR}
}

// ─── Statistics ───────────────────────────────────────────────────────────

// StatBucket is a generic rollup entry for AssignmentOutput.Statistics.
type StatBucket struct {
	AccountCount int     `json:"account_count"`
	TotalARR     float64 `json:"total_arr"`
}

// AssignmentOutput is the full result of one engine run.
type AssignmentOutput struct {
	Proposals  []Proposal                     `json:"proposals"`
	Warnings   []Warning                      `json:"warnings"`
	Thresholds CalibratedThresholds           `json:"thresholds"`
	Statistics map[string]map[string]StatBucket `json:"statistics"`
}
