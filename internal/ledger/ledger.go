// Package ledger implements the Workload Ledger (C2): per-rep load
// tracking and the capacity-query policy that gates every priority pass.
package ledger

import (
	"github.com/dataparency-dev/territory-assign/pkg/model"
)

// Ledger tracks the evolving per-rep load for one cohort during a run.
// One Ledger exists per (run, cohort) pair; it owns no global state and is
// passed by exclusive reference into every pass helper.
type Ledger struct {
	cohort      model.Cohort
	thresholds  model.CalibratedThresholds
	hardCapARR  float64
	maxCRE      int
	workloads   map[string]*model.Workload
}

// New creates a Ledger for the given cohort. hardCapARR is the
// configured absolute ceiling (customer_max_arr / prospect_max_arr);
// thresholds is C1's calibrated output used for the min/preferred-max
// band and the is_below_minimum check.
func New(cohort model.Cohort, thresholds model.CalibratedThresholds, hardCapARR float64, maxCRE int) *Ledger {
	return &Ledger{
		cohort:     cohort,
		thresholds: thresholds,
		hardCapARR: hardCapARR,
		maxCRE:     maxCRE,
		workloads:  make(map[string]*model.Workload),
	}
}

// Init seeds every rep's baseline workload from the accounts they
// currently own within this cohort, establishing the continuity scoring
// baseline before any pass runs.
func (l *Ledger) Init(reps []model.SalesRep, existingAccounts []model.Account) {
	for _, r := range reps {
		l.workloads[r.RepID] = &model.Workload{RepID: r.RepID}
	}
	for _, a := range existingAccounts {
		if a.CurrentOwnerID == "" || a.CohortOf() != l.cohort {
			continue
		}
		l.Record(a.CurrentOwnerID, a)
	}
}

// Record increments all dimensions for the rep by the given account's
// contribution. Creates the rep's workload entry if this is the first
// time the rep is seen (placeholder/backfill reps may not have been
// pre-seeded by Init).
func (l *Ledger) Record(repID string, account model.Account) {
	w, ok := l.workloads[repID]
	if !ok {
		w = &model.Workload{RepID: repID}
		l.workloads[repID] = w
	}
	w.ARR += account.EffectiveARR()
	w.ATR += account.EffectiveATR()
	w.AccountCount++
	w.CRE += account.CRECount
	if !account.IsCustomer {
		w.NetARR += account.EffectiveARR()
	}
	switch account.Tier {
	case model.TierOne:
		w.Tier1Count++
	case model.TierTwo:
		w.Tier2Count++
	}
	switch account.RenewalQuarter {
	case model.Q1:
		w.Q1Renewals++
	case model.Q2:
		w.Q2Renewals++
	case model.Q3:
		w.Q3Renewals++
	case model.Q4:
		w.Q4Renewals++
	}
}

// Load returns the current workload snapshot for a rep (zero value if the
// rep has never been seen).
func (l *Ledger) Load(repID string) model.Workload {
	if w, ok := l.workloads[repID]; ok {
		return *w
	}
	return model.Workload{RepID: repID}
}

// HasCapacity answers whether assigning account to rep would keep rep
// within the capacity policy for this cohort. ignoreCRE bypasses the CRE
// cap check (used when a caller has already decided CRE risk is
// acceptable, e.g. forced fallback).
func (l *Ledger) HasCapacity(rep model.SalesRep, account model.Account, ignoreCRE bool) bool {
	if rep.IsStrategicRep {
		return true
	}
	if l.cohort == model.CohortProspect {
		return true
	}

	current := l.Load(rep.RepID)
	newARR := current.ARR + account.EffectiveARR()

	if l.hardCapARR > 0 && newARR > l.hardCapARR {
		return false
	}

	min := l.thresholds.ARR.Min
	preferredMax := l.thresholds.ARR.Max

	if l.IsBelowMinimum(rep.RepID) {
		if newARR >= min && newARR <= preferredMax {
			return true
		}
		if current.ARR < 0.5*min && newARR <= 1.2*preferredMax {
			return true
		}
		return newARR <= 1.15*preferredMax
	}

	if newARR > preferredMax {
		return false
	}

	if !ignoreCRE && account.CRECount > 0 && current.CRE >= l.maxCRE && l.maxCRE > 0 {
		return false
	}

	return true
}

// IsBelowMinimum reports whether the rep is under the minimum band on any
// configured dimension (ARR, CRE, ATR, Tier-1, Tier-2).
func (l *Ledger) IsBelowMinimum(repID string) bool {
	w := l.Load(repID)
	t := l.thresholds
	if t.ARR.Min > 0 && w.ARR < t.ARR.Min {
		return true
	}
	if t.CRE.Min > 0 && float64(w.CRE) < t.CRE.Min {
		return true
	}
	if t.ATR.Min > 0 && w.ATR < t.ATR.Min {
		return true
	}
	if t.Tier1.Min > 0 && float64(w.Tier1Count) < t.Tier1.Min {
		return true
	}
	if t.Tier2.Min > 0 && float64(w.Tier2Count) < t.Tier2.Min {
		return true
	}
	return false
}

// BalanceScore is the mean of (current/target) ratios across the
// configured dimensions; lower means more under-loaded. Used as the
// greedy tie-break when two reps would otherwise tie.
func (l *Ledger) BalanceScore(repID string) float64 {
	w := l.Load(repID)
	t := l.thresholds

	var sum float64
	var n int
	ratio := func(current, target float64) {
		if target <= 0 {
			return
		}
		sum += current / target
		n++
	}
	ratio(w.ARR, t.ARR.Target)
	ratio(float64(w.CRE), t.CRE.Target)
	ratio(w.ATR, t.ATR.Target)
	ratio(float64(w.Tier1Count), t.Tier1.Target)
	ratio(float64(w.Tier2Count), t.Tier2.Target)
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// Cohort exposes which cohort this ledger tracks.
func (l *Ledger) Cohort() model.Cohort { return l.cohort }

// HardCapARR exposes the configured absolute ARR ceiling for this cohort,
// for callers (the MIP pass builder) that need it to derive per-rep
// remaining headroom.
func (l *Ledger) HardCapARR() float64 { return l.hardCapARR }

// Thresholds exposes the calibrated thresholds this ledger was built
// with, for callers (the solver's objective function) that need the
// per-rep target without re-threading it separately.
func (l *Ledger) Thresholds() model.CalibratedThresholds { return l.thresholds }
