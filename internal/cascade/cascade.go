// Package cascade implements the Hierarchy Cascade & Post-Check (C5):
// propagating a parent's proposed owner down to its children and
// opportunities, and the invariant-strain warnings emitted once every
// pass has run.
package cascade

import (
	"sort"

	"github.com/dataparency-dev/territory-assign/internal/ledger"
	"github.com/dataparency-dev/territory-assign/pkg/model"
)

// ChildAssignment is a cascade decision ready for the persistence
// boundary's cascade_children contract.
type ChildAssignment struct {
	AccountID string
	OwnerID   string
	OwnerName string
}

// OpportunityAssignment is a cascade decision ready for
// cascade_opportunities.
type OpportunityAssignment struct {
	AccountID string
	OwnerID   string
}

// Result bundles everything C5 produces from one cohort's proposals.
type Result struct {
	Children      []ChildAssignment
	Opportunities []OpportunityAssignment
	Warnings      []model.Warning
}

// Cascade propagates each assigned parent's new owner to its children and
// their opportunities, skipping any child locked by
// exclude_from_reassignment (its opportunities stay with the child's own
// holdover owner, never the parent's).
//
// proposalsByAccount indexes every proposal emitted this run (parents and
// any already-resolved children) by account ID; children is the full
// account list restricted to non-parent accounts carrying a parent_id.
func Cascade(proposalsByAccount map[string]model.Proposal, children []model.Account, opportunities []model.Opportunity) Result {
	var result Result

	childOwner := make(map[string]model.Proposal, len(children))
	for _, c := range children {
		if c.ExcludeFromReassignment {
			continue
		}
		parentProposal, ok := proposalsByAccount[c.ParentID]
		if !ok {
			continue
		}
		result.Children = append(result.Children, ChildAssignment{AccountID: c.AccountID, OwnerID: parentProposal.ProposedOwnerID, OwnerName: parentProposal.ProposedOwnerName})
		childOwner[c.AccountID] = parentProposal
	}

	sort.Slice(result.Children, func(i, j int) bool { return result.Children[i].AccountID < result.Children[j].AccountID })

	for _, opp := range opportunities {
		if p, ok := proposalsByAccount[opp.AccountID]; ok {
			result.Opportunities = append(result.Opportunities, OpportunityAssignment{AccountID: opp.AccountID, OwnerID: p.ProposedOwnerID})
			continue
		}
		if p, ok := childOwner[opp.AccountID]; ok {
			result.Opportunities = append(result.Opportunities, OpportunityAssignment{AccountID: opp.AccountID, OwnerID: p.ProposedOwnerID})
		}
	}
	sort.Slice(result.Opportunities, func(i, j int) bool { return result.Opportunities[i].AccountID < result.Opportunities[j].AccountID })

	return result
}

// PostCheck emits invariant-strain warnings after every pass has run:
// CRE risk, tier concentration, and any account that still has no
// proposal at all (a bug, not a capacity limitation).
func PostCheck(led *ledger.Ledger, reps []model.SalesRep, cfg model.Configuration, allAccountIDs []string, proposalsByAccount map[string]model.Proposal) []model.Warning {
	var warnings []model.Warning

	repIDs := make([]string, len(reps))
	for i, r := range reps {
		repIDs[i] = r.RepID
	}
	sort.Strings(repIDs)

	for _, repID := range repIDs {
		w := led.Load(repID)
		if cfg.MaxCREPerRep > 0 && w.CRE >= cfg.MaxCREPerRep {
			warnings = append(warnings, model.Warning{Code: model.WarnCRERisk, Severity: model.SeverityMedium, RepID: repID, Message: "rep has reached or exceeded the configured CRE cap"})
		}
		if cfg.MaxTier1PerRep > 0 && w.Tier1Count > cfg.MaxTier1PerRep {
			warnings = append(warnings, model.Warning{Code: model.WarnTierConcentration, Severity: model.SeverityHigh, RepID: repID, Message: "rep holds more Tier 1 accounts than the configured maximum"})
		}
		if cfg.MaxTier2PerRep > 0 && w.Tier2Count > cfg.MaxTier2PerRep {
			warnings = append(warnings, model.Warning{Code: model.WarnTierConcentration, Severity: model.SeverityLow, RepID: repID, Message: "rep holds more Tier 2 accounts than the configured maximum"})
		}
	}

	ids := make([]string, len(allAccountIDs))
	copy(ids, allAccountIDs)
	sort.Strings(ids)
	for _, id := range ids {
		if _, ok := proposalsByAccount[id]; !ok {
			warnings = append(warnings, model.Warning{Code: model.WarnUnassigned, Severity: model.SeverityHigh, AccountID: id, Message: "account has no proposal after cascade; this indicates an engine defect"})
		}
	}

	return warnings
}
