package persistence

import (
	"context"
	"sync"

	"github.com/dataparency-dev/territory-assign/internal/audit"
	"github.com/dataparency-dev/territory-assign/internal/cascade"
	"github.com/dataparency-dev/territory-assign/pkg/model"
)

// MemoryStore is an in-process Store used by engine-level tests and the
// CLI's --dry-run mode; it never touches the network.
type MemoryStore struct {
	mu sync.Mutex

	Accounts map[string][]model.Account
	Reps     map[string][]model.SalesRep

	Proposals            []model.Proposal
	CascadedChildren     []cascade.ChildAssignment
	CascadedOpportunities []cascade.OpportunityAssignment
	AuditEntries         []audit.Entry
}

// NewMemoryStore builds an empty MemoryStore ready for test fixtures to
// populate via Accounts/Reps.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{Accounts: map[string][]model.Account{}, Reps: map[string][]model.SalesRep{}}
}

func (m *MemoryStore) ReadAccounts(_ context.Context, buildID string, cohort model.Cohort, tierFilter string) ([]model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Account
	for _, a := range m.Accounts[buildID] {
		if a.CohortOf() != cohort {
			continue
		}
		if tierFilter != "" && tierFilter != "All" && string(a.Tier) != tierFilter && a.Segment != tierFilter {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (m *MemoryStore) ReadReps(_ context.Context, buildID string) ([]model.SalesRep, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.SalesRep(nil), m.Reps[buildID]...), nil
}

// WriteProposals clears the previously written proposals, then stores the
// new ones. MemoryStore keeps one proposal list, not one per build.
func (m *MemoryStore) WriteProposals(_ context.Context, _ string, proposals []model.Proposal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Proposals = append([]model.Proposal(nil), proposals...)
	return nil
}

func (m *MemoryStore) CascadeChildren(_ context.Context, _ string, children []cascade.ChildAssignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CascadedChildren = append(m.CascadedChildren, children...)
	return nil
}

func (m *MemoryStore) CascadeOpportunities(_ context.Context, _ string, opportunities []cascade.OpportunityAssignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CascadedOpportunities = append(m.CascadedOpportunities, opportunities...)
	return nil
}

func (m *MemoryStore) AppendAudit(_ context.Context, _ string, entries []audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AuditEntries = append(m.AuditEntries, entries...)
	return nil
}

var _ Store = (*MemoryStore)(nil)
