// Package audit builds the content-addressed entries appended to the
// persistence boundary's append_audit sink: one hash per proposal batch,
// so a reviewer (or a later run) can prove a given batch of proposals was
// exactly what the engine produced.
package audit

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"github.com/dataparency-dev/territory-assign/pkg/model"
)

// Entry is one append-only audit record.
type Entry struct {
	EntryID       string
	BuildID       string
	Cohort        model.Cohort
	ProposalHash  string
	ProposalCount int
}

// BuildEntry hashes a batch of proposals into a single deterministic
// digest. Proposals are re-sorted by account ID before hashing so the
// digest does not depend on pass-internal ordering noise, only on the
// actual assignment content.
func BuildEntry(buildID string, cohort model.Cohort, proposals []model.Proposal) Entry {
	sorted := make([]model.Proposal, len(proposals))
	copy(sorted, proposals)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].AccountID < sorted[j].AccountID })

	h, err := blake2b.New256(nil)
	if err != nil {
		// blake2b.New256 only fails for an invalid key length, and we pass
		// none; a failure here means the linked crypto package is broken.
		panic(fmt.Sprintf("audit: blake2b.New256: %v", err))
	}

	for _, p := range sorted {
		writeField(h, p.AccountID)
		writeField(h, p.ProposedOwnerID)
		writeField(h, string(p.RuleApplied))
		writeField(h, strconv.Itoa(int(p.PriorityLevel)))
	}

	return Entry{
		EntryID:       uuid.NewString(),
		BuildID:       buildID,
		Cohort:        cohort,
		ProposalHash:  hex.EncodeToString(h.Sum(nil)),
		ProposalCount: len(sorted),
	}
}

func writeField(h interface{ Write([]byte) (int, error) }, s string) {
	h.Write([]byte(s))
	h.Write([]byte{0x1f}) // unit separator, keeps "a"+"b" distinct from "ab"+""
}
