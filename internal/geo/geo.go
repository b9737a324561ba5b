// Package geo implements the Eligibility & Geography Resolver (C3):
// territory→region mapping, the strategic/regular partition, holdover
// detection, and parent-child ownership alignment.
package geo

import (
	"sort"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/dataparency-dev/territory-assign/pkg/model"
)

// autoMap is the built-in, case-insensitive, prefix-and-keyword lookup
// table covering the standard North-American regions and EMEA
// sub-regions. It is tried after the configured territory_mappings and
// before falling back to direct territory/region equality.
var autoMap = []struct {
	region   string
	keywords []string
}{
	{"West", []string{"pac nw", "pacific northwest", "bay area", "socal", "norcal", "seattle", "portland", "denver", "phoenix", "las vegas", "los angeles", "san francisco", "austin-houston", "west"}},
	{"North East", []string{"boston", "new york", "nyc", "philadelphia", "pittsburgh", "ne", "north east", "northeast"}},
	{"South East", []string{"atlanta", "miami", "orlando", "charlotte", "tampa", "se", "south east", "southeast"}},
	{"Central", []string{"chicago", "dallas", "minneapolis", "detroit", "st. louis", "central", "midwest"}},
	{"DACH", []string{"germany", "austria", "switzerland", "dach", "munich", "berlin", "zurich"}},
	{"UKI", []string{"united kingdom", "uk", "ireland", "london", "dublin", "uki"}},
	{"Nordics", []string{"sweden", "norway", "denmark", "finland", "stockholm", "nordics", "nordic"}},
	{"France", []string{"france", "paris"}},
	{"Benelux", []string{"belgium", "netherlands", "luxembourg", "amsterdam", "benelux"}},
	{"Middle East", []string{"dubai", "uae", "saudi", "middle east", "mena"}},
	{"RO-EMEA", []string{"ro-emea", "rest of emea", "eastern europe", "poland", "warsaw"}},
}

// Resolver maps account territories to rep regions and answers the
// strategic/holdover/alignment questions of C3.
type Resolver struct {
	configured map[string]string // lower(territory) -> region, exact match
	cache      *gocache.Cache
}

// NewResolver builds a Resolver from the configured territory_mappings
// table. Resolution results are memoized for the lifetime of one run
// (territory strings repeat heavily across an account pool, and the
// lookup is pure), using the same in-memory TTL cache library the
// teacher already depended on.
func NewResolver(territoryMappings map[string]string) *Resolver {
	configured := make(map[string]string, len(territoryMappings))
	for k, v := range territoryMappings {
		configured[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return &Resolver{
		configured: configured,
		cache:      gocache.New(5*time.Minute, 10*time.Minute),
	}
}

// ResolveRegion maps a free-text territory to a canonical region name,
// trying the configured table, then the built-in auto-map, then direct
// case-insensitive equality against the candidate regions. Returns
// ("", false) if all three fail — the account has unmapped geography.
func (r *Resolver) ResolveRegion(territory string, knownRegions []string) (string, bool) {
	key := strings.ToLower(strings.TrimSpace(territory))
	if key == "" {
		return "", false
	}
	if cached, found := r.cache.Get(key); found {
		region := cached.(string)
		return region, region != ""
	}

	region, ok := r.resolve(key, knownRegions)
	if ok {
		r.cache.Set(key, region, gocache.DefaultExpiration)
	} else {
		r.cache.Set(key, "", gocache.DefaultExpiration)
	}
	return region, ok
}

func (r *Resolver) resolve(lowerTerritory string, knownRegions []string) (string, bool) {
	// 1. Configured exact-match table.
	if region, ok := r.configured[lowerTerritory]; ok {
		return region, true
	}

	// 2. Built-in auto-map: prefix-and-keyword lookup.
	for _, entry := range autoMap {
		for _, kw := range entry.keywords {
			if strings.Contains(lowerTerritory, kw) {
				return entry.region, true
			}
		}
	}

	// 3. Direct case-insensitive equality against the rep regions present
	// in the roster.
	for _, region := range knownRegions {
		if strings.EqualFold(region, lowerTerritory) {
			return region, true
		}
	}

	return "", false
}

// IsStrategic reports whether an account is strategic: its current owner
// (if any) is a strategic rep. Applied before any geographic filter, and
// bidirectional — regular accounts must never land on a strategic rep and
// vice versa.
func IsStrategic(account model.Account, repsByID map[string]model.SalesRep) bool {
	if account.CurrentOwnerID == "" {
		return false
	}
	rep, ok := repsByID[account.CurrentOwnerID]
	return ok && rep.IsStrategicRep
}

// IsHoldover reports whether an account is permanently locked to its
// current owner: exclude_from_reassignment is set and the current owner
// is active.
func IsHoldover(account model.Account, repsByID map[string]model.SalesRep) bool {
	if !account.ExcludeFromReassignment || account.CurrentOwnerID == "" {
		return false
	}
	rep, ok := repsByID[account.CurrentOwnerID]
	return ok && rep.IsActive
}

// AlignmentResult is the outcome of resolving a parent's implicit owner
// from its children.
type AlignmentResult struct {
	ParentID         string
	OwnerID          string
	WillCreateSplit  bool
}

// ResolveParentAlignment picks a parent account's implicit owner from its
// children's active current owners, run before any priority pass.
//
// children must already be filtered to the direct children of parentID.
// Only children with a non-empty, active current owner are candidates. If
// any candidate child is locked (exclude_from_reassignment), the
// candidate set narrows to locked children only; more than one locked
// child with distinct owners raises will_create_split.
func ResolveParentAlignment(parentID string, children []model.Account, repsByID map[string]model.SalesRep) (AlignmentResult, bool) {
	type candidate struct {
		account model.Account
		ownerID string
		locked  bool
	}

	var candidates []candidate
	for _, c := range children {
		if c.CurrentOwnerID == "" {
			continue
		}
		rep, ok := repsByID[c.CurrentOwnerID]
		if !ok || !rep.IsActive {
			continue
		}
		candidates = append(candidates, candidate{account: c, ownerID: c.CurrentOwnerID, locked: c.ExcludeFromReassignment})
	}
	if len(candidates) == 0 {
		return AlignmentResult{}, false
	}

	distinctOwners := map[string]bool{}
	for _, c := range candidates {
		distinctOwners[c.ownerID] = true
	}
	if len(distinctOwners) <= 1 {
		return AlignmentResult{ParentID: parentID, OwnerID: candidates[0].ownerID}, true
	}

	pool := candidates
	var locked []candidate
	for _, c := range candidates {
		if c.locked {
			locked = append(locked, c)
		}
	}
	if len(locked) > 0 {
		pool = locked
	}

	sort.Slice(pool, func(i, j int) bool {
		ai, aj := pool[i].account.EffectiveARR(), pool[j].account.EffectiveARR()
		if ai != aj {
			return ai > aj
		}
		return pool[i].account.AccountID < pool[j].account.AccountID
	})

	willCreateSplit := false
	if len(locked) > 1 {
		lockedOwners := map[string]bool{}
		for _, c := range locked {
			lockedOwners[c.ownerID] = true
		}
		willCreateSplit = len(lockedOwners) > 1
	}

	return AlignmentResult{ParentID: parentID, OwnerID: pool[0].ownerID, WillCreateSplit: willCreateSplit}, true
}
