package policy

import "sort"

// Default prefers clean objects with the oldest access tick; when clean
// victims cannot cover the request it falls back to dirty objects, which
// the manager synchronizes before unloading. Ties break on ascending id,
// so the plan is fully deterministic.
type Default struct{}

// NewDefault returns the stateless default policy.
func NewDefault() *Default { return &Default{} }

func (Default) ChooseVictims(req Request, cands []Candidate) []uint32 {
	eligible := make([]Candidate, 0, len(cands))
	for _, c := range cands {
		if c.Pinned {
			continue
		}
		eligible = append(eligible, c)
	}
	// clean before dirty, then oldest tick, then id
	sort.Slice(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		if a.Dirty != b.Dirty {
			return !a.Dirty
		}
		if a.Tick != b.Tick {
			return a.Tick < b.Tick
		}
		return a.ID < b.ID
	})

	var plan []uint32
	freed, headroom := 0, 0
	for _, c := range eligible {
		if freed >= req.FreeBytes && headroom >= req.DirtyHeadroom {
			break
		}
		if req.FreeBytes == 0 && !c.Dirty {
			// pure headroom request: syncing a clean object releases nothing
			continue
		}
		plan = append(plan, c.ID)
		freed += int(c.Slot)
		if c.Dirty {
			headroom += int(c.Size)
		}
	}
	return plan
}
