package policy

import "sort"

// Sieve is a second-chance policy: a victim scan walks the candidates in
// id order from a persistent hand position; an object whose access tick
// advanced since the last scan is spared once and remembered, everything
// else is taken. Cheaper than strict LRU when the working set is stable,
// and still deterministic.
type Sieve struct {
	seen map[uint32]uint64 // id -> tick at last scan
	hand uint32            // id the next scan starts after
}

// NewSieve returns an empty sieve policy.
func NewSieve() *Sieve {
	return &Sieve{seen: make(map[uint32]uint64)}
}

func (p *Sieve) ChooseVictims(req Request, cands []Candidate) []uint32 {
	eligible := make([]Candidate, 0, len(cands))
	for _, c := range cands {
		if c.Pinned {
			continue
		}
		if req.FreeBytes == 0 && !c.Dirty {
			continue
		}
		eligible = append(eligible, c)
	}
	sort.Slice(eligible, func(i, j int) bool { return eligible[i].ID < eligible[j].ID })
	if len(eligible) == 0 {
		return nil
	}

	var plan []uint32
	freed, headroom := 0, 0

	// Up to two passes over the ring starting after the hand.
	for pass := 0; pass < 2 && (freed < req.FreeBytes || headroom < req.DirtyHeadroom); pass++ {
		start := p.startIndex(eligible)
		for i := range eligible {
			c := eligible[(i+start)%len(eligible)]
			if freed >= req.FreeBytes && headroom >= req.DirtyHeadroom {
				break
			}
			if pass == 0 && c.Tick > p.seen[c.ID] {
				// accessed since the last scan: one more chance
				p.seen[c.ID] = c.Tick
				continue
			}
			plan = append(plan, c.ID)
			delete(p.seen, c.ID)
			p.hand = c.ID
			freed += int(c.Slot)
			if c.Dirty {
				headroom += int(c.Size)
			}
		}
	}
	return dedup(plan)
}

// startIndex finds the first candidate strictly after the hand.
func (p *Sieve) startIndex(eligible []Candidate) int {
	for i, c := range eligible {
		if c.ID > p.hand {
			return i
		}
	}
	return 0
}

func dedup(ids []uint32) []uint32 {
	out := ids[:0]
	taken := make(map[uint32]bool, len(ids))
	for _, id := range ids {
		if !taken[id] {
			taken[id] = true
			out = append(out, id)
		}
	}
	return out
}
