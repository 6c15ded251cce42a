// Package policy decides which resident objects to synchronize or evict
// when the heap needs buffer space or dirty-budget headroom. Policies are
// pure decision makers: the resident object manager executes the plan and
// re-asks if it turns out to be insufficient.
package policy

// Candidate describes one resident object at decision time.
type Candidate struct {
	ID        uint32
	Size      uint32 // payload bytes (what syncing releases from the dirty budget)
	Slot      uint32 // header + payload bytes (what unloading frees in the buffer)
	Dirty     bool
	Pinned    bool   // outstanding guards; never a victim
	MutActive bool   // exclusive guard outstanding
	Tick      uint64 // last access tick
}

// Request states what the manager needs from the plan.
type Request struct {
	// FreeBytes of RAM buffer to release by unloading victims.
	FreeBytes int

	// DirtyHeadroom of the dirty budget to release by syncing victims.
	DirtyHeadroom int
}

// Policy returns victim object ids, best candidates first. Pinned or
// locked objects must never appear in the plan. The order must be
// deterministic for a given candidate set.
type Policy interface {
	ChooseVictims(req Request, cands []Candidate) []uint32
}
