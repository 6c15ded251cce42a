package policy

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefault_CleanOldestFirst(t *testing.T) {
	p := NewDefault()
	cands := []Candidate{
		{ID: 1, Size: 16, Slot: 19, Dirty: true, Tick: 1},
		{ID: 2, Size: 16, Slot: 19, Tick: 5},
		{ID: 3, Size: 16, Slot: 19, Tick: 2},
	}
	plan := p.ChooseVictims(Request{FreeBytes: 19}, cands)
	// clean object with the oldest tick wins even though a dirtier,
	// older one exists
	require.Equal(t, []uint32{3}, plan)
}

func TestDefault_FallsBackToDirty(t *testing.T) {
	p := NewDefault()
	cands := []Candidate{
		{ID: 1, Size: 16, Slot: 19, Dirty: true, Tick: 1},
		{ID: 2, Size: 16, Slot: 19, Tick: 5},
	}
	plan := p.ChooseVictims(Request{FreeBytes: 38}, cands)
	require.Equal(t, []uint32{2, 1}, plan)
}

func TestDefault_NeverReturnsPinned(t *testing.T) {
	p := NewDefault()
	cands := []Candidate{
		{ID: 1, Size: 16, Slot: 19, Pinned: true, Tick: 1},
		{ID: 2, Size: 16, Slot: 19, Dirty: true, Pinned: true, Tick: 2},
	}
	require.Empty(t, p.ChooseVictims(Request{FreeBytes: 19}, cands))
	require.Empty(t, p.ChooseVictims(Request{DirtyHeadroom: 16}, cands))
}

func TestDefault_HeadroomSkipsClean(t *testing.T) {
	p := NewDefault()
	cands := []Candidate{
		{ID: 1, Size: 8, Slot: 11, Tick: 1},
		{ID: 2, Size: 8, Slot: 11, Dirty: true, Tick: 9},
	}
	// syncing a clean object frees no headroom, so only the dirty one
	// can appear in a pure headroom plan
	plan := p.ChooseVictims(Request{DirtyHeadroom: 8}, cands)
	require.Equal(t, []uint32{2}, plan)
}

func TestDefault_TiesBreakOnID(t *testing.T) {
	p := NewDefault()
	cands := []Candidate{
		{ID: 7, Size: 8, Slot: 11, Tick: 3},
		{ID: 2, Size: 8, Slot: 11, Tick: 3},
	}
	plan := p.ChooseVictims(Request{FreeBytes: 11}, cands)
	require.Equal(t, []uint32{2}, plan)
}

func TestSieve_SecondChance(t *testing.T) {
	p := NewSieve()
	cands := []Candidate{
		{ID: 1, Size: 8, Slot: 11, Tick: 10},
		{ID: 2, Size: 8, Slot: 11, Tick: 20},
	}
	// first scan: both ticks are fresh, both get a second chance, and
	// the second pass takes the lowest id past the hand
	plan := p.ChooseVictims(Request{FreeBytes: 11}, cands)
	require.Len(t, plan, 1)

	// with unchanged ticks, a later scan selects immediately
	plan2 := p.ChooseVictims(Request{FreeBytes: 11}, cands)
	require.Len(t, plan2, 1)
}

func TestSieve_SparesRecentlyTouched(t *testing.T) {
	p := NewSieve()
	cands := []Candidate{
		{ID: 1, Size: 8, Slot: 11, Tick: 1},
		{ID: 2, Size: 8, Slot: 11, Tick: 1},
	}
	// prime the scan state: objects 1 and 2 are recorded at tick 1 and
	// spared, object 3 (never touched) is taken
	p.ChooseVictims(Request{FreeBytes: 11}, []Candidate{
		cands[0], cands[1], {ID: 3, Size: 8, Slot: 11},
	})

	// object 2 was touched since; object 1 was not
	cands[1].Tick = 50
	plan := p.ChooseVictims(Request{FreeBytes: 11}, cands)
	require.Equal(t, []uint32{1}, plan)
}

func TestSieve_EmptyCandidates(t *testing.T) {
	p := NewSieve()
	require.Empty(t, p.ChooseVictims(Request{FreeBytes: 10}, nil))
	require.Empty(t, p.ChooseVictims(Request{FreeBytes: 10},
		[]Candidate{{ID: 1, Pinned: true, Slot: 11}}))
}
