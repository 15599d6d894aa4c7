package ledger

import "kore/subject"

// gapEntry is one buffered out-of-order event awaiting causal repair.
type gapEntry struct {
	event subject.Event
	proof subject.ValidationProof
}

// gapBuffer holds events for one subject whose sn is ahead of the local
// head, bounded at k entries beyond the local sn. Anything past
// local.sn+k is refused outright rather than evicted later, so the
// buffer's memory footprint never depends on how far behind a node has
// fallen.
type gapBuffer struct {
	k       uint64
	entries map[uint64]gapEntry
}

func newGapBuffer(k uint64) *gapBuffer {
	return &gapBuffer{k: k, entries: make(map[uint64]gapEntry)}
}

// insert admits (sn, event, proof) if sn is within the bound relative to
// localSN. It reports whether the entry was admitted.
func (g *gapBuffer) insert(localSN, sn uint64, event subject.Event, proof subject.ValidationProof) bool {
	if sn > localSN+g.k {
		return false
	}
	if _, exists := g.entries[sn]; exists {
		return false
	}
	g.entries[sn] = gapEntry{event: event, proof: proof}
	return true
}

// takeNext removes and returns the entry for expectedSN, if buffered.
func (g *gapBuffer) takeNext(expectedSN uint64) (gapEntry, bool) {
	e, ok := g.entries[expectedSN]
	if ok {
		delete(g.entries, expectedSN)
	}
	return e, ok
}

func (g *gapBuffer) len() int { return len(g.entries) }
