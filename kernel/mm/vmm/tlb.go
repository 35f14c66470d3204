package vmm

import "kore/kernel/mem"

// tlb models the hardware translation cache: a page-granular map of virtual
// to physical translations that must be invalidated per-address whenever a
// mapping changes and flushed wholesale when the active directory is swapped.
type tlb struct {
	entries map[mem.Page]mem.Frame

	hits   uint64
	misses uint64
}

func (t *tlb) lookup(page mem.Page) (mem.Frame, bool) {
	frame, ok := t.entries[page]
	if ok {
		t.hits++
	} else {
		t.misses++
	}
	return frame, ok
}

func (t *tlb) insert(page mem.Page, frame mem.Frame) {
	if t.entries == nil {
		t.entries = make(map[mem.Page]mem.Frame)
	}
	t.entries[page] = frame
}

// invalidate drops the cached translation for a single page.
func (t *tlb) invalidate(page mem.Page) {
	delete(t.entries, page)
}

// flush drops every cached translation. Used when the active top-level table
// changes.
func (t *tlb) flush() {
	t.entries = nil
}
