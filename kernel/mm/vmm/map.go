package vmm

import (
	"kore/kernel"
	"kore/kernel/mem"
)

// pageTableWalker is a function invoked by walk with each page table entry
// visited while translating a virtual address, starting at the top-most
// level. Mutations to the entry are written back to the containing table.
// Returning false aborts the walk.
type pageTableWalker func(level int, pte *Entry) bool

// walk performs a page table walk for virtAddr inside the address space
// identified by root, invoking walkFn once per level. Walk stores any entry
// mutation back into physical memory before descending.
func (m *Manager) walk(root mem.Frame, virtAddr uint64, walkFn pageTableWalker) *kernel.Error {
	tableAddr := root.Address()

	for level := 0; level < m.layout.PageLevels; level++ {
		entryAddr := tableAddr + m.layout.IndexForLevel(virtAddr, level)*uint64(m.layout.EntrySize)

		word, err := m.ram.Word(entryAddr, m.layout.EntrySize)
		if err != nil {
			return err
		}

		pte := Entry(word)
		ok := walkFn(level, &pte)

		if uint64(pte) != word {
			if err := m.ram.SetWord(entryAddr, uint64(pte), m.layout.EntrySize); err != nil {
				return err
			}
		}
		if !ok {
			return nil
		}

		tableAddr = pte.Frame(m.layout).Address()
	}

	return nil
}

// Map establishes a mapping between a virtual page and a physical frame in
// the currently active address space. Missing intermediate tables are
// allocated and cleared on demand. The stale translation cache entry for the
// page is invalidated.
func (m *Manager) Map(page mem.Page, frame mem.Frame, flags EntryFlag) *kernel.Error {
	return m.MapIn(m.activeRoot, page, frame, flags)
}

// MapIn behaves like Map but operates on the address space identified by
// root, which may be inactive.
func (m *Manager) MapIn(root mem.Frame, page mem.Page, frame mem.Frame, flags EntryFlag) *kernel.Error {
	var err *kernel.Error

	walkErr := m.walk(root, page.Address(), func(level int, pte *Entry) bool {
		// Reaching the last level only requires writing the leaf in
		// place; a re-map of the same page overwrites the prior entry.
		if level == m.layout.PageLevels-1 {
			*pte = 0
			pte.SetFrame(m.layout, frame)
			pte.SetFlags(flags)
			return true
		}

		if pte.HasFlags(FlagHugePage) {
			err = errNoHugePageSupport
			return false
		}

		// The next-level table does not exist yet; allocate a frame
		// for it and clear its contents before descending.
		if !pte.HasFlags(FlagPresent) {
			var tableFrame mem.Frame
			tableFrame, err = m.allocTable()
			if err != nil {
				return false
			}

			*pte = 0
			pte.SetFrame(m.layout, tableFrame)
			pte.SetFlags(FlagPresent | FlagRW | FlagUserAccessible)
		}

		return true
	})

	if walkErr != nil {
		return walkErr
	}
	if err != nil {
		return err
	}

	if root == m.activeRoot {
		m.tlb.invalidate(page)
	}
	return nil
}

// Unmap removes the mapping for a virtual page from the currently active
// address space and invalidates its translation cache entry. Intermediate
// tables that become empty are intentionally left in place.
func (m *Manager) Unmap(page mem.Page) *kernel.Error {
	return m.UnmapIn(m.activeRoot, page)
}

// UnmapIn behaves like Unmap but operates on the address space identified by
// root.
func (m *Manager) UnmapIn(root mem.Frame, page mem.Page) *kernel.Error {
	var err *kernel.Error

	walkErr := m.walk(root, page.Address(), func(level int, pte *Entry) bool {
		if level == m.layout.PageLevels-1 {
			*pte = 0
			return true
		}

		if !pte.HasFlags(FlagPresent) {
			err = ErrInvalidMapping
			return false
		}

		if pte.HasFlags(FlagHugePage) {
			err = errNoHugePageSupport
			return false
		}

		return true
	})

	if walkErr != nil {
		return walkErr
	}
	if err != nil {
		return err
	}

	if root == m.activeRoot {
		m.tlb.invalidate(page)
	}
	return nil
}

// Translate returns the physical address that corresponds to virtAddr in the
// active address space, or ErrInvalidMapping if any level of the walk hits a
// non-present entry. Before address translation is activated, physical and
// virtual addresses coincide.
func (m *Manager) Translate(virtAddr uint64) (uint64, *kernel.Error) {
	if !m.enabled {
		return virtAddr, nil
	}

	page := mem.PageFromAddress(virtAddr)
	if frame, ok := m.tlb.lookup(page); ok {
		return frame.Address() + mem.PageOffset(virtAddr), nil
	}

	frame, err := m.translateIn(m.activeRoot, virtAddr)
	if err != nil {
		return 0, err
	}

	m.tlb.insert(page, frame)
	return frame.Address() + mem.PageOffset(virtAddr), nil
}

// TranslateIn resolves virtAddr in the address space identified by root. It
// bypasses the TLB so it is usable against inactive address spaces.
func (m *Manager) TranslateIn(root mem.Frame, virtAddr uint64) (uint64, *kernel.Error) {
	if !m.enabled {
		return virtAddr, nil
	}

	frame, err := m.translateIn(root, virtAddr)
	if err != nil {
		return 0, err
	}
	return frame.Address() + mem.PageOffset(virtAddr), nil
}

// translateIn walks the address space identified by root without allocating
// and returns the frame backing virtAddr.
func (m *Manager) translateIn(root mem.Frame, virtAddr uint64) (mem.Frame, *kernel.Error) {
	var (
		err   *kernel.Error
		leaf  Entry
		found bool
	)

	walkErr := m.walk(root, virtAddr, func(level int, pte *Entry) bool {
		if !pte.HasFlags(FlagPresent) {
			err = ErrInvalidMapping
			return false
		}
		if level == m.layout.PageLevels-1 {
			leaf = *pte
			found = true
		}
		return true
	})

	if walkErr != nil {
		return mem.InvalidFrame, walkErr
	}
	if err != nil || !found {
		return mem.InvalidFrame, ErrInvalidMapping
	}
	return leaf.Frame(m.layout), nil
}
