package kernel

import "sync/atomic"

// PageDirectory maps virtual pages to physical pages. It may be shared by
// several threads; the caller must not drop it while a thread still uses it.
//
// Map and Unmap are safe on one core. Two cores changing the same virtual
// pages of one directory must coordinate with a Mutex.
type PageDirectory struct {
	lock spinlock
	kmem *Kmem
	pde  [NPTE]*pagetable
}

// FaultKind tells the data MMU from the instruction MMU.
type FaultKind int

const (
	FaultData FaultKind = iota
	FaultInstruction
)

func (k FaultKind) String() string {
	if k == FaultInstruction {
		return "instruction"
	}
	return "data"
}

// FaultHandler is called by the trap path when a translation misses.
type FaultHandler interface {
	PageFault(c *Core, vaddr uint32)
}

// FaultHandlerFunc adapts a function to FaultHandler.
type FaultHandlerFunc func(c *Core, vaddr uint32)

func (f FaultHandlerFunc) PageFault(c *Core, vaddr uint32) { f(c, vaddr) }

type faultSlot struct {
	h FaultHandler
}

// VMM owns the page-table node pool and the process-wide fault handlers.
type VMM struct {
	kmem   *Kmem
	dfault atomic.Pointer[faultSlot]
	ifault atomic.Pointer[faultSlot]
}

func vmminit(nodes int) *VMM {
	return &VMM{kmem: kinit(nodes)}
}

// CreateDirectory returns an empty page directory.
func (v *VMM) CreateDirectory() *PageDirectory {
	d := &PageDirectory{kmem: v.kmem}
	initlock(&d.lock)
	return d
}

// FreeNodes is the number of page-table nodes left for directories to grow.
func (v *VMM) FreeNodes() int { return v.kmem.Free() }

// SetDataFaultHandler replaces the data fault handler. The previous handler
// is dropped, not chained.
func (v *VMM) SetDataFaultHandler(h FaultHandler) {
	v.dfault.Store(&faultSlot{h: h})
}

// SetInstructionFaultHandler replaces the instruction fault handler.
func (v *VMM) SetInstructionFaultHandler(h FaultHandler) {
	v.ifault.Store(&faultSlot{h: h})
}

func (v *VMM) handler(kind FaultKind) FaultHandler {
	slot := v.dfault.Load()
	if kind == FaultInstruction {
		slot = v.ifault.Load()
	}
	if slot == nil {
		return nil
	}
	return slot.h
}

// pagefault delivers a translation miss to the registered handler.
func (v *VMM) pagefault(kind FaultKind, c *Core, vaddr uint32) error {
	h := v.handler(kind)
	if h == nil {
		return ErrUnhandledFault
	}
	h.PageFault(c, vaddr)
	return nil
}

// walk returns the leaf entry for va. With alloc set, a missing page-table
// node is taken from the pool; nil means the pool is empty.
func (d *PageDirectory) walk(va uint32, alloc bool) (*pagetable, *pte_t) {
	idx := PX(1, va)
	pt := d.pde[idx]
	if pt == nil {
		if !alloc {
			return nil, nil
		}
		pt = d.kmem.kalloc()
		if pt == nil {
			return nil, nil
		}
		d.pde[idx] = pt
	}
	return pt, &pt.ptes[PX(0, va)]
}

func (d *PageDirectory) mappage(va, pa uint32, perm pte_t) error {
	pt, pte := d.walk(va, true)
	if pte == nil {
		return ErrNoMemory
	}
	if *pte&PTE_V == 0 {
		pt.used++
	}
	*pte = PA2PTE(pa) | perm | PTE_V
	return nil
}

// Map installs or replaces the mapping of vaddr's page to paddr's page.
func (d *PageDirectory) Map(vaddr, paddr uint32) error {
	if d == nil {
		return ErrNoDir
	}
	acquire(&d.lock)
	defer release(&d.lock)
	return d.mappage(PGROUNDDOWN(vaddr), PGROUNDDOWN(paddr), PTE_R|PTE_W|PTE_X)
}

// MapRange maps the pages covering [va, va+size) onto consecutive physical
// pages starting at pa. Pages mapped before a failure stay mapped.
func (d *PageDirectory) MapRange(va, size, pa uint32, perm int) error {
	if d == nil {
		return ErrNoDir
	}
	if size == 0 {
		return nil
	}
	if va+size-1 < va {
		return ErrBadRange
	}
	acquire(&d.lock)
	defer release(&d.lock)

	a := PGROUNDDOWN(va)
	last := PGROUNDDOWN(va + size - 1)
	pa = PGROUNDDOWN(pa)
	for {
		if err := d.mappage(a, pa, pte_t(perm)); err != nil {
			return err
		}
		if a == last {
			break
		}
		a += PGSIZE
		pa += PGSIZE
	}
	return nil
}

// Unmap removes the mapping of vaddr's page. A node left empty goes back to
// the pool.
func (d *PageDirectory) Unmap(vaddr uint32) error {
	if d == nil {
		return ErrNoDir
	}
	acquire(&d.lock)
	defer release(&d.lock)

	pt, pte := d.walk(vaddr, false)
	if pte == nil || *pte&PTE_V == 0 {
		return ErrNotMapped
	}
	*pte = 0
	pt.used--
	if pt.used == 0 {
		d.pde[PX(1, vaddr)] = nil
		d.kmem.kfree(pt)
	}
	return nil
}

// Translate returns the physical address for vaddr.
func (d *PageDirectory) Translate(vaddr uint32) (uint32, error) {
	if d == nil {
		return 0, ErrNoDir
	}
	acquire(&d.lock)
	defer release(&d.lock)

	_, pte := d.walk(vaddr, false)
	if pte == nil || *pte&PTE_V == 0 {
		return 0, ErrUnmapped
	}
	return PTE2PA(*pte) | PGOFFSET(vaddr), nil
}

// ReverseTranslate finds a virtual address mapped to paddr. It scans every
// populated entry in ascending virtual address order and returns the lowest
// match, so it is slow; keep it off hot paths.
func (d *PageDirectory) ReverseTranslate(paddr uint32) (uint32, error) {
	if d == nil {
		return 0, ErrNoDir
	}
	acquire(&d.lock)
	defer release(&d.lock)

	page := PGROUNDDOWN(paddr)
	for i := uint32(0); i < NPTE; i++ {
		pt := d.pde[i]
		if pt == nil {
			continue
		}
		for j := uint32(0); j < NPTE; j++ {
			pte := pt.ptes[j]
			if pte&PTE_V != 0 && PTE2PA(pte) == page {
				return VA(i, j) | PGOFFSET(paddr), nil
			}
		}
	}
	return 0, ErrUnmapped
}

// Mapped reports the number of valid entries.
func (d *PageDirectory) Mapped() int {
	acquire(&d.lock)
	defer release(&d.lock)

	n := 0
	for _, pt := range d.pde {
		if pt != nil {
			n += pt.used
		}
	}
	return n
}
