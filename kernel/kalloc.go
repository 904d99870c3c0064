package kernel

// pagetable is one page-table node: NPTE entries, one page of memory on
// the target.
type pagetable struct {
	ptes [NPTE]pte_t
	used int
	next *pagetable
}

// Kmem is the bounded pool page-table nodes are taken from. Exhausting it
// is how a directory fails to grow.
type Kmem struct {
	lock     spinlock
	freelist *pagetable
	nfree    int
	total    int
}

func kinit(nodes int) *Kmem {
	kmem := &Kmem{}
	initlock(&kmem.lock)
	kmem.freerange(nodes)
	return kmem
}

func (kmem *Kmem) freerange(n int) {
	for i := 0; i < n; i++ {
		kmem.kfree(&pagetable{})
	}
	kmem.total += n
}

func (kmem *Kmem) kfree(pt *pagetable) {
	acquire(&kmem.lock)
	defer release(&kmem.lock)

	memset(pt.ptes[:], 0)
	pt.used = 0
	pt.next = kmem.freelist
	kmem.freelist = pt
	kmem.nfree++
}

// kalloc returns a zeroed node, or nil when the pool is empty.
func (kmem *Kmem) kalloc() *pagetable {
	acquire(&kmem.lock)
	defer release(&kmem.lock)

	pt := kmem.freelist
	if pt != nil {
		kmem.freelist = pt.next
		pt.next = nil
		kmem.nfree--
	}
	return pt
}

// Free reports how many nodes are left in the pool.
func (kmem *Kmem) Free() int {
	acquire(&kmem.lock)
	defer release(&kmem.lock)
	return kmem.nfree
}
