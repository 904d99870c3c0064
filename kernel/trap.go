package kernel

// System call numbers.
const (
	SYS_TASK_CREATE   = 1
	SYS_THREAD_CREATE = 2
)

// SyscallError is written to the output slot when a call fails.
const SyscallError = ^uint32(0)

// Syscall is the record a trap delivers: the call number, one output
// word and six parameter words.
//
// Thread and task creation read their parameters as
//
//	Param[0]  entry point id from RegisterEntry
//	Param[1]  argument word handed to the entry point
//	Param[2]  thread flags
//	Param[3]  forced thread id, with THREAD_FLAG_FORCEID set
//
// and write the new thread's id to Output.
type Syscall struct {
	ID     uint32
	Output uint32
	Param  [6]uint32
}

// SyscallHandler services system calls.
type SyscallHandler interface {
	HandleSyscall(c *Core, sc *Syscall)
}

// SyscallHandlerFunc adapts a function to SyscallHandler.
type SyscallHandlerFunc func(c *Core, sc *Syscall)

func (f SyscallHandlerFunc) HandleSyscall(c *Core, sc *Syscall) { f(c, sc) }

type syscallSlot struct {
	h SyscallHandler
}

// entryTable names entry points by number so they fit a machine word.
type entryTable struct {
	lock    spinlock
	entries []Entry
}

// RegisterEntry makes e callable from system calls and returns its id.
func (k *Kernel) RegisterEntry(e Entry) uint32 {
	acquire(&k.entries.lock)
	defer release(&k.entries.lock)
	k.entries.entries = append(k.entries.entries, e)
	return uint32(len(k.entries.entries))
}

func (k *Kernel) entry(id uint32) Entry {
	acquire(&k.entries.lock)
	defer release(&k.entries.lock)
	if id == 0 || int(id) > len(k.entries.entries) {
		return nil
	}
	return k.entries.entries[id-1]
}

func (k *Kernel) syscallinit() {
	k.SetSyscallHandler(runtimeSyscall{k})
}

// SetSyscallHandler replaces the handler the syscall trap calls.
func (k *Kernel) SetSyscallHandler(h SyscallHandler) {
	k.syscalls.Store(&syscallSlot{h: h})
}

// Trap is the system call entry for the thread running on c. The handler
// runs on the caller and never suspends it.
func (c *Core) Trap(sc *Syscall) {
	slot := c.k.syscalls.Load()
	if slot == nil {
		c.k.fatal(c.rank, "syscall %d before syscall init", sc.ID)
		return
	}
	slot.h.HandleSyscall(c, sc)
}

// runtimeSyscall is the kernel's own dispatcher. An unknown call number
// ends the run: user and kernel code share one trust domain.
type runtimeSyscall struct {
	k *Kernel
}

func (r runtimeSyscall) HandleSyscall(c *Core, sc *Syscall) {
	switch sc.ID {
	case SYS_TASK_CREATE:
		r.k.syscallTaskCreate(c, sc)
	case SYS_THREAD_CREATE:
		r.k.syscallThreadCreate(c, sc)
	default:
		r.k.fatal(c.rank, "Unhandled syscall: %d", sc.ID)
	}
}

func (k *Kernel) syscallAttr(sc *Syscall, name string) (Entry, *ThreadAttr) {
	return k.entry(sc.Param[0]), &ThreadAttr{
		Args:       sc.Param[1],
		Flags:      sc.Param[2],
		ForceID:    sc.Param[3],
		Identifier: name,
	}
}

func (k *Kernel) syscallThreadCreate(c *Core, sc *Syscall) {
	entry, attr := k.syscallAttr(sc, "thread")
	k.syscallCreate(c, sc, entry, attr, nil)
}

// syscallTaskCreate starts a thread in a fresh address space.
func (k *Kernel) syscallTaskCreate(c *Core, sc *Syscall) {
	entry, attr := k.syscallAttr(sc, "task")
	k.syscallCreate(c, sc, entry, attr, k.vmm.CreateDirectory())
}

func (k *Kernel) syscallCreate(c *Core, sc *Syscall, entry Entry, attr *ThreadAttr, dir *PageDirectory) {
	if entry == nil {
		k.printf(c.rank, "syscall %d: entry %d: %v", sc.ID, sc.Param[0], ErrBadEntry)
		sc.Output = SyscallError
		return
	}
	p, err := k.spawn(c, entry, attr, dir)
	if err != nil {
		k.printf(c.rank, "syscall %d: %v", sc.ID, err)
		sc.Output = SyscallError
		return
	}
	sc.Output = p.id
}

// Access translates vaddr through the running thread's page directory the
// way the MMU does. A miss raises the page fault trap; the registered
// handler may install the page, after which the access is retried once.
// Without a directory the MMU is off and addresses are physical.
func (c *Core) Access(vaddr uint32, kind FaultKind) (uint32, error) {
	dir := c.dir
	if dir == nil {
		return vaddr, nil
	}
	pa, err := dir.Translate(vaddr)
	if err == nil {
		return pa, nil
	}
	if err := c.k.vmm.pagefault(kind, c, vaddr); err != nil {
		return 0, err
	}
	if c.dir == nil {
		return vaddr, nil
	}
	return c.dir.Translate(vaddr)
}
