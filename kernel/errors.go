package kernel

// Error describes a kernel error condition raised by a subsystem.
type Error struct {
	// Module is the subsystem that raised the error.
	Module string

	// Message is the error description.
	Message string
}

func (e *Error) Error() string {
	return e.Module + ": " + e.Message
}

var (
	ErrNoMemory       = &Error{Module: "vmm", Message: "out of page-table nodes"}
	ErrUnmapped       = &Error{Module: "vmm", Message: "unmapped"}
	ErrNotMapped      = &Error{Module: "vmm", Message: "not mapped"}
	ErrNoDir          = &Error{Module: "vmm", Message: "nil page directory"}
	ErrUnhandledFault = &Error{Module: "vmm", Message: "page fault with no handler"}
	ErrBadRange       = &Error{Module: "vmm", Message: "range wraps the address space"}

	ErrNoThread      = &Error{Module: "sched", Message: "no such thread"}
	ErrNoThreadSlot  = &Error{Module: "sched", Message: "thread table exhausted"}
	ErrIDInUse       = &Error{Module: "sched", Message: "thread id already in use"}
	ErrBadCore       = &Error{Module: "sched", Message: "pinned core out of range"}
	ErrNotSuspended  = &Error{Module: "sched", Message: "thread not suspended"}
	ErrExited        = &Error{Module: "sched", Message: "thread exited"}
	ErrIdleThread    = &Error{Module: "sched", Message: "idle threads cannot leave the ready set"}
	ErrSelfJoin      = &Error{Module: "sched", Message: "thread joins itself"}
	ErrThreadRunning = &Error{Module: "sched", Message: "thread running on another core"}
	ErrNotCurrent    = &Error{Module: "sched", Message: "operation needs the calling thread"}

	ErrBadEntry     = &Error{Module: "syscall", Message: "unknown entry point"}
	ErrBarrierTwice = &Error{Module: "boot", Message: "boot barrier already released"}
	ErrBarrierCore  = &Error{Module: "boot", Message: "boot barrier released by non-zero core"}
)
