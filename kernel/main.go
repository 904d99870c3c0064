package kernel

import (
	"context"
	"sync/atomic"
)

// Barrier gates every core but core 0 until shared kernel state is ready.
// It goes from zero to set exactly once.
type Barrier struct {
	flag uint32
}

// Release sets the barrier. Only core 0 may do so, and only once.
func (b *Barrier) Release(core int) error {
	if core != 0 {
		return ErrBarrierCore
	}
	if !atomic.CompareAndSwapUint32(&b.flag, 0, 1) {
		return ErrBarrierTwice
	}
	return nil
}

func (b *Barrier) Released() bool {
	return atomic.LoadUint32(&b.flag) != 0
}

// Wait spins until the barrier is released. There is no timeout.
func (b *Barrier) Wait() {
	for atomic.LoadUint32(&b.flag) == 0 {
	}
}

// Kernel is the runtime system shared by all cores.
type Kernel struct {
	cfg      Config
	platform *Platform
	console  *console
	trace    Tracer
	mp       MessagePassing
	dma      DMA

	vmm     *VMM
	threads *threadTable
	cores   []*Core
	barrier Barrier

	syscalls atomic.Pointer[syscallSlot]
	entries  entryTable
}

func New(cfg Config) *Kernel {
	cfg.setDefaults()
	k := &Kernel{
		cfg:      cfg,
		platform: cfg.Platform,
		console:  newConsole(cfg.Console),
		trace:    cfg.Tracer,
		mp:       cfg.MP,
		dma:      cfg.DMA,
	}
	n := cfg.Platform.NumCores()
	k.cores = make([]*Core, n)
	for i := range k.cores {
		k.cores[i] = newCore(k, i)
	}
	initlock(&k.entries.lock)
	return k
}

func (k *Kernel) NumCores() int { return len(k.cores) }

func (k *Kernel) Core(rank int) *Core { return k.cores[rank] }

func (k *Kernel) Platform() *Platform { return k.platform }

func (k *Kernel) VMM() *VMM { return k.vmm }

func (k *Kernel) Barrier() *Barrier { return &k.barrier }

// Init brings up the shared kernel state. Core 0 runs it once at boot.
func (k *Kernel) Init() error {
	k.printf(0, "Initializing platform..")
	if err := k.platform.Init(); err != nil {
		return err
	}

	k.printf(0, "Initialize message passing..")
	if err := k.mp.Init(); err != nil {
		return err
	}
	if err := k.mp.AddHandler(0, threadReceive{k}); err != nil {
		return err
	}

	k.printf(0, "Initialize DMA..")
	if err := k.dma.Init(); err != nil {
		return err
	}

	k.printf(0, "Bringing virtual memory up..")
	k.vmm = vmminit(k.cfg.PageTableNodes)

	k.printf(0, "Initialize system call interface..")
	k.syscallinit()

	k.printf(0, "Initialize scheduler..")
	if err := k.schedinit(); err != nil {
		return err
	}
	if k.cfg.Init != nil {
		if _, err := k.create(k.cores[0], k.cfg.Init, &ThreadAttr{Identifier: "init"}, nil); err != nil {
			return err
		}
	}
	return nil
}

// Boot runs once per core at reset. Core 0 initializes the kernel and
// releases the others; every core then enters its scheduler loop. A failed
// initialization is fatal.
func (k *Kernel) Boot(ctx context.Context, core int) {
	k.printf(core, "Boot runtime system")
	KernelSection(k.trace, core)

	if core == 0 {
		if err := k.Init(); err != nil {
			k.fatal(core, "boot failed: %v", err)
			return
		}
		k.printf(core, "Core 0 boot finished.")
		k.printf(core, "Start the other cores.")
		if err := k.barrier.Release(core); err != nil {
			k.fatal(core, "boot failed: %v", err)
			return
		}
	} else {
		k.printf(core, "Wait to be woken up.")
		k.barrier.Wait()
		k.printf(core, "Core %d woken up.", core)
	}

	k.cores[core].Run(ctx)
}

// fatal reports a kernel inconsistency and ends the run.
func (k *Kernel) fatal(core int, format string, args ...interface{}) {
	k.printf(core, format, args...)
	k.cfg.Exit(1)
}
