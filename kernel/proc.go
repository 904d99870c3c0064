package kernel

import (
	"context"
	"errors"
	"runtime"
)

// Thread creation flags.
const (
	THREAD_FLAG_NO_FLAGS    = 0x0
	THREAD_FLAG_IDLE_THREAD = 0x80000000
	THREAD_FLAG_FORCEID     = 0x40000000
	THREAD_FLAG_PIN         = 0x00000100
	THREAD_FLAG_CORE_MASK   = 0x000000FF
)

type ThreadState int

const (
	CREATED   ThreadState = iota // 0
	READY                        // 1
	RUNNING                      // 2
	SUSPENDED                    // 3
	JOINING                      // 4, suspended until another thread exits
	EXITED                       // 5
)

func (s ThreadState) String() string {
	switch s {
	case CREATED:
		return "created"
	case READY:
		return "ready"
	case RUNNING:
		return "running"
	case SUSPENDED:
		return "suspended"
	case JOINING:
		return "joining"
	case EXITED:
		return "exited"
	}
	return "unknown"
}

// Context is a thread's saved register file.
type Context struct {
	PC uintptr
	SP uintptr

	// callee-saved
	Regs [12]uint32
}

const (
	TASK_STUB   = uintptr(0x2000)
	KSTACKTOP   = uintptr(0xfffff000)
	KSTACKPAGES = 2
)

// KSTACK returns the kernel stack base of thread slot i. Each stack is
// followed by a guard page.
func KSTACK(i int) uintptr {
	return KSTACKTOP - uintptr(i+1)*(KSTACKPAGES+1)*uintptr(PGSIZE)
}

// Entry is a thread body. It runs on the core the thread is placed on;
// returning from Run exits the thread.
type Entry interface {
	Run(c *Core, arg interface{})
}

// EntryFunc adapts a function to Entry.
type EntryFunc func(c *Core, arg interface{})

func (f EntryFunc) Run(c *Core, arg interface{}) { f(c, arg) }

// ThreadAttr configures a thread at creation. It is not kept.
type ThreadAttr struct {
	Args       interface{}
	Flags      uint32
	ForceID    uint32
	Identifier string
	ExtraData  interface{}
}

// Thread is an opaque handle: a slot of the thread table plus the
// generation of the control block that held the slot. The zero value is
// not a thread.
type Thread struct {
	idx uint32
	gen uint32
}

func (t Thread) Valid() bool { return t.gen != 0 }

// kthread is the control block.
type kthread struct {
	lock spinlock

	// p.lock must be held when using these:
	state      ThreadState
	joiners    []*kthread
	suspendReq bool
	dir        *PageDirectory

	// fixed at creation
	handle Thread
	id     uint32
	flags  uint32
	name   string
	arg    interface{}
	extra  interface{}
	entry  Entry
	core   *Core

	// private to the owning core
	context Context
	started bool
	wake    chan struct{}
}

func (p *kthread) idle() bool { return p.flags&THREAD_FLAG_IDLE_THREAD != 0 }

// endJoin ends a join wait. A suspend that arrived while joining is
// honored here. p.lock must be held.
func (p *kthread) endJoin() {
	if p.suspendReq {
		p.suspendReq = false
		p.state = SUSPENDED
		return
	}
	p.state = READY
	p.core.enqueue(p)
}

type tslot struct {
	gen uint32
	p   *kthread
}

type threadTable struct {
	lock     spinlock
	slots    []tslot
	free     []uint32
	ids      map[uint32]uint32
	nextID   uint32
	coreNext []uint32
}

func newThreadTable(n, ncores int) *threadTable {
	tt := &threadTable{
		slots:    make([]tslot, n),
		free:     make([]uint32, 0, n),
		ids:      make(map[uint32]uint32),
		nextID:   1,
		coreNext: make([]uint32, ncores),
	}
	initlock(&tt.lock)
	for i := n - 1; i >= 0; i-- {
		tt.free = append(tt.free, uint32(i))
	}
	return tt
}

func (tt *threadTable) allocID(global bool, core int) uint32 {
	for {
		var id uint32
		if global {
			id = tt.nextID
			tt.nextID++
		} else {
			tt.coreNext[core]++
			id = uint32(core+1)<<16 | tt.coreNext[core]&0xffff
		}
		if _, used := tt.ids[id]; !used && id != 0 {
			return id
		}
	}
}

// alloc places p in a free slot and gives it an id.
func (tt *threadTable) alloc(p *kthread, force bool, want uint32, global bool) error {
	acquire(&tt.lock)
	defer release(&tt.lock)

	if len(tt.free) == 0 {
		return ErrNoThreadSlot
	}
	if force {
		if _, used := tt.ids[want]; used {
			return ErrIDInUse
		}
		p.id = want
	} else {
		p.id = tt.allocID(global, p.core.rank)
	}
	idx := tt.free[len(tt.free)-1]
	tt.free = tt.free[:len(tt.free)-1]

	s := &tt.slots[idx]
	s.gen++
	if s.gen == 0 {
		s.gen = 1
	}
	s.p = p
	p.handle = Thread{idx: idx, gen: s.gen}
	tt.ids[p.id] = idx
	return nil
}

func (tt *threadTable) release(p *kthread) {
	acquire(&tt.lock)
	defer release(&tt.lock)

	s := &tt.slots[p.handle.idx]
	if s.p != p {
		return
	}
	s.p = nil
	delete(tt.ids, p.id)
	tt.free = append(tt.free, p.handle.idx)
}

func (tt *threadTable) get(t Thread) (*kthread, error) {
	if t.gen == 0 {
		return nil, ErrNoThread
	}
	acquire(&tt.lock)
	defer release(&tt.lock)

	if int(t.idx) >= len(tt.slots) {
		return nil, ErrNoThread
	}
	s := tt.slots[t.idx]
	if s.gen != t.gen || s.p == nil {
		return nil, ErrExited
	}
	return s.p, nil
}

func (tt *threadTable) byID(id uint32) (Thread, error) {
	acquire(&tt.lock)
	defer release(&tt.lock)

	idx, ok := tt.ids[id]
	if !ok {
		return Thread{}, ErrNoThread
	}
	return tt.slots[idx].p.handle, nil
}

// Core is the per-core scheduler state. Its ready ordering is touched by
// other cores under c.lock; everything else belongs to the core itself.
type Core struct {
	k    *Kernel
	rank int

	lock  spinlock
	ready []*kthread
	idle  []*kthread

	current *kthread
	dir     *PageDirectory
	ticks   int
	regs    Context
	context Context
	back    chan struct{}
}

func newCore(k *Kernel, rank int) *Core {
	c := &Core{k: k, rank: rank, back: make(chan struct{})}
	initlock(&c.lock)
	return c
}

// Rank is the core's index in the platform.
func (c *Core) Rank() int { return c.rank }

func (c *Core) Kernel() *Kernel { return c.k }

// Registers is the live register file of the running thread.
func (c *Core) Registers() *Context { return &c.regs }

// enqueue appends p to the ready ordering. Idle threads stay in the ready
// set for good and are only added once. p.lock must be held.
func (c *Core) enqueue(p *kthread) {
	acquire(&c.lock)
	defer release(&c.lock)

	if p.idle() {
		for _, q := range c.idle {
			if q == p {
				return
			}
		}
		c.idle = append(c.idle, p)
		return
	}
	c.ready = append(c.ready, p)
}

func remove(list []*kthread, p *kthread) ([]*kthread, bool) {
	for i, q := range list {
		if q == p {
			copy(list[i:], list[i+1:])
			list[len(list)-1] = nil
			return list[:len(list)-1], true
		}
	}
	return list, false
}

// dequeue takes p out of the ready ordering. The caller holds p.lock or
// is p itself on its way out.
func (c *Core) dequeue(p *kthread) {
	acquire(&c.lock)
	defer release(&c.lock)

	if p.idle() {
		c.idle, _ = remove(c.idle, p)
		return
	}
	c.ready, _ = remove(c.ready, p)
}

// requeue moves a ready thread to the back of its ordering.
func (c *Core) requeue(p *kthread) {
	acquire(&c.lock)
	defer release(&c.lock)

	var ok bool
	if p.idle() {
		if c.idle, ok = remove(c.idle, p); ok {
			c.idle = append(c.idle, p)
		}
		return
	}
	if c.ready, ok = remove(c.ready, p); ok {
		c.ready = append(c.ready, p)
	}
}

// pick takes the oldest ready thread. Idle threads only run when nothing
// else is ready; they rotate but never leave the set.
func (c *Core) pick() *kthread {
	acquire(&c.lock)
	defer release(&c.lock)

	if len(c.ready) > 0 {
		p := c.ready[0]
		c.ready[0] = nil
		c.ready = c.ready[1:]
		return p
	}
	if len(c.idle) > 0 {
		p := c.idle[0]
		copy(c.idle, c.idle[1:])
		c.idle[len(c.idle)-1] = p
		return p
	}
	return nil
}

// NumReady counts the non-idle threads waiting on this core.
func (c *Core) NumReady() int {
	acquire(&c.lock)
	defer release(&c.lock)
	return len(c.ready)
}

// swtch saves the live registers into old and loads new.
func (c *Core) swtch(old *Context, new *Context) {
	*old = c.regs
	c.regs = *new
}

// Schedule runs the next ready thread until it gives the core back by
// yielding, suspending, joining or exiting. It reports whether a thread
// was run.
func (c *Core) Schedule() bool {
	p := c.pick()
	if p == nil {
		return false
	}

	acquire(&p.lock)
	if p.state != READY {
		// suspended remotely between pick and here
		release(&p.lock)
		return true
	}
	if !p.idle() {
		// a suspend and resume between pick and here queued p again
		c.dequeue(p)
	}
	p.state = RUNNING
	dir := p.dir
	release(&p.lock)

	c.current = p
	c.dir = dir
	c.ticks = 0
	Section(c.k.trace, c.rank, p.id)

	c.swtch(&c.context, &p.context)
	if !p.started {
		p.started = true
		go c.taskStub(p)
	} else {
		p.wake <- struct{}{}
	}
	<-c.back

	c.current = nil
	c.dir = nil
	KernelSection(c.k.trace, c.rank)
	return true
}

// sched hands the core back to the scheduler and waits to be picked again.
// p's state must already be updated.
func (c *Core) sched(p *kthread) {
	c.swtch(&p.context, &c.context)
	c.back <- struct{}{}
	<-p.wake
}

func (c *Core) taskStub(p *kthread) {
	p.entry.Run(c, p.arg)
	c.exit(p)
}

// Create makes a new ready thread placed on this core, unless the
// attributes pin it elsewhere.
func (c *Core) Create(entry Entry, attr *ThreadAttr) (Thread, error) {
	return c.k.create(c, entry, attr, nil)
}

// Current returns the thread running on this core.
func (c *Core) Current() Thread {
	if c.current == nil {
		return Thread{}
	}
	return c.current.handle
}

// Yield puts t at the end of the ready ordering. When t is the calling
// thread it gives up the rest of its slot.
func (c *Core) Yield(t Thread) error {
	p, err := c.k.thread(t)
	if err != nil {
		return err
	}
	if p == c.current {
		c.yield(p)
		return nil
	}

	acquire(&p.lock)
	defer release(&p.lock)
	if p.state == READY {
		p.core.requeue(p)
	}
	return nil
}

func (c *Core) yield(p *kthread) {
	acquire(&p.lock)
	if p.suspendReq {
		p.suspendReq = false
		p.state = SUSPENDED
	} else {
		p.state = READY
		c.enqueue(p)
	}
	release(&p.lock)
	c.sched(p)
}

// Tick is the timer interrupt hook. It runs on the interrupted thread and
// forces a yield once the quantum is used up or a suspend is pending.
func (c *Core) Tick() {
	p := c.current
	if p == nil {
		return
	}
	c.ticks++

	acquire(&p.lock)
	pending := p.suspendReq
	release(&p.lock)

	if c.ticks < c.k.cfg.NumTicks && !pending {
		return
	}
	c.ticks = 0
	c.yield(p)
}

// Suspend takes t out of scheduling until it is resumed. Suspending the
// calling thread blocks it here. A thread running on another core stops at
// its next yield or tick.
func (c *Core) Suspend(t Thread) error {
	p, err := c.k.thread(t)
	if err != nil {
		return err
	}
	if p != c.current {
		return c.k.suspend(p)
	}
	if p.idle() {
		return ErrIdleThread
	}
	acquire(&p.lock)
	p.state = SUSPENDED
	p.suspendReq = false
	release(&p.lock)
	c.sched(p)
	return nil
}

func (c *Core) Resume(t Thread) error {
	return c.k.Resume(t)
}

// Exit ends the calling thread. It does not return.
func (c *Core) Exit() {
	p := c.current
	if p == nil {
		panic("exit: no current thread")
	}
	c.exit(p)
}

func (c *Core) exit(p *kthread) {
	acquire(&p.lock)
	p.state = EXITED
	p.suspendReq = false
	joiners := p.joiners
	p.joiners = nil
	release(&p.lock)

	for _, w := range joiners {
		acquire(&w.lock)
		if w.state == JOINING {
			w.endJoin()
		}
		release(&w.lock)
	}
	if p.idle() {
		c.dequeue(p)
	}
	c.k.threads.release(p)

	c.swtch(&p.context, &c.context)
	c.back <- struct{}{}
	runtime.Goexit()
}

// Join blocks waiter until target exits. It returns at once when target
// has already exited. The waiter is either the calling thread or a ready
// thread, which is taken off its ready ordering.
func (c *Core) Join(waiter, target Thread) error {
	q, err := c.k.thread(target)
	if errors.Is(err, ErrExited) {
		return nil
	}
	if err != nil {
		return err
	}
	w, err := c.k.thread(waiter)
	if err != nil {
		return err
	}
	if w == q {
		return ErrSelfJoin
	}
	if w.idle() {
		return ErrIdleThread
	}

	self := w == c.current
	acquire(&w.lock)
	switch {
	case self:
	case w.state == READY || w.state == CREATED:
		w.core.dequeue(w)
	case w.state == RUNNING:
		release(&w.lock)
		return ErrThreadRunning
	case w.state == EXITED:
		release(&w.lock)
		return ErrExited
	default:
		release(&w.lock)
		return ErrNotCurrent
	}
	w.state = JOINING
	release(&w.lock)

	acquire(&q.lock)
	if q.state == EXITED {
		release(&q.lock)
		acquire(&w.lock)
		if self {
			w.state = RUNNING
		} else {
			w.endJoin()
		}
		release(&w.lock)
		return nil
	}
	q.joiners = append(q.joiners, w)
	release(&q.lock)

	if self {
		c.sched(w)
	}
	return nil
}

// SetPageDir binds dir to t. For the calling thread it takes effect at
// once, otherwise on its next dispatch.
func (c *Core) SetPageDir(t Thread, dir *PageDirectory) error {
	p, err := c.k.thread(t)
	if err != nil {
		return err
	}
	acquire(&p.lock)
	p.dir = dir
	release(&p.lock)
	if p == c.current {
		c.dir = dir
	}
	return nil
}

// Run is the scheduler loop. On hardware it never returns; here it stops
// once ctx is done and the running thread has given the core back.
func (c *Core) Run(ctx context.Context) {
	for ctx.Err() == nil {
		c.Schedule()
	}
}

func (k *Kernel) create(c *Core, entry Entry, attr *ThreadAttr, dir *PageDirectory) (Thread, error) {
	p, err := k.spawn(c, entry, attr, dir)
	if err != nil {
		return Thread{}, err
	}
	return p.handle, nil
}

// spawn allocates a control block, applies the attributes and makes the
// thread ready on its core.
func (k *Kernel) spawn(c *Core, entry Entry, attr *ThreadAttr, dir *PageDirectory) (*kthread, error) {
	if entry == nil {
		return nil, ErrBadEntry
	}
	if attr == nil {
		attr = &ThreadAttr{}
	}
	if c == nil {
		c = k.cores[0]
	}
	home := c
	if attr.Flags&THREAD_FLAG_PIN != 0 {
		n := int(attr.Flags & THREAD_FLAG_CORE_MASK)
		if n >= len(k.cores) {
			return nil, ErrBadCore
		}
		home = k.cores[n]
	}

	p := &kthread{
		state: CREATED,
		dir:   dir,
		flags: attr.Flags,
		name:  attr.Identifier,
		arg:   attr.Args,
		extra: attr.ExtraData,
		entry: entry,
		core:  home,
		wake:  make(chan struct{}, 1),
	}
	initlock(&p.lock)
	force := attr.Flags&THREAD_FLAG_FORCEID != 0
	if err := k.threads.alloc(p, force, attr.ForceID, k.cfg.UseGlobalIDs); err != nil {
		return nil, err
	}
	p.context.PC = TASK_STUB
	p.context.SP = KSTACK(int(p.handle.idx)) + KSTACKPAGES*uintptr(PGSIZE)
	if p.name == "" {
		p.name = "thread"
	}
	DefineSection(k.trace, c.rank, p.id, p.name)

	acquire(&p.lock)
	p.state = READY
	home.enqueue(p)
	release(&p.lock)
	return p, nil
}

func (k *Kernel) thread(t Thread) (*kthread, error) {
	if k.threads == nil {
		return nil, ErrNoThread
	}
	return k.threads.get(t)
}

// Create makes a new ready thread on core 0, or on the pinned core.
func (k *Kernel) Create(entry Entry, attr *ThreadAttr) (Thread, error) {
	return k.create(nil, entry, attr, nil)
}

// Suspend takes t out of scheduling from outside any thread context.
func (k *Kernel) Suspend(t Thread) error {
	p, err := k.thread(t)
	if err != nil {
		return err
	}
	return k.suspend(p)
}

func (k *Kernel) suspend(p *kthread) error {
	if p.idle() {
		return ErrIdleThread
	}
	acquire(&p.lock)
	defer release(&p.lock)

	switch p.state {
	case EXITED:
		return ErrExited
	case CREATED, READY:
		p.core.dequeue(p)
		p.state = SUSPENDED
	case RUNNING, JOINING:
		p.suspendReq = true
	}
	return nil
}

// Resume makes a suspended thread ready again. A suspend still pending on
// a running or joining thread is cancelled.
func (k *Kernel) Resume(t Thread) error {
	p, err := k.thread(t)
	if err != nil {
		return err
	}
	acquire(&p.lock)
	defer release(&p.lock)

	switch p.state {
	case SUSPENDED:
		p.state = READY
		p.suspendReq = false
		p.core.enqueue(p)
		return nil
	case RUNNING, JOINING:
		if p.suspendReq {
			p.suspendReq = false
			return nil
		}
	}
	return ErrNotSuspended
}

// State reports t's scheduling state. Threads whose control block is gone
// report EXITED.
func (k *Kernel) State(t Thread) (ThreadState, error) {
	p, err := k.thread(t)
	if errors.Is(err, ErrExited) {
		return EXITED, nil
	}
	if err != nil {
		return 0, err
	}
	acquire(&p.lock)
	defer release(&p.lock)
	return p.state, nil
}

// Lookup finds a live thread by numeric id.
func (k *Kernel) Lookup(id uint32) (Thread, error) {
	if k.threads == nil {
		return Thread{}, ErrNoThread
	}
	return k.threads.byID(id)
}

// ID returns the numeric id of a live thread.
func (k *Kernel) ID(t Thread) (uint32, error) {
	p, err := k.thread(t)
	if err != nil {
		return 0, err
	}
	return p.id, nil
}

func (k *Kernel) Name(t Thread) (string, error) {
	p, err := k.thread(t)
	if err != nil {
		return "", err
	}
	return p.name, nil
}

func (k *Kernel) ExtraData(t Thread) (interface{}, error) {
	p, err := k.thread(t)
	if err != nil {
		return nil, err
	}
	return p.extra, nil
}

// SavedContext returns t's saved registers. Only meaningful while t is
// not running.
func (k *Kernel) SavedContext(t Thread) (Context, error) {
	p, err := k.thread(t)
	if err != nil {
		return Context{}, err
	}
	acquire(&p.lock)
	defer release(&p.lock)
	if p.state == RUNNING {
		return Context{}, ErrThreadRunning
	}
	return p.context, nil
}

func (k *Kernel) PageDir(t Thread) (*PageDirectory, error) {
	p, err := k.thread(t)
	if err != nil {
		return nil, err
	}
	acquire(&p.lock)
	defer release(&p.lock)
	return p.dir, nil
}

// SetPageDir binds dir to t for its next dispatch.
func (k *Kernel) SetPageDir(t Thread, dir *PageDirectory) error {
	p, err := k.thread(t)
	if err != nil {
		return err
	}
	acquire(&p.lock)
	p.dir = dir
	release(&p.lock)
	return nil
}

func idleLoop(c *Core, _ interface{}) {
	for {
		c.Yield(c.Current())
	}
}

// schedinit resets the thread table and the ready orderings and gives every
// core its idle thread.
func (k *Kernel) schedinit() error {
	k.threads = newThreadTable(k.cfg.MaxThreads, len(k.cores))
	for _, c := range k.cores {
		acquire(&c.lock)
		c.ready = nil
		c.idle = nil
		release(&c.lock)
	}
	if !k.cfg.IdleThreads {
		return nil
	}
	for _, c := range k.cores {
		attr := &ThreadAttr{
			Flags:      THREAD_FLAG_IDLE_THREAD | THREAD_FLAG_PIN | uint32(c.rank)&THREAD_FLAG_CORE_MASK,
			Identifier: "idle",
		}
		if _, err := k.create(k.cores[0], EntryFunc(idleLoop), attr, nil); err != nil {
			return err
		}
	}
	return nil
}
