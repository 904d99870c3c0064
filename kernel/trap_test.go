package kernel

import (
	"errors"
	"io"
	"os"
	"os/exec"
	"testing"
)

func TestSyscallThreadCreate(t *testing.T) {
	k := newTestKernel(t, 1)
	c := k.Core(0)

	var got interface{}
	child := k.RegisterEntry(EntryFunc(func(c *Core, arg interface{}) { got = arg }))

	var sc Syscall
	parent := mustCreate(t, c, func(c *Core, _ interface{}) {
		sc = Syscall{ID: SYS_THREAD_CREATE, Param: [6]uint32{child, 99}}
		c.Trap(&sc)
	}, nil)
	c.Schedule()
	mustState(t, k, parent, EXITED)

	if sc.Output == SyscallError {
		t.Fatal("thread create syscall failed")
	}
	th, err := k.Lookup(sc.Output)
	if err != nil {
		t.Fatalf("Lookup(%d) failed: %v", sc.Output, err)
	}
	mustState(t, k, th, READY)
	if dir, _ := k.PageDir(th); dir != nil {
		t.Error("thread create bound a page directory")
	}
	drain(c)
	if got != uint32(99) {
		t.Errorf("child argument = %v, want 99", got)
	}
}

func TestSyscallTaskCreate(t *testing.T) {
	k := newTestKernel(t, 2)
	c := k.Core(0)
	task := k.RegisterEntry(EntryFunc(func(*Core, interface{}) {}))

	sc := Syscall{ID: SYS_TASK_CREATE, Param: [6]uint32{task, 0, THREAD_FLAG_PIN | 1}}
	c.Trap(&sc)
	if sc.Output == SyscallError {
		t.Fatal("task create syscall failed")
	}
	th, err := k.Lookup(sc.Output)
	if err != nil {
		t.Fatal(err)
	}
	if dir, _ := k.PageDir(th); dir == nil {
		t.Error("task has no page directory")
	}
	if k.Core(1).NumReady() != 1 {
		t.Error("pin flag from the syscall was not applied")
	}
}

func TestSyscallCreateErrors(t *testing.T) {
	k := newTestKernel(t, 1)
	c := k.Core(0)
	e := k.RegisterEntry(EntryFunc(func(*Core, interface{}) {}))

	sc := Syscall{ID: SYS_THREAD_CREATE, Param: [6]uint32{e + 1}}
	c.Trap(&sc)
	if sc.Output != SyscallError {
		t.Errorf("unknown entry: Output = %d, want SyscallError", sc.Output)
	}

	sc = Syscall{ID: SYS_THREAD_CREATE, Param: [6]uint32{e, 0, THREAD_FLAG_FORCEID, 12}}
	c.Trap(&sc)
	if sc.Output != 12 {
		t.Fatalf("forced id: Output = %d, want 12", sc.Output)
	}
	c.Trap(&sc)
	if sc.Output != SyscallError {
		t.Errorf("duplicate forced id: Output = %d, want SyscallError", sc.Output)
	}
}

func TestSetSyscallHandler(t *testing.T) {
	k := newTestKernel(t, 1)
	var ids []uint32
	k.SetSyscallHandler(SyscallHandlerFunc(func(c *Core, sc *Syscall) {
		ids = append(ids, sc.ID)
		sc.Output = sc.Param[0] + sc.Param[5]
	}))
	sc := Syscall{ID: 99, Param: [6]uint32{1, 0, 0, 0, 0, 2}}
	k.Core(0).Trap(&sc)
	if sc.Output != 3 || len(ids) != 1 || ids[0] != 99 {
		t.Errorf("custom handler: Output = %d, ids = %v", sc.Output, ids)
	}
}

func TestUnhandledSyscallCallsExit(t *testing.T) {
	code := -1
	k := newTestKernel(t, 1, func(cfg *Config) { cfg.Exit = func(c int) { code = c } })
	k.Core(0).Trap(&Syscall{ID: 99})
	if code != 1 {
		t.Errorf("exit status = %d, want 1", code)
	}
}

// The default exit hook ends the process; run the kernel in a child test
// binary and look at its status.
func TestUnhandledSyscallTerminates(t *testing.T) {
	if os.Getenv("OPTIMSOC_UNHANDLED_SYSCALL") == "1" {
		cfg := DefaultConfig()
		cfg.Console = io.Discard
		k := New(cfg)
		if err := k.Init(); err != nil {
			os.Exit(3)
		}
		k.Core(0).Trap(&Syscall{ID: 99})
		os.Exit(0)
	}

	cmd := exec.Command(os.Args[0], "-test.run=^TestUnhandledSyscallTerminates$")
	cmd.Env = append(os.Environ(), "OPTIMSOC_UNHANDLED_SYSCALL=1")
	err := cmd.Run()
	var ee *exec.ExitError
	if !errors.As(err, &ee) {
		t.Fatalf("child ended with %v, want exit status 1", err)
	}
	if ee.ExitCode() != 1 {
		t.Errorf("exit status = %d, want 1", ee.ExitCode())
	}
}
