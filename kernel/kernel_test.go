package kernel

import (
	"io"
	"testing"
)

// newTestKernel boots the shared state of a kernel with one single-core
// tile per core and no idle threads, so Schedule reports an empty core.
func newTestKernel(t *testing.T, cores int, opts ...func(*Config)) *Kernel {
	t.Helper()
	tiles := make([]uint16, cores)
	for i := range tiles {
		tiles[i] = uint16(i)
	}
	cfg := DefaultConfig()
	cfg.Platform = NewPlatform(tiles, 1)
	cfg.Console = io.Discard
	cfg.IdleThreads = false
	cfg.Exit = func(code int) { t.Errorf("unexpected kernel exit with status %d", code) }
	for _, o := range opts {
		o(&cfg)
	}
	k := New(cfg)
	if err := k.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	return k
}

func mustCreate(t *testing.T, c *Core, fn func(c *Core, arg interface{}), attr *ThreadAttr) Thread {
	t.Helper()
	th, err := c.Create(EntryFunc(fn), attr)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return th
}

func mustState(t *testing.T, k *Kernel, th Thread, want ThreadState) {
	t.Helper()
	got, err := k.State(th)
	if err != nil {
		t.Fatalf("State failed: %v", err)
	}
	if got != want {
		t.Fatalf("thread state = %v, want %v", got, want)
	}
}

// drain runs the core until no thread is ready.
func drain(c *Core) int {
	n := 0
	for c.Schedule() {
		n++
	}
	return n
}
