package kernel

import "sync/atomic"

// Mutex is a single word shared across cores: 0 is unlocked, anything else
// locked. There is no owner, no recursion and no fairness.
type Mutex uint32

func sync_test_and_set(addr *uint32) uint32 {
	return atomic.SwapUint32(addr, 1)
}

func sync_release(addr *uint32) {
	atomic.StoreUint32(addr, 0)
}

func MutexInit(m *Mutex) {
	sync_release((*uint32)(m))
}

// Lock spins until the test-and-set observes the word unlocked. The wait is
// unbounded.
func (m *Mutex) Lock() {
	for sync_test_and_set((*uint32)(m)) != 0 {
	}
}

// TryLock makes a single test-and-set attempt.
func (m *Mutex) TryLock() bool {
	return sync_test_and_set((*uint32)(m)) == 0
}

// Unlock clears the word. The caller must hold the lock.
func (m *Mutex) Unlock() {
	sync_release((*uint32)(m))
}

// spinlock guards kernel-internal state (ready queues, control blocks,
// page directories).
type spinlock struct {
	locked Mutex
}

func initlock(lk *spinlock) {
	MutexInit(&lk.locked)
}

func acquire(lk *spinlock) {
	lk.locked.Lock()
}

func release(lk *spinlock) {
	lk.locked.Unlock()
}
