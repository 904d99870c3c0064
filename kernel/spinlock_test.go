package kernel

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestMutexExclusion(t *testing.T) {
	t.Parallel()
	var m Mutex
	MutexInit(&m)

	const cores, rounds = 2, 20000
	var holders int32
	count := 0
	var wg sync.WaitGroup
	for i := 0; i < cores; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < rounds; j++ {
				m.Lock()
				if n := atomic.AddInt32(&holders, 1); n != 1 {
					t.Errorf("%d holders inside the lock", n)
				}
				count++
				atomic.AddInt32(&holders, -1)
				m.Unlock()
			}
		}()
	}
	wg.Wait()
	if count != cores*rounds {
		t.Errorf("count = %d, want %d", count, cores*rounds)
	}
}

func TestMutexUnlockThenLock(t *testing.T) {
	t.Parallel()
	var m Mutex
	MutexInit(&m)

	for i := 0; i < 3; i++ {
		m.Lock()
		if m.TryLock() {
			t.Fatal("TryLock succeeded on a held lock")
		}
		m.Unlock()
	}
	if !m.TryLock() {
		t.Error("TryLock failed after unlock")
	}
}

func TestMutexInitClears(t *testing.T) {
	t.Parallel()
	m := Mutex(1)
	MutexInit(&m)
	if !m.TryLock() {
		t.Error("lock still held after MutexInit")
	}
}
