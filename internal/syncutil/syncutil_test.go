package syncutil

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestShardedMutex_MutualExclusion(t *testing.T) {
	var m ShardedMutex
	var counter int
	var wg sync.WaitGroup
	const n = 200

	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			unlock := m.Lock("counter")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()

	if counter != n {
		t.Fatalf("expected %d, got %d: mutual exclusion violated", n, counter)
	}
}

func TestContextShardedMutex_BasicLockUnlock(t *testing.T) {
	m := NewContextShardedMutex()

	unlock, err := m.LockContext(context.Background(), "key1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	unlock()
}

func TestContextShardedMutex_ContextCancelled(t *testing.T) {
	m := NewContextShardedMutex()

	unlock, err := m.LockContext(context.Background(), "blocked")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cancelCtx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = m.LockContext(cancelCtx, "blocked")
	if err != context.DeadlineExceeded {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}

	unlock()
}
