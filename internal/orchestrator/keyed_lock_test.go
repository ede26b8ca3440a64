package orchestrator

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestKeyedLock_Serializes(t *testing.T) {
	l := newKeyedLock()

	var mu sync.Mutex
	inside := 0
	maxInside := 0

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Do("g1", func() error {
				mu.Lock()
				inside++
				if inside > maxInside {
					maxInside = inside
				}
				mu.Unlock()

				time.Sleep(time.Millisecond)

				mu.Lock()
				inside--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()

	if maxInside != 1 {
		t.Errorf("Observed %d concurrent holders for one key, want 1", maxInside)
	}
}

func TestKeyedLock_FIFOOrder(t *testing.T) {
	l := newKeyedLock()

	const n = 10
	var order []int
	var mu sync.Mutex

	// the first operation blocks until all others are queued, so queue
	// order is the submission order
	release := make(chan struct{})
	queued := make(chan struct{}, n)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		l.Do("g1", func() error {
			<-release
			mu.Lock()
			order = append(order, 0)
			mu.Unlock()
			return nil
		})
	}()
	// give the holder time to acquire before queueing the rest
	time.Sleep(10 * time.Millisecond)

	for i := 1; i <= n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			queued <- struct{}{}
			l.Do("g1", func() error {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil
			})
		}(i)
		// wait for enqueue to start; waiters chain in Do entry order
		<-queued
		time.Sleep(5 * time.Millisecond)
	}
	close(release)
	wg.Wait()

	for i, got := range order {
		if got != i {
			t.Fatalf("Operations ran out of order: position %d got %d (full order %v)", i, got, order)
		}
	}
}

func TestKeyedLock_KeysIndependent(t *testing.T) {
	l := newKeyedLock()

	blocked := make(chan struct{})
	done := make(chan struct{})
	go func() {
		l.Do("g1", func() error {
			close(blocked)
			<-done
			return nil
		})
	}()
	<-blocked

	// an operation on another key must not wait for g1
	completed := make(chan struct{})
	go func() {
		l.Do("g2", func() error { return nil })
		close(completed)
	}()

	select {
	case <-completed:
	case <-time.After(time.Second):
		t.Fatal("Operation on an independent key was blocked")
	}
	close(done)
}

func TestKeyedLock_CleansUp(t *testing.T) {
	l := newKeyedLock()

	if err := l.Do("g1", func() error { return nil }); err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if l.pending("g1") {
		t.Error("Lock entry not removed after last operation finished")
	}
}

func TestKeyedLock_ErrorReleasesLock(t *testing.T) {
	l := newKeyedLock()
	wantErr := errors.New("operation failed")

	if err := l.Do("g1", func() error { return wantErr }); !errors.Is(err, wantErr) {
		t.Errorf("Do returned %v, want %v", err, wantErr)
	}

	// the key must be usable again
	ran := false
	if err := l.Do("g1", func() error { ran = true; return nil }); err != nil {
		t.Errorf("Do after error failed: %v", err)
	}
	if !ran {
		t.Error("Follow-up operation did not run")
	}
	if l.pending("g1") {
		t.Error("Lock entry not removed after error")
	}
}
