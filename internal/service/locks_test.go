package service

import (
	"sync"
	"testing"
)

func TestKeyedMutex_SerializesSameKey(t *testing.T) {
	km := newKeyedMutex()

	var counter int
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Acquire("match-1")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()

	if counter != 100 {
		t.Fatalf("Expected 100 increments, got %d", counter)
	}
}

func TestKeyedMutex_IndependentKeys(t *testing.T) {
	km := newKeyedMutex()

	unlockA := km.Acquire("match-a")
	defer unlockA()

	// A held lock on one match must not block another
	done := make(chan struct{})
	go func() {
		unlockB := km.Acquire("match-b")
		unlockB()
		close(done)
	}()
	<-done
}

func TestKeyedMutex_CleansUpReleasedEntries(t *testing.T) {
	km := newKeyedMutex()

	unlock := km.Acquire("match-1")
	unlock()

	km.mu.Lock()
	defer km.mu.Unlock()
	if len(km.locks) != 0 {
		t.Fatalf("Expected lock map to be empty, got %d entries", len(km.locks))
	}
}
