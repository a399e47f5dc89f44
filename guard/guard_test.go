package guard

import (
	"sync"
	"testing"
)

func TestActiveDefaultFalse(t *testing.T) {
	if Active() {
		t.Fatal("Active() should default to false")
	}
}

func TestUntrackedSetsAndClears(t *testing.T) {
	var sawActive bool
	Untracked(func() {
		sawActive = Active()
	})
	if !sawActive {
		t.Fatal("Active() was false inside Untracked")
	}
	if Active() {
		t.Fatal("Active() was true after Untracked returned")
	}
}

func TestUntrackedClearsOnPanic(t *testing.T) {
	func() {
		defer func() { recover() }()
		Untracked(func() {
			panic("boom")
		})
	}()
	if Active() {
		t.Fatal("Active() was true after a panic unwound through Untracked")
	}
}

func TestUntrackedNestedReentrancy(t *testing.T) {
	// Simulates recording code that itself triggers a nested call into
	// the interposer (direct or transitive reentrancy): the guard must
	// stay set for the whole extent of the outer call and must not
	// deadlock or clear early when the inner call returns.
	var innerSawActive, outerStillActiveAfterInner bool
	Untracked(func() {
		Untracked(func() {
			innerSawActive = Active()
		})
		outerStillActiveAfterInner = Active()
	})
	if !innerSawActive {
		t.Fatal("nested Untracked did not observe Active() == true")
	}
	if !outerStillActiveAfterInner {
		t.Fatal("guard cleared before the outer Untracked call returned")
	}
	if Active() {
		t.Fatal("guard still set after outermost Untracked returned")
	}
}

func TestUntrackedPerGoroutine(t *testing.T) {
	var wg sync.WaitGroup
	results := make(chan bool, 2)

	block := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		Untracked(func() {
			<-block
		})
	}()

	// Give the goroutine a moment to enter Untracked; since we can't
	// synchronize precisely without racy sleeps, instead check that
	// this goroutine's own guard is unaffected regardless of timing.
	results <- Active()
	close(block)
	wg.Wait()

	if got := <-results; got {
		t.Fatal("one goroutine's Untracked call leaked into another goroutine's guard state")
	}
}
