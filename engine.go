package hip

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aclements/hip/backtrace"
	"github.com/aclements/hip/event"
	"github.com/aclements/hip/guard"
	"github.com/aclements/hip/tracker"
)

// engine is the global, process-wide recording state. There is at
// most one live engine at a time; current holds it for the duration
// of the active phase between Enable and Disable.
type engine struct {
	startedAt time.Time
	seq       atomic.Uint64
	cfg       Config
	pool      *tracker.Pool

	guards atomic.Int64 // in-flight recorder calls

	// cache maps a goroutine id (see guard.GoroutineID) to the
	// *tracker.Guard that goroutine has checked out. Go exposes no
	// goroutine-exit hook, so release back to the pool happens only at
	// Disable (which finalizes every tracker regardless of cache state)
	// or when the embedding program calls ReleaseCurrentGoroutine as a
	// worker goroutine parks or exits.
	cache sync.Map // int64 -> *tracker.Guard
}

var current atomic.Pointer[engine]

// Enable installs a new engine, creates its profile directory, and
// returns the directory's path. It returns ErrAlreadyEnabled without
// touching the filesystem if an engine is already active.
func Enable(cfg Config) (string, error) {
	if err := cfg.validate(); err != nil {
		return "", err
	}

	if current.Load() != nil {
		return "", ErrAlreadyEnabled
	}

	dir := filepath.Join(cfg.ProfileDir, fmt.Sprintf("hip-%d", time.Now().Unix()))
	if err := os.MkdirAll(filepath.Join(dir, "events"), 0o755); err != nil {
		return "", fmt.Errorf("hip: creating events directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "backtraces"), 0o755); err != nil {
		return "", fmt.Errorf("hip: creating backtraces directory: %w", err)
	}

	e := &engine{
		startedAt: time.Now(),
		cfg:       cfg,
		pool:      tracker.NewPool(dir, cfg.MaxTrackers, cfg.TrackerEventBufferSize),
	}
	if !current.CompareAndSwap(nil, e) {
		return "", ErrAlreadyEnabled
	}
	return dir, nil
}

// Disable flips the engine to inactive, waits for every in-flight
// recorder call to finish, then finalizes and drains the tracker pool.
// It is idempotent: a second call, or a call when no engine is
// installed, is a no-op that returns nil.
func Disable() error {
	e := current.Load()
	if e == nil {
		return nil
	}
	if !current.CompareAndSwap(e, nil) {
		// Raced with another Disable; the winner handles teardown.
		return nil
	}

	for e.guards.Load() != 0 {
		time.Sleep(5 * time.Millisecond)
	}

	return e.pool.Drain()
}

// ReleaseCurrentGoroutine returns the calling goroutine's cached
// tracker, if any, to the pool's free list. Go has no goroutine-exit
// hook to do this automatically; programs built around a fixed
// worker-goroutine pool should call this just before a worker
// goroutine parks or exits, to make its tracker available for reuse
// by the next worker.
//
// It is always safe to call, including when no engine is active or
// the calling goroutine has no cached tracker.
func ReleaseCurrentGoroutine() {
	e := current.Load()
	if e == nil {
		return
	}
	id := guard.GoroutineID()
	if v, ok := e.cache.LoadAndDelete(id); ok {
		v.(*tracker.Guard).Release()
	}
}

func (e *engine) trackerForCurrentGoroutine() (*tracker.Guard, error) {
	id := guard.GoroutineID()
	if v, ok := e.cache.Load(id); ok {
		return v.(*tracker.Guard), nil
	}
	g, err := e.pool.Acquire()
	if err != nil {
		return nil, err
	}
	e.cache.Store(id, g)
	return g, nil
}

// recordAlloc performs a reentrancy guard check, a sampling decision,
// a backtrace capture, and an append to the calling goroutine's local
// tracker. Every failure mode — disabled engine, reentrant call, pool
// exhaustion — is silently dropped; none of them may be observable to
// the caller of Alloc.
func recordAlloc(addr, size uintptr) {
	e := current.Load()
	if e == nil {
		return
	}
	if guard.Active() {
		return
	}

	e.guards.Add(1)
	defer e.guards.Add(-1)

	guard.Untracked(func() {
		if e.cfg.SampleRate < 1.0 && rand.Float64() >= e.cfg.SampleRate {
			return
		}

		g, err := e.trackerForCurrentGoroutine()
		if err != nil {
			return // pool exhausted: drop silently
		}

		trace := backtrace.Capture(0, e.cfg.MaxStackDepth)
		seq := e.seq.Add(1) - 1
		local := g.Local()
		local.Push(event.Event{
			Kind:     event.KindAlloc,
			Seq:      seq,
			AfterNS:  uint64(time.Since(e.startedAt).Nanoseconds()),
			Addr:     uint64(addr),
			ThreadID: uint64(g.ID()),
			BTFp:     trace.Fp,
			Size:     uint64(size),
		})
		local.RecordBacktrace(trace.Fp, trace.PCs)
		local.MaybeFlush(e.cfg.TrackerEventBufferSize)
	})
}

// recordDealloc mirrors recordAlloc for the Free path. Unlike
// recordAlloc, it is never gated by SampleRate: every Dealloc must be
// recorded so that offline ingestion's addr-to-row bookkeeping stays
// consistent even when Allocs are sampled out.
func recordDealloc(addr uintptr) {
	e := current.Load()
	if e == nil {
		return
	}
	if guard.Active() {
		return
	}

	e.guards.Add(1)
	defer e.guards.Add(-1)

	guard.Untracked(func() {
		g, err := e.trackerForCurrentGoroutine()
		if err != nil {
			return
		}

		seq := e.seq.Add(1) - 1
		local := g.Local()
		local.Push(event.Event{
			Kind:     event.KindDealloc,
			Seq:      seq,
			AfterNS:  uint64(time.Since(e.startedAt).Nanoseconds()),
			Addr:     uint64(addr),
			ThreadID: uint64(g.ID()),
		})
		local.MaybeFlush(e.cfg.TrackerEventBufferSize)
	})
}
