// Package guard implements the recording engine's reentrancy guard: a
// per-goroutine flag that suppresses recording while the recorder
// itself is executing, so that allocations made on the recorder's own
// behalf (growing a buffer, rehashing a map, symbol resolution, file
// I/O) are invisible to the profile and can't recursively re-enter the
// interposer.
//
// Go has no public thread-local-storage primitive. The usual
// substitute when per-goroutine state is needed without threading an
// explicit parameter through every call (the technique behind, e.g.,
// goroutine-local-storage shims) is to parse the running goroutine's
// id out of a small runtime.Stack dump — the same "goroutine NNN
// [running]:" header `go tool trace` and panic dumps print. It is
// slower than real TLS; it is consulted on every record attempt made
// while an engine is enabled, after the delegate call has returned,
// never by the delegate call itself.
package guard

import (
	"runtime"
	"strconv"
	"sync"
)

var (
	mu     sync.Mutex
	active = make(map[int64]bool)
)

// GoroutineID extracts the numeric id of the calling goroutine from
// the header line of a runtime.Stack dump, e.g. "goroutine 18
// [running]:". It returns -1 if the dump couldn't be parsed, which
// should not happen on any supported Go runtime.
//
// Exported so package hip can key its per-goroutine tracker cache by
// the same identity this package uses for the reentrancy flag.
func GoroutineID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := buf[:n]

	const prefix = "goroutine "
	if len(b) <= len(prefix) || string(b[:len(prefix)]) != prefix {
		return -1
	}
	b = b[len(prefix):]

	i := 0
	for i < len(b) && b[i] >= '0' && b[i] <= '9' {
		i++
	}
	id, err := strconv.ParseInt(string(b[:i]), 10, 64)
	if err != nil {
		return -1
	}
	return id
}

// Active reports whether recording is currently suppressed on the
// calling goroutine.
func Active() bool {
	id := GoroutineID()
	mu.Lock()
	defer mu.Unlock()
	return active[id]
}

// Untracked marks the calling goroutine as guarded, runs f, and clears
// the guard on every exit path, including a panic unwinding through f.
// All recorder code paths — backtrace capture, buffer pushes, flushes,
// symbol resolution — run under Untracked. A nested call to Untracked
// on the same goroutine (direct or transitive reentrancy into the
// interposer) leaves the goroutine marked guarded until the outermost
// call returns, so Active() correctly reports "still recording" for
// the whole extent of the outermost call.
func Untracked(f func()) {
	id := GoroutineID()

	mu.Lock()
	wasActive := active[id]
	active[id] = true
	mu.Unlock()

	defer func() {
		if wasActive {
			// We're unwinding out of a nested call; the outer
			// Untracked call is still in flight and owns clearing
			// the flag.
			return
		}
		mu.Lock()
		delete(active, id)
		mu.Unlock()
	}()

	f()
}
