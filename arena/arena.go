// Package arena provides a small bump allocator with a freelist,
// serving as the default concrete Allocator the recording engine's
// interposer wraps.
//
// Go's garbage-collected heap has no pluggable alloc/dealloc pair to
// interpose on, so this repository defines an explicit hip.Allocator
// interface and ships arena.Arena as a real, usable implementation of
// it: a growable backing buffer carved into fixed-size blocks, with
// freed blocks kept on a freelist so addresses are genuinely reused.
// Programs that manage their own off-heap memory (object pools,
// cgo-backed buffers, slab allocators) can implement the same
// interface directly; Arena exists so the engine is independently
// testable and directly usable without one.
package arena

import (
	"fmt"
	"sync"
)

// Arena is a block allocator over a slice of fixed-size blocks. It
// satisfies hip.Allocator: Alloc returns a stable, reusable integer
// address (the block's byte offset from a fixed, non-zero base), Free
// returns the block to the freelist.
type Arena struct {
	blockSize uintptr

	mu       sync.Mutex
	blocks   [][]byte
	freelist []uintptr
	next     uintptr
}

// base offsets every address away from zero, so addr == 0 can never
// be a valid live allocation (freeing address 0, or an address never
// handed out, is always a caller error).
const base = 1 << 20

// New returns an Arena whose blocks are each blockSize bytes. Requests
// larger than blockSize fail; this is a fixed-size-class allocator,
// not a general-purpose one.
func New(blockSize int) *Arena {
	if blockSize <= 0 {
		panic("arena: blockSize must be positive")
	}
	return &Arena{blockSize: uintptr(blockSize), next: base}
}

// Alloc returns the address of a size-byte block. size must not
// exceed the arena's block size.
func (a *Arena) Alloc(size uintptr) (uintptr, error) {
	if size > a.blockSize {
		return 0, fmt.Errorf("arena: request for %d bytes exceeds block size %d", size, a.blockSize)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if n := len(a.freelist); n > 0 {
		addr := a.freelist[n-1]
		a.freelist = a.freelist[:n-1]
		return addr, nil
	}

	addr := a.next
	a.next += a.blockSize
	a.blocks = append(a.blocks, make([]byte, a.blockSize))
	return addr, nil
}

// Free returns addr's block to the freelist, making it available to a
// future Alloc. Freeing an address not currently outstanding is a
// caller error.
func (a *Arena) Free(addr uintptr) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if addr < base || (addr-base)%a.blockSize != 0 || addr >= a.next {
		return fmt.Errorf("arena: free of unknown address %#x", addr)
	}
	for _, f := range a.freelist {
		if f == addr {
			return fmt.Errorf("arena: double free of address %#x", addr)
		}
	}
	a.freelist = append(a.freelist, addr)
	return nil
}

// Live reports the number of blocks currently allocated and not yet
// freed, for tests and diagnostics.
func (a *Arena) Live() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	total := int((a.next - base) / a.blockSize)
	return total - len(a.freelist)
}
