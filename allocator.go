package hip

// Allocator is the resource the recording engine interposes on:
// something with an Alloc that hands back an address and a Free that
// releases it. Package arena provides a ready-to-use implementation;
// programs that manage their own off-heap memory (arenas, slab pools,
// cgo-backed buffers) can implement it directly.
type Allocator interface {
	// Alloc requests size bytes and returns their address.
	Alloc(size uintptr) (addr uintptr, err error)
	// Free releases the block at addr.
	Free(addr uintptr) error
}

// interposed wraps an Allocator and emits Alloc/Dealloc recording
// events around each call: delegate first, record second, and never
// let recording failure (disabled engine, guarded, pool exhausted) be
// observable to the caller.
type interposed struct {
	inner Allocator
}

// Interpose wraps inner so that every Alloc/Free call it serves is
// also recorded by the currently active engine, if any. If no engine
// is enabled, a record attempt stops after a single atomic load of the
// engine pointer; the reentrancy guard is checked only while an engine
// is enabled.
func Interpose(inner Allocator) Allocator {
	return &interposed{inner: inner}
}

func (a *interposed) Alloc(size uintptr) (uintptr, error) {
	addr, err := a.inner.Alloc(size)
	if err == nil {
		recordAlloc(addr, size)
	}
	return addr, err
}

func (a *interposed) Free(addr uintptr) error {
	err := a.inner.Free(addr)
	if err == nil {
		recordDealloc(addr)
	}
	return err
}
