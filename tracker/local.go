// Package tracker implements the per-owner event buffer, event file,
// and backtrace dictionary (the "local tracker"), and the fixed-
// capacity pool the global engine draws them from.
//
// Trackers are pooled rather than one-per-goroutine: a goroutine
// acquires one for as long as it is actively allocating, and releases
// it back to the pool rather than tying a tracker to a goroutine's
// entire lifetime (Go has no goroutine-exit hook to release it from).
package tracker

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/aclements/hip/event"
	"github.com/aclements/hip/symresolve"
)

// ResolvedFrame is one line of a finalized backtrace record. An
// unresolved frame is a nil *ResolvedFrame in ResolvedBacktrace.Frames,
// which serializes as JSON null, so it keeps its position rather than
// being dropped.
type ResolvedFrame struct {
	File   *string `json:"file"`
	Line   *uint32 `json:"line"`
	Symbol *string `json:"symbol"`
}

// ResolvedBacktrace is one finalized backtrace record, written one per
// line to backtraces/bt-<id>.
type ResolvedBacktrace struct {
	ID     uint64           `json:"id"`
	Frames []*ResolvedFrame `json:"frames"`
}

// Local is a per-owner event buffer, event file and backtrace
// dictionary. It is never shared across goroutines concurrently: the
// Pool enforces that only the current holder of a Guard touches it.
type Local struct {
	bts    map[uint64][]uintptr
	events []event.Event

	w         *event.Writer
	f         *os.File
	path      string // profile directory root
	finalized bool

	// ioErr latches the first write/flush failure this tracker hits.
	// A tracker that starts failing I/O logs once and silently drops
	// every subsequent event rather than retrying or propagating the
	// failure up through the interposed Allocator.
	ioErr bool
}

func newLocal(profileDir string, tag string, bufferHint int) (*Local, error) {
	p := filepath.Join(profileDir, "events", "events-"+tag)
	f, err := os.Create(p)
	if err != nil {
		return nil, fmt.Errorf("tracker: creating event file: %w", err)
	}
	return &Local{
		bts:    make(map[uint64][]uintptr),
		events: make([]event.Event, 0, bufferHint),
		w:      event.NewWriter(f),
		f:      f,
		path:   profileDir,
	}, nil
}

// Push appends e to the in-memory buffer. It is a caller error to call
// Push after Finalize. If this tracker has already hit an I/O failure,
// Push silently drops e instead (see noteIOError).
func (l *Local) Push(e event.Event) {
	if l.finalized {
		panic("tracker: Push after Finalize")
	}
	if l.ioErr {
		return
	}
	l.events = append(l.events, e)
}

// noteIOError latches the tracker's I/O-failure state and logs err
// exactly once. Every later Push and MaybeFlush call becomes a silent
// no-op: a disk-full or similar failure must never propagate back
// through the interposed Allocator to the program under profiling.
// Finalize still attempts one last flush of whatever is buffered and
// returns its error.
func (l *Local) noteIOError(err error) {
	if l.ioErr {
		return
	}
	l.ioErr = true
	log.Printf("hip: tracker: dropping further events after write error: %v", err)
}

// RecordBacktrace inserts pcs into the backtrace dictionary under
// fingerprint fp. Last-writer-wins on a fingerprint collision; a
// collision only happens when two distinct call stacks hash to the
// same fingerprint, which is tolerated rather than guarded against.
func (l *Local) RecordBacktrace(fp uint64, pcs []uintptr) {
	l.bts[fp] = pcs
}

// MaybeFlush serializes and clears the event buffer if it has grown
// past threshold, then flushes the underlying writer. It is a no-op
// once the tracker has latched an I/O failure.
func (l *Local) MaybeFlush(threshold int) error {
	if l.ioErr || len(l.events) <= threshold {
		return nil
	}
	if err := l.flushAll(); err != nil {
		l.noteIOError(err)
		return err
	}
	return nil
}

func (l *Local) flushAll() error {
	for _, e := range l.events {
		if err := l.w.Write(e); err != nil {
			return fmt.Errorf("tracker: writing event: %w", err)
		}
	}
	l.events = l.events[:0]
	if err := l.w.Flush(); err != nil {
		return fmt.Errorf("tracker: flushing event file: %w", err)
	}
	return l.f.Sync()
}

// Finalize flushes any residual events, resolves every fingerprint in
// the backtrace dictionary, and writes the resolved backtraces as
// line-delimited JSON to backtraces/bt-<id>. No further Push is
// permitted once Finalize has run.
func (l *Local) Finalize(id int) error {
	if l.finalized {
		return nil
	}
	l.finalized = true

	if err := l.flushAll(); err != nil {
		return err
	}
	if err := l.f.Close(); err != nil {
		return fmt.Errorf("tracker: closing event file: %w", err)
	}

	btPath := filepath.Join(l.path, "backtraces", fmt.Sprintf("bt-%d", id))
	bf, err := os.Create(btPath)
	if err != nil {
		return fmt.Errorf("tracker: creating backtrace file: %w", err)
	}
	defer bf.Close()

	bw := bufio.NewWriter(bf)
	enc := json.NewEncoder(bw)
	for fp, pcs := range l.bts {
		rec := ResolvedBacktrace{ID: fp, Frames: make([]*ResolvedFrame, len(pcs))}
		for i, pc := range pcs {
			frame, ok := symresolve.Resolve(pc)
			if !ok || !frame.Usable() {
				continue
			}
			line := uint32(frame.Line)
			rec.Frames[i] = &ResolvedFrame{
				File:   &frame.File,
				Line:   &line,
				Symbol: &frame.Symbol,
			}
		}
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("tracker: writing backtrace record: %w", err)
		}
	}
	return bw.Flush()
}
