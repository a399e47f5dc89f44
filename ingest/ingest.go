package ingest

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/aclements/hip/event"
	"github.com/aclements/hip/tracker"
)

// Ingest folds the profile directory at profileDir into a fresh
// database at dbPath: read every backtraces/bt-* dictionary, k-way
// merge every events/events-* stream by sequence number, and
// reconstruct each allocation's lifetime by pairing its Alloc with the
// next Dealloc seen at the same address.
func Ingest(profileDir, dbPath string) error {
	store, err := Open(dbPath)
	if err != nil {
		return err
	}

	if err := ingestBacktraces(profileDir, store); err != nil {
		store.Close()
		return err
	}
	if err := ingestEvents(profileDir, store); err != nil {
		store.Close()
		return err
	}

	return store.Commit()
}

func ingestBacktraces(profileDir string, store *Store) error {
	dir := filepath.Join(profileDir, "backtraces")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("ingest: reading backtraces directory: %w", err)
	}

	log.Printf("hip: ingesting backtraces")
	count := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := ingestBacktraceFile(filepath.Join(dir, entry.Name()), store); err != nil {
			return err
		}
		count++
	}
	log.Printf("hip: ingested %d backtrace file(s)", count)
	return nil
}

func ingestBacktraceFile(path string, store *Store) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("ingest: opening backtrace file: %w", err)
	}
	defer f.Close()

	dec := json.NewDecoder(bufio.NewReader(f))
	for {
		var rec tracker.ResolvedBacktrace
		if err := dec.Decode(&rec); err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("ingest: decoding backtrace record: %w", err)
		}
		for i, frame := range rec.Frames {
			if frame == nil {
				if err := store.InsertFrame(rec.ID, i, nil, nil, nil); err != nil {
					return err
				}
				continue
			}
			if err := store.InsertFrame(rec.ID, i, frame.File, frame.Line, frame.Symbol); err != nil {
				return err
			}
		}
	}
	return nil
}

func ingestEvents(profileDir string, store *Store) error {
	dir := filepath.Join(profileDir, "events")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("ingest: reading events directory: %w", err)
	}

	var readers []*event.Reader
	var closers []io.Closer
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		f, err := os.Open(filepath.Join(dir, entry.Name()))
		if err != nil {
			return fmt.Errorf("ingest: opening event file: %w", err)
		}
		readers = append(readers, event.NewReader(f))
		closers = append(closers, f)
	}

	merger, err := NewMerger(readers, closers)
	if err != nil {
		for _, c := range closers {
			c.Close()
		}
		return err
	}
	defer merger.Close()

	// live maps an in-flight allocation's address to the rowid of its
	// allocations row. A later Dealloc at the same address closes out
	// that row; a Dealloc with no matching live allocation (the Alloc
	// was sampled out, or occurred before recording started) is
	// dropped.
	live := make(map[uint64]int64)

	log.Printf("hip: ingesting events")
	count := 0
	for {
		e, err := merger.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("ingest: reading merged event stream: %w", err)
		}
		count++

		switch e.Kind {
		case event.KindAlloc:
			rowid, err := store.InsertAlloc(e.AfterNS, e.BTFp, e.Size, e.Addr)
			if err != nil {
				return err
			}
			live[e.Addr] = rowid
		case event.KindDealloc:
			if rowid, ok := live[e.Addr]; ok {
				if err := store.InsertDealloc(e.AfterNS, rowid); err != nil {
					return err
				}
				delete(live, e.Addr)
			}
		}
	}
	log.Printf("hip: ingested %d event(s)", count)
	return nil
}
