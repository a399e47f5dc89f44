package ingest

import (
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/aclements/hip/event"
	_ "github.com/mattn/go-sqlite3"
)

func writeEventFile(t *testing.T, dir, name string, events ...event.Event) {
	t.Helper()
	f, err := os.Create(filepath.Join(dir, "events", name))
	if err != nil {
		t.Fatalf("creating event file: %v", err)
	}
	defer f.Close()
	w := event.NewWriter(f)
	for _, e := range events {
		if err := w.Write(e); err != nil {
			t.Fatalf("writing event: %v", err)
		}
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("flushing event file: %v", err)
	}
}

func writeBacktraceFile(t *testing.T, dir, name string, id uint64) {
	t.Helper()
	f, err := os.Create(filepath.Join(dir, "backtraces", name))
	if err != nil {
		t.Fatalf("creating backtrace file: %v", err)
	}
	defer f.Close()
	file := "main.go"
	line := uint32(42)
	sym := "main.alloc"
	rec := struct {
		ID     uint64 `json:"id"`
		Frames []struct {
			File   *string `json:"file"`
			Line   *uint32 `json:"line"`
			Symbol *string `json:"symbol"`
		} `json:"frames"`
	}{ID: id}
	rec.Frames = append(rec.Frames, struct {
		File   *string `json:"file"`
		Line   *uint32 `json:"line"`
		Symbol *string `json:"symbol"`
	}{File: &file, Line: &line, Symbol: &sym})
	if err := json.NewEncoder(f).Encode(rec); err != nil {
		t.Fatalf("encoding backtrace record: %v", err)
	}
}

func setupProfileDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "events"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "backtraces"), 0o755); err != nil {
		t.Fatal(err)
	}
	return dir
}

// TestIngestPairsAllocAndDealloc covers S1/S2-style ingestion: a
// matched alloc/dealloc pair across two tracker files merges into one
// row with both timestamps set.
func TestIngestPairsAllocAndDealloc(t *testing.T) {
	dir := setupProfileDir(t)
	writeBacktraceFile(t, dir, "bt-0", 0xABCD)
	writeEventFile(t, dir, "events-0",
		event.Event{Kind: event.KindAlloc, Seq: 0, AfterNS: 100, Addr: 0x1000, BTFp: 0xABCD, Size: 16},
	)
	writeEventFile(t, dir, "events-1",
		event.Event{Kind: event.KindDealloc, Seq: 1, AfterNS: 200, Addr: 0x1000},
	)

	dbPath := filepath.Join(t.TempDir(), "out.db")
	if err := Ingest(dir, dbPath); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		t.Fatalf("opening result db: %v", err)
	}
	defer db.Close()

	var allocAfter, deallocAfter, size, addr int64
	row := db.QueryRow("select alloc_after, dealloc_after, size, addr from allocations")
	if err := row.Scan(&allocAfter, &deallocAfter, &size, &addr); err != nil {
		t.Fatalf("scanning allocation row: %v", err)
	}
	if allocAfter != 100 || deallocAfter != 200 || size != 16 || addr != 0x1000 {
		t.Errorf("unexpected row: alloc_after=%d dealloc_after=%d size=%d addr=%#x",
			allocAfter, deallocAfter, size, addr)
	}

	var frameCount int
	if err := db.QueryRow("select count(*) from backtraces").Scan(&frameCount); err != nil {
		t.Fatalf("counting backtrace frames: %v", err)
	}
	if frameCount != 1 {
		t.Errorf("expected 1 backtrace frame row, got %d", frameCount)
	}
}

// TestIngestOrphanDeallocDropped covers a Dealloc with no matching
// open Alloc: it inserts no row and is silently dropped.
func TestIngestOrphanDeallocDropped(t *testing.T) {
	dir := setupProfileDir(t)
	writeEventFile(t, dir, "events-0",
		event.Event{Kind: event.KindDealloc, Seq: 0, AfterNS: 50, Addr: 0x9999},
	)

	dbPath := filepath.Join(t.TempDir(), "out.db")
	if err := Ingest(dir, dbPath); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		t.Fatalf("opening result db: %v", err)
	}
	defer db.Close()

	var count int
	if err := db.QueryRow("select count(*) from allocations").Scan(&count); err != nil {
		t.Fatalf("counting allocations: %v", err)
	}
	if count != 0 {
		t.Errorf("expected no allocation rows, got %d", count)
	}
}

// TestIngestAddressReuseProducesTwoRows covers an address reused
// after a free: it produces two independent rows.
func TestIngestAddressReuseProducesTwoRows(t *testing.T) {
	dir := setupProfileDir(t)
	writeEventFile(t, dir, "events-0",
		event.Event{Kind: event.KindAlloc, Seq: 0, AfterNS: 10, Addr: 0x2000, Size: 8},
		event.Event{Kind: event.KindDealloc, Seq: 1, AfterNS: 20, Addr: 0x2000},
		event.Event{Kind: event.KindAlloc, Seq: 2, AfterNS: 30, Addr: 0x2000, Size: 8},
		event.Event{Kind: event.KindDealloc, Seq: 3, AfterNS: 40, Addr: 0x2000},
	)

	dbPath := filepath.Join(t.TempDir(), "out.db")
	if err := Ingest(dir, dbPath); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		t.Fatalf("opening result db: %v", err)
	}
	defer db.Close()

	var count int
	if err := db.QueryRow("select count(*) from allocations").Scan(&count); err != nil {
		t.Fatalf("counting allocations: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 allocation rows, got %d", count)
	}

	rows, err := db.Query("select alloc_after, dealloc_after from allocations order by alloc_after")
	if err != nil {
		t.Fatalf("querying allocations: %v", err)
	}
	defer rows.Close()
	want := [][2]int64{{10, 20}, {30, 40}}
	i := 0
	for rows.Next() {
		var a, d int64
		if err := rows.Scan(&a, &d); err != nil {
			t.Fatalf("scanning row: %v", err)
		}
		if i >= len(want) || a != want[i][0] || d != want[i][1] {
			t.Errorf("row %d: got (%d, %d)", i, a, d)
		}
		i++
	}
}
