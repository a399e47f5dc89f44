// Package ingest implements offline ingestion: folding a profile
// directory's per-tracker event files and backtrace dictionaries into
// a queryable relational database.
//
// It uses database/sql with github.com/mattn/go-sqlite3 as the
// driver, storing two tables (one row per resolved backtrace frame,
// one row per allocation) and reconstructing alloc/dealloc pairs
// across trackers via a k-way merge by sequence number.
package ingest

import (
	"database/sql"
	"fmt"
	"os"

	_ "github.com/mattn/go-sqlite3"
)

// Store wraps the output database. backtraces holds one row per
// (backtrace id, frame index); allocations holds one row per
// allocation, updated in place with its matching deallocation
// timestamp when one is observed.
type Store struct {
	db *sql.DB
	tx *sql.Tx

	insertFrame *sql.Stmt
	insertAlloc *sql.Stmt
	updateFree  *sql.Stmt
}

// Open creates (overwriting any existing file) the database at path,
// applies journal_mode=wal and synchronous=off to make a large bulk
// ingest fast, and begins the single transaction the whole ingest
// runs in.
func Open(path string) (*Store, error) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("ingest: removing existing database: %w", err)
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("ingest: opening database: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite3 driver serializes writers anyway

	if _, err := db.Exec("pragma journal_mode=wal"); err != nil {
		db.Close()
		return nil, fmt.Errorf("ingest: setting journal_mode: %w", err)
	}
	if _, err := db.Exec("pragma synchronous=off"); err != nil {
		db.Close()
		return nil, fmt.Errorf("ingest: setting synchronous: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("ingest: beginning transaction: %w", err)
	}

	if _, err := tx.Exec("create table backtraces (id, frame_no, file, line, symbol)"); err != nil {
		tx.Rollback()
		db.Close()
		return nil, fmt.Errorf("ingest: creating backtraces table: %w", err)
	}
	if _, err := tx.Exec("create table allocations (alloc_after, dealloc_after, bt, size, addr)"); err != nil {
		tx.Rollback()
		db.Close()
		return nil, fmt.Errorf("ingest: creating allocations table: %w", err)
	}

	insertFrame, err := tx.Prepare("insert into backtraces values (?, ?, ?, ?, ?)")
	if err != nil {
		tx.Rollback()
		db.Close()
		return nil, fmt.Errorf("ingest: preparing backtrace insert: %w", err)
	}
	insertAlloc, err := tx.Prepare("insert into allocations values (?, NULL, ?, ?, ?)")
	if err != nil {
		tx.Rollback()
		db.Close()
		return nil, fmt.Errorf("ingest: preparing allocation insert: %w", err)
	}
	updateFree, err := tx.Prepare("update allocations set dealloc_after = ? where rowid = ?")
	if err != nil {
		tx.Rollback()
		db.Close()
		return nil, fmt.Errorf("ingest: preparing dealloc update: %w", err)
	}

	return &Store{db: db, tx: tx, insertFrame: insertFrame, insertAlloc: insertAlloc, updateFree: updateFree}, nil
}

// InsertFrame records one line of a resolved backtrace. file, line and
// sym are nil for an unresolved or absent frame.
func (s *Store) InsertFrame(id uint64, frameNo int, file *string, line *uint32, sym *string) error {
	_, err := s.insertFrame.Exec(fmt.Sprintf("%d", id), frameNo, file, line, sym)
	if err != nil {
		return fmt.Errorf("ingest: inserting backtrace frame: %w", err)
	}
	return nil
}

// InsertAlloc records a new allocation row and returns its rowid, so
// that a later InsertDealloc for the same address can find it.
func (s *Store) InsertAlloc(afterNS uint64, btID uint64, size uint64, addr uint64) (int64, error) {
	res, err := s.insertAlloc.Exec(afterNS, fmt.Sprintf("%d", btID), size, addr)
	if err != nil {
		return 0, fmt.Errorf("ingest: inserting allocation: %w", err)
	}
	return res.LastInsertId()
}

// InsertDealloc fills in dealloc_after for the allocation at rowid.
func (s *Store) InsertDealloc(afterNS uint64, rowid int64) error {
	if _, err := s.updateFree.Exec(afterNS, rowid); err != nil {
		return fmt.Errorf("ingest: updating deallocation: %w", err)
	}
	return nil
}

// Commit commits the ingest transaction and closes the database.
func (s *Store) Commit() error {
	if err := s.tx.Commit(); err != nil {
		s.db.Close()
		return fmt.Errorf("ingest: committing transaction: %w", err)
	}
	return s.db.Close()
}

// Close rolls back the ingest transaction and closes the database,
// for use on an error path before Commit.
func (s *Store) Close() error {
	s.tx.Rollback()
	return s.db.Close()
}
