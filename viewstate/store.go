// Copyright © 2026 Turbo Sheet contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: viewstate/store.go
// Summary: SQLite-backed persistence for per-sheet viewing positions.
//
// Saves are queued and written in batches so navigation never blocks on
// disk. Reopening a sheet restores the last saved row offset and column
// window.

// Package viewstate persists where the user last was in each sheet.
package viewstate

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Position is the most recently saved view of one sheet: the first visible
// row plus the column window.
type Position struct {
	Sheet     string
	RowOffset int
	ColStart  int
	Width     int
	UpdatedAt time.Time
}

// Store persists viewing positions keyed by sheet name.
type Store interface {
	// Save queues a position for writing. Saves are batched; when the
	// queue is full the save is dropped silently, since a newer save for
	// the same sheet supersedes it.
	Save(pos Position) error

	// Load returns the committed position for a sheet. The second result
	// is false when the sheet has never been saved. Queued saves are not
	// visible until a flush.
	Load(sheet string) (Position, bool, error)

	// List returns saved positions, most recently updated first.
	List(limit int) ([]Position, error)

	// Delete removes a sheet's saved position.
	Delete(sheet string) error

	// Flush blocks until all queued saves are committed.
	Flush() error

	// Close flushes queued saves and closes the database.
	Close() error
}

// StoreConfig holds configuration for the position store.
type StoreConfig struct {
	// DBPath is the path to the SQLite database file.
	DBPath string

	// BatchSize is the number of saves to accumulate before flushing.
	// Default: 32
	BatchSize int

	// FlushInterval is how long to wait before flushing a partial batch.
	// Default: 2s
	FlushInterval time.Duration

	// ChannelBuffer is the size of the async save channel.
	// Default: 256
	ChannelBuffer int
}

// DefaultStoreConfig returns sensible defaults.
func DefaultStoreConfig(dbPath string) StoreConfig {
	return StoreConfig{
		DBPath:        dbPath,
		BatchSize:     32,
		FlushInterval: 2 * time.Second,
		ChannelBuffer: 256,
	}
}

// ErrStoreClosed is returned by Save after Close.
var ErrStoreClosed = errors.New("viewstate: store closed")

// SQLiteStore implements Store on a single SQLite file.
type SQLiteStore struct {
	config StoreConfig
	db     *sql.DB

	// Async batching
	batchChan chan Position
	stopCh    chan struct{}
	doneCh    chan struct{}
	flushCh   chan chan struct{}

	mu sync.RWMutex
}

// Current schema version - increment this when schema changes require
// dropping saved positions.
const viewStateSchemaVersion = 1

const viewStateSchema = `
-- Schema version tracking
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY
);

-- One row per sheet, last writer wins
CREATE TABLE IF NOT EXISTS positions (
    sheet TEXT PRIMARY KEY,
    row_offset INTEGER NOT NULL,
    col_start INTEGER NOT NULL,
    width INTEGER NOT NULL,
    updated_at INTEGER NOT NULL       -- UnixNano
);

-- Index for recency listing
CREATE INDEX IF NOT EXISTS idx_positions_updated ON positions(updated_at);
`

// Open creates or opens a position store at dbPath with default settings.
func Open(dbPath string) (*SQLiteStore, error) {
	return OpenWithConfig(DefaultStoreConfig(dbPath))
}

// OpenWithConfig creates or opens a position store with custom configuration.
func OpenWithConfig(config StoreConfig) (*SQLiteStore, error) {
	if config.BatchSize <= 0 {
		config.BatchSize = 32
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = 2 * time.Second
	}
	if config.ChannelBuffer <= 0 {
		config.ChannelBuffer = 256
	}

	dir := filepath.Dir(config.DBPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	// Open database with pragmas for performance and concurrency
	dsn := config.DBPath +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=busy_timeout(5000)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if _, err := db.Exec(viewStateSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	if err := checkAndMigrateSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to check schema version: %w", err)
	}

	s := &SQLiteStore{
		config:    config,
		db:        db,
		batchChan: make(chan Position, config.ChannelBuffer),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
		flushCh:   make(chan chan struct{}),
	}

	go s.batchWriter()

	return s, nil
}

// checkAndMigrateSchema compares the stored schema version against the
// current one. Saved positions are rebuildable, so a version change drops
// the table instead of migrating row by row.
func checkAndMigrateSchema(db *sql.DB) error {
	var currentVersion int
	err := db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&currentVersion)
	if err == sql.ErrNoRows {
		currentVersion = 0
	} else if err != nil {
		currentVersion = 0
	}

	if currentVersion == viewStateSchemaVersion {
		return nil
	}

	if currentVersion != 0 {
		log.Printf("[VIEWSTATE] Schema version changed from %d to %d, dropping saved positions", currentVersion, viewStateSchemaVersion)
		if _, err := db.Exec("DROP TABLE IF EXISTS positions"); err != nil {
			return fmt.Errorf("failed to drop positions: %w", err)
		}
		if _, err := db.Exec(viewStateSchema); err != nil {
			return fmt.Errorf("failed to recreate schema: %w", err)
		}
	}

	_, err = db.Exec("INSERT OR REPLACE INTO schema_version (version) VALUES (?)", viewStateSchemaVersion)
	if err != nil {
		return fmt.Errorf("failed to update schema version: %w", err)
	}
	return nil
}

// batchWriter runs in a background goroutine, batching saves and flushing
// periodically.
func (s *SQLiteStore) batchWriter() {
	defer close(s.doneCh)

	batch := make([]Position, 0, s.config.BatchSize)
	timer := time.NewTimer(s.config.FlushInterval)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		s.flushBatch(batch)
		batch = batch[:0]
	}

	for {
		select {
		case pos := <-s.batchChan:
			batch = append(batch, pos)
			if len(batch) >= s.config.BatchSize {
				flush()
				timer.Reset(s.config.FlushInterval)
			}

		case <-timer.C:
			flush()
			timer.Reset(s.config.FlushInterval)

		case done := <-s.flushCh:
			// Manual flush request - drain channel first
			draining := true
			for draining {
				select {
				case pos := <-s.batchChan:
					batch = append(batch, pos)
				default:
					draining = false
				}
			}
			flush()
			close(done)

		case <-s.stopCh:
			// Drain channel and flush before exit
			for {
				select {
				case pos := <-s.batchChan:
					batch = append(batch, pos)
				default:
					flush()
					return
				}
			}
		}
	}
}

// flushBatch writes a batch of positions in a single transaction. Later
// saves for the same sheet overwrite earlier ones inside the transaction.
func (s *SQLiteStore) flushBatch(batch []Position) {
	if len(batch) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		log.Printf("[VIEWSTATE] Failed to begin transaction: %v", err)
		return
	}

	stmt, err := tx.Prepare("INSERT OR REPLACE INTO positions (sheet, row_offset, col_start, width, updated_at) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		log.Printf("[VIEWSTATE] Failed to prepare statement: %v", err)
		tx.Rollback()
		return
	}
	defer stmt.Close()

	for _, pos := range batch {
		if _, err := stmt.Exec(pos.Sheet, pos.RowOffset, pos.ColStart, pos.Width, pos.UpdatedAt.UnixNano()); err != nil {
			log.Printf("[VIEWSTATE] Failed to save position for %q: %v", pos.Sheet, err)
			tx.Rollback()
			return
		}
	}

	if err := tx.Commit(); err != nil {
		log.Printf("[VIEWSTATE] Failed to commit batch: %v", err)
	}
}

// Save queues a position for batch writing.
func (s *SQLiteStore) Save(pos Position) error {
	if pos.Sheet == "" {
		return nil
	}
	if pos.UpdatedAt.IsZero() {
		pos.UpdatedAt = time.Now()
	}

	select {
	case <-s.stopCh:
		return ErrStoreClosed
	default:
	}

	select {
	case s.batchChan <- pos:
		return nil
	default:
		// Queue full; a newer save for this sheet supersedes this one.
		return nil
	}
}

// Load returns the committed position for a sheet.
func (s *SQLiteStore) Load(sheet string) (Position, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var pos Position
	var tsNano int64
	err := s.db.QueryRow(
		"SELECT sheet, row_offset, col_start, width, updated_at FROM positions WHERE sheet = ?",
		sheet,
	).Scan(&pos.Sheet, &pos.RowOffset, &pos.ColStart, &pos.Width, &tsNano)

	if err == sql.ErrNoRows {
		return Position{}, false, nil
	}
	if err != nil {
		return Position{}, false, err
	}

	pos.UpdatedAt = time.Unix(0, tsNano)
	return pos, true, nil
}

// List returns saved positions, most recently updated first.
func (s *SQLiteStore) List(limit int) ([]Position, error) {
	if limit <= 0 {
		limit = 20
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		"SELECT sheet, row_offset, col_start, width, updated_at FROM positions ORDER BY updated_at DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list failed: %w", err)
	}
	defer rows.Close()

	var results []Position
	for rows.Next() {
		var pos Position
		var tsNano int64
		if err := rows.Scan(&pos.Sheet, &pos.RowOffset, &pos.ColStart, &pos.Width, &tsNano); err != nil {
			continue
		}
		pos.UpdatedAt = time.Unix(0, tsNano)
		results = append(results, pos)
	}
	return results, rows.Err()
}

// Delete removes a sheet's saved position.
func (s *SQLiteStore) Delete(sheet string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec("DELETE FROM positions WHERE sheet = ?", sheet)
	return err
}

// Flush blocks until all queued saves are committed.
func (s *SQLiteStore) Flush() error {
	done := make(chan struct{})
	select {
	case s.flushCh <- done:
		<-done
	case <-s.stopCh:
		// Already stopped
	}
	return nil
}

// Close flushes queued saves and closes the database.
func (s *SQLiteStore) Close() error {
	close(s.stopCh)
	<-s.doneCh

	return s.db.Close()
}

// Compile-time interface check
var _ Store = (*SQLiteStore)(nil)
