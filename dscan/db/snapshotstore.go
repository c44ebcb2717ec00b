package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ZanzyTHEbar/dirtyscan/dscan/filesystem/common"
	"github.com/ZanzyTHEbar/dirtyscan/dscan/index"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

const sqlitePragmas = "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"

// SnapshotStore persists one tracked-record snapshot per database: the
// records themselves plus the index stamp used for the racy check.
type SnapshotStore struct {
	db     *sql.DB
	path   string
	logger zerolog.Logger
}

// SnapshotInfo describes the stored snapshot.
type SnapshotInfo struct {
	ID      uuid.UUID
	TakenAt time.Time
	Stamp   index.Stamp
	Records int
}

// StoreOption allows for customization of SnapshotStore
type StoreOption func(*SnapshotStore)

// WithLogger sets a custom logger
func WithLogger(logger zerolog.Logger) StoreOption {
	return func(s *SnapshotStore) {
		s.logger = logger
	}
}

// Open opens or creates the snapshot database at path. ":memory:" opens a
// private in-memory database.
func Open(path string, opts ...StoreOption) (*SnapshotStore, error) {
	s := &SnapshotStore{path: path, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}

	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("could not create snapshot directory: %w", err)
		}
		dsn = path + sqlitePragmas
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open snapshot db: %w", err)
	}
	// One connection keeps ":memory:" databases alive and writes serialized.
	db.SetMaxOpenConns(1)

	s.db = db
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	s.logger.Debug().Str("path", path).Msg("snapshot store opened")
	return s, nil
}

func (s *SnapshotStore) init() error {
	createTables := []string{
		`CREATE TABLE IF NOT EXISTS snapshot (
			id TEXT PRIMARY KEY,
			taken_at TEXT NOT NULL,
			stamp_sec INTEGER NOT NULL,
			stamp_nsec INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS records (
			path TEXT PRIMARY KEY,
			mtime_sec INTEGER NOT NULL,
			mtime_nsec INTEGER NOT NULL,
			ino INTEGER NOT NULL,
			mode INTEGER NOT NULL,
			gid INTEGER NOT NULL,
			size INTEGER NOT NULL
		)`,
	}
	for _, query := range createTables {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to create snapshot schema: %w", err)
		}
	}
	return nil
}

// Path returns the database location.
func (s *SnapshotStore) Path() string { return s.path }

// Save replaces the stored snapshot with idx in a single transaction.
func (s *SnapshotStore) Save(ctx context.Context, idx *index.MemIndex) (*SnapshotInfo, error) {
	info := &SnapshotInfo{
		ID:      uuid.New(),
		TakenAt: time.Now().UTC(),
		Stamp:   idx.Stamp(),
		Records: idx.EntryCount(),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin snapshot transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, q := range []string{"DELETE FROM records", "DELETE FROM snapshot"} {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return nil, fmt.Errorf("clear snapshot: %w", err)
		}
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO records (path, mtime_sec, mtime_nsec, ino, mode, gid, size) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, fmt.Errorf("prepare record insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range idx.Entries() {
		// database/sql rejects uint64 values with the high bit set.
		if _, err := stmt.ExecContext(ctx, e.Path, e.MtimeSec, e.MtimeNsec, int64(e.Ino), e.Mode, e.GID, e.Size); err != nil {
			return nil, fmt.Errorf("insert record %q: %w", e.Path, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO snapshot (id, taken_at, stamp_sec, stamp_nsec) VALUES (?, ?, ?, ?)`,
		info.ID.String(), info.TakenAt.Format(time.RFC3339Nano), info.Stamp.Sec, info.Stamp.Nsec); err != nil {
		return nil, fmt.Errorf("insert snapshot: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit snapshot: %w", err)
	}

	s.logger.Info().
		Str("snapshot_id", info.ID.String()).
		Int("records", info.Records).
		Msg("snapshot saved")
	return info, nil
}

// Info returns the stored snapshot's header, or ErrSnapshotMissing.
func (s *SnapshotStore) Info(ctx context.Context) (*SnapshotInfo, error) {
	var (
		info    SnapshotInfo
		id      string
		takenAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, taken_at, stamp_sec, stamp_nsec, (SELECT COUNT(*) FROM records) FROM snapshot`).
		Scan(&id, &takenAt, &info.Stamp.Sec, &info.Stamp.Nsec, &info.Records)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrSnapshotMissing
	}
	if err != nil {
		return nil, fmt.Errorf("query snapshot: %w", err)
	}
	if info.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse snapshot id: %w", err)
	}
	if info.TakenAt, err = time.Parse(time.RFC3339Nano, takenAt); err != nil {
		return nil, fmt.Errorf("parse snapshot time: %w", err)
	}
	return &info, nil
}

// Load reads the stored records back into an index ordered by raw path
// bytes. It returns ErrSnapshotMissing when nothing was saved.
func (s *SnapshotStore) Load(ctx context.Context) (*index.MemIndex, error) {
	info, err := s.Info(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT path, mtime_sec, mtime_nsec, ino, mode, gid, size FROM records ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	entries := make([]index.Entry, 0, info.Records)
	for rows.Next() {
		var (
			e   index.Entry
			ino int64
		)
		if err := rows.Scan(&e.Path, &e.MtimeSec, &e.MtimeNsec, &ino, &e.Mode, &e.GID, &e.Size); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		e.Ino = uint64(ino)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}

	idx, err := index.NewMemIndex(entries, info.Stamp)
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", info.ID, err)
	}
	s.logger.Debug().
		Str("snapshot_id", info.ID.String()).
		Int("records", idx.EntryCount()).
		Msg("snapshot loaded")
	return idx, nil
}

// Close closes the database connection.
func (s *SnapshotStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
