// Package sqlite is the analytical sink: a SQLite database holding one row per
// parsed syscall plus one row per ingestion run.
package sqlite

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	_ "github.com/ncruces/go-sqlite3/vfs/memdb"

	"github.com/zjrosen/tracelake/internal/log"
)

// MemoryPath opens a private in-memory database shared by all pool connections.
const MemoryPath = ":memory:"

// ErrStoreClosed is returned when the database is used after Close.
var ErrStoreClosed = errors.New("store is closed")

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DB wraps the connection pool and the locks shared by every Store and Handle
// created from it.
type DB struct {
	conn *sql.DB
	path string

	// handleMu is held only while a Handle acquires its connection.
	handleMu sync.Mutex
	// writeMu serialises write transactions across handles.
	writeMu sync.Mutex

	closed atomic.Bool
}

// NewDB opens (creating if needed) the database at path and applies pending
// migrations. The parent directory is created with 0700 permissions.
func NewDB(path string) (*DB, error) {
	dsn, err := dataSourceName(path)
	if err != nil {
		return nil, err
	}

	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("connect database: %w", err)
	}

	db := &DB{conn: conn, path: path}
	if err := db.migrate(); err != nil {
		_ = conn.Close()
		return nil, err
	}

	log.Debug(log.CatSink, "database ready", "path", path)
	return db, nil
}

func dataSourceName(path string) (string, error) {
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(5000)")
	q.Set("_txlock", "immediate")

	if path == MemoryPath {
		q.Set("vfs", "memdb")
		return "file:/tracelake-" + uuid.NewString() + ".db?" + q.Encode(), nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create database directory: %w", err)
	}

	q.Add("_pragma", "journal_mode(wal)")
	q.Add("_pragma", "synchronous(normal)")
	u := url.URL{Scheme: "file", OmitHost: true, Path: filepath.ToSlash(path), RawQuery: q.Encode()}
	return u.String(), nil
}

// migrate applies every embedded up-migration newer than PRAGMA user_version.
// Each migration and its version bump commit in one transaction.
func (d *DB) migrate() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	defer func() { _ = src.Close() }()

	var current uint
	if err := d.conn.QueryRow("PRAGMA user_version").Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	version, err := src.First()
	if err != nil {
		return fmt.Errorf("first migration: %w", err)
	}

	backedUp := false
	for {
		if version > current {
			if !backedUp && current > 0 {
				if err := d.backup(); err != nil {
					return err
				}
				backedUp = true
			}
			if err := d.applyMigration(src, version); err != nil {
				return err
			}
			log.Info(log.CatSink, "applied migration", "version", version, "path", d.path)
		}

		next, err := src.Next(version)
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("next migration after %d: %w", version, err)
		}
		version = next
	}
}

func (d *DB) applyMigration(src source.Driver, version uint) error {
	r, _, err := src.ReadUp(version)
	if err != nil {
		return fmt.Errorf("read migration %d: %w", version, err)
	}
	body, err := io.ReadAll(r)
	_ = r.Close()
	if err != nil {
		return fmt.Errorf("read migration %d: %w", version, err)
	}

	tx, err := d.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin migration %d: %w", version, err)
	}
	if _, err := tx.Exec(string(body)); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("apply migration %d: %w", version, err)
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", version)); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("bump schema version to %d: %w", version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %d: %w", version, err)
	}
	return nil
}

// backup copies an existing on-disk database to <path>.bak before it is
// migrated. In-memory databases are skipped.
func (d *DB) backup() error {
	if d.path == MemoryPath {
		return nil
	}
	if _, err := d.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("checkpoint before backup: %w", err)
	}

	in, err := os.Open(d.path)
	if err != nil {
		return fmt.Errorf("open database for backup: %w", err)
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(d.path+".bak", os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("create backup: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("write backup: %w", err)
	}
	return out.Close()
}

// Path returns the location the database was opened with.
func (d *DB) Path() string {
	return d.path
}

// Connection exposes the underlying pool for ad-hoc reads.
func (d *DB) Connection() *sql.DB {
	return d.conn
}

// Store returns the syscall store. batchSize bounds the rows a Handle buffers
// before it flushes; values below 1 use DefaultBatchSize.
func (d *DB) Store(batchSize int) *Store {
	if batchSize < 1 {
		batchSize = DefaultBatchSize
	}
	return &Store{db: d, batchSize: batchSize}
}

// RunRepository returns the repository for ingest run metadata.
func (d *DB) RunRepository() *RunRepository {
	return newRunRepository(d)
}

// Close checkpoints the WAL and closes the pool. Closing twice is a no-op.
func (d *DB) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	if d.path != MemoryPath {
		if _, err := d.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			log.Warn(log.CatSink, "wal checkpoint failed", "path", d.path, "error", err)
		}
	}
	return d.conn.Close()
}

// RemoveFiles deletes the database at path together with its -wal and -shm
// siblings. Missing files are not an error.
func RemoveFiles(path string) error {
	if path == MemoryPath {
		return nil
	}
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", p, err)
		}
	}
	return nil
}
