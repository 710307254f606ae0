package scheduler

import (
	"database/sql"
	"embed"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"github.com/jaennil/tilekit/pkg/logger"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Index persists the cache entry records across runs so the scheduler
// can rebuild its running total and LRU ordering on startup.
type Index struct {
	db     *sql.DB
	logger logger.Logger
}

func OpenIndex(path string, l logger.Logger) (*Index, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	ix := &Index{
		db:     db,
		logger: l,
	}

	if err := ix.runMigrations(); err != nil {
		return nil, err
	}

	l.Info("cache index initialized", "path", path)

	return ix, nil
}

func (ix *Index) runMigrations() error {
	goose.SetBaseFS(migrations)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}

	return goose.Up(ix.db, "migrations")
}

// Load reads the full entry list persisted by the previous run.
func (ix *Index) Load() ([]Entry, error) {
	rows, err := ix.db.Query(`SELECT key, byte_size, last_access, location, on_disk, failed FROM tile_index`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var lastAccess int64
		var onDisk, failed int
		if err := rows.Scan(&e.Key, &e.Size, &lastAccess, &e.Location, &onDisk, &failed); err != nil {
			return nil, err
		}
		e.LastAccess = time.Unix(0, lastAccess)
		e.OnDisk = onDisk != 0
		e.Failed = failed != 0
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// Save replaces the persisted list with the current entries. Called on
// shutdown from the tick goroutine.
func (ix *Index) Save(entries []Entry) error {
	tx, err := ix.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM tile_index`); err != nil {
		return err
	}

	stmt, err := tx.Prepare(`INSERT INTO tile_index (key, byte_size, last_access, location, on_disk, failed)
	VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range entries {
		onDisk := 0
		if e.OnDisk {
			onDisk = 1
		}
		failed := 0
		if e.Failed {
			failed = 1
		}
		if _, err := stmt.Exec(e.Key, e.Size, e.LastAccess.UnixNano(), e.Location, onDisk, failed); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (ix *Index) Close() error {
	return ix.db.Close()
}
