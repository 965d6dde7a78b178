// Package persist is the optional durable port behind the memory store. It
// stores records with their original recorded_at so decay computed after a
// reload is identical to decay computed before it.
package persist

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/yaya84/arkab/internal/model"
)

// DB wraps a sql.DB connection to the arkab SQLite database.
type DB struct {
	*sql.DB
	Path string
}

// Open opens (or creates) the SQLite database at the given path, configures
// pragmas, and runs migrations.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db := &DB{DB: sqlDB, Path: path}
	if err := db.configurePragmas(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// OpenMemory opens an in-memory SQLite database for testing.
func OpenMemory() (*DB, error) {
	sqlDB, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open sqlite memory: %w", err)
	}

	db := &DB{DB: sqlDB, Path: ":memory:"}
	if err := db.configurePragmas(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

func (db *DB) configurePragmas() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("pragma %q: %w", p, err)
		}
	}
	return nil
}

func (db *DB) migrate() error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS records (
			id INTEGER PRIMARY KEY,
			entity_id TEXT NOT NULL,
			evidence TEXT,
			decision TEXT,
			recorded_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_records_entity ON records(entity_id);
		CREATE INDEX IF NOT EXISTS idx_records_recorded ON records(recorded_at);
	`)
	return err
}

// Put persists one record. recorded_at is stored as unix milliseconds of the
// record's own stamp, never the insert time.
func (db *DB) Put(ctx context.Context, rec model.Record) error {
	var evidence, decision sql.NullString
	if rec.Evidence != nil {
		data, err := json.Marshal(rec.Evidence)
		if err != nil {
			return fmt.Errorf("marshal evidence: %w", err)
		}
		evidence = sql.NullString{String: string(data), Valid: true}
	}
	if rec.Decision != nil {
		data, err := json.Marshal(rec.Decision)
		if err != nil {
			return fmt.Errorf("marshal decision: %w", err)
		}
		decision = sql.NullString{String: string(data), Valid: true}
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO records (entity_id, evidence, decision, recorded_at)
		VALUES (?, ?, ?, ?)
	`, rec.EntityID(), evidence, decision, rec.RecordedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("put record: %w", err)
	}
	return nil
}

// GetByEntity returns all records for an entity, oldest first.
func (db *DB) GetByEntity(ctx context.Context, entityID string) ([]model.Record, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT evidence, decision, recorded_at FROM records
		WHERE entity_id = ? ORDER BY recorded_at
	`, entityID)
	if err != nil {
		return nil, fmt.Errorf("get by entity: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// LoadAll returns every stored record, oldest first, for warming the memory
// store on startup.
func (db *DB) LoadAll(ctx context.Context) ([]model.Record, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT evidence, decision, recorded_at FROM records ORDER BY recorded_at
	`)
	if err != nil {
		return nil, fmt.Errorf("load all: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]model.Record, error) {
	var recs []model.Record
	for rows.Next() {
		var evidence, decision sql.NullString
		var recordedAt int64
		if err := rows.Scan(&evidence, &decision, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}

		var rec model.Record
		if evidence.Valid {
			var ev model.Evidence
			if err := json.Unmarshal([]byte(evidence.String), &ev); err != nil {
				return nil, fmt.Errorf("unmarshal evidence: %w", err)
			}
			rec.Evidence = &ev
		}
		if decision.Valid {
			var dec model.Decision
			if err := json.Unmarshal([]byte(decision.String), &dec); err != nil {
				return nil, fmt.Errorf("unmarshal decision: %w", err)
			}
			rec.Decision = &dec
		}
		rec.RecordedAt = time.UnixMilli(recordedAt).UTC()
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
