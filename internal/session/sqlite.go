package session

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite via modernc.org/sqlite (pure Go).
type SQLiteStore struct {
	db *sql.DB
}

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite-backed store.
// dbPath is the path to the SQLite database file; use ":memory:" for testing.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("session: open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("session: ping database: %w", err)
	}

	createTableSQL := `
		CREATE TABLE IF NOT EXISTS dumps (
			id            TEXT PRIMARY KEY,
			target_url    TEXT NOT NULL,
			param         TEXT NOT NULL,
			table_name    TEXT NOT NULL,
			columns       TEXT NOT NULL,
			rows_fetched  INTEGER NOT NULL,
			output_path   TEXT NOT NULL,
			duration_s    REAL NOT NULL,
			interrupted   INTEGER NOT NULL,
			created_at    DATETIME DEFAULT CURRENT_TIMESTAMP
		);
	`
	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("session: create table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Save appends a DumpRecord to the ledger.
// If the record's ID is empty, a new UUID is generated and assigned.
func (s *SQLiteStore) Save(ctx context.Context, rec *DumpRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO dumps (id, target_url, param, table_name, columns,
			rows_fetched, output_path, duration_s, interrupted, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.TargetURL,
		rec.Param,
		rec.Table,
		strings.Join(rec.Columns, ","),
		rec.RowsFetched,
		rec.OutputPath,
		rec.Duration,
		rec.Interrupted,
		rec.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("session: save record: %w", err)
	}
	return nil
}

// List returns all dump records, most recent first.
func (s *SQLiteStore) List(ctx context.Context) ([]*DumpRecord, error) {
	query := `
		SELECT id, target_url, param, table_name, columns,
			rows_fetched, output_path, duration_s, interrupted, created_at
		FROM dumps
		ORDER BY created_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("session: list records: %w", err)
	}
	defer rows.Close()

	var records []*DumpRecord
	for rows.Next() {
		var (
			rec       DumpRecord
			columns   string
			createdAt string
		)
		if err := rows.Scan(&rec.ID, &rec.TargetURL, &rec.Param, &rec.Table, &columns,
			&rec.RowsFetched, &rec.OutputPath, &rec.Duration, &rec.Interrupted, &createdAt); err != nil {
			return nil, fmt.Errorf("session: scan record: %w", err)
		}
		if columns != "" {
			rec.Columns = strings.Split(columns, ",")
		}
		if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
			rec.CreatedAt = t
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
