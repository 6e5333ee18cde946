// Package session records completed fetch runs into a local ledger for
// audit. The ledger is write-only bookkeeping: the engine never reads it
// back and no run is ever resumed from it.
package session

import (
	"context"
	"time"
)

// DumpRecord describes one fetch_table run.
type DumpRecord struct {
	ID          string    `json:"id"`
	TargetURL   string    `json:"target_url"`
	Param       string    `json:"param"`
	Table       string    `json:"table"`
	Columns     []string  `json:"columns"`
	RowsFetched int       `json:"rows_fetched"`
	OutputPath  string    `json:"output_path"`
	Duration    float64   `json:"duration_seconds"`
	Interrupted bool      `json:"interrupted"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store persists dump records.
type Store interface {
	// Save appends a record. An empty ID is filled with a fresh one.
	Save(ctx context.Context, rec *DumpRecord) error

	// List returns all records, most recent first.
	List(ctx context.Context) ([]*DumpRecord, error)

	Close() error
}
