package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Iron-Ham/formrunner/internal/errors"
)

const schema = `
	CREATE TABLE IF NOT EXISTS items (
		target_id    TEXT    NOT NULL,
		item_index   INTEGER NOT NULL,
		payload      BLOB,
		submit_state TEXT    NOT NULL DEFAULT 'PENDING',
		external_id  TEXT    NOT NULL DEFAULT '',
		updated_at   INTEGER NOT NULL,
		PRIMARY KEY (target_id, item_index)
	)
`

// SQLiteStore persists items in a SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path. Use ":memory:"
// for a private in-memory database.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// Sessions write concurrently; sqlite serializes writers anyway, and a
	// single connection keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// LoadItems implements Store.
func (s *SQLiteStore) LoadItems(ctx context.Context, targetID string) ([]Item, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT item_index, payload, submit_state, external_id FROM items WHERE target_id = ? ORDER BY item_index",
		targetID,
	)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	items := []Item{}
	for rows.Next() {
		var (
			it      Item
			payload []byte
			state   string
		)
		if err := rows.Scan(&it.Index, &payload, &state, &it.ExternalID); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		it.Payload = payload
		it.SubmitState = ParseSubmitState(state)
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}
	return items, nil
}

// SaveItemState implements Store.
func (s *SQLiteStore) SaveItemState(ctx context.Context, targetID string, index int, state SubmitState) error {
	return s.updateColumn(ctx, "submit_state", string(state), targetID, index)
}

// SaveExternalID implements Store.
func (s *SQLiteStore) SaveExternalID(ctx context.Context, targetID string, index int, externalID string) error {
	return s.updateColumn(ctx, "external_id", externalID, targetID, index)
}

// updateColumn sets one column of one item. column is always a constant
// from this file.
func (s *SQLiteStore) updateColumn(ctx context.Context, column, value, targetID string, index int) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE items SET "+column+" = ?, updated_at = ? WHERE target_id = ? AND item_index = ?",
		value, time.Now().Unix(), targetID, index,
	)
	if err != nil {
		return fmt.Errorf("update %s: %w", column, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update %s: %w", column, err)
	}
	if n == 0 {
		return errors.NewNotFoundError("item", targetID+"/"+strconv.Itoa(index))
	}
	return nil
}

// PutItems implements Store. All items are written in one transaction.
func (s *SQLiteStore) PutItems(ctx context.Context, targetID string, items []Item) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		"INSERT OR REPLACE INTO items (target_id, item_index, payload, submit_state, external_id, updated_at) VALUES (?, ?, ?, ?, ?, ?)",
	)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for _, it := range items {
		state := ParseSubmitState(string(it.SubmitState))
		if _, err := stmt.ExecContext(ctx, targetID, it.Index, []byte(it.Payload), string(state), it.ExternalID, now); err != nil {
			return fmt.Errorf("insert item %d: %w", it.Index, err)
		}
	}
	return tx.Commit()
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
