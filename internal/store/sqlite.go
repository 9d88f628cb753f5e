package store

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/kimhsiao/driverq/internal/db"
	apperrors "github.com/kimhsiao/driverq/internal/errors"
	"github.com/kimhsiao/driverq/internal/models"
)

// SQLiteStore persists actions in the offline_actions table.
type SQLiteStore struct {
	db *db.DB
}

var (
	_ Store       = (*SQLiteStore)(nil)
	_ TypeQuerier = (*SQLiteStore)(nil)
)

// OpenSQLite opens (creating and migrating as needed) the database in
// dataDir.
func OpenSQLite(dataDir string) (*SQLiteStore, error) {
	database, err := db.Open(dataDir)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrMigration, "open sqlite store", err)
	}
	return NewSQLiteStore(database), nil
}

// NewSQLiteStore wraps an already opened and migrated database.
func NewSQLiteStore(database *db.DB) *SQLiteStore {
	return &SQLiteStore{db: database}
}

const selectColumns = `id, type, url, method, headers, body, timestamp,
	retry_count, max_retries, metadata, next_eligible_at`

// Put upserts the action by id.
func (s *SQLiteStore) Put(ctx context.Context, action *models.OfflineAction) error {
	if err := validate(action); err != nil {
		return err
	}

	headers, err := json.Marshal(nonNilHeaders(action.Headers))
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInvalid, "encode headers", err)
	}
	metadata, err := json.Marshal(nonNilMetadata(action.Metadata))
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInvalid, "encode metadata", err)
	}

	query := `
	INSERT INTO offline_actions (` + selectColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		type = excluded.type,
		url = excluded.url,
		method = excluded.method,
		headers = excluded.headers,
		body = excluded.body,
		timestamp = excluded.timestamp,
		retry_count = excluded.retry_count,
		max_retries = excluded.max_retries,
		metadata = excluded.metadata,
		next_eligible_at = excluded.next_eligible_at
	`
	_, err = s.db.ExecContext(ctx, query,
		action.ID, string(action.Type), action.URL, action.Method, string(headers), action.Body,
		action.Timestamp, action.RetryCount, action.MaxRetries, string(metadata), action.NextEligibleAt)
	return sqliteErr("put action", err)
}

// Delete removes the action by id.
func (s *SQLiteStore) Delete(ctx context.Context, id models.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM offline_actions WHERE id = ?`, id)
	return sqliteErr("delete action", err)
}

// GetAll returns every action ordered by timestamp.
func (s *SQLiteStore) GetAll(ctx context.Context) ([]*models.OfflineAction, error) {
	return s.query(ctx, `SELECT `+selectColumns+` FROM offline_actions ORDER BY timestamp ASC, id ASC`)
}

// GetByType returns the actions of one type ordered by timestamp.
func (s *SQLiteStore) GetByType(ctx context.Context, actionType models.ActionType) ([]*models.OfflineAction, error) {
	return s.query(ctx, `SELECT `+selectColumns+` FROM offline_actions WHERE type = ? ORDER BY timestamp ASC, id ASC`,
		string(actionType))
}

// Clear removes every action.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM offline_actions`)
	return sqliteErr("clear actions", err)
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) query(ctx context.Context, query string, args ...interface{}) ([]*models.OfflineAction, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, sqliteErr("query actions", err)
	}
	defer rows.Close()

	var actions []*models.OfflineAction
	for rows.Next() {
		var (
			a                 models.OfflineAction
			actionType        string
			headers, metadata sql.NullString
		)
		if err := rows.Scan(&a.ID, &actionType, &a.URL, &a.Method, &headers, &a.Body, &a.Timestamp,
			&a.RetryCount, &a.MaxRetries, &metadata, &a.NextEligibleAt); err != nil {
			return nil, sqliteErr("scan action", err)
		}
		a.Type = models.ActionType(actionType)
		if headers.Valid && headers.String != "" {
			if err := json.Unmarshal([]byte(headers.String), &a.Headers); err != nil {
				return nil, apperrors.Wrap(apperrors.ErrStorage, fmt.Sprintf("decode headers of %s", a.ID), err)
			}
		}
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &a.Metadata); err != nil {
				return nil, apperrors.Wrap(apperrors.ErrStorage, fmt.Sprintf("decode metadata of %s", a.ID), err)
			}
		}
		if len(a.Headers) == 0 {
			a.Headers = nil
		}
		if len(a.Metadata) == 0 {
			a.Metadata = nil
		}
		actions = append(actions, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, sqliteErr("iterate actions", err)
	}
	return actions, nil
}

// sqliteErr maps driver errors onto storage error codes.
func sqliteErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var sqlErr *sqlite.Error
	if stderrors.As(err, &sqlErr) && sqlErr.Code()&0xff == sqlite3.SQLITE_FULL {
		return apperrors.Wrap(apperrors.ErrStorageQuota, op, err)
	}
	if stderrors.Is(err, sql.ErrConnDone) || err.Error() == "sql: database is closed" {
		return apperrors.Wrap(apperrors.ErrStorageClosed, op, err)
	}
	return storageErr(op, err)
}

func nonNilHeaders(h map[string]string) map[string]string {
	if h == nil {
		return map[string]string{}
	}
	return h
}

func nonNilMetadata(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}
