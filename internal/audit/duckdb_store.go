// AuditRelay - Resilient Audit Event Shipping
// Copyright 2026 AuditRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/auditrelay/auditrelay

package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2" // DuckDB driver
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/auditrelay/auditrelay/internal/logging"
)

// DuckDBStore implements Store using DuckDB for embedded persistent
// storage. Suitable for single-node deployments without a hosted Postgres.
type DuckDBStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewDuckDBStore creates a DuckDB-backed record store.
// The caller is responsible for calling CreateTable during initialization.
func NewDuckDBStore(db *sql.DB) *DuckDBStore {
	return &DuckDBStore{db: db}
}

// OpenDuckDB opens (or creates) a DuckDB database at path and verifies it
// with a ping. An empty path opens an in-memory database.
func OpenDuckDB(ctx context.Context, path string) (*DuckDBStore, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	// DuckDB is embedded; a single writer connection avoids lock contention.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("ping duckdb: %w", err)
	}
	return &DuckDBStore{db: db}, nil
}

// Close releases the database handle.
func (s *DuckDBStore) Close() error {
	return s.db.Close()
}

// CreateTable creates the audit_records table if it doesn't exist.
func (s *DuckDBStore) CreateTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS audit_records (
			id TEXT PRIMARY KEY,
			actor_id TEXT NOT NULL,
			actor_email TEXT,
			action TEXT NOT NULL,
			resource_type TEXT NOT NULL,
			resource_id TEXT,
			old_values JSON,
			new_values JSON,
			client_ip TEXT NOT NULL,
			user_agent TEXT NOT NULL,
			metadata JSON,
			timestamp TIMESTAMPTZ NOT NULL,
			severity TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		CREATE INDEX IF NOT EXISTS idx_audit_records_timestamp ON audit_records(timestamp DESC);
		CREATE INDEX IF NOT EXISTS idx_audit_records_actor_id ON audit_records(actor_id);
		CREATE INDEX IF NOT EXISTS idx_audit_records_action ON audit_records(action);
		CREATE INDEX IF NOT EXISTS idx_audit_records_severity ON audit_records(severity);
	`

	// Split and execute each statement
	for _, stmt := range strings.Split(query, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	logging.Info().Msg("Audit records table created/verified")
	return nil
}

const duckInsertQuery = `
	INSERT INTO audit_records (
		id, actor_id, actor_email, action, resource_type, resource_id,
		old_values, new_values, client_ip, user_agent, metadata,
		timestamp, severity, status
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

// InsertBatch implements Store. All records are inserted in one
// transaction, so a partial batch never lands.
func (s *DuckDBStore) InsertBatch(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin audit insert: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	for i := range records {
		rec := &records[i]
		_, err := tx.ExecContext(ctx, duckInsertQuery,
			uuid.NewString(),
			rec.ActorID,
			nullString(rec.ActorEmail),
			string(rec.Action),
			string(rec.ResourceType),
			nullString(rec.ResourceID),
			rawJSONString(rec.OldValues),
			rawJSONString(rec.NewValues),
			rec.ClientIP,
			rec.UserAgent,
			rawJSONString(rec.Metadata),
			rec.Timestamp,
			string(rec.Severity),
			string(rec.Status),
		)
		if err != nil {
			return fmt.Errorf("insert audit record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit audit insert: %w", err)
	}
	return nil
}

// Query implements Store.
func (s *DuckDBStore) Query(ctx context.Context, filter Filter) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query, args := buildDuckQuery(filter)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			logging.Warn().Err(err).Msg("Failed to scan audit record row")
			continue
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit records: %w", err)
	}

	return records, nil
}

// buildDuckQuery assembles the conjunctive filter query.
func buildDuckQuery(filter Filter) (string, []interface{}) {
	var (
		conds []string
		args  []interface{}
	)

	if filter.ActorID != "" {
		conds = append(conds, "actor_id = ?")
		args = append(args, filter.ActorID)
	}
	if filter.Action != "" {
		conds = append(conds, "action = ?")
		args = append(args, string(filter.Action))
	}
	if filter.ResourceType != "" {
		conds = append(conds, "resource_type = ?")
		args = append(args, string(filter.ResourceType))
	}
	if filter.Severity != "" {
		conds = append(conds, "severity = ?")
		args = append(args, string(filter.Severity))
	}
	if filter.DateFrom != nil {
		conds = append(conds, "timestamp >= ?")
		args = append(args, *filter.DateFrom)
	}
	if filter.DateTo != nil {
		conds = append(conds, "timestamp <= ?")
		args = append(args, *filter.DateTo)
	}

	query := `
		SELECT
			id, actor_id, actor_email, action, resource_type, resource_id,
			CAST(old_values AS VARCHAR), CAST(new_values AS VARCHAR),
			client_ip, user_agent, CAST(metadata AS VARCHAR),
			timestamp, severity, status
		FROM audit_records
	`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY timestamp DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	query += " LIMIT ?"
	args = append(args, limit)

	return query, args
}

// scanRecord reads one row into a Record, mapping SQL NULLs to zero values.
func scanRecord(rows *sql.Rows) (*Record, error) {
	var (
		rec        Record
		actorEmail sql.NullString
		resourceID sql.NullString
		oldValues  sql.NullString
		newValues  sql.NullString
		metadata   sql.NullString
	)

	err := rows.Scan(
		&rec.ID,
		&rec.ActorID,
		&actorEmail,
		&rec.Action,
		&rec.ResourceType,
		&resourceID,
		&oldValues,
		&newValues,
		&rec.ClientIP,
		&rec.UserAgent,
		&metadata,
		&rec.Timestamp,
		&rec.Severity,
		&rec.Status,
	)
	if err != nil {
		return nil, fmt.Errorf("scan audit record: %w", err)
	}

	rec.ActorEmail = actorEmail.String
	rec.ResourceID = resourceID.String
	rec.OldValues = rawJSONFromString(oldValues)
	rec.NewValues = rawJSONFromString(newValues)
	rec.Metadata = rawJSONFromString(metadata)

	return &rec, nil
}

// DeleteOlderThan implements Store.
func (s *DuckDBStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(ctx, `DELETE FROM audit_records WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old audit records: %w", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get deleted count: %w", err)
	}
	return count, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func rawJSONString(raw json.RawMessage) *string {
	if len(raw) == 0 {
		return nil
	}
	s := string(raw)
	return &s
}

func rawJSONFromString(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}
