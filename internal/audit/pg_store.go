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
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // Postgres driver

	"github.com/auditrelay/auditrelay/internal/logging"
)

// PGStore implements Store backed by PostgreSQL. This is the intended
// production backend: the remote sink the shipper delivers to.
type PGStore struct {
	db *sql.DB
}

// OpenPG opens a pooled Postgres connection and verifies it with a ping.
func OpenPG(ctx context.Context, connString string) (*PGStore, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PGStore{db: db}, nil
}

// NewPGStore wraps an existing connection pool. Used by tests.
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

// CreateSchema creates the audit_records table and its indexes if absent.
func (s *PGStore) CreateSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS audit_records (
			id UUID PRIMARY KEY,
			actor_id TEXT NOT NULL,
			actor_email TEXT,
			action TEXT NOT NULL,
			resource_type TEXT NOT NULL,
			resource_id TEXT,
			old_values JSONB,
			new_values JSONB,
			client_ip TEXT NOT NULL,
			user_agent TEXT NOT NULL,
			metadata JSONB,
			timestamp TIMESTAMPTZ NOT NULL,
			severity TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);

		CREATE INDEX IF NOT EXISTS idx_audit_records_timestamp ON audit_records (timestamp DESC);
		CREATE INDEX IF NOT EXISTS idx_audit_records_actor_id ON audit_records (actor_id);
		CREATE INDEX IF NOT EXISTS idx_audit_records_action ON audit_records (action);
		CREATE INDEX IF NOT EXISTS idx_audit_records_severity ON audit_records (severity);
	`

	for _, stmt := range strings.Split(query, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	logging.Info().Msg("Audit records schema created/verified")
	return nil
}

// pgNumFields is the column count of one audit_records row on insert.
const pgNumFields = 14

// InsertBatch implements Store. The whole batch lands as one multi-row
// INSERT, so it is atomic without an explicit transaction.
func (s *PGStore) InsertBatch(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	var sb strings.Builder
	vals := make([]interface{}, 0, len(records)*pgNumFields)

	for i := range records {
		rec := &records[i]
		p := i * pgNumFields
		if i > 0 {
			sb.WriteByte(',')
		}
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			p+1, p+2, p+3, p+4, p+5, p+6, p+7, p+8, p+9, p+10, p+11, p+12, p+13, p+14)

		vals = append(vals,
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
	}

	query := fmt.Sprintf(
		`INSERT INTO audit_records (
			id, actor_id, actor_email, action, resource_type, resource_id,
			old_values, new_values, client_ip, user_agent, metadata,
			timestamp, severity, status
		) VALUES %s`, sb.String())

	if _, err := s.db.ExecContext(ctx, query, vals...); err != nil {
		return fmt.Errorf("insert audit batch: %w", err)
	}
	return nil
}

// Query implements Store.
func (s *PGStore) Query(ctx context.Context, filter Filter) ([]Record, error) {
	query, args := buildPGQuery(filter)

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

func buildPGQuery(filter Filter) (string, []interface{}) {
	var (
		conds []string
		args  []interface{}
	)

	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.ActorID != "" {
		conds = append(conds, "actor_id = "+arg(filter.ActorID))
	}
	if filter.Action != "" {
		conds = append(conds, "action = "+arg(string(filter.Action)))
	}
	if filter.ResourceType != "" {
		conds = append(conds, "resource_type = "+arg(string(filter.ResourceType)))
	}
	if filter.Severity != "" {
		conds = append(conds, "severity = "+arg(string(filter.Severity)))
	}
	if filter.DateFrom != nil {
		conds = append(conds, "timestamp >= "+arg(*filter.DateFrom))
	}
	if filter.DateTo != nil {
		conds = append(conds, "timestamp <= "+arg(*filter.DateTo))
	}

	query := `
		SELECT
			id, actor_id, actor_email, action, resource_type, resource_id,
			old_values::TEXT, new_values::TEXT,
			client_ip, user_agent, metadata::TEXT,
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
	query += " LIMIT " + arg(limit)

	return query, args
}

// DeleteOlderThan implements Store.
func (s *PGStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM audit_records WHERE timestamp < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old audit records: %w", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get deleted count: %w", err)
	}
	return count, nil
}

// Close releases the connection pool.
func (s *PGStore) Close() error {
	return s.db.Close()
}
