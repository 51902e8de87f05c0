// AuditRelay - Resilient Audit Event Shipping
// Copyright 2026 AuditRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/auditrelay/auditrelay

//go:build integration

package audit

import (
	"context"
	"testing"
	"time"

	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

func setupPG(t *testing.T) *PGStore {
	t.Helper()

	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("auditrelay_test"),
		tcpostgres.WithUsername("auditrelay"),
		tcpostgres.WithPassword("auditrelay"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get postgres connection string: %v", err)
	}

	store, err := OpenPG(ctx, connStr)
	if err != nil {
		t.Fatalf("failed to open postgres store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if err := store.CreateSchema(ctx); err != nil {
		t.Fatalf("CreateSchema failed: %v", err)
	}
	return store
}

func TestPGStore_InsertBatchAndQuery(t *testing.T) {
	store := setupPG(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	records := []Record{
		duckTestRecord(ZeroActorID, ActionAdminLogin, now.Add(-2*time.Hour)),
		duckTestRecord(ZeroActorID, ActionPackageDelete, now.Add(-time.Hour)),
		duckTestRecord(ZeroActorID, ActionDataExport, now),
	}

	if err := store.InsertBatch(ctx, records); err != nil {
		t.Fatalf("InsertBatch failed: %v", err)
	}

	got, err := store.Query(ctx, Filter{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Expected 3 records, got %d", len(got))
	}
	if got[0].Action != ActionDataExport {
		t.Errorf("Expected newest record first, got action %q", got[0].Action)
	}
	if got[0].ID == "" {
		t.Error("Expected a store-assigned ID")
	}
}

func TestPGStore_InsertBatchAcceptsRawActorID(t *testing.T) {
	store := setupPG(t)
	ctx := context.Background()

	// Sanitization happens in the shipper; the TEXT column takes anything.
	rec := duckTestRecord("not-a-uuid", ActionAdminLogin, time.Now().UTC())
	if err := store.InsertBatch(ctx, []Record{rec}); err != nil {
		t.Fatalf("InsertBatch failed: %v", err)
	}
}

func TestPGStore_QueryFilters(t *testing.T) {
	store := setupPG(t)
	ctx := context.Background()

	now := time.Now().UTC()
	records := []Record{
		duckTestRecord("u1", ActionAdminLogin, now.Add(-3*time.Hour)),
		duckTestRecord("u1", ActionPackageDelete, now.Add(-2*time.Hour)),
		duckTestRecord("u2", ActionAdminLogin, now.Add(-time.Hour)),
	}
	if err := store.InsertBatch(ctx, records); err != nil {
		t.Fatalf("InsertBatch failed: %v", err)
	}

	got, err := store.Query(ctx, Filter{ActorID: "u1", Action: ActionAdminLogin})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("Expected 1 record for u1+admin_login, got %d", len(got))
	}

	got, err = store.Query(ctx, Filter{Severity: SeverityMedium, Limit: 2})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("Expected 2 records with limit, got %d", len(got))
	}
}

func TestPGStore_DeleteOlderThan(t *testing.T) {
	store := setupPG(t)
	ctx := context.Background()

	now := time.Now().UTC()
	records := []Record{
		duckTestRecord(ZeroActorID, ActionAdminLogin, now.Add(-48*time.Hour)),
		duckTestRecord(ZeroActorID, ActionAdminLogin, now.Add(-time.Hour)),
	}
	if err := store.InsertBatch(ctx, records); err != nil {
		t.Fatalf("InsertBatch failed: %v", err)
	}

	deleted, err := store.DeleteOlderThan(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("DeleteOlderThan failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("Expected 1 deleted, got %d", deleted)
	}
}
