// AuditRelay - Resilient Audit Event Shipping
// Copyright 2026 AuditRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/auditrelay/auditrelay

// Package audit provides the audit record model, the event builder, the
// shipping pipeline and the read-side facade over a remote record store.
package audit

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Action identifies what was done. The vocabulary is closed: adding an
// action requires an explicit severity decision in severityByAction.
type Action string

const (
	ActionAdminLogin           Action = "admin_login"
	ActionAdminLogout          Action = "admin_logout"
	ActionUserStatusChange     Action = "user_status_change"
	ActionUserCreditUpdate     Action = "user_credit_update"
	ActionPackageCreate        Action = "package_create"
	ActionPackageUpdate        Action = "package_update"
	ActionPackageDelete        Action = "package_delete"
	ActionOrderStatusChange    Action = "order_status_change"
	ActionOrderRefund          Action = "order_refund"
	ActionSettingsUpdate       Action = "settings_update"
	ActionAdminUserCreate      Action = "admin_user_create"
	ActionAdminUserCreated     Action = "admin_user_created"
	ActionAdminUserUpdated     Action = "admin_user_updated"
	ActionAdminUserDelete      Action = "admin_user_delete"
	ActionAdminUserDeleted     Action = "admin_user_deleted"
	ActionAPIKeyCreated        Action = "api_key_created"
	ActionAPIKeyUpdated        Action = "api_key_updated"
	ActionAPIKeyDeleted        Action = "api_key_deleted"
	ActionUserDeleted          Action = "user_deleted"
	ActionUserBanned           Action = "user_banned"
	ActionUserUnbanned         Action = "user_unbanned"
	ActionDataExport           Action = "data_export"
	ActionBulkOperation        Action = "bulk_operation"
	ActionSecurityEvent        Action = "security_event"
	ActionEmailSettingsUpdated Action = "email_settings_updated"
	ActionEmailTemplateCreated Action = "email_template_created"
	ActionEmailTemplateUpdated Action = "email_template_updated"
	ActionEmailTemplateDeleted Action = "email_template_deleted"
)

// ResourceType identifies the kind of entity acted upon.
type ResourceType string

const (
	ResourceUser           ResourceType = "user"
	ResourceAdmin          ResourceType = "admin"
	ResourceAdminUsers     ResourceType = "admin_users"
	ResourceAPIKeys        ResourceType = "api_keys"
	ResourcePackage        ResourceType = "package"
	ResourceOrder          ResourceType = "order"
	ResourceTransaction    ResourceType = "transaction"
	ResourceSettings       ResourceType = "settings"
	ResourceSystem         ResourceType = "system"
	ResourceEmailSettings  ResourceType = "email_settings"
	ResourceEmailTemplates ResourceType = "email_templates"
)

// Severity is the criticality classification of a record.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Status indicates whether the observed action succeeded.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusPending Status = "pending"
)

// SystemActor is the sentinel actor ID used when no caller identity is known.
const SystemActor = "system"

// ZeroActorID replaces actor IDs that fail UUID validation before a record
// is trusted as a foreign key into the remote store. Capture is never
// blocked by an upstream validation failure.
const ZeroActorID = "00000000-0000-0000-0000-000000000000"

// UnknownValue is the default for best-effort enrichment fields.
const UnknownValue = "unknown"

// severityByAction is the static classification table. Actions missing from
// this table classify as medium.
var severityByAction = map[Action]Severity{
	ActionAdminLogin:           SeverityMedium,
	ActionAdminLogout:          SeverityLow,
	ActionUserStatusChange:     SeverityHigh,
	ActionUserCreditUpdate:     SeverityHigh,
	ActionPackageCreate:        SeverityMedium,
	ActionPackageUpdate:        SeverityMedium,
	ActionPackageDelete:        SeverityHigh,
	ActionOrderStatusChange:    SeverityMedium,
	ActionOrderRefund:          SeverityHigh,
	ActionSettingsUpdate:       SeverityHigh,
	ActionAdminUserCreate:      SeverityCritical,
	ActionAdminUserCreated:     SeverityCritical,
	ActionAdminUserUpdated:     SeverityCritical,
	ActionAdminUserDelete:      SeverityCritical,
	ActionAdminUserDeleted:     SeverityCritical,
	ActionDataExport:           SeverityHigh,
	ActionBulkOperation:        SeverityHigh,
	ActionSecurityEvent:        SeverityCritical,
	ActionEmailSettingsUpdated: SeverityMedium,
	ActionEmailTemplateCreated: SeverityMedium,
	ActionEmailTemplateUpdated: SeverityMedium,
	ActionEmailTemplateDeleted: SeverityHigh,
	ActionAPIKeyCreated:        SeverityHigh,
	ActionAPIKeyUpdated:        SeverityHigh,
	ActionAPIKeyDeleted:        SeverityHigh,
	ActionUserDeleted:          SeverityCritical,
	ActionUserBanned:           SeverityCritical,
	ActionUserUnbanned:         SeverityHigh,
}

// SeverityFor returns the static severity classification for an action.
// Unrecognized actions classify as medium rather than failing, so a
// taxonomy gap never costs audit visibility.
func SeverityFor(action Action) Severity {
	if s, ok := severityByAction[action]; ok {
		return s
	}
	return SeverityMedium
}

// KnownAction reports whether the action belongs to the closed vocabulary.
func KnownAction(action Action) bool {
	_, ok := severityByAction[action]
	return ok
}

// KnownResource reports whether the resource type belongs to the closed vocabulary.
func KnownResource(rt ResourceType) bool {
	switch rt {
	case ResourceUser, ResourceAdmin, ResourceAdminUsers, ResourceAPIKeys,
		ResourcePackage, ResourceOrder, ResourceTransaction, ResourceSettings,
		ResourceSystem, ResourceEmailSettings, ResourceEmailTemplates:
		return true
	}
	return false
}

// ValidSeverity reports whether s is one of the four recognized levels.
func ValidSeverity(s Severity) bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Record is an immutable description of one action taken by a principal
// against a resource. Records are created once by the Builder and reach
// exactly one terminal state: shipped to the remote store, or copied into
// the local fallback store.
type Record struct {
	// ID is assigned by the remote store on insert, never by the client.
	ID string `json:"id,omitempty"`

	// ActorID identifies the principal. Defaults to SystemActor.
	ActorID string `json:"actor_id"`

	// ActorEmail is denormalized for read convenience.
	ActorEmail string `json:"actor_email,omitempty"`

	// Action is the vocabulary tag for what was done.
	Action Action `json:"action"`

	// ResourceType is the kind of entity acted upon.
	ResourceType ResourceType `json:"resource_type"`

	// ResourceID identifies the specific entity instance.
	ResourceID string `json:"resource_id,omitempty"`

	// OldValues and NewValues are opaque before/after snapshots.
	OldValues json.RawMessage `json:"old_values,omitempty"`
	NewValues json.RawMessage `json:"new_values,omitempty"`

	// ClientIP and UserAgent are best-effort enrichment fields.
	ClientIP  string `json:"client_ip"`
	UserAgent string `json:"user_agent"`

	// Metadata is an opaque bag of action-specific context.
	Metadata json.RawMessage `json:"metadata,omitempty"`

	// Timestamp is assigned at build time.
	Timestamp time.Time `json:"timestamp"`

	Severity Severity `json:"severity"`
	Status   Status   `json:"status"`
}

// Sanitized returns a copy of the record normalized for store insertion:
// non-UUID actor IDs become the zero sentinel and empty best-effort fields
// fall back to their defaults.
func (r Record) Sanitized() Record {
	if uuid.Validate(r.ActorID) != nil {
		r.ActorID = ZeroActorID
	}
	if r.ClientIP == "" {
		r.ClientIP = UnknownValue
	}
	if r.UserAgent == "" {
		r.UserAgent = UnknownValue
	}
	if r.Severity == "" {
		r.Severity = SeverityLow
	}
	if r.Status == "" {
		r.Status = StatusSuccess
	}
	return r
}

// Filter selects records on the read path. Every criterion is optional;
// present criteria combine conjunctively.
type Filter struct {
	ActorID      string
	Action       Action
	ResourceType ResourceType
	Severity     Severity

	// DateFrom and DateTo bound the timestamp range (inclusive).
	DateFrom *time.Time
	DateTo   *time.Time

	// Limit caps the number of results. Zero means DefaultQueryLimit.
	Limit int
}

// DefaultQueryLimit bounds read-path queries when no limit is given.
const DefaultQueryLimit = 100

// Store is the remote append-only record store. Implementations must make
// InsertBatch atomic (all records land or none do), return Query results in
// descending timestamp order, and assign record IDs on insert.
type Store interface {
	InsertBatch(ctx context.Context, records []Record) error
	Query(ctx context.Context, filter Filter) ([]Record, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
