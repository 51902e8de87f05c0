// AuditRelay - Resilient Audit Event Shipping
// Copyright 2026 AuditRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/auditrelay/auditrelay

package audit

import (
	"testing"
	"time"
)

func TestSeverityFor(t *testing.T) {
	tests := []struct {
		name   string
		action Action
		want   Severity
	}{
		{"delete is high", ActionPackageDelete, SeverityHigh},
		{"security event is critical", ActionSecurityEvent, SeverityCritical},
		{"admin user delete is critical", ActionAdminUserDelete, SeverityCritical},
		{"login is medium", ActionAdminLogin, SeverityMedium},
		{"logout is low", ActionAdminLogout, SeverityLow},
		{"package create is medium", ActionPackageCreate, SeverityMedium},
		{"unknown action defaults to medium", Action("made_up_action"), SeverityMedium},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SeverityFor(tt.action); got != tt.want {
				t.Errorf("SeverityFor(%q) = %q, want %q", tt.action, got, tt.want)
			}
		})
	}
}

func TestKnownAction(t *testing.T) {
	if !KnownAction(ActionOrderRefund) {
		t.Error("expected order_refund to be a known action")
	}
	if KnownAction(Action("nonsense")) {
		t.Error("expected nonsense to be unknown")
	}
}

func TestKnownResource(t *testing.T) {
	if !KnownResource(ResourceSystem) {
		t.Error("expected system to be a known resource type")
	}
	if KnownResource(ResourceType("spaceship")) {
		t.Error("expected spaceship to be unknown")
	}
}

func TestRecordSanitized(t *testing.T) {
	tests := []struct {
		name    string
		actorID string
		want    string
	}{
		{"valid uuid kept", "a1b2c3d4-e5f6-7890-abcd-ef1234567890", "a1b2c3d4-e5f6-7890-abcd-ef1234567890"},
		{"system actor replaced", SystemActor, ZeroActorID},
		{"free-form string replaced", "alice@example.com", ZeroActorID},
		{"empty replaced", "", ZeroActorID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := Record{ActorID: tt.actorID, Timestamp: time.Now()}
			got := rec.Sanitized()
			if got.ActorID != tt.want {
				t.Errorf("Sanitized().ActorID = %q, want %q", got.ActorID, tt.want)
			}
			// Original must not be mutated.
			if rec.ActorID != tt.actorID {
				t.Errorf("Sanitized mutated the receiver: %q", rec.ActorID)
			}
		})
	}
}

func TestRecordSanitizedFillsDefaults(t *testing.T) {
	got := (Record{}).Sanitized()

	if got.ClientIP != UnknownValue {
		t.Errorf("ClientIP = %q, want %q", got.ClientIP, UnknownValue)
	}
	if got.UserAgent != UnknownValue {
		t.Errorf("UserAgent = %q, want %q", got.UserAgent, UnknownValue)
	}
	if got.Severity != SeverityLow {
		t.Errorf("Severity = %q, want %q", got.Severity, SeverityLow)
	}
	if got.Status != StatusSuccess {
		t.Errorf("Status = %q, want %q", got.Status, StatusSuccess)
	}
}
