package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/epehc/crm-auth-service/internal/auth"
	"github.com/epehc/crm-auth-service/internal/obs"
)

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	logger := obs.Logger()
	original := logger.Writer()
	flags := logger.Flags()
	logger.SetFlags(0)
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	t.Cleanup(func() {
		logger.SetOutput(original)
		logger.SetFlags(flags)
	})
	return &buf
}

func decodeEntry(t *testing.T, buf *bytes.Buffer) Entry {
	t.Helper()
	line := strings.TrimSpace(buf.String())
	if line == "" {
		t.Fatal("expected log output")
	}
	var entry Entry
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v (%s)", err, line)
	}
	return entry
}

func adminCtx() context.Context {
	ctx := WithRequestID(context.Background(), "req-123")
	return auth.ContextWithIdentity(ctx, auth.Identity{UserID: "user-42", Roles: auth.NewRoleSet(auth.RoleAdmin)})
}

func TestLogEvent(t *testing.T) {
	buf := captureLog(t)

	if err := LogEvent(adminCtx(), "auth.login", map[string]any{"provider": "google"}); err != nil {
		t.Fatalf("LogEvent failed: %v", err)
	}
	entry := decodeEntry(t, buf)
	if entry.Type != "audit" || entry.Event != "auth.login" {
		t.Fatalf("unexpected entry: %+v", entry)
	}
	if entry.RequestID != "req-123" || entry.ActorID != "user-42" {
		t.Fatalf("unexpected request/actor: %+v", entry)
	}
	if len(entry.ActorRoles) != 1 || entry.ActorRoles[0] != "Admin" {
		t.Fatalf("unexpected actor roles: %v", entry.ActorRoles)
	}
	if entry.Fields["provider"] != "google" {
		t.Fatalf("fields missing or incorrect: %v", entry.Fields)
	}
}

func TestLogEventRequiresName(t *testing.T) {
	captureLog(t)
	if err := LogEvent(context.Background(), "  ", nil); err == nil {
		t.Fatal("expected error for blank event")
	}
}

func TestRecordRoleChange(t *testing.T) {
	cases := []struct {
		name    string
		rec     auth.AuditRecord
		outcome string
		changed bool
	}{
		{
			name: "granted",
			rec: auth.AuditRecord{
				Operation: auth.OpGrantAdmin,
				TargetID:  "u-7",
				Before:    auth.NewRoleSet(auth.RoleUser),
				After:     auth.NewRoleSet(auth.RoleUser, auth.RoleAdmin),
			},
			outcome: OutcomeOK,
			changed: true,
		},
		{
			name: "already admin",
			rec: auth.AuditRecord{
				Operation: auth.OpGrantAdmin,
				TargetID:  "u-7",
				Before:    auth.NewRoleSet(auth.RoleAdmin),
				After:     auth.NewRoleSet(auth.RoleAdmin),
			},
			outcome: OutcomeOK,
		},
		{
			name:    "forbidden",
			rec:     auth.AuditRecord{Operation: auth.OpAssignRoles, TargetID: "u-7", Err: fmt.Errorf("%w: nope", auth.ErrForbidden)},
			outcome: OutcomeDenied,
		},
		{
			name:    "missing target",
			rec:     auth.AuditRecord{Operation: auth.OpRevokeAdmin, TargetID: "ghost", Err: auth.ErrNotFound},
			outcome: OutcomeFailed,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			buf := captureLog(t)
			RecordRoleChange(adminCtx(), tc.rec)
			entry := decodeEntry(t, buf)
			if entry.Event != string(tc.rec.Operation) {
				t.Fatalf("event = %q", entry.Event)
			}
			if entry.Outcome != tc.outcome {
				t.Fatalf("outcome = %q, want %q", entry.Outcome, tc.outcome)
			}
			if entry.Fields["changed"] != tc.changed {
				t.Fatalf("changed = %v, want %v", entry.Fields["changed"], tc.changed)
			}
			if entry.Fields["target_id"] != tc.rec.TargetID {
				t.Fatalf("target = %v", entry.Fields["target_id"])
			}
			if _, hasErr := entry.Fields["error"]; hasErr != (tc.rec.Err != nil) {
				t.Fatalf("error field presence mismatch: %v", entry.Fields)
			}
		})
	}
}
