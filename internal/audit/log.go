// Package audit writes one JSON line per security-relevant event to the shared
// obs logger: logins, user registration and every role mutation.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/epehc/crm-auth-service/internal/auth"
	"github.com/epehc/crm-auth-service/internal/obs"
)

type ctxKey struct{}

// Outcomes carried by role-change entries.
const (
	OutcomeOK     = "ok"
	OutcomeDenied = "denied"
	OutcomeFailed = "failed"
)

// Entry is the serialized shape of an audit line.
type Entry struct {
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	Event      string         `json:"event"`
	RequestID  string         `json:"request_id,omitempty"`
	ActorID    string         `json:"actor_id,omitempty"`
	ActorRoles []string       `json:"actor_roles,omitempty"`
	Outcome    string         `json:"outcome,omitempty"`
	Fields     map[string]any `json:"fields"`
}

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, requestID)
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(ctxKey{}).(string)
	return v
}

// LogEvent writes an entry for event with the acting identity taken from ctx.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	return write(ctx, event, "", fields)
}

// RecordRoleChange is an auth.AuditFunc. Denied and failed attempts are
// logged as well as successful ones.
func RecordRoleChange(ctx context.Context, rec auth.AuditRecord) {
	fields := map[string]any{
		"target_id":    rec.TargetID,
		"roles_before": rec.Before.Strings(),
		"roles_after":  rec.After.Strings(),
		"changed":      rec.Changed(),
	}
	if rec.Err != nil {
		fields["error"] = rec.Err.Error()
	}
	if err := write(ctx, string(rec.Operation), outcome(rec.Err), fields); err != nil {
		obs.Error("audit write", err, map[string]any{"event": string(rec.Operation)})
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, auth.ErrForbidden), errors.Is(err, auth.ErrUnauthenticated):
		return OutcomeDenied
	}
	return OutcomeFailed
}

func write(ctx context.Context, event, result string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	entry := Entry{
		TS:        time.Now().UTC().Format(time.RFC3339Nano),
		Type:      "audit",
		Event:     event,
		RequestID: requestIDFromContext(ctx),
		Outcome:   result,
		Fields:    make(map[string]any, len(fields)),
	}
	if id, ok := auth.IdentityFromContext(ctx); ok {
		entry.ActorID = id.UserID
		entry.ActorRoles = id.Roles.Strings()
	}
	for k, v := range fields {
		entry.Fields[k] = v
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	obs.Logger().Println(string(data))
	return nil
}
