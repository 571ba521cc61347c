package policies

import (
	"context"
	"log/slog"
	"time"
)

type AuditSeverity string

const (
	AuditInfo     AuditSeverity = "info"
	AuditWarning  AuditSeverity = "warning"
	AuditCritical AuditSeverity = "critical"
)

type AuditEntry struct {
	Action      string
	TargetID    string
	TargetType  string
	PerformedBy string
	Details     map[string]any
	Severity    AuditSeverity
	At          time.Time
}

// AuditPort is the write-only audit-log collaborator.
type AuditPort interface {
	Record(ctx context.Context, entry AuditEntry) error
}

// RecordAudit writes an audit entry best-effort: failures are logged and
// never propagated as a core failure.
func RecordAudit(ctx context.Context, port AuditPort, logger *slog.Logger, entry AuditEntry) {
	if port == nil {
		return
	}
	if entry.At.IsZero() {
		entry.At = time.Now().UTC()
	}
	if entry.Severity == "" {
		entry.Severity = AuditInfo
	}
	if err := port.Record(ctx, entry); err != nil && logger != nil {
		logger.Warn("audit record failed", "action", entry.Action, "target_id", entry.TargetID, "error", err)
	}
}

// NopAudit discards entries; used when no audit sink is wired.
type NopAudit struct{}

func (NopAudit) Record(ctx context.Context, entry AuditEntry) error { return nil }
