package pg

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/goccy/go-json"

	"crmdesk.io/internal/audit"
)

// AuditSink appends entries to audit_logs.
type AuditSink struct {
	db *sql.DB
}

var _ audit.Sink = (*AuditSink)(nil)

func (s *Store) AuditSink() *AuditSink { return &AuditSink{db: s.db} }

func (a *AuditSink) Write(ctx context.Context, e audit.Entry) error {
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	var changes []byte
	if e.Changes != nil {
		if changes, err = json.Marshal(e.Changes); err != nil {
			return fmt.Errorf("marshal changes: %w", err)
		}
	}
	_, err = a.db.ExecContext(ctx, `
		insert into audit_logs (id, user_id, action, description, changes, metadata, created_at)
		values ($1, $2, $3, $4, $5, $6, $7)
	`, e.ID, e.UserID, string(e.Action), e.Description, changes, meta, e.CreatedAt.UTC())
	return err
}
