package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/MrEthical07/hrauth/internal/audit"
)

// InsertAuditEvent appends one row to auth_audit_log.
func (s *Store) InsertAuditEvent(ctx context.Context, ev audit.Event) error {
	return insertAudit(ctx, s.db, ev)
}

func insertAudit(ctx context.Context, q Querier, ev audit.Event) error {
	var meta []byte
	if len(ev.Metadata) > 0 {
		var err error
		if meta, err = json.Marshal(ev.Metadata); err != nil {
			return err
		}
	}
	_, err := q.Exec(ctx,
		`INSERT INTO auth_audit_log (occurred_at, event_type, identity_id, tenant_id, session_ref, ip, success, error, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		ev.Timestamp, ev.EventType, nullable(ev.IdentityID), nullable(ev.TenantID), nullable(ev.SessionRef),
		nullable(ev.IP), ev.Success, nullable(ev.Error), meta)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}
