package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/kirillkom/trade-evidence/internal/core/domain"
)

type AuditRepository struct {
	db *sql.DB
}

func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) Record(ctx context.Context, entry domain.AuditEntry) error {
	details := entry.Details
	if details == nil {
		details = map[string]string{}
	}
	payload, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("marshal audit details: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO audit_log (id, case_id, actor, action, entity_type, entity_id, details, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7::jsonb,$8)
`, entry.ID, entry.CaseID, entry.Actor, entry.Action, entry.EntityType, entry.EntityID, string(payload), entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// ListByCase returns the audit trail of a case in chronological order.
func (r *AuditRepository) ListByCase(ctx context.Context, caseID string, limit int) ([]domain.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, case_id, actor, action, entity_type, entity_id, details, created_at
FROM audit_log
WHERE case_id = $1
ORDER BY created_at, id
LIMIT $2
`, caseID, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	out := make([]domain.AuditEntry, 0)
	for rows.Next() {
		var entry domain.AuditEntry
		var raw []byte
		if err := rows.Scan(&entry.ID, &entry.CaseID, &entry.Actor, &entry.Action, &entry.EntityType, &entry.EntityID, &raw, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &entry.Details); err != nil {
				return nil, fmt.Errorf("decode audit details: %w", err)
			}
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return out, nil
}
