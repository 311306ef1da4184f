package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kirillkom/trade-evidence/internal/core/domain"
)

type ChecklistRepository struct {
	db *sql.DB
}

func NewChecklistRepository(db *sql.DB) *ChecklistRepository {
	return &ChecklistRepository{db: db}
}

const checklistColumns = `id, case_id, type, severity, status, rule_key, subject, title, description,
	related_field_id, completed_at, created_at, updated_at`

func (r *ChecklistRepository) ListByCase(ctx context.Context, caseID string) ([]domain.ChecklistItem, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+checklistColumns+`
FROM checklist_items
WHERE case_id = $1
ORDER BY created_at, id
`, caseID)
	if err != nil {
		return nil, fmt.Errorf("list checklist items: %w", err)
	}
	defer rows.Close()

	out := make([]domain.ChecklistItem, 0)
	for rows.Next() {
		item, err := scanChecklistItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan checklist item: %w", err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checklist items: %w", err)
	}
	return out, nil
}

func (r *ChecklistRepository) GetByID(ctx context.Context, id string) (*domain.ChecklistItem, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+checklistColumns+` FROM checklist_items WHERE id = $1`, id)
	item, err := scanChecklistItem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainNotFound(domain.ErrChecklistItemNotFound, "get checklist item", id)
		}
		return nil, fmt.Errorf("scan checklist item: %w", err)
	}
	return &item, nil
}

func (r *ChecklistRepository) Insert(ctx context.Context, items []domain.ChecklistItem) error {
	if len(items) == 0 {
		return nil
	}
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		for _, item := range items {
			_, err := tx.ExecContext(ctx, `
INSERT INTO checklist_items (`+checklistColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
`,
				item.ID, item.CaseID, string(item.Type), string(item.Severity), string(item.Status), item.RuleKey,
				item.Subject, item.Title, item.Description, item.RelatedFieldID, item.CompletedAt,
				item.CreatedAt, item.UpdatedAt,
			)
			if err != nil {
				return fmt.Errorf("insert checklist item %s: %w", item.ID, err)
			}
		}
		return nil
	})
}

func (r *ChecklistRepository) Update(ctx context.Context, item *domain.ChecklistItem) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE checklist_items
SET severity = $2, status = $3, title = $4, description = $5, related_field_id = $6, completed_at = $7, updated_at = $8
WHERE id = $1
`, item.ID, string(item.Severity), string(item.Status), item.Title, item.Description, item.RelatedFieldID,
		item.CompletedAt, item.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update checklist item: %w", err)
	}
	return checkAffected(result, domain.ErrChecklistItemNotFound, "update checklist item", item.ID)
}

func scanChecklistItem(row rowScanner) (domain.ChecklistItem, error) {
	var item domain.ChecklistItem
	var typ, severity, status string
	err := row.Scan(
		&item.ID,
		&item.CaseID,
		&typ,
		&severity,
		&status,
		&item.RuleKey,
		&item.Subject,
		&item.Title,
		&item.Description,
		&item.RelatedFieldID,
		&item.CompletedAt,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return domain.ChecklistItem{}, err
	}
	item.Type = domain.ChecklistType(typ)
	item.Severity = domain.Severity(severity)
	item.Status = domain.ChecklistStatus(status)
	return item, nil
}
