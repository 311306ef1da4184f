package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kirillkom/trade-evidence/internal/core/domain"
)

type FieldRepository struct {
	db *sql.DB
}

func NewFieldRepository(db *sql.DB) *FieldRepository {
	return &FieldRepository{db: db}
}

const fieldColumns = `id, case_id, document_id, canonical_key, value, unit, page, snippet, confidence, tier, status,
	visibility, created_from, extraction_run_id, superseded_at, rejection_reason, reviewed_by, reviewed_at,
	created_at, updated_at`

func (r *FieldRepository) Insert(ctx context.Context, fields []domain.ExtractedField) error {
	if len(fields) == 0 {
		return nil
	}
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		return insertFields(ctx, tx, fields)
	})
}

func insertFields(ctx context.Context, tx *sql.Tx, fields []domain.ExtractedField) error {
	for _, f := range fields {
		if err := f.ValidateEvidence(); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
INSERT INTO extracted_fields (`+fieldColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
`,
			f.ID, f.CaseID, f.DocumentID, f.CanonicalKey, f.Value, f.Unit, f.Page, f.Snippet, f.Confidence,
			string(f.Tier), string(f.Status), string(f.Visibility), string(f.CreatedFrom), f.ExtractionRunID,
			f.SupersededAt, f.RejectionReason, f.ReviewedBy, f.ReviewedAt, f.CreatedAt, f.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert field %s: %w", f.ID, err)
		}
	}
	return nil
}

func (r *FieldRepository) GetByID(ctx context.Context, id string) (*domain.ExtractedField, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+fieldColumns+` FROM extracted_fields WHERE id = $1`, id)
	f, err := scanField(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainNotFound(domain.ErrFieldNotFound, "get field", id)
		}
		return nil, fmt.Errorf("scan field: %w", err)
	}
	return &f, nil
}

func (r *FieldRepository) ListActiveByCase(ctx context.Context, caseID string) ([]domain.ExtractedField, error) {
	return r.list(ctx, `
SELECT `+fieldColumns+`
FROM extracted_fields
WHERE case_id = $1 AND superseded_at IS NULL
ORDER BY canonical_key, created_at, id
`, caseID)
}

func (r *FieldRepository) ListActiveByPage(ctx context.Context, documentID string, page int) ([]domain.ExtractedField, error) {
	return r.list(ctx, `
SELECT `+fieldColumns+`
FROM extracted_fields
WHERE document_id = $1 AND page = $2 AND superseded_at IS NULL
ORDER BY canonical_key, created_at, id
`, documentID, page)
}

// ReplaceCandidates supersedes the stale rows and inserts their replacements in one
// transaction. Only unreviewed rows are superseded, so a review that lands between the
// caller's read and this write survives.
func (r *FieldRepository) ReplaceCandidates(ctx context.Context, stale []string, fields []domain.ExtractedField, at time.Time) error {
	if len(stale) == 0 && len(fields) == 0 {
		return nil
	}
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		for _, id := range stale {
			_, err := tx.ExecContext(ctx, `
UPDATE extracted_fields
SET superseded_at = $2, updated_at = $2
WHERE id = $1 AND superseded_at IS NULL AND status IN ('pending_review', 'conflict')
`, id, at)
			if err != nil {
				return fmt.Errorf("supersede field %s: %w", id, err)
			}
		}
		return insertFields(ctx, tx, fields)
	})
}

func (r *FieldRepository) SetStatus(ctx context.Context, ids []string, status domain.FieldStatus, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		for _, id := range ids {
			result, err := tx.ExecContext(ctx, `
UPDATE extracted_fields
SET status = $2, updated_at = $3
WHERE id = $1
`, id, string(status), at)
			if err != nil {
				return fmt.Errorf("set field status %s: %w", id, err)
			}
			if err := checkAffected(result, domain.ErrFieldNotFound, "set field status", id); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *FieldRepository) SaveReview(ctx context.Context, f *domain.ExtractedField) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE extracted_fields
SET tier = $2, status = $3, visibility = $4, rejection_reason = $5, reviewed_by = $6, reviewed_at = $7, updated_at = $8
WHERE id = $1
`, f.ID, string(f.Tier), string(f.Status), string(f.Visibility), f.RejectionReason, f.ReviewedBy, f.ReviewedAt, f.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save field review: %w", err)
	}
	return checkAffected(result, domain.ErrFieldNotFound, "save field review", f.ID)
}

func (r *FieldRepository) list(ctx context.Context, query string, args ...any) ([]domain.ExtractedField, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list fields: %w", err)
	}
	defer rows.Close()

	out := make([]domain.ExtractedField, 0)
	for rows.Next() {
		f, err := scanField(rows)
		if err != nil {
			return nil, fmt.Errorf("scan field: %w", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fields: %w", err)
	}
	return out, nil
}

func scanField(row rowScanner) (domain.ExtractedField, error) {
	var f domain.ExtractedField
	var confidence sql.NullFloat64
	var tier, status, visibility, source string
	err := row.Scan(
		&f.ID,
		&f.CaseID,
		&f.DocumentID,
		&f.CanonicalKey,
		&f.Value,
		&f.Unit,
		&f.Page,
		&f.Snippet,
		&confidence,
		&tier,
		&status,
		&visibility,
		&source,
		&f.ExtractionRunID,
		&f.SupersededAt,
		&f.RejectionReason,
		&f.ReviewedBy,
		&f.ReviewedAt,
		&f.CreatedAt,
		&f.UpdatedAt,
	)
	if err != nil {
		return domain.ExtractedField{}, err
	}
	if confidence.Valid {
		f.Confidence = domain.Float64Ptr(confidence.Float64)
	}
	f.Tier = domain.Tier(tier)
	f.Status = domain.FieldStatus(status)
	f.Visibility = domain.Visibility(visibility)
	f.CreatedFrom = domain.FieldSource(source)
	return f, nil
}
