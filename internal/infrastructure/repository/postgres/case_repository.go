package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kirillkom/trade-evidence/internal/core/domain"
)

type CaseRepository struct {
	db *sql.DB
}

func NewCaseRepository(db *sql.DB) *CaseRepository {
	return &CaseRepository{db: db}
}

const caseColumns = `id, supplier_id, buyer_id, reference_no, product_group, date_from, date_to, status,
	ready_l1_at, ready_l2_at, closed_at, created_at, updated_at`

func (r *CaseRepository) Create(ctx context.Context, c *domain.Case) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO cases (`+caseColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
`,
		c.ID, c.SupplierID, c.BuyerID, c.ReferenceNo, c.ProductGroup, c.DateFrom, c.DateTo, string(c.Status),
		c.ReadyL1At, c.ReadyL2At, c.ClosedAt, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert case: %w", err)
	}
	return nil
}

func (r *CaseRepository) GetByID(ctx context.Context, id string) (*domain.Case, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+caseColumns+` FROM cases WHERE id = $1`, id)
	c, err := scanCase(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainNotFound(domain.ErrCaseNotFound, "get case", id)
		}
		return nil, fmt.Errorf("scan case: %w", err)
	}
	return &c, nil
}

func (r *CaseRepository) Save(ctx context.Context, c *domain.Case) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE cases
SET status = $2, ready_l1_at = $3, ready_l2_at = $4, closed_at = $5, updated_at = $6
WHERE id = $1
`, c.ID, string(c.Status), c.ReadyL1At, c.ReadyL2At, c.ClosedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update case: %w", err)
	}
	return checkAffected(result, domain.ErrCaseNotFound, "update case", c.ID)
}

func (r *CaseRepository) ListBySupplier(ctx context.Context, supplierID string) ([]domain.Case, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+caseColumns+`
FROM cases
WHERE supplier_id = $1
ORDER BY created_at DESC
`, supplierID)
	if err != nil {
		return nil, fmt.Errorf("list supplier cases: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Case, 0)
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, fmt.Errorf("scan case: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cases: %w", err)
	}
	return out, nil
}

func scanCase(row rowScanner) (domain.Case, error) {
	var c domain.Case
	var status string
	err := row.Scan(
		&c.ID,
		&c.SupplierID,
		&c.BuyerID,
		&c.ReferenceNo,
		&c.ProductGroup,
		&c.DateFrom,
		&c.DateTo,
		&status,
		&c.ReadyL1At,
		&c.ReadyL2At,
		&c.ClosedAt,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return domain.Case{}, err
	}
	c.Status = domain.CaseStatus(status)
	return c, nil
}
