package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kirillkom/trade-evidence/internal/core/domain"
)

type DocumentRepository struct {
	db *sql.DB
}

func NewDocumentRepository(db *sql.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

const documentColumns = `id, case_id, filename, mime_type, size_bytes, page_count, content_hash, doc_type,
	classification_method, classification_confidence, status, error_code, error_message, created_at, updated_at`

func domainNotFound(kind error, op, id string) error {
	return domain.WrapError(kind, op, fmt.Errorf("id=%s", id))
}

func (r *DocumentRepository) Create(ctx context.Context, doc *domain.Document) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO documents (`+documentColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
`,
		doc.ID, doc.CaseID, doc.Filename, doc.MimeType, doc.SizeBytes, doc.PageCount, doc.ContentHash,
		string(doc.DocType), string(doc.ClassificationMethod), doc.ClassificationConfidence,
		string(doc.Status), string(doc.ErrorCode), doc.ErrorMessage, doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)
	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainNotFound(domain.ErrDocumentNotFound, "get document", id)
		}
		return nil, fmt.Errorf("scan document: %w", err)
	}
	return &doc, nil
}

func (r *DocumentRepository) FindByHash(ctx context.Context, caseID, contentHash string) (*domain.Document, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+documentColumns+`
FROM documents
WHERE case_id = $1 AND content_hash = $2
`, caseID, contentHash)
	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainNotFound(domain.ErrDocumentNotFound, "find document by hash", contentHash)
		}
		return nil, fmt.Errorf("scan document: %w", err)
	}
	return &doc, nil
}

func (r *DocumentRepository) ListByCase(ctx context.Context, caseID string) ([]domain.Document, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+documentColumns+`
FROM documents
WHERE case_id = $1
ORDER BY created_at, id
`, caseID)
	if err != nil {
		return nil, fmt.Errorf("list case documents: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return out, nil
}

func (r *DocumentRepository) UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus, code domain.ErrorCode, message string) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE documents
SET status = $2, error_code = $3, error_message = $4, updated_at = $5
WHERE id = $1
`, id, string(status), string(code), message, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update document status: %w", err)
	}
	return checkAffected(result, domain.ErrDocumentNotFound, "update document status", id)
}

func (r *DocumentRepository) SaveClassification(ctx context.Context, id string, cls domain.Classification) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE documents
SET doc_type = $2, classification_method = $3, classification_confidence = $4, updated_at = $5
WHERE id = $1
`, id, string(cls.DocType), string(cls.Method), cls.Confidence, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save classification: %w", err)
	}
	return checkAffected(result, domain.ErrDocumentNotFound, "save classification", id)
}

func (r *DocumentRepository) SetPageCount(ctx context.Context, id string, pages int) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE documents
SET page_count = $2, updated_at = $3
WHERE id = $1
`, id, pages, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set page count: %w", err)
	}
	return checkAffected(result, domain.ErrDocumentNotFound, "set page count", id)
}

// SavePages replaces the stored page text of a document.
func (r *DocumentRepository) SavePages(ctx context.Context, documentID string, pages []domain.PageText) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM document_pages WHERE document_id = $1`, documentID); err != nil {
			return fmt.Errorf("clear document pages: %w", err)
		}
		for _, p := range pages {
			_, err := tx.ExecContext(ctx, `
INSERT INTO document_pages (document_id, page_number, text, method)
VALUES ($1,$2,$3,$4)
`, documentID, p.PageNumber, p.Text, string(p.Method))
			if err != nil {
				return fmt.Errorf("insert page %d: %w", p.PageNumber, err)
			}
		}
		return nil
	})
}

func (r *DocumentRepository) ListPages(ctx context.Context, documentID string) ([]domain.PageText, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT document_id, page_number, text, method
FROM document_pages
WHERE document_id = $1
ORDER BY page_number
`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list document pages: %w", err)
	}
	defer rows.Close()

	out := make([]domain.PageText, 0)
	for rows.Next() {
		p, err := scanPage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pages: %w", err)
	}
	return out, nil
}

func (r *DocumentRepository) GetPage(ctx context.Context, documentID string, page int) (*domain.PageText, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT document_id, page_number, text, method
FROM document_pages
WHERE document_id = $1 AND page_number = $2
`, documentID, page)
	p, err := scanPage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrEvidenceMissing, "get page", fmt.Errorf("document %s has no page %d", documentID, page))
		}
		return nil, fmt.Errorf("scan page: %w", err)
	}
	return &p, nil
}

func scanDocument(row rowScanner) (domain.Document, error) {
	var doc domain.Document
	var docType, method, status, code string
	err := row.Scan(
		&doc.ID,
		&doc.CaseID,
		&doc.Filename,
		&doc.MimeType,
		&doc.SizeBytes,
		&doc.PageCount,
		&doc.ContentHash,
		&docType,
		&method,
		&doc.ClassificationConfidence,
		&status,
		&code,
		&doc.ErrorMessage,
		&doc.CreatedAt,
		&doc.UpdatedAt,
	)
	if err != nil {
		return domain.Document{}, err
	}
	doc.DocType = domain.DocType(docType)
	doc.ClassificationMethod = domain.ClassificationMethod(method)
	doc.Status = domain.DocumentStatus(status)
	doc.ErrorCode = domain.ErrorCode(code)
	return doc, nil
}

func scanPage(row rowScanner) (domain.PageText, error) {
	var p domain.PageText
	var method string
	if err := row.Scan(&p.DocumentID, &p.PageNumber, &p.Text, &method); err != nil {
		return domain.PageText{}, err
	}
	p.Method = domain.PageMethod(method)
	return p, nil
}
