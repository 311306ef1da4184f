package ports

import (
	"context"
	"io"

	"github.com/kirillkom/trade-evidence/internal/core/domain"
)

// CaseManager is the inbound contract for case lifecycle.
type CaseManager interface {
	Open(ctx context.Context, in domain.OpenCaseInput) (*domain.Case, error)
	Get(ctx context.Context, caseID string) (*domain.Case, error)
	Close(ctx context.Context, caseID, actor string) (*domain.Case, error)
}

// DocumentIngestor is the inbound contract for document upload orchestration.
type DocumentIngestor interface {
	Upload(ctx context.Context, caseID, filename, mimeType string, body io.Reader) (*domain.Document, error)
}

// DocumentReader is the inbound read model for document metadata/state.
type DocumentReader interface {
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	ListByCase(ctx context.Context, caseID string) ([]domain.Document, error)
}

// DocumentProcessor drives documents through text extraction, classification and extraction.
type DocumentProcessor interface {
	ProcessByID(ctx context.Context, documentID string) error
	ProcessCase(ctx context.Context, caseID string) (domain.BatchResult, error)
	Retry(ctx context.Context, documentID, actor string) (*domain.Document, error)
	Reclassify(ctx context.Context, documentID string, docType domain.DocType, actor string) (*domain.Document, error)
	Reextract(ctx context.Context, documentID string) (domain.ExtractionReport, error)
}

// CaseEvaluator serializes reconciliation, validation and status recomputation per case.
type CaseEvaluator interface {
	Reconcile(ctx context.Context, caseID string) ([]domain.CanonicalFieldView, error)
	RunValidation(ctx context.Context, caseID string) (domain.ValidationSummary, error)
	Recompute(ctx context.Context, caseID string) (*domain.Case, error)
	CanonicalView(ctx context.Context, caseID string, buyerOnly bool) ([]domain.CanonicalFieldView, error)
	Checklist(ctx context.Context, caseID string) ([]domain.ChecklistItem, error)
}

// FieldReviewer is the inbound contract for human review actions.
type FieldReviewer interface {
	Approve(ctx context.Context, fieldID, actor string) (*domain.ExtractedField, error)
	Reject(ctx context.Context, fieldID, reason, actor string) (*domain.ExtractedField, error)
	SubmitManualField(ctx context.Context, in domain.ManualFieldInput) (*domain.ExtractedField, error)
	ResolveChecklistItem(ctx context.Context, itemID, actor string) (*domain.ChecklistItem, error)
	ReviewQueue(ctx context.Context, caseID string, status domain.FieldStatus) ([]domain.ExtractedField, error)
}

// ReadinessReporter exposes case and supplier readiness metrics.
type ReadinessReporter interface {
	CaseMetrics(ctx context.Context, caseID string) (domain.CaseMetrics, error)
	SupplierMetrics(ctx context.Context, supplierID string) (domain.SupplierMetrics, error)
}
