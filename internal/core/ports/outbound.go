package ports

import (
	"context"
	"io"
	"time"

	"github.com/kirillkom/trade-evidence/internal/core/domain"
)

// CaseRepository persists cases.
type CaseRepository interface {
	Create(ctx context.Context, c *domain.Case) error
	GetByID(ctx context.Context, id string) (*domain.Case, error)
	// Save persists status, readiness timestamps and closure.
	Save(ctx context.Context, c *domain.Case) error
	ListBySupplier(ctx context.Context, supplierID string) ([]domain.Case, error)
}

// DocumentRepository persists and reads document state.
type DocumentRepository interface {
	Create(ctx context.Context, doc *domain.Document) error
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	FindByHash(ctx context.Context, caseID, contentHash string) (*domain.Document, error)
	ListByCase(ctx context.Context, caseID string) ([]domain.Document, error)
	UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus, code domain.ErrorCode, message string) error
	SaveClassification(ctx context.Context, id string, cls domain.Classification) error
	SetPageCount(ctx context.Context, id string, pages int) error
}

// PageStore keeps per-page extracted text, the ground truth for snippet checks.
type PageStore interface {
	SavePages(ctx context.Context, documentID string, pages []domain.PageText) error
	ListPages(ctx context.Context, documentID string) ([]domain.PageText, error)
	GetPage(ctx context.Context, documentID string, page int) (*domain.PageText, error)
}

// FieldRepository is append-mostly: rows are inserted and superseded, never deleted.
type FieldRepository interface {
	Insert(ctx context.Context, fields []domain.ExtractedField) error
	GetByID(ctx context.Context, id string) (*domain.ExtractedField, error)
	// ListActiveByCase returns non-superseded fields, rejected ones included.
	ListActiveByCase(ctx context.Context, caseID string) ([]domain.ExtractedField, error)
	ListActiveByPage(ctx context.Context, documentID string, page int) ([]domain.ExtractedField, error)
	// ReplaceCandidates atomically supersedes stale unreviewed rows and inserts new ones.
	ReplaceCandidates(ctx context.Context, stale []string, fields []domain.ExtractedField, at time.Time) error
	SetStatus(ctx context.Context, ids []string, status domain.FieldStatus, at time.Time) error
	SaveReview(ctx context.Context, f *domain.ExtractedField) error
}

// ChecklistRepository persists checklist items by case.
type ChecklistRepository interface {
	ListByCase(ctx context.Context, caseID string) ([]domain.ChecklistItem, error)
	GetByID(ctx context.Context, id string) (*domain.ChecklistItem, error)
	Insert(ctx context.Context, items []domain.ChecklistItem) error
	Update(ctx context.Context, item *domain.ChecklistItem) error
}

// AuditLog records pipeline and review actions.
type AuditLog interface {
	Record(ctx context.Context, entry domain.AuditEntry) error
}

// ObjectStorage stores source documents.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// MessageQueue publishes/consumes upload events.
type MessageQueue interface {
	PublishDocumentUploaded(ctx context.Context, documentID string) error
	SubscribeDocumentUploaded(ctx context.Context, handler func(context.Context, string) error) error
}

// PageRenderer turns raw document bytes into per-page text.
type PageRenderer interface {
	RenderPages(ctx context.Context, doc *domain.Document, body []byte) ([]domain.PageText, error)
}

type ClassifyRequest struct {
	Filename   string
	Pages      []domain.PageText
	Candidates []domain.DocType
}

type ClassifyResult struct {
	DocType    domain.DocType
	Confidence float64
}

type ExtractRequest struct {
	DocumentID string
	DocType    domain.DocType
	Schema     domain.DocSchema
	PageNumber int
	PageText   string
}

// DocumentUnderstanding is the external AI service. It is treated as a black box.
type DocumentUnderstanding interface {
	Classify(ctx context.Context, req ClassifyRequest) (ClassifyResult, error)
	ExtractFields(ctx context.Context, req ExtractRequest) ([]domain.CandidateField, error)
}

// CaseLocker provides the per-case exclusive section.
type CaseLocker interface {
	Lock(ctx context.Context, caseID string) (unlock func(), err error)
}

// EvidenceProjector mirrors case evidence lineage into an external read model.
type EvidenceProjector interface {
	ProjectCase(ctx context.Context, c *domain.Case, docs []domain.Document, views []domain.CanonicalFieldView) error
}

// PipelineObserver receives pipeline events for metrics.
type PipelineObserver interface {
	ObserveClassification(method domain.ClassificationMethod, docType domain.DocType)
	ObserveCandidates(accepted int, dropped map[string]int)
	ObservePageFailure(reason string)
	ObserveValidation(summary domain.ValidationSummary)
	ObserveCaseStatus(from, to domain.CaseStatus)
}
