package httpadapter

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/kirillkom/trade-evidence/internal/core/domain"
)

var fixedNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type casesFake struct {
	err    error
	opened []domain.OpenCaseInput
	closed []string
}

func (f *casesFake) Open(_ context.Context, in domain.OpenCaseInput) (*domain.Case, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.opened = append(f.opened, in)
	return &domain.Case{ID: "case-1", SupplierID: in.SupplierID, ReferenceNo: in.ReferenceNo, Status: domain.CaseDraft}, nil
}

func (f *casesFake) Get(_ context.Context, caseID string) (*domain.Case, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Case{ID: caseID, Status: domain.CaseReadyL1}, nil
}

func (f *casesFake) Close(_ context.Context, caseID, actor string) (*domain.Case, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.closed = append(f.closed, caseID+":"+actor)
	return &domain.Case{ID: caseID, Status: domain.CaseClosed}, nil
}

type ingestFake struct {
	err      error
	caseID   string
	filename string
	body     string
}

func (f *ingestFake) Upload(_ context.Context, caseID, filename, mimeType string, body io.Reader) (*domain.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "upload", errors.New("empty file"))
	}
	f.caseID, f.filename, f.body = caseID, filename, string(raw)
	return &domain.Document{
		ID:        "doc-1",
		CaseID:    caseID,
		Filename:  filename,
		MimeType:  mimeType,
		Status:    domain.StatusUploaded,
		CreatedAt: fixedNow,
		UpdatedAt: fixedNow,
	}, nil
}

type docsFake struct {
	err error
	doc *domain.Document
}

func (f docsFake) GetByID(_ context.Context, id string) (*domain.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.doc != nil {
		return f.doc, nil
	}
	return &domain.Document{ID: id, Status: domain.StatusExtracted}, nil
}

func (f docsFake) ListByCase(context.Context, string) ([]domain.Document, error) {
	return nil, f.err
}

type pagesFake struct{}

func (pagesFake) SavePages(context.Context, string, []domain.PageText) error { return nil }

func (pagesFake) ListPages(context.Context, string) ([]domain.PageText, error) { return nil, nil }

func (pagesFake) GetPage(_ context.Context, documentID string, page int) (*domain.PageText, error) {
	if page > 1 {
		return nil, domain.WrapError(domain.ErrEvidenceMissing, "get page", errors.New("no such page"))
	}
	return &domain.PageText{DocumentID: documentID, PageNumber: page, Text: "Invoice No. INV-1"}, nil
}

type evaluatorFake struct {
	buyerOnly  bool
	recomputed int
}

func (f *evaluatorFake) Reconcile(context.Context, string) ([]domain.CanonicalFieldView, error) {
	return nil, nil
}

func (f *evaluatorFake) RunValidation(_ context.Context, caseID string) (domain.ValidationSummary, error) {
	return domain.ValidationSummary{CaseID: caseID, TotalRules: 6, Passed: 6}, nil
}

func (f *evaluatorFake) Recompute(_ context.Context, caseID string) (*domain.Case, error) {
	f.recomputed++
	return &domain.Case{ID: caseID}, nil
}

func (f *evaluatorFake) CanonicalView(_ context.Context, caseID string, buyerOnly bool) ([]domain.CanonicalFieldView, error) {
	f.buyerOnly = buyerOnly
	return []domain.CanonicalFieldView{{CaseID: caseID, CanonicalKey: "shipment.invoice_number", Resolution: domain.ResolutionResolved}}, nil
}

func (f *evaluatorFake) Checklist(context.Context, string) ([]domain.ChecklistItem, error) {
	return nil, nil
}

type reviewFake struct {
	err      error
	actor    string
	reason   string
	manual   domain.ManualFieldInput
	statuses []domain.FieldStatus
}

func (f *reviewFake) Approve(_ context.Context, fieldID, actor string) (*domain.ExtractedField, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.actor = actor
	return &domain.ExtractedField{ID: fieldID, Status: domain.FieldApproved, Tier: domain.TierL2}, nil
}

func (f *reviewFake) Reject(_ context.Context, fieldID, reason, actor string) (*domain.ExtractedField, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.actor, f.reason = actor, reason
	return &domain.ExtractedField{ID: fieldID, Status: domain.FieldRejected}, nil
}

func (f *reviewFake) SubmitManualField(_ context.Context, in domain.ManualFieldInput) (*domain.ExtractedField, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.manual = in
	return &domain.ExtractedField{ID: "f-manual", CaseID: in.CaseID, CreatedFrom: domain.SourceManual}, nil
}

func (f *reviewFake) ResolveChecklistItem(_ context.Context, itemID, actor string) (*domain.ChecklistItem, error) {
	f.actor = actor
	return &domain.ChecklistItem{ID: itemID, Status: domain.ChecklistDone}, nil
}

func (f *reviewFake) ReviewQueue(_ context.Context, _ string, status domain.FieldStatus) ([]domain.ExtractedField, error) {
	f.statuses = append(f.statuses, status)
	return nil, nil
}
