package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/trade-evidence/internal/core/domain"
	"github.com/kirillkom/trade-evidence/internal/core/ports"
)

type ReviewUseCase struct {
	cases     ports.CaseRepository
	docs      ports.DocumentRepository
	pages     ports.PageStore
	fields    ports.FieldRepository
	checklist ports.ChecklistRepository
	audit     ports.AuditLog
	evaluator *CaseEvaluatorService
	catalog   *domain.Catalog
	minTier   domain.Tier

	now   func() time.Time
	newID func() string
}

func NewReviewUseCase(
	cases ports.CaseRepository,
	docs ports.DocumentRepository,
	pages ports.PageStore,
	fields ports.FieldRepository,
	checklist ports.ChecklistRepository,
	audit ports.AuditLog,
	evaluator *CaseEvaluatorService,
	catalog *domain.Catalog,
	buyerMinTier domain.Tier,
) *ReviewUseCase {
	if buyerMinTier != domain.TierL1 && buyerMinTier != domain.TierL2 {
		buyerMinTier = domain.TierL2
	}
	return &ReviewUseCase{
		cases:     cases,
		docs:      docs,
		pages:     pages,
		fields:    fields,
		checklist: checklist,
		audit:     audit,
		evaluator: evaluator,
		catalog:   catalog,
		minTier:   buyerMinTier,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
}

// Approve promotes a field to L2. The case is re-evaluated inside the same lock.
func (uc *ReviewUseCase) Approve(ctx context.Context, fieldID, actor string) (*domain.ExtractedField, error) {
	var out *domain.ExtractedField
	err := uc.reviewField(ctx, fieldID, func(f *domain.ExtractedField) error {
		switch f.Status {
		case domain.FieldRejected:
			return domain.WrapError(domain.ErrInvalidTransition, "approve field", errors.New("rejected fields cannot be approved"))
		case domain.FieldApproved:
			out = f
			return errNoChange
		}
		now := uc.now()
		f.Status = domain.FieldApproved
		f.Tier = domain.TierL2
		f.Visibility = domain.VisibilitySupplierOnly
		if f.Tier.Meets(uc.minTier) {
			f.Visibility = domain.VisibilityBuyerVisible
		}
		f.ReviewedBy = actor
		f.ReviewedAt = &now
		f.UpdatedAt = now
		out = f
		return uc.recordReview(ctx, f, "field_approved", actor, map[string]string{"value": f.Value})
	})
	return out, err
}

// Reject is terminal: the field never takes part in reconciliation again.
func (uc *ReviewUseCase) Reject(ctx context.Context, fieldID, reason, actor string) (*domain.ExtractedField, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "reject field", errors.New("reason is required"))
	}
	var out *domain.ExtractedField
	err := uc.reviewField(ctx, fieldID, func(f *domain.ExtractedField) error {
		if f.Status == domain.FieldRejected {
			return domain.WrapError(domain.ErrInvalidTransition, "reject field", errors.New("field already rejected"))
		}
		now := uc.now()
		f.Status = domain.FieldRejected
		f.Visibility = domain.VisibilitySupplierOnly
		f.RejectionReason = reason
		f.ReviewedBy = actor
		f.ReviewedAt = &now
		f.UpdatedAt = now
		out = f
		return uc.recordReview(ctx, f, "field_rejected", actor, map[string]string{"reason": reason})
	})
	return out, err
}

var errNoChange = errors.New("no change")

func (uc *ReviewUseCase) reviewField(ctx context.Context, fieldID string, mutate func(*domain.ExtractedField) error) error {
	f, err := uc.fields.GetByID(ctx, fieldID)
	if err != nil {
		return err
	}
	return uc.evaluator.withCaseLock(ctx, f.CaseID, func() error {
		if _, err := uc.evaluator.loadOpenCase(ctx, f.CaseID); err != nil {
			return err
		}
		// Re-read under the lock.
		current, err := uc.fields.GetByID(ctx, fieldID)
		if err != nil {
			return err
		}
		if current.SupersededAt != nil {
			return domain.WrapError(domain.ErrInvalidTransition, "review field", errors.New("field was superseded by a newer extraction"))
		}
		if err := mutate(current); err != nil {
			if errors.Is(err, errNoChange) {
				return nil
			}
			return err
		}
		_, err = uc.evaluator.recomputeLocked(ctx, f.CaseID)
		return err
	})
}

func (uc *ReviewUseCase) recordReview(ctx context.Context, f *domain.ExtractedField, action, actor string, details map[string]string) error {
	if err := uc.fields.SaveReview(ctx, f); err != nil {
		return fmt.Errorf("save review: %w", err)
	}
	uc.record(ctx, f.CaseID, actor, action, "extracted_field", f.ID, details)
	slog.Info(action, "case_id", f.CaseID, "field_id", f.ID, "canonical_key", f.CanonicalKey, "actor", actor)
	return nil
}

func (uc *ReviewUseCase) record(ctx context.Context, caseID, actor, action, entityType, entityID string, details map[string]string) {
	entry := domain.AuditEntry{
		ID:         uc.newID(),
		CaseID:     caseID,
		Actor:      actor,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Details:    details,
		CreatedAt:  uc.now(),
	}
	if err := uc.audit.Record(ctx, entry); err != nil {
		slog.Warn("audit_record_failed", "action", action, "entity_id", entityID, "error", err.Error())
	}
}

// SubmitManualField adds a reviewer-entered L1 value. The snippet must still
// be a literal substring of the cited page.
func (uc *ReviewUseCase) SubmitManualField(ctx context.Context, in domain.ManualFieldInput) (*domain.ExtractedField, error) {
	in.CanonicalKey = strings.TrimSpace(in.CanonicalKey)
	in.Snippet = strings.TrimSpace(in.Snippet)
	if in.CanonicalKey == "" || strings.TrimSpace(in.Value) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "submit manual field", errors.New("canonical_key and value are required"))
	}

	doc, err := uc.docs.GetByID(ctx, in.DocumentID)
	if err != nil {
		return nil, err
	}
	if in.CaseID != "" && in.CaseID != doc.CaseID {
		return nil, domain.WrapError(domain.ErrInvalidInput, "submit manual field", errors.New("document does not belong to case"))
	}
	if schema, ok := uc.catalog.Schema(doc.DocType); ok && !schema.Allows(in.CanonicalKey) {
		return nil, domain.WrapError(domain.ErrInvalidInput, "submit manual field",
			fmt.Errorf("%s is not a %s field", in.CanonicalKey, doc.DocType))
	}

	candidate := domain.ExtractedField{
		CaseID:       doc.CaseID,
		DocumentID:   doc.ID,
		CanonicalKey: in.CanonicalKey,
		Page:         in.Page,
		Snippet:      truncateRunes(in.Snippet, maxSnippetRunes),
		CreatedFrom:  domain.SourceManual,
	}
	if err := candidate.ValidateEvidence(); err != nil {
		return nil, err
	}
	page, err := uc.pages.GetPage(ctx, doc.ID, in.Page)
	if err != nil {
		return nil, err
	}
	if !strings.Contains(page.Text, in.Snippet) {
		return nil, domain.WrapError(domain.ErrEvidenceMissing, "submit manual field", errors.New("snippet not found on page"))
	}

	var out *domain.ExtractedField
	err = uc.evaluator.withCaseLock(ctx, doc.CaseID, func() error {
		if _, err := uc.evaluator.loadOpenCase(ctx, doc.CaseID); err != nil {
			return err
		}
		now := uc.now()
		f := candidate
		f.ID = uc.newID()
		f.Value, f.Unit = normalizeValue(uc.catalog.Field(in.CanonicalKey), in.Value, in.Unit)
		f.Confidence = domain.Float64Ptr(1)
		f.Tier = domain.TierL1
		f.Status = domain.FieldPendingReview
		f.Visibility = domain.VisibilitySupplierOnly
		f.CreatedAt = now
		f.UpdatedAt = now
		if err := uc.fields.Insert(ctx, []domain.ExtractedField{f}); err != nil {
			return fmt.Errorf("insert manual field: %w", err)
		}
		uc.record(ctx, f.CaseID, in.Actor, "manual_field_submitted", "extracted_field", f.ID, map[string]string{"canonical_key": f.CanonicalKey})
		out = &f
		_, err := uc.evaluator.recomputeLocked(ctx, doc.CaseID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ResolveChecklistItem marks an item done. The next validation run reopens it
// if the condition still holds.
func (uc *ReviewUseCase) ResolveChecklistItem(ctx context.Context, itemID, actor string) (*domain.ChecklistItem, error) {
	item, err := uc.checklist.GetByID(ctx, itemID)
	if err != nil {
		return nil, err
	}
	err = uc.evaluator.withCaseLock(ctx, item.CaseID, func() error {
		if _, err := uc.evaluator.loadOpenCase(ctx, item.CaseID); err != nil {
			return err
		}
		current, err := uc.checklist.GetByID(ctx, itemID)
		if err != nil {
			return err
		}
		if current.Status == domain.ChecklistDone {
			item = current
			return nil
		}
		now := uc.now()
		current.Status = domain.ChecklistDone
		current.CompletedAt = &now
		current.UpdatedAt = now
		if err := uc.checklist.Update(ctx, current); err != nil {
			return fmt.Errorf("update checklist item: %w", err)
		}
		uc.record(ctx, current.CaseID, actor, "checklist_item_resolved", "checklist_item", current.ID, map[string]string{"type": string(current.Type)})
		item = current
		return uc.evaluator.refreshStatusLocked(ctx, current.CaseID)
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// ReviewQueue lists fields awaiting review, or fields in the given status.
func (uc *ReviewUseCase) ReviewQueue(ctx context.Context, caseID string, status domain.FieldStatus) ([]domain.ExtractedField, error) {
	if _, err := uc.cases.GetByID(ctx, caseID); err != nil {
		return nil, err
	}
	fields, err := uc.fields.ListActiveByCase(ctx, caseID)
	if err != nil {
		return nil, fmt.Errorf("list case fields: %w", err)
	}
	out := make([]domain.ExtractedField, 0, len(fields))
	for _, f := range fields {
		switch {
		case status == "" && (f.Status == domain.FieldPendingReview || f.Status == domain.FieldConflict):
			out = append(out, f)
		case status != "" && f.Status == status:
			out = append(out, f)
		}
	}
	return out, nil
}
