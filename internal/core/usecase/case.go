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

type CaseService struct {
	cases     ports.CaseRepository
	audit     ports.AuditLog
	evaluator *CaseEvaluatorService
	catalog   *domain.Catalog

	now   func() time.Time
	newID func() string
}

func NewCaseService(cases ports.CaseRepository, audit ports.AuditLog, evaluator *CaseEvaluatorService, catalog *domain.Catalog) *CaseService {
	return &CaseService{
		cases:     cases,
		audit:     audit,
		evaluator: evaluator,
		catalog:   catalog,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
}

func (s *CaseService) Open(ctx context.Context, in domain.OpenCaseInput) (*domain.Case, error) {
	in.SupplierID = strings.TrimSpace(in.SupplierID)
	in.ReferenceNo = strings.TrimSpace(in.ReferenceNo)
	if in.SupplierID == "" || in.ReferenceNo == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "open case", errors.New("supplier_id and reference_no are required"))
	}
	if in.DateFrom != nil && in.DateTo != nil && in.DateTo.Before(*in.DateFrom) {
		return nil, domain.WrapError(domain.ErrInvalidInput, "open case", errors.New("date_to is before date_from"))
	}
	group := strings.TrimSpace(in.ProductGroup)
	if group == "" {
		group = s.catalog.DefaultProductGroup
	}
	if _, ok := s.catalog.ProductGroups[group]; !ok {
		return nil, domain.WrapError(domain.ErrInvalidInput, "open case", fmt.Errorf("unknown product group %q", group))
	}

	now := s.now()
	c := &domain.Case{
		ID:           s.newID(),
		SupplierID:   in.SupplierID,
		BuyerID:      strings.TrimSpace(in.BuyerID),
		ReferenceNo:  in.ReferenceNo,
		ProductGroup: group,
		DateFrom:     in.DateFrom,
		DateTo:       in.DateTo,
		Status:       domain.CaseDraft,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.cases.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("create case: %w", err)
	}
	s.record(ctx, c.ID, in.SupplierID, "case_opened")
	return c, nil
}

func (s *CaseService) Get(ctx context.Context, caseID string) (*domain.Case, error) {
	return s.cases.GetByID(ctx, caseID)
}

// Close is the only way into the closed state. Closing twice is a no-op.
func (s *CaseService) Close(ctx context.Context, caseID, actor string) (*domain.Case, error) {
	var out *domain.Case
	err := s.evaluator.withCaseLock(ctx, caseID, func() error {
		c, err := s.cases.GetByID(ctx, caseID)
		if err != nil {
			return err
		}
		out = c
		if c.Status == domain.CaseClosed {
			return nil
		}
		now := s.now()
		c.Status = domain.CaseClosed
		c.ClosedAt = &now
		c.UpdatedAt = now
		if err := s.cases.Save(ctx, c); err != nil {
			return fmt.Errorf("save closed case: %w", err)
		}
		s.record(ctx, c.ID, actor, "case_closed")
		slog.Info("case_closed", "case_id", c.ID, "actor", actor)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *CaseService) record(ctx context.Context, caseID, actor, action string) {
	err := s.audit.Record(ctx, domain.AuditEntry{
		ID:         s.newID(),
		CaseID:     caseID,
		Actor:      actor,
		Action:     action,
		EntityType: "case",
		EntityID:   caseID,
		CreatedAt:  s.now(),
	})
	if err != nil {
		slog.Warn("audit_record_failed", "action", action, "entity_id", caseID, "error", err.Error())
	}
}
