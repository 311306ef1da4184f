package usecase

import (
	"context"

	"github.com/kirillkom/trade-evidence/internal/core/domain"
)

type NoopObserver struct{}

func (NoopObserver) ObserveClassification(domain.ClassificationMethod, domain.DocType) {}
func (NoopObserver) ObserveCandidates(int, map[string]int)                           {}
func (NoopObserver) ObservePageFailure(string)                                       {}
func (NoopObserver) ObserveValidation(domain.ValidationSummary)                      {}
func (NoopObserver) ObserveCaseStatus(domain.CaseStatus, domain.CaseStatus)          {}

type NoopProjector struct{}

func (NoopProjector) ProjectCase(context.Context, *domain.Case, []domain.Document, []domain.CanonicalFieldView) error {
	return nil
}
