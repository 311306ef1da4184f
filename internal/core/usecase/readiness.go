package usecase

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/kirillkom/trade-evidence/internal/core/domain"
	"github.com/kirillkom/trade-evidence/internal/core/ports"
)

type ReadinessUseCase struct {
	cases     ports.CaseRepository
	docs      ports.DocumentRepository
	fields    ports.FieldRepository
	checklist ports.ChecklistRepository
	catalog   *domain.Catalog
	now       func() time.Time
}

func NewReadinessUseCase(
	cases ports.CaseRepository,
	docs ports.DocumentRepository,
	fields ports.FieldRepository,
	checklist ports.ChecklistRepository,
	catalog *domain.Catalog,
) *ReadinessUseCase {
	return &ReadinessUseCase{
		cases:     cases,
		docs:      docs,
		fields:    fields,
		checklist: checklist,
		catalog:   catalog,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (uc *ReadinessUseCase) CaseMetrics(ctx context.Context, caseID string) (domain.CaseMetrics, error) {
	c, err := uc.cases.GetByID(ctx, caseID)
	if err != nil {
		return domain.CaseMetrics{}, err
	}
	return uc.caseMetrics(ctx, c)
}

func (uc *ReadinessUseCase) caseMetrics(ctx context.Context, c *domain.Case) (domain.CaseMetrics, error) {
	docs, err := uc.docs.ListByCase(ctx, c.ID)
	if err != nil {
		return domain.CaseMetrics{}, fmt.Errorf("list case documents: %w", err)
	}
	fields, err := uc.fields.ListActiveByCase(ctx, c.ID)
	if err != nil {
		return domain.CaseMetrics{}, fmt.Errorf("list case fields: %w", err)
	}
	items, err := uc.checklist.ListByCase(ctx, c.ID)
	if err != nil {
		return domain.CaseMetrics{}, fmt.Errorf("list checklist: %w", err)
	}

	m := domain.CaseMetrics{
		CaseID:        c.ID,
		SupplierID:    c.SupplierID,
		Status:        c.Status,
		DocumentCount: len(docs),
		ComputedAt:    uc.now(),
	}

	conflicts := 0
	for _, f := range fields {
		if f.Status == domain.FieldRejected {
			continue
		}
		m.FieldCount++
		switch f.Tier {
		case domain.TierL1:
			m.L1Count++
		case domain.TierL2:
			m.L2Count++
		}
		if f.Visibility == domain.VisibilityBuyerVisible {
			m.BuyerVisible++
		}
		if f.Status == domain.FieldConflict {
			conflicts++
		}
	}
	if m.FieldCount > 0 {
		m.ConflictRate = round1(float64(conflicts) / float64(m.FieldCount) * 100)
	}

	views := viewsByKey(ReconcileFields(uc.catalog, c.ID, fields).Views)
	group := uc.catalog.ProductGroup(c.ProductGroup)
	m.RequiredTotal = len(group.RequiredKeys)
	for _, key := range group.RequiredKeys {
		if v, ok := views[key]; ok && v.Resolved() {
			m.RequiredPresent++
		}
	}
	if m.RequiredTotal > 0 {
		m.CoveragePct = round1(float64(m.RequiredPresent) / float64(m.RequiredTotal) * 100)
	}

	for _, item := range items {
		if item.Outstanding() {
			m.ChecklistOpen++
		} else {
			m.ChecklistDone++
		}
	}

	for _, doc := range docs {
		created := doc.CreatedAt
		if m.FirstUploadAt == nil || created.Before(*m.FirstUploadAt) {
			m.FirstUploadAt = &created
		}
	}
	m.DaysToReady = daysSince(m.FirstUploadAt, c.ReadyL1At)
	m.DaysToReadyL2 = daysSince(m.FirstUploadAt, c.ReadyL2At)
	return m, nil
}

// daysSince is nil until both timestamps are known.
func daysSince(from, to *time.Time) *float64 {
	if from == nil || to == nil {
		return nil
	}
	days := round1(to.Sub(*from).Hours() / 24)
	if days < 0 {
		days = 0
	}
	return &days
}

// SupplierMetrics aggregates case metrics over every case of a supplier.
func (uc *ReadinessUseCase) SupplierMetrics(ctx context.Context, supplierID string) (domain.SupplierMetrics, error) {
	cases, err := uc.cases.ListBySupplier(ctx, supplierID)
	if err != nil {
		return domain.SupplierMetrics{}, fmt.Errorf("list supplier cases: %w", err)
	}
	out := domain.SupplierMetrics{SupplierID: supplierID, Cases: []domain.CaseMetrics{}}
	var (
		coverageSum, conflictSum, daysSum, l2Sum float64
		daysCount, l2Count                       int
	)
	for i := range cases {
		m, err := uc.caseMetrics(ctx, &cases[i])
		if err != nil {
			return domain.SupplierMetrics{}, err
		}
		out.Cases = append(out.Cases, m)
		out.CaseCount++
		if m.Status == domain.CaseReadyL1 || m.Status == domain.CaseReadyL2 {
			out.ReadyCount++
		}
		out.L1Count += m.L1Count
		out.L2Count += m.L2Count
		coverageSum += m.CoveragePct
		conflictSum += m.ConflictRate
		if m.DaysToReady != nil {
			daysSum += *m.DaysToReady
			daysCount++
		}
		if m.DaysToReadyL2 != nil {
			l2Sum += *m.DaysToReadyL2
			l2Count++
		}
	}
	if out.CaseCount > 0 {
		out.AvgCoveragePct = round1(coverageSum / float64(out.CaseCount))
		out.AvgConflictRate = round1(conflictSum / float64(out.CaseCount))
	}
	if daysCount > 0 {
		avg := round1(daysSum / float64(daysCount))
		out.AvgDaysToReady = &avg
	}
	if l2Count > 0 {
		avg := round1(l2Sum / float64(l2Count))
		out.AvgDaysToReadyL2 = &avg
	}
	return out, nil
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
