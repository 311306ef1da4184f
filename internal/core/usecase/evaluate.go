package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/trade-evidence/internal/core/domain"
	"github.com/kirillkom/trade-evidence/internal/core/ports"
)

// CaseEvaluatorService owns the per-case unit of work: reconciliation,
// validation and status recomputation all run inside the case lock.
type CaseEvaluatorService struct {
	cases     ports.CaseRepository
	docs      ports.DocumentRepository
	fields    ports.FieldRepository
	checklist ports.ChecklistRepository
	locker    ports.CaseLocker
	catalog   *domain.Catalog
	rules     []Rule
	observer  ports.PipelineObserver
	projector ports.EvidenceProjector

	now   func() time.Time
	newID func() string
}

func NewCaseEvaluatorService(
	cases ports.CaseRepository,
	docs ports.DocumentRepository,
	fields ports.FieldRepository,
	checklist ports.ChecklistRepository,
	locker ports.CaseLocker,
	catalog *domain.Catalog,
	observer ports.PipelineObserver,
	projector ports.EvidenceProjector,
) *CaseEvaluatorService {
	if observer == nil {
		observer = NoopObserver{}
	}
	if projector == nil {
		projector = NoopProjector{}
	}
	return &CaseEvaluatorService{
		cases:     cases,
		docs:      docs,
		fields:    fields,
		checklist: checklist,
		locker:    locker,
		catalog:   catalog,
		rules:     DefaultRules(),
		observer:  observer,
		projector: projector,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
}

// caseState is a consistent read of the case taken inside the lock.
type caseState struct {
	c         *domain.Case
	docs      []domain.Document
	fields    []domain.ExtractedField
	checklist []domain.ChecklistItem
	views     []domain.CanonicalFieldView
}

func (e *CaseEvaluatorService) withCaseLock(ctx context.Context, caseID string, fn func() error) error {
	unlock, err := e.locker.Lock(ctx, caseID)
	if err != nil {
		return fmt.Errorf("acquire case lock: %w", err)
	}
	defer unlock()
	return fn()
}

func (e *CaseEvaluatorService) loadOpenCase(ctx context.Context, caseID string) (*domain.Case, error) {
	c, err := e.cases.GetByID(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c.Status == domain.CaseClosed {
		return nil, domain.WrapError(domain.ErrCaseClosed, "evaluate case", fmt.Errorf("case %s is closed", caseID))
	}
	return c, nil
}

func (e *CaseEvaluatorService) Reconcile(ctx context.Context, caseID string) ([]domain.CanonicalFieldView, error) {
	var views []domain.CanonicalFieldView
	err := e.withCaseLock(ctx, caseID, func() error {
		c, err := e.loadOpenCase(ctx, caseID)
		if err != nil {
			return err
		}
		state, err := e.reconcileLocked(ctx, c)
		if err != nil {
			return err
		}
		views = state.views
		return nil
	})
	return views, err
}

func (e *CaseEvaluatorService) RunValidation(ctx context.Context, caseID string) (domain.ValidationSummary, error) {
	var summary domain.ValidationSummary
	err := e.withCaseLock(ctx, caseID, func() error {
		c, err := e.loadOpenCase(ctx, caseID)
		if err != nil {
			return err
		}
		state, err := e.reconcileLocked(ctx, c)
		if err != nil {
			return err
		}
		summary, err = e.validateLocked(ctx, state)
		if err != nil {
			return err
		}
		return e.statusLocked(ctx, state)
	})
	return summary, err
}

// Recompute runs the full reconcile, validate and status pass. Closed cases are returned unchanged.
func (e *CaseEvaluatorService) Recompute(ctx context.Context, caseID string) (*domain.Case, error) {
	var out *domain.Case
	err := e.withCaseLock(ctx, caseID, func() error {
		c, err := e.recomputeLocked(ctx, caseID)
		out = c
		return err
	})
	return out, err
}

func (e *CaseEvaluatorService) recomputeLocked(ctx context.Context, caseID string) (*domain.Case, error) {
	c, err := e.cases.GetByID(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c.Status == domain.CaseClosed {
		return c, nil
	}
	state, err := e.reconcileLocked(ctx, c)
	if err != nil {
		return nil, err
	}
	if _, err := e.validateLocked(ctx, state); err != nil {
		return nil, err
	}
	if err := e.statusLocked(ctx, state); err != nil {
		return nil, err
	}
	return state.c, nil
}

// refreshStatusLocked re-derives status without running validation.
func (e *CaseEvaluatorService) refreshStatusLocked(ctx context.Context, caseID string) error {
	c, err := e.cases.GetByID(ctx, caseID)
	if err != nil {
		return err
	}
	if c.Status == domain.CaseClosed {
		return nil
	}
	state, err := e.loadState(ctx, c)
	if err != nil {
		return err
	}
	state.views = ReconcileFields(e.catalog, c.ID, state.fields).Views
	return e.statusLocked(ctx, state)
}

func (e *CaseEvaluatorService) loadState(ctx context.Context, c *domain.Case) (*caseState, error) {
	docs, err := e.docs.ListByCase(ctx, c.ID)
	if err != nil {
		return nil, fmt.Errorf("list case documents: %w", err)
	}
	fields, err := e.fields.ListActiveByCase(ctx, c.ID)
	if err != nil {
		return nil, fmt.Errorf("list case fields: %w", err)
	}
	items, err := e.checklist.ListByCase(ctx, c.ID)
	if err != nil {
		return nil, fmt.Errorf("list checklist: %w", err)
	}
	return &caseState{c: c, docs: docs, fields: fields, checklist: items}, nil
}

func (e *CaseEvaluatorService) reconcileLocked(ctx context.Context, c *domain.Case) (*caseState, error) {
	state, err := e.loadState(ctx, c)
	if err != nil {
		return nil, err
	}
	outcome := ReconcileFields(e.catalog, c.ID, state.fields)
	now := e.now()
	if len(outcome.MarkConflict) > 0 {
		if err := e.fields.SetStatus(ctx, outcome.MarkConflict, domain.FieldConflict, now); err != nil {
			return nil, fmt.Errorf("mark conflicting fields: %w", err)
		}
	}
	if len(outcome.ClearConflict) > 0 {
		if err := e.fields.SetStatus(ctx, outcome.ClearConflict, domain.FieldPendingReview, now); err != nil {
			return nil, fmt.Errorf("clear resolved conflicts: %w", err)
		}
	}
	applyStatus(state.fields, outcome.MarkConflict, domain.FieldConflict)
	applyStatus(state.fields, outcome.ClearConflict, domain.FieldPendingReview)
	// Re-derive so view winners carry the persisted statuses.
	state.views = ReconcileFields(e.catalog, c.ID, state.fields).Views
	return state, nil
}

func applyStatus(fields []domain.ExtractedField, ids []string, status domain.FieldStatus) {
	if len(ids) == 0 {
		return
	}
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	for i := range fields {
		if set[fields[i].ID] {
			fields[i].Status = status
		}
	}
}

func (e *CaseEvaluatorService) validateLocked(ctx context.Context, state *caseState) (domain.ValidationSummary, error) {
	now := e.now()
	in := RuleInput{
		Case:      state.c,
		Group:     e.catalog.ProductGroup(state.c.ProductGroup),
		Catalog:   e.catalog,
		Documents: state.docs,
		Fields:    state.fields,
		Views:     viewsByKey(state.views),
		Now:       now,
	}

	summary := domain.ValidationSummary{CaseID: state.c.ID, RanAt: now, Results: []domain.RuleResult{}}
	var findings []Finding
	for _, rule := range e.rules {
		results, ruleFindings := rule.Evaluate(in)
		summary.Results = append(summary.Results, results...)
		findings = append(findings, ruleFindings...)
	}
	for _, r := range summary.Results {
		switch r.Outcome {
		case domain.OutcomePass:
			summary.Passed++
		case domain.OutcomeFail:
			summary.Failed++
		case domain.OutcomeWarn:
			summary.Warnings++
		}
	}
	summary.TotalRules = len(summary.Results)

	delta := syncChecklist(state.c.ID, state.checklist, findings, now, e.newID)
	if len(delta.inserts) > 0 {
		if err := e.checklist.Insert(ctx, delta.inserts); err != nil {
			return summary, fmt.Errorf("insert checklist items: %w", err)
		}
	}
	for i := range delta.updates {
		if err := e.checklist.Update(ctx, &delta.updates[i]); err != nil {
			return summary, fmt.Errorf("update checklist item: %w", err)
		}
	}
	summary.ChecklistItemsCreated = len(delta.inserts)
	summary.ChecklistItemsDone = delta.done
	summary.ChecklistReopened = delta.reopened
	state.checklist = delta.current

	e.observer.ObserveValidation(summary)
	slog.Info("validation_run",
		"case_id", state.c.ID,
		"total_rules", summary.TotalRules,
		"failed", summary.Failed,
		"checklist_created", summary.ChecklistItemsCreated,
		"checklist_done", summary.ChecklistItemsDone,
		"checklist_reopened", summary.ChecklistReopened,
	)
	return summary, nil
}

type checklistSync struct {
	inserts  []domain.ChecklistItem
	updates  []domain.ChecklistItem
	current  []domain.ChecklistItem
	done     int
	reopened int
}

// syncChecklist reconciles stored items with this run's findings by identity
// (type + subject): new findings open items, vanished ones close them, and a
// done item whose condition recurs is reopened. Persisting items are untouched.
func syncChecklist(caseID string, existing []domain.ChecklistItem, findings []Finding, now time.Time, newID func() string) checklistSync {
	var out checklistSync
	byIdentity := make(map[string]int, len(existing))
	current := make([]domain.ChecklistItem, len(existing))
	copy(current, existing)
	for i, item := range current {
		byIdentity[item.IdentityKey()] = i
	}

	seen := make(map[string]bool, len(findings))
	for _, f := range findings {
		identity := domain.ChecklistIdentity(f.Type, f.Subject)
		if seen[identity] {
			continue
		}
		seen[identity] = true

		idx, ok := byIdentity[identity]
		if !ok {
			item := domain.ChecklistItem{
				ID:             newID(),
				CaseID:         caseID,
				Type:           f.Type,
				Severity:       f.Severity,
				Status:         domain.ChecklistOpen,
				RuleKey:        string(f.Type),
				Subject:        f.Subject,
				Title:          f.Title,
				Description:    f.Description,
				RelatedFieldID: f.RelatedFieldID,
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			out.inserts = append(out.inserts, item)
			current = append(current, item)
			continue
		}
		item := current[idx]
		if item.Status != domain.ChecklistDone {
			continue
		}
		item.Status = domain.ChecklistReopened
		item.CompletedAt = nil
		item.Severity = f.Severity
		item.Description = f.Description
		item.RelatedFieldID = f.RelatedFieldID
		item.UpdatedAt = now
		current[idx] = item
		out.updates = append(out.updates, item)
		out.reopened++
	}

	for i, item := range current {
		if seen[item.IdentityKey()] || !item.Outstanding() {
			continue
		}
		completed := now
		item.Status = domain.ChecklistDone
		item.CompletedAt = &completed
		item.UpdatedAt = now
		current[i] = item
		out.updates = append(out.updates, item)
		out.done++
	}
	out.current = current
	return out
}

func (e *CaseEvaluatorService) statusLocked(ctx context.Context, state *caseState) error {
	group := e.catalog.ProductGroup(state.c.ProductGroup)
	prev := state.c.Status
	next := domain.DeriveCaseStatus(domain.CaseSnapshot{
		Current:          prev,
		Documents:        state.docs,
		Checklist:        state.checklist,
		Views:            state.views,
		RequiredKeys:     group.RequiredKeys,
		RequiredDocTypes: group.RequiredDocTypes,
	})

	now := e.now()
	changed := next != prev
	if (next == domain.CaseReadyL1 || next == domain.CaseReadyL2) && state.c.ReadyL1At == nil {
		stamp := now
		state.c.ReadyL1At = &stamp
		changed = true
	}
	if next == domain.CaseReadyL2 && state.c.ReadyL2At == nil {
		stamp := now
		state.c.ReadyL2At = &stamp
		changed = true
	}
	if changed {
		state.c.Status = next
		state.c.UpdatedAt = now
		if err := e.cases.Save(ctx, state.c); err != nil {
			return fmt.Errorf("save case status: %w", err)
		}
	}
	if next != prev {
		e.observer.ObserveCaseStatus(prev, next)
		slog.Info("case_status_changed", "case_id", state.c.ID, "from", string(prev), "to", string(next))
	}

	if err := e.projector.ProjectCase(ctx, state.c, state.docs, state.views); err != nil {
		slog.Warn("evidence_projection_failed", "case_id", state.c.ID, "error", err.Error())
	}
	return nil
}

// CanonicalView is a read-only projection; it does not persist conflict markers.
func (e *CaseEvaluatorService) CanonicalView(ctx context.Context, caseID string, buyerOnly bool) ([]domain.CanonicalFieldView, error) {
	if _, err := e.cases.GetByID(ctx, caseID); err != nil {
		return nil, err
	}
	fields, err := e.fields.ListActiveByCase(ctx, caseID)
	if err != nil {
		return nil, fmt.Errorf("list case fields: %w", err)
	}
	views := ReconcileFields(e.catalog, caseID, fields).Views
	if buyerOnly {
		return domain.BuyerProjection(views), nil
	}
	if views == nil {
		views = []domain.CanonicalFieldView{}
	}
	return views, nil
}

func (e *CaseEvaluatorService) Checklist(ctx context.Context, caseID string) ([]domain.ChecklistItem, error) {
	if _, err := e.cases.GetByID(ctx, caseID); err != nil {
		return nil, err
	}
	items, err := e.checklist.ListByCase(ctx, caseID)
	if err != nil {
		return nil, fmt.Errorf("list checklist: %w", err)
	}
	return items, nil
}

func isCaseClosed(err error) bool {
	return errors.Is(err, domain.ErrCaseClosed)
}
