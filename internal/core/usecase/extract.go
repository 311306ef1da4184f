package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/trade-evidence/internal/core/domain"
	"github.com/kirillkom/trade-evidence/internal/core/ports"
)

const (
	dropKeyNotInSchema   = "key_not_in_schema"
	dropEmptyValue       = "empty_value"
	dropEmptySnippet     = "empty_snippet"
	dropSnippetNotInPage = "snippet_not_in_page"
)

type ExtractionOrchestrator struct {
	cases    ports.CaseRepository
	pages    ports.PageStore
	fields   ports.FieldRepository
	du       ports.DocumentUnderstanding
	catalog  *domain.Catalog
	observer ports.PipelineObserver

	concurrency int
	callTimeout time.Duration
	now         func() time.Time
	newID       func() string
}

func NewExtractionOrchestrator(
	cases ports.CaseRepository,
	pages ports.PageStore,
	fields ports.FieldRepository,
	du ports.DocumentUnderstanding,
	catalog *domain.Catalog,
	observer ports.PipelineObserver,
	concurrency int,
	callTimeout time.Duration,
) *ExtractionOrchestrator {
	if concurrency <= 0 {
		concurrency = 4
	}
	if callTimeout <= 0 {
		callTimeout = 60 * time.Second
	}
	if observer == nil {
		observer = NoopObserver{}
	}
	return &ExtractionOrchestrator{
		cases:       cases,
		pages:       pages,
		fields:      fields,
		du:          du,
		catalog:     catalog,
		observer:    observer,
		concurrency: concurrency,
		callTimeout: callTimeout,
		now:         func() time.Time { return time.Now().UTC() },
		newID:       uuid.NewString,
	}
}

type pageOutcome struct {
	page     domain.PageText
	ok       bool
	skipped  bool
	timedOut bool
	accepted []domain.CandidateField
}

// Extract runs page-scoped extraction for a classified document and persists
// the surviving candidates. The returned report carries the aggregate status.
func (o *ExtractionOrchestrator) Extract(ctx context.Context, doc *domain.Document) (domain.ExtractionReport, error) {
	report := domain.ExtractionReport{DocumentID: doc.ID, RunID: o.newID()}

	schema, ok := o.catalog.Schema(doc.DocType)
	if !ok {
		return report, withCode(domain.ErrorUnclassifiable,
			domain.WrapError(domain.ErrInvalidInput, "extract fields", fmt.Errorf("no schema for doc_type %q", doc.DocType)))
	}
	pages, err := o.pages.ListPages(ctx, doc.ID)
	if err != nil {
		return report, fmt.Errorf("load page text: %w", err)
	}

	outcomes := make([]pageOutcome, len(pages))
	var (
		mu      sync.Mutex
		dropped = map[string]int{}
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)
	for i, page := range pages {
		outcomes[i].page = page
		if strings.TrimSpace(page.Text) == "" {
			outcomes[i].skipped = true
			continue
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			callCtx, cancel := context.WithTimeout(gctx, o.callTimeout)
			candidates, err := o.du.ExtractFields(callCtx, ports.ExtractRequest{
				DocumentID: doc.ID,
				DocType:    doc.DocType,
				Schema:     schema,
				PageNumber: page.PageNumber,
				PageText:   page.Text,
			})
			timedOut := errors.Is(callCtx.Err(), context.DeadlineExceeded)
			cancel()
			if err != nil {
				outcomes[i].timedOut = timedOut || errors.Is(err, context.DeadlineExceeded)
				reason := "error"
				if outcomes[i].timedOut {
					reason = "timeout"
				}
				o.observer.ObservePageFailure(reason)
				slog.Warn("page_extraction_failed",
					"document_id", doc.ID,
					"page", page.PageNumber,
					"reason", reason,
					"error", err.Error(),
				)
				return nil
			}

			accepted, pageDropped := o.filterCandidates(doc, schema, page, candidates)
			outcomes[i].ok = true
			outcomes[i].accepted = accepted
			mu.Lock()
			for reason, n := range pageDropped {
				dropped[reason] += n
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("extraction cancelled: %w", err)
	}

	c, err := o.cases.GetByID(ctx, doc.CaseID)
	if err != nil {
		return report, fmt.Errorf("load case: %w", err)
	}
	if c.Status == domain.CaseClosed {
		report.Discarded = true
		slog.Info("extraction_discarded", "document_id", doc.ID, "case_id", doc.CaseID, "run_id", report.RunID)
		return report, domain.WrapError(domain.ErrCaseClosed, "extract fields", errors.New("case closed during extraction"))
	}

	attempted, timeouts := 0, 0
	for _, out := range outcomes {
		switch {
		case out.skipped:
			report.PagesSkipped++
		case out.ok:
			attempted++
			report.PagesProcessed++
			n, err := o.persistPage(ctx, doc, report.RunID, out)
			if err != nil {
				return report, err
			}
			report.CandidatesAccepted += n
		default:
			attempted++
			report.PagesFailed++
			if out.timedOut {
				timeouts++
			}
		}
	}
	for _, n := range dropped {
		report.CandidatesDropped += n
	}
	o.observer.ObserveCandidates(report.CandidatesAccepted, dropped)

	if attempted > 0 && report.PagesProcessed == 0 {
		report.Status = domain.StatusError
		if timeouts == report.PagesFailed {
			return report, withCode(domain.ErrorExtractionTimeout, errors.New("all pages timed out"))
		}
		return report, withCode(domain.ErrorExtractionFailed, errors.New("all pages failed"))
	}
	report.Status = domain.StatusExtracted
	return report, nil
}

// filterCandidates enforces the evidence rules: schema keys only, non-empty
// value, and a snippet that is a literal substring of the page text.
func (o *ExtractionOrchestrator) filterCandidates(
	doc *domain.Document,
	schema domain.DocSchema,
	page domain.PageText,
	candidates []domain.CandidateField,
) ([]domain.CandidateField, map[string]int) {
	dropped := map[string]int{}
	best := make(map[string]domain.CandidateField, len(candidates))

	drop := func(cand domain.CandidateField, reason string) {
		dropped[reason]++
		slog.Info("candidate_dropped",
			"document_id", doc.ID,
			"page", page.PageNumber,
			"canonical_key", cand.CanonicalKey,
			"reason", reason,
		)
	}

	for _, cand := range candidates {
		cand.CanonicalKey = strings.TrimSpace(cand.CanonicalKey)
		if !schema.Allows(cand.CanonicalKey) {
			drop(cand, dropKeyNotInSchema)
			continue
		}
		if strings.TrimSpace(cand.Value) == "" {
			drop(cand, dropEmptyValue)
			continue
		}
		snippet := strings.TrimSpace(cand.Snippet)
		if snippet == "" {
			drop(cand, dropEmptySnippet)
			continue
		}
		if !strings.Contains(page.Text, snippet) {
			drop(cand, dropSnippetNotInPage)
			continue
		}
		cand.Snippet = truncateRunes(snippet, maxSnippetRunes)
		cand.Confidence = clampConfidence(cand.Confidence)
		cand.Value, cand.Unit = normalizeValue(o.catalog.Field(cand.CanonicalKey), cand.Value, cand.Unit)

		if prev, seen := best[cand.CanonicalKey]; seen && prev.Confidence >= cand.Confidence {
			continue
		}
		best[cand.CanonicalKey] = cand
	}

	out := make([]domain.CandidateField, 0, len(best))
	for _, cand := range best {
		out = append(out, cand)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CanonicalKey < out[j].CanonicalKey })
	return out, dropped
}

// persistPage replaces the prior unreviewed AI candidates of the page with the new
// ones. Reviewed rows are kept, including rows reviewed while the page was extracted.
func (o *ExtractionOrchestrator) persistPage(ctx context.Context, doc *domain.Document, runID string, out pageOutcome) (int, error) {
	existing, err := o.fields.ListActiveByPage(ctx, doc.ID, out.page.PageNumber)
	if err != nil {
		return 0, fmt.Errorf("list page fields: %w", err)
	}

	reviewed := make(map[string]bool)
	var stale []string
	for _, f := range existing {
		switch {
		case f.Status == domain.FieldApproved || f.Status == domain.FieldRejected:
			spec := o.catalog.Field(f.CanonicalKey)
			reviewed[f.CanonicalKey+"\x00"+normalizedKey(spec, f.Value)] = true
		case f.CreatedFrom == domain.SourceAI:
			stale = append(stale, f.ID)
		}
	}

	now := o.now()
	rows := make([]domain.ExtractedField, 0, len(out.accepted))
	for _, cand := range out.accepted {
		spec := o.catalog.Field(cand.CanonicalKey)
		if reviewed[cand.CanonicalKey+"\x00"+normalizedKey(spec, cand.Value)] {
			continue
		}
		row := domain.ExtractedField{
			ID:              o.newID(),
			CaseID:          doc.CaseID,
			DocumentID:      doc.ID,
			CanonicalKey:    cand.CanonicalKey,
			Value:           cand.Value,
			Unit:            cand.Unit,
			Page:            out.page.PageNumber,
			Snippet:         cand.Snippet,
			Confidence:      domain.Float64Ptr(cand.Confidence),
			Tier:            domain.TierL1,
			Status:          domain.FieldPendingReview,
			Visibility:      domain.VisibilitySupplierOnly,
			CreatedFrom:     domain.SourceAI,
			ExtractionRunID: runID,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := row.ValidateEvidence(); err != nil {
			return 0, err
		}
		rows = append(rows, row)
	}

	if err := o.fields.ReplaceCandidates(ctx, stale, rows, now); err != nil {
		return 0, fmt.Errorf("replace page candidates: %w", err)
	}
	return len(rows), nil
}

func normalizedKey(spec domain.FieldSpec, value string) string {
	if spec.Numeric() {
		if n, ok := parseNumber(strings.TrimSuffix(strings.TrimSpace(value), "%")); ok {
			return formatNumber(n)
		}
	}
	return normalizeText(value)
}
