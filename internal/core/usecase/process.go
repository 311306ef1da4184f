package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/trade-evidence/internal/core/domain"
	"github.com/kirillkom/trade-evidence/internal/core/ports"
)

var magicSignatures = map[string][][]byte{
	"application/pdf": {[]byte("%PDF")},
	"image/jpeg":      {{0xff, 0xd8, 0xff}},
	"image/png":       {[]byte("\x89PNG\r\n\x1a\n")},
	"image/tiff":      {[]byte("II*\x00"), []byte("MM\x00*")},
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": {[]byte("PK\x03\x04")},
}

type ProcessDocumentUseCase struct {
	docs       ports.DocumentRepository
	pages      ports.PageStore
	storage    ports.ObjectStorage
	queue      ports.MessageQueue
	renderer   ports.PageRenderer
	classifier *Classifier
	extractor  *ExtractionOrchestrator
	evaluator  *CaseEvaluatorService
	audit      ports.AuditLog
	observer   ports.PipelineObserver

	concurrency int
	now         func() time.Time
	newID       func() string
}

func NewProcessDocumentUseCase(
	docs ports.DocumentRepository,
	pages ports.PageStore,
	storage ports.ObjectStorage,
	queue ports.MessageQueue,
	renderer ports.PageRenderer,
	classifier *Classifier,
	extractor *ExtractionOrchestrator,
	evaluator *CaseEvaluatorService,
	audit ports.AuditLog,
	observer ports.PipelineObserver,
	concurrency int,
) *ProcessDocumentUseCase {
	if concurrency <= 0 {
		concurrency = 2
	}
	if observer == nil {
		observer = NoopObserver{}
	}
	return &ProcessDocumentUseCase{
		docs:        docs,
		pages:       pages,
		storage:     storage,
		queue:       queue,
		renderer:    renderer,
		classifier:  classifier,
		extractor:   extractor,
		evaluator:   evaluator,
		audit:       audit,
		observer:    observer,
		concurrency: concurrency,
		now:         func() time.Time { return time.Now().UTC() },
		newID:       uuid.NewString,
	}
}

// ProcessByID resumes the document pipeline from its current state. Settled
// documents are left alone, so redelivered events are harmless.
func (uc *ProcessDocumentUseCase) ProcessByID(ctx context.Context, documentID string) error {
	doc, err := uc.docs.GetByID(ctx, documentID)
	if err != nil {
		return fmt.Errorf("fetch document by id: %w", err)
	}
	if doc.Status.Settled() {
		return nil
	}

	pipelineErr := uc.runPipeline(ctx, doc)
	switch {
	case pipelineErr == nil:
	case isCaseClosed(pipelineErr):
		slog.Info("document_processing_discarded", "document_id", doc.ID, "case_id", doc.CaseID)
		return nil
	default:
		if failErr := uc.markFailed(context.WithoutCancel(ctx), doc, pipelineErr); failErr != nil {
			return fmt.Errorf("%w; mark failed status: %v", pipelineErr, failErr)
		}
	}

	if _, err := uc.evaluator.Recompute(context.WithoutCancel(ctx), doc.CaseID); err != nil {
		return fmt.Errorf("recompute case: %w", err)
	}
	if pipelineErr != nil && errorCodeOf(pipelineErr).Retryable() {
		return pipelineErr
	}
	return nil
}

func (uc *ProcessDocumentUseCase) runPipeline(ctx context.Context, doc *domain.Document) error {
	if doc.Status == domain.StatusUploaded {
		if err := uc.extractText(ctx, doc); err != nil {
			return err
		}
	}
	if doc.Status == domain.StatusTextExtracted {
		if err := uc.classify(ctx, doc); err != nil {
			return err
		}
	}
	if doc.Status == domain.StatusClassified {
		if _, err := uc.extract(ctx, doc); err != nil {
			return err
		}
	}
	return nil
}

func (uc *ProcessDocumentUseCase) extractText(ctx context.Context, doc *domain.Document) error {
	rc, err := uc.storage.Open(ctx, StorageKey(doc.ContentHash))
	if err != nil {
		return withCode(domain.ErrorServiceUnavailable, fmt.Errorf("open stored document: %w", err))
	}
	data, err := io.ReadAll(rc)
	_ = rc.Close()
	if err != nil {
		return withCode(domain.ErrorServiceUnavailable, fmt.Errorf("read stored document: %w", err))
	}
	if err := checkMagic(doc.MimeType, data); err != nil {
		return err
	}

	pages, err := uc.renderer.RenderPages(ctx, doc, data)
	if err != nil {
		return fmt.Errorf("render pages: %w", err)
	}
	if !hasText(pages) {
		return withCode(domain.ErrorOCRFailed, errors.New("no text recovered from any page"))
	}
	for i := range pages {
		pages[i].DocumentID = doc.ID
		slog.Debug("page_text_extracted", "document_id", doc.ID, "page", pages[i].PageNumber, "method", string(pages[i].Method))
	}
	if err := uc.pages.SavePages(ctx, doc.ID, pages); err != nil {
		return withCode(domain.ErrorServiceUnavailable, fmt.Errorf("save page text: %w", err))
	}
	if err := uc.docs.SetPageCount(ctx, doc.ID, len(pages)); err != nil {
		return withCode(domain.ErrorServiceUnavailable, fmt.Errorf("save page count: %w", err))
	}
	doc.PageCount = len(pages)
	return uc.transition(ctx, doc, domain.StatusTextExtracted)
}

func (uc *ProcessDocumentUseCase) classify(ctx context.Context, doc *domain.Document) error {
	pages, err := uc.pages.ListPages(ctx, doc.ID)
	if err != nil {
		return withCode(domain.ErrorServiceUnavailable, fmt.Errorf("load page text: %w", err))
	}
	cls, err := uc.classifier.Classify(ctx, doc, pages)
	if err != nil {
		return err
	}
	if err := uc.docs.SaveClassification(ctx, doc.ID, cls); err != nil {
		return withCode(domain.ErrorServiceUnavailable, fmt.Errorf("save classification: %w", err))
	}
	doc.DocType = cls.DocType
	doc.ClassificationMethod = cls.Method
	doc.ClassificationConfidence = cls.Confidence
	uc.observer.ObserveClassification(cls.Method, cls.DocType)
	slog.Info("document_classified",
		"document_id", doc.ID,
		"doc_type", string(cls.DocType),
		"method", string(cls.Method),
		"confidence", cls.Confidence,
	)
	return uc.transition(ctx, doc, domain.StatusClassified)
}

func (uc *ProcessDocumentUseCase) extract(ctx context.Context, doc *domain.Document) (domain.ExtractionReport, error) {
	report, err := uc.extractor.Extract(ctx, doc)
	if err != nil {
		return report, err
	}
	slog.Info("document_extracted",
		"document_id", doc.ID,
		"run_id", report.RunID,
		"pages_processed", report.PagesProcessed,
		"pages_failed", report.PagesFailed,
		"candidates_accepted", report.CandidatesAccepted,
		"candidates_dropped", report.CandidatesDropped,
	)
	return report, uc.transition(ctx, doc, domain.StatusExtracted)
}

func (uc *ProcessDocumentUseCase) transition(ctx context.Context, doc *domain.Document, next domain.DocumentStatus) error {
	if !doc.Status.CanTransitionTo(next) {
		return domain.WrapError(domain.ErrInvalidTransition, "document transition", fmt.Errorf("%s -> %s", doc.Status, next))
	}
	if err := uc.docs.UpdateStatus(ctx, doc.ID, next, "", ""); err != nil {
		return withCode(domain.ErrorServiceUnavailable, fmt.Errorf("set status=%s: %w", next, err))
	}
	doc.Status = next
	return nil
}

func (uc *ProcessDocumentUseCase) markFailed(ctx context.Context, doc *domain.Document, processErr error) error {
	code := errorCodeOf(processErr)
	slog.Error("document_processing_failed",
		"document_id", doc.ID,
		"case_id", doc.CaseID,
		"status", string(doc.Status),
		"error_code", string(code),
		"retryable", code.Retryable(),
		"error", processErr.Error(),
	)
	if err := uc.docs.UpdateStatus(ctx, doc.ID, domain.StatusError, code, code.Message()); err != nil {
		return err
	}
	doc.Status = domain.StatusError
	doc.ErrorCode = code
	uc.record(ctx, doc, "system", "document_failed", map[string]string{"error_code": string(code)})
	return nil
}

// Retry moves a document with a retryable error back to uploaded and re-enqueues it.
func (uc *ProcessDocumentUseCase) Retry(ctx context.Context, documentID, actor string) (*domain.Document, error) {
	doc, err := uc.docs.GetByID(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if _, err := uc.evaluator.loadOpenCase(ctx, doc.CaseID); err != nil {
		return nil, err
	}
	if !doc.Retryable() {
		return nil, domain.WrapError(domain.ErrInvalidTransition, "retry document",
			fmt.Errorf("document is %s with code %q", doc.Status, doc.ErrorCode))
	}
	if err := uc.docs.UpdateStatus(ctx, doc.ID, domain.StatusUploaded, "", ""); err != nil {
		return nil, fmt.Errorf("reset document status: %w", err)
	}
	doc.Status = domain.StatusUploaded
	doc.ErrorCode = ""
	doc.ErrorMessage = ""
	uc.record(ctx, doc, actor, "document_retried", nil)

	if err := uc.queue.PublishDocumentUploaded(ctx, doc.ID); err != nil {
		return nil, fmt.Errorf("publish retry event: %w", err)
	}
	return doc, nil
}

// Reclassify sets the doc type manually and re-enqueues extraction.
func (uc *ProcessDocumentUseCase) Reclassify(ctx context.Context, documentID string, docType domain.DocType, actor string) (*domain.Document, error) {
	if _, ok := domain.ParseDocType(string(docType)); !ok {
		return nil, domain.WrapError(domain.ErrInvalidInput, "reclassify document", fmt.Errorf("unknown doc_type %q", docType))
	}
	doc, err := uc.docs.GetByID(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if _, err := uc.evaluator.loadOpenCase(ctx, doc.CaseID); err != nil {
		return nil, err
	}
	if !doc.Status.CanTransitionTo(domain.StatusClassified) {
		return nil, domain.WrapError(domain.ErrInvalidTransition, "reclassify document", fmt.Errorf("document is %s", doc.Status))
	}
	pages, err := uc.pages.ListPages(ctx, doc.ID)
	if err != nil {
		return nil, fmt.Errorf("load page text: %w", err)
	}
	if len(pages) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidTransition, "reclassify document", errors.New("document has no extracted text"))
	}

	cls := domain.Classification{DocType: docType, Method: domain.MethodManual, Confidence: 1}
	if err := uc.docs.SaveClassification(ctx, doc.ID, cls); err != nil {
		return nil, fmt.Errorf("save classification: %w", err)
	}
	if err := uc.docs.UpdateStatus(ctx, doc.ID, domain.StatusClassified, "", ""); err != nil {
		return nil, fmt.Errorf("set status=classified: %w", err)
	}
	doc.DocType = cls.DocType
	doc.ClassificationMethod = cls.Method
	doc.ClassificationConfidence = cls.Confidence
	doc.Status = domain.StatusClassified
	doc.ErrorCode = ""
	doc.ErrorMessage = ""
	uc.observer.ObserveClassification(cls.Method, cls.DocType)
	uc.record(ctx, doc, actor, "document_reclassified", map[string]string{"doc_type": string(docType)})

	if err := uc.queue.PublishDocumentUploaded(ctx, doc.ID); err != nil {
		return nil, fmt.Errorf("publish reclassify event: %w", err)
	}
	return doc, nil
}

// Reextract re-runs extraction synchronously. Prior unreviewed candidates of
// each page are superseded, never duplicated.
func (uc *ProcessDocumentUseCase) Reextract(ctx context.Context, documentID string) (domain.ExtractionReport, error) {
	doc, err := uc.docs.GetByID(ctx, documentID)
	if err != nil {
		return domain.ExtractionReport{}, err
	}
	if _, err := uc.evaluator.loadOpenCase(ctx, doc.CaseID); err != nil {
		return domain.ExtractionReport{}, err
	}
	if doc.Status != domain.StatusExtracted && doc.Status != domain.StatusClassified {
		return domain.ExtractionReport{}, domain.WrapError(domain.ErrInvalidTransition, "re-extract document",
			fmt.Errorf("document is %s", doc.Status))
	}

	report, err := uc.extract(ctx, doc)
	if err != nil {
		if isCaseClosed(err) {
			return report, err
		}
		if failErr := uc.markFailed(context.WithoutCancel(ctx), doc, err); failErr != nil {
			return report, fmt.Errorf("%w; mark failed status: %v", err, failErr)
		}
		report.Status = domain.StatusError
	}
	if _, recomputeErr := uc.evaluator.Recompute(context.WithoutCancel(ctx), doc.CaseID); recomputeErr != nil {
		return report, fmt.Errorf("recompute case: %w", recomputeErr)
	}
	return report, nil
}

// ProcessCase drives every unsettled or retryable document of a case. It
// stops starting new documents once ctx is cancelled and reports partial success.
func (uc *ProcessDocumentUseCase) ProcessCase(ctx context.Context, caseID string) (domain.BatchResult, error) {
	result := domain.BatchResult{CaseID: caseID}
	if _, err := uc.evaluator.loadOpenCase(ctx, caseID); err != nil {
		return result, err
	}
	docs, err := uc.docs.ListByCase(ctx, caseID)
	if err != nil {
		return result, fmt.Errorf("list case documents: %w", err)
	}

	var mu sync.Mutex
	count := func(docID string, errored bool) {
		mu.Lock()
		defer mu.Unlock()
		if errored {
			result.Errored++
			result.Failed = append(result.Failed, docID)
			return
		}
		result.Processed++
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(uc.concurrency)
	for _, doc := range docs {
		switch {
		case doc.Status == domain.StatusExtracted:
			result.Skipped++
			continue
		case doc.Status == domain.StatusError && !doc.Retryable():
			result.Skipped++
			continue
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				mu.Lock()
				result.Skipped++
				mu.Unlock()
				return nil
			}
			if doc.Status == domain.StatusError {
				if err := uc.docs.UpdateStatus(gctx, doc.ID, domain.StatusUploaded, "", ""); err != nil {
					count(doc.ID, true)
					return nil
				}
				uc.record(gctx, &doc, "batch", "document_retried", nil)
			}
			if err := uc.ProcessByID(gctx, doc.ID); err != nil {
				slog.Warn("batch_document_failed", "case_id", caseID, "document_id", doc.ID, "error", err.Error())
			}
			after, err := uc.docs.GetByID(context.WithoutCancel(gctx), doc.ID)
			count(doc.ID, err != nil || after.Status == domain.StatusError)
			return nil
		})
	}
	_ = g.Wait()

	slog.Info("case_batch_processed",
		"case_id", caseID,
		"processed", result.Processed,
		"errored", result.Errored,
		"skipped", result.Skipped,
	)
	return result, nil
}

func (uc *ProcessDocumentUseCase) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	return uc.docs.GetByID(ctx, id)
}

func (uc *ProcessDocumentUseCase) ListByCase(ctx context.Context, caseID string) ([]domain.Document, error) {
	return uc.docs.ListByCase(ctx, caseID)
}

func (uc *ProcessDocumentUseCase) record(ctx context.Context, doc *domain.Document, actor, action string, details map[string]string) {
	if uc.audit == nil {
		return
	}
	err := uc.audit.Record(ctx, domain.AuditEntry{
		ID:         uc.newID(),
		CaseID:     doc.CaseID,
		Actor:      actor,
		Action:     action,
		EntityType: "document",
		EntityID:   doc.ID,
		Details:    details,
		CreatedAt:  uc.now(),
	})
	if err != nil {
		slog.Warn("audit_record_failed", "action", action, "entity_id", doc.ID, "error", err.Error())
	}
}

// checkMagic rejects content that does not match the declared mime type.
// Unknown binary types pass; text types must be valid UTF-8.
func checkMagic(mimeType string, data []byte) error {
	if len(data) == 0 {
		return domain.WrapError(domain.ErrUnreadableDocument, "check content", errors.New("empty content"))
	}
	if strings.HasPrefix(mimeType, "text/") {
		head := data
		if len(head) > 4096 {
			head = head[:4096]
		}
		// A multi-byte rune may straddle the cut.
		for i := 0; i < utf8.UTFMax && len(head) < len(data) && !utf8.Valid(head); i++ {
			head = head[:len(head)-1]
		}
		if !utf8.Valid(head) {
			return domain.WrapError(domain.ErrUnsupportedFile, "check content", errors.New("text is not valid utf-8"))
		}
		return nil
	}
	signatures, ok := magicSignatures[mimeType]
	if !ok {
		return nil
	}
	for _, sig := range signatures {
		if bytes.HasPrefix(data, sig) {
			return nil
		}
	}
	return domain.WrapError(domain.ErrUnsupportedFile, "check content", fmt.Errorf("content does not match %s", mimeType))
}

func hasText(pages []domain.PageText) bool {
	for _, p := range pages {
		if strings.TrimSpace(p.Text) != "" {
			return true
		}
	}
	return false
}
