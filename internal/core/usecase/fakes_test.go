package usecase

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/kirillkom/trade-evidence/internal/catalog"
	"github.com/kirillkom/trade-evidence/internal/core/domain"
	"github.com/kirillkom/trade-evidence/internal/core/ports"
)

type casesFake struct {
	mu    sync.Mutex
	items map[string]domain.Case
	saves int
}

func newCasesFake(cases ...domain.Case) *casesFake {
	f := &casesFake{items: map[string]domain.Case{}}
	for _, c := range cases {
		f.items[c.ID] = c
	}
	return f
}

func (f *casesFake) Create(_ context.Context, c *domain.Case) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[c.ID] = *c
	return nil
}

func (f *casesFake) GetByID(_ context.Context, id string) (*domain.Case, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.items[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrCaseNotFound, "get case", errors.New(id))
	}
	return &c, nil
}

func (f *casesFake) Save(_ context.Context, c *domain.Case) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[c.ID] = *c
	f.saves++
	return nil
}

func (f *casesFake) ListBySupplier(_ context.Context, supplierID string) ([]domain.Case, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Case
	for _, c := range f.items {
		if c.SupplierID == supplierID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *casesFake) status(id string) domain.CaseStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.items[id].Status
}

type docsFake struct {
	mu    sync.Mutex
	items map[string]domain.Document
	order []string
}

func newDocsFake(docs ...domain.Document) *docsFake {
	f := &docsFake{items: map[string]domain.Document{}}
	for _, d := range docs {
		f.items[d.ID] = d
		f.order = append(f.order, d.ID)
	}
	return f
}

func (f *docsFake) Create(_ context.Context, doc *domain.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[doc.ID] = *doc
	f.order = append(f.order, doc.ID)
	return nil
}

func (f *docsFake) GetByID(_ context.Context, id string) (*domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.items[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", errors.New(id))
	}
	return &d, nil
}

func (f *docsFake) FindByHash(_ context.Context, caseID, hash string) (*domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range f.order {
		d := f.items[id]
		if d.CaseID == caseID && d.ContentHash == hash {
			return &d, nil
		}
	}
	return nil, domain.WrapError(domain.ErrDocumentNotFound, "find by hash", errors.New(hash))
}

func (f *docsFake) ListByCase(_ context.Context, caseID string) ([]domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Document
	for _, id := range f.order {
		if d := f.items[id]; d.CaseID == caseID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *docsFake) UpdateStatus(_ context.Context, id string, status domain.DocumentStatus, code domain.ErrorCode, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.items[id]
	if !ok {
		return domain.WrapError(domain.ErrDocumentNotFound, "update status", errors.New(id))
	}
	d.Status = status
	d.ErrorCode = code
	d.ErrorMessage = message
	f.items[id] = d
	return nil
}

func (f *docsFake) SaveClassification(_ context.Context, id string, cls domain.Classification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := f.items[id]
	d.DocType = cls.DocType
	d.ClassificationMethod = cls.Method
	d.ClassificationConfidence = cls.Confidence
	f.items[id] = d
	return nil
}

func (f *docsFake) SetPageCount(_ context.Context, id string, pages int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := f.items[id]
	d.PageCount = pages
	f.items[id] = d
	return nil
}

func (f *docsFake) get(id string) domain.Document {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.items[id]
}

type pagesFake struct {
	mu    sync.Mutex
	pages map[string][]domain.PageText
}

func newPagesFake() *pagesFake {
	return &pagesFake{pages: map[string][]domain.PageText{}}
}

func (f *pagesFake) SavePages(_ context.Context, documentID string, pages []domain.PageText) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[documentID] = append([]domain.PageText(nil), pages...)
	return nil
}

func (f *pagesFake) ListPages(_ context.Context, documentID string) ([]domain.PageText, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.PageText(nil), f.pages[documentID]...), nil
}

func (f *pagesFake) GetPage(_ context.Context, documentID string, page int) (*domain.PageText, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.pages[documentID] {
		if p.PageNumber == page {
			return &p, nil
		}
	}
	return nil, domain.WrapError(domain.ErrInvalidInput, "get page", errors.New("page not found"))
}

type fieldsFake struct {
	mu         sync.Mutex
	items      []domain.ExtractedField
	replaceErr error
}

func (f *fieldsFake) Insert(_ context.Context, fields []domain.ExtractedField) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append(f.items, fields...)
	return nil
}

func (f *fieldsFake) GetByID(_ context.Context, id string) (*domain.ExtractedField, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, field := range f.items {
		if field.ID == id {
			return &field, nil
		}
	}
	return nil, domain.WrapError(domain.ErrFieldNotFound, "get field", errors.New(id))
}

func (f *fieldsFake) ListActiveByCase(_ context.Context, caseID string) ([]domain.ExtractedField, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.ExtractedField
	for _, field := range f.items {
		if field.CaseID == caseID && field.SupersededAt == nil {
			out = append(out, field)
		}
	}
	return out, nil
}

func (f *fieldsFake) ListActiveByPage(_ context.Context, documentID string, page int) ([]domain.ExtractedField, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.ExtractedField
	for _, field := range f.items {
		if field.DocumentID == documentID && field.Page == page && field.SupersededAt == nil {
			out = append(out, field)
		}
	}
	return out, nil
}

func (f *fieldsFake) ReplaceCandidates(_ context.Context, stale []string, fields []domain.ExtractedField, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.replaceErr != nil {
		return f.replaceErr
	}
	for _, id := range stale {
		for i := range f.items {
			item := &f.items[i]
			if item.ID != id || item.SupersededAt != nil {
				continue
			}
			if item.Status != domain.FieldPendingReview && item.Status != domain.FieldConflict {
				continue
			}
			stamp := at
			item.SupersededAt = &stamp
		}
	}
	f.items = append(f.items, fields...)
	return nil
}

func (f *fieldsFake) SetStatus(_ context.Context, ids []string, status domain.FieldStatus, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		for i := range f.items {
			if f.items[i].ID == id {
				f.items[i].Status = status
				f.items[i].UpdatedAt = at
			}
		}
	}
	return nil
}

func (f *fieldsFake) SaveReview(_ context.Context, field *domain.ExtractedField) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.items {
		if f.items[i].ID == field.ID {
			f.items[i] = *field
			return nil
		}
	}
	return domain.WrapError(domain.ErrFieldNotFound, "save review", errors.New(field.ID))
}

func (f *fieldsFake) active() []domain.ExtractedField {
	out, _ := f.ListActiveByCase(context.Background(), "case-1")
	return out
}

type checklistFake struct {
	mu    sync.Mutex
	items []domain.ChecklistItem
}

func (f *checklistFake) ListByCase(_ context.Context, caseID string) ([]domain.ChecklistItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.ChecklistItem
	for _, item := range f.items {
		if item.CaseID == caseID {
			out = append(out, item)
		}
	}
	return out, nil
}

func (f *checklistFake) GetByID(_ context.Context, id string) (*domain.ChecklistItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, item := range f.items {
		if item.ID == id {
			return &item, nil
		}
	}
	return nil, domain.WrapError(domain.ErrChecklistItemNotFound, "get checklist item", errors.New(id))
}

func (f *checklistFake) Insert(_ context.Context, items []domain.ChecklistItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append(f.items, items...)
	return nil
}

func (f *checklistFake) Update(_ context.Context, item *domain.ChecklistItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.items {
		if f.items[i].ID == item.ID {
			f.items[i] = *item
			return nil
		}
	}
	return domain.WrapError(domain.ErrChecklistItemNotFound, "update checklist item", errors.New(item.ID))
}

func (f *checklistFake) find(t domain.ChecklistType, subject string) (domain.ChecklistItem, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, item := range f.items {
		if item.Type == t && item.Subject == subject {
			return item, true
		}
	}
	return domain.ChecklistItem{}, false
}

type auditFake struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func (f *auditFake) Record(_ context.Context, entry domain.AuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entry)
	return nil
}

func (f *auditFake) actions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.entries))
	for _, e := range f.entries {
		out = append(out, e.Action)
	}
	return out
}

type lockerFake struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
	calls int
}

func (f *lockerFake) Lock(_ context.Context, caseID string) (func(), error) {
	f.mu.Lock()
	if f.locks == nil {
		f.locks = map[string]*sync.Mutex{}
	}
	m, ok := f.locks[caseID]
	if !ok {
		m = &sync.Mutex{}
		f.locks[caseID] = m
	}
	f.calls++
	f.mu.Unlock()
	m.Lock()
	return m.Unlock, nil
}

type storageFake struct {
	mu      sync.Mutex
	objects map[string][]byte
	saveErr error
}

func (f *storageFake) Save(_ context.Context, key string, data io.Reader) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	body, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.objects == nil {
		f.objects = map[string][]byte{}
	}
	f.objects[key] = body
	return nil
}

func (f *storageFake) Open(_ context.Context, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body, ok := f.objects[key]
	if !ok {
		return nil, errors.New("object not found")
	}
	return io.NopCloser(bytes.NewReader(body)), nil
}

type queueFake struct {
	mu         sync.Mutex
	published  []string
	publishErr error
}

func (f *queueFake) PublishDocumentUploaded(_ context.Context, documentID string) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, documentID)
	return nil
}

func (f *queueFake) SubscribeDocumentUploaded(context.Context, func(context.Context, string) error) error {
	return nil
}

type rendererFake struct {
	pages []domain.PageText
	err   error
}

func (f *rendererFake) RenderPages(context.Context, *domain.Document, []byte) ([]domain.PageText, error) {
	if f.err != nil {
		return nil, f.err
	}
	return append([]domain.PageText(nil), f.pages...), nil
}

// duFake answers extraction per page number. Unknown pages return no candidates.
type duFake struct {
	mu           sync.Mutex
	classify     ports.ClassifyResult
	classifyErr  error
	byPage       map[int][]domain.CandidateField
	pageErr      map[int]error
	block        bool
	classifyHits int
	extractHits  int
}

func (f *duFake) Classify(context.Context, ports.ClassifyRequest) (ports.ClassifyResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.classifyHits++
	return f.classify, f.classifyErr
}

func (f *duFake) ExtractFields(ctx context.Context, req ports.ExtractRequest) ([]domain.CandidateField, error) {
	f.mu.Lock()
	f.extractHits++
	err := f.pageErr[req.PageNumber]
	out := append([]domain.CandidateField(nil), f.byPage[req.PageNumber]...)
	block := f.block
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

type observerFake struct {
	NoopObserver
	mu       sync.Mutex
	dropped  map[string]int
	failures []string
	statuses []domain.CaseStatus
}

func (f *observerFake) ObserveCandidates(_ int, dropped map[string]int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dropped == nil {
		f.dropped = map[string]int{}
	}
	for k, v := range dropped {
		f.dropped[k] += v
	}
}

func (f *observerFake) ObservePageFailure(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, reason)
}

func (f *observerFake) ObserveCaseStatus(_, to domain.CaseStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, to)
}

func mustCatalog(t *testing.T) *domain.Catalog {
	t.Helper()
	cat, err := catalog.Default()
	if err != nil {
		t.Fatalf("load default catalog: %v", err)
	}
	return cat
}

func sequentialIDs(prefix string) func() string {
	var (
		mu sync.Mutex
		n  int
	)
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return prefix + "-" + strconv.Itoa(n)
	}
}

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

// testEnv wires every use case over shared in-memory fakes.
type testEnv struct {
	catalog   *domain.Catalog
	cases     *casesFake
	docs      *docsFake
	pages     *pagesFake
	fields    *fieldsFake
	checklist *checklistFake
	audit     *auditFake
	locker    *lockerFake
	storage   *storageFake
	queue     *queueFake
	renderer  *rendererFake
	du        *duFake
	observer  *observerFake

	evaluator *CaseEvaluatorService
	extractor *ExtractionOrchestrator
	process   *ProcessDocumentUseCase
	review    *ReviewUseCase
	ingest    *IngestDocumentUseCase
	caseSvc   *CaseService
	readiness *ReadinessUseCase
}

func newTestEnv(t *testing.T, c domain.Case) *testEnv {
	t.Helper()
	env := &testEnv{
		catalog:   mustCatalog(t),
		cases:     newCasesFake(c),
		docs:      newDocsFake(),
		pages:     newPagesFake(),
		fields:    &fieldsFake{},
		checklist: &checklistFake{},
		audit:     &auditFake{},
		locker:    &lockerFake{},
		storage:   &storageFake{},
		queue:     &queueFake{},
		renderer:  &rendererFake{},
		du:        &duFake{byPage: map[int][]domain.CandidateField{}, pageErr: map[int]error{}},
		observer:  &observerFake{},
	}
	now := func() time.Time { return testNow }

	env.evaluator = NewCaseEvaluatorService(env.cases, env.docs, env.fields, env.checklist, env.locker, env.catalog, env.observer, nil)
	env.evaluator.now = now
	env.evaluator.newID = sequentialIDs("item")

	env.extractor = NewExtractionOrchestrator(env.cases, env.pages, env.fields, env.du, env.catalog, env.observer, 2, time.Second)
	env.extractor.now = now
	env.extractor.newID = sequentialIDs("field")

	classifier := NewClassifier(env.catalog, env.du, 2)
	env.process = NewProcessDocumentUseCase(env.docs, env.pages, env.storage, env.queue, env.renderer, classifier, env.extractor, env.evaluator, env.audit, env.observer, 2)
	env.process.now = now

	env.review = NewReviewUseCase(env.cases, env.docs, env.pages, env.fields, env.checklist, env.audit, env.evaluator, env.catalog, domain.TierL2)
	env.review.now = now
	env.review.newID = sequentialIDs("manual")

	env.ingest = NewIngestDocumentUseCase(env.cases, env.docs, env.storage, env.queue, env.audit, env.evaluator, 1024)
	env.ingest.now = now
	env.ingest.newID = sequentialIDs("doc")

	env.caseSvc = NewCaseService(env.cases, env.audit, env.evaluator, env.catalog)
	env.caseSvc.now = now

	env.readiness = NewReadinessUseCase(env.cases, env.docs, env.fields, env.checklist, env.catalog)
	env.readiness.now = now
	return env
}

func openCase(group string) domain.Case {
	return domain.Case{
		ID:           "case-1",
		SupplierID:   "supplier-1",
		ReferenceNo:  "PO-1001",
		ProductGroup: group,
		Status:       domain.CaseProcessing,
		CreatedAt:    testNow.Add(-48 * time.Hour),
	}
}

// seedDocument stores a document in the given state along with its page text.
func (env *testEnv) seedDocument(id string, docType domain.DocType, status domain.DocumentStatus, pages ...string) {
	doc := domain.Document{
		ID:          id,
		CaseID:      "case-1",
		Filename:    id + ".pdf",
		MimeType:    "application/pdf",
		ContentHash: "hash-" + id,
		DocType:     docType,
		Status:      status,
		PageCount:   len(pages),
		CreatedAt:   testNow.Add(-24 * time.Hour),
	}
	_ = env.docs.Create(context.Background(), &doc)
	pt := make([]domain.PageText, 0, len(pages))
	for i, text := range pages {
		pt = append(pt, domain.PageText{DocumentID: id, PageNumber: i + 1, Text: text, Method: domain.PageMethodNative})
	}
	_ = env.pages.SavePages(context.Background(), id, pt)
}

func (env *testEnv) seedField(f domain.ExtractedField) {
	if f.CaseID == "" {
		f.CaseID = "case-1"
	}
	if f.Page == 0 {
		f.Page = 1
	}
	if f.Snippet == "" {
		f.Snippet = f.Value
	}
	if f.Tier == "" {
		f.Tier = domain.TierL1
	}
	if f.Status == "" {
		f.Status = domain.FieldPendingReview
	}
	if f.Visibility == "" {
		f.Visibility = domain.VisibilitySupplierOnly
	}
	if f.CreatedFrom == "" {
		f.CreatedFrom = domain.SourceAI
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = testNow.Add(-time.Hour)
	}
	_ = env.fields.Insert(context.Background(), []domain.ExtractedField{f})
}
