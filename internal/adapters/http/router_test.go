package httpadapter

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kirillkom/trade-evidence/internal/config"
	"github.com/kirillkom/trade-evidence/internal/core/domain"
	"github.com/kirillkom/trade-evidence/internal/observability/metrics"
)

type testRouter struct {
	cases     *casesFake
	ingest    *ingestFake
	evaluator *evaluatorFake
	review    *reviewFake
	metrics   *metrics.HTTPServerMetrics
	handler   http.Handler
}

func newTestRouter(cfg config.Config) *testRouter {
	tr := &testRouter{
		cases:     &casesFake{},
		ingest:    &ingestFake{},
		evaluator: &evaluatorFake{},
		review:    &reviewFake{},
		metrics:   metrics.NewHTTPServerMetrics(serviceName),
	}
	tr.handler = NewRouter(cfg, Dependencies{
		Cases:     tr.cases,
		Ingest:    tr.ingest,
		Documents: docsFake{},
		Evaluator: tr.evaluator,
		Review:    tr.review,
		Pages:     pagesFake{},
		Metrics:   tr.metrics,
	}).Handler()
	return tr
}

func (tr *testRouter) do(method, path, contentType string, body []byte, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	res := httptest.NewRecorder()
	tr.handler.ServeHTTP(res, req)
	return res
}

func multipartBody(t *testing.T, field, filename, content string) ([]byte, string) {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("CreateFormFile() error = %v", err)
	}
	if _, err := part.Write([]byte(content)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	return body.Bytes(), writer.FormDataContentType()
}

func TestHealthzEndpoint(t *testing.T) {
	tr := newTestRouter(config.Config{})
	res := tr.do(http.MethodGet, "/healthz", "", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if res.Header().Get(requestIDHeader) == "" {
		t.Fatalf("expected request id header")
	}
}

func TestUploadDocumentIntoCase(t *testing.T) {
	tr := newTestRouter(config.Config{APIRequestValidation: true})
	body, contentType := multipartBody(t, "file", "invoice.txt", "Invoice No. INV-1")

	res := tr.do(http.MethodPost, "/v1/cases/case-7/documents", contentType, body)
	if res.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", res.Code, res.Body.String())
	}
	if tr.ingest.caseID != "case-7" || tr.ingest.filename != "invoice.txt" || tr.ingest.body != "Invoice No. INV-1" {
		t.Fatalf("unexpected upload: %+v", tr.ingest)
	}

	var doc map[string]any
	if err := json.NewDecoder(res.Body).Decode(&doc); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if doc["id"] != "doc-1" || doc["case_id"] != "case-7" {
		t.Fatalf("unexpected response: %+v", doc)
	}
}

func TestUploadDocumentMissingMultipartField(t *testing.T) {
	tr := newTestRouter(config.Config{})
	res := tr.do(http.MethodPost, "/v1/cases/case-1/documents", "text/plain", []byte("plain-text"))
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}

	body, contentType := multipartBody(t, "attachment", "a.txt", "x")
	res = tr.do(http.MethodPost, "/v1/cases/case-1/documents", contentType, body)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for wrong field name, got %d", res.Code)
	}
}

func TestApproveUsesActorHeader(t *testing.T) {
	tr := newTestRouter(config.Config{APIRequestValidation: true})

	res := tr.do(http.MethodPost, "/v1/fields/f-1/approve", "", nil, actorHeader, "qa-lead")
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if tr.review.actor != "qa-lead" {
		t.Fatalf("expected actor from header, got %q", tr.review.actor)
	}
}

func TestRejectPassesReasonAndDefaultsActor(t *testing.T) {
	tr := newTestRouter(config.Config{APIRequestValidation: true})

	res := tr.do(http.MethodPost, "/v1/fields/f-2/reject", "application/json", []byte(`{"reason":"wrong page"}`))
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if tr.review.reason != "wrong page" || tr.review.actor != defaultActor {
		t.Fatalf("unexpected review call: %+v", tr.review)
	}
}

func TestSubmitManualFieldTakesCaseFromPath(t *testing.T) {
	tr := newTestRouter(config.Config{APIRequestValidation: true})
	payload := `{"document_id":"doc-1","canonical_key":"shipment.invoice_number","value":"INV-1","page":1,"snippet":"Invoice No. INV-1","actor":"ops","case_id":"other"}`

	res := tr.do(http.MethodPost, "/v1/cases/case-3/manual-fields", "application/json", []byte(payload))
	if res.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", res.Code, res.Body.String())
	}
	if tr.review.manual.CaseID != "case-3" || tr.review.manual.Actor != "ops" || tr.review.manual.Page != 1 {
		t.Fatalf("unexpected manual input: %+v", tr.review.manual)
	}
}

func TestCanonicalViewBuyerProjection(t *testing.T) {
	tr := newTestRouter(config.Config{})

	res := tr.do(http.MethodGet, "/v1/cases/case-1/fields?buyer=true", "", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if !tr.evaluator.buyerOnly {
		t.Fatalf("expected buyer projection to be requested")
	}
	var resp struct {
		Fields []domain.CanonicalFieldView `json:"fields"`
	}
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Fields) != 1 || resp.Fields[0].CanonicalKey != "shipment.invoice_number" {
		t.Fatalf("unexpected fields: %+v", resp.Fields)
	}
}

func TestChecklistReturnsEmptyArray(t *testing.T) {
	tr := newTestRouter(config.Config{})

	res := tr.do(http.MethodGet, "/v1/cases/case-1/checklist", "", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if !strings.Contains(res.Body.String(), `"items":[]`) {
		t.Fatalf("expected empty items array, got %s", res.Body.String())
	}
}

func TestValidateRecomputesStatus(t *testing.T) {
	tr := newTestRouter(config.Config{})

	res := tr.do(http.MethodPost, "/v1/cases/case-1/validate", "", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if tr.evaluator.recomputed != 1 {
		t.Fatalf("expected one recompute, got %d", tr.evaluator.recomputed)
	}
}

func TestGetPageEvidence(t *testing.T) {
	tr := newTestRouter(config.Config{})

	if res := tr.do(http.MethodGet, "/v1/documents/doc-1/pages/1", "", nil); res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if res := tr.do(http.MethodGet, "/v1/documents/doc-1/pages/2", "", nil); res.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing page, got %d", res.Code)
	}
	if res := tr.do(http.MethodGet, "/v1/documents/doc-1/pages/zero", "", nil); res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid page, got %d", res.Code)
	}
}

func TestGetDocumentDescribesErrorCode(t *testing.T) {
	handler := NewRouter(config.Config{}, Dependencies{
		Documents: docsFake{doc: &domain.Document{ID: "doc-1", Status: domain.StatusError, ErrorCode: domain.ErrorServiceUnavailable}},
	}).Handler()

	req := httptest.NewRequest(http.MethodGet, "/v1/documents/doc-1", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	var resp map[string]any
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["retryable"] != true || resp["error_description"] == "" || resp["error_description"] == nil {
		t.Fatalf("unexpected document response: %+v", resp)
	}
}

func TestMetricsEndpointExposesUploadCounter(t *testing.T) {
	tr := newTestRouter(config.Config{})
	body, contentType := multipartBody(t, "file", "invoice.txt", "Invoice")
	tr.do(http.MethodPost, "/v1/cases/case-1/documents", contentType, body)

	res := tr.do(http.MethodGet, "/metrics", "", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if !strings.Contains(res.Body.String(), `trade_ingest_uploads_total{outcome="accepted",service="api"} 1`) {
		t.Fatalf("expected upload counter in metrics output")
	}
}

func TestUnregisteredRoutesAreNotServed(t *testing.T) {
	handler := NewRouter(config.Config{}, Dependencies{}).Handler()

	req := httptest.NewRequest(http.MethodPost, "/v1/fields/f-1/approve", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without a reviewer, got %d", res.Code)
	}
}
