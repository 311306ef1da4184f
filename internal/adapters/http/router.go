package httpadapter

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kirillkom/trade-evidence/internal/config"
	"github.com/kirillkom/trade-evidence/internal/core/domain"
	"github.com/kirillkom/trade-evidence/internal/core/ports"
	"github.com/kirillkom/trade-evidence/internal/observability/metrics"
)

const (
	serviceName    = "api"
	actorHeader    = "X-Actor"
	defaultActor   = "reviewer"
	maxJSONBody    = 1 << 20
	multipartInMem = 8 << 20
)

// Dependencies groups the inbound ports served over HTTP. Nil ports disable their routes.
type Dependencies struct {
	Cases     ports.CaseManager
	Ingest    ports.DocumentIngestor
	Documents ports.DocumentReader
	Processor ports.DocumentProcessor
	Evaluator ports.CaseEvaluator
	Review    ports.FieldReviewer
	Readiness ports.ReadinessReporter
	Pages     ports.PageStore
	Metrics   *metrics.HTTPServerMetrics
}

type Router struct {
	cfg  config.Config
	deps Dependencies
}

func NewRouter(cfg config.Config, deps Dependencies) *Router {
	return &Router{cfg: cfg, deps: deps}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	mux.HandleFunc("GET /openapi.yaml", serveOpenAPISpec)

	if rt.deps.Cases != nil {
		mux.HandleFunc("POST /v1/cases", rt.openCase)
		mux.HandleFunc("GET /v1/cases/{case_id}", rt.getCase)
		mux.HandleFunc("POST /v1/cases/{case_id}/close", rt.closeCase)
	}
	if rt.deps.Ingest != nil {
		mux.HandleFunc("POST /v1/cases/{case_id}/documents", rt.uploadDocument)
	}
	if rt.deps.Documents != nil {
		mux.HandleFunc("GET /v1/cases/{case_id}/documents", rt.listDocuments)
		mux.HandleFunc("GET /v1/documents/{document_id}", rt.getDocument)
	}
	if rt.deps.Pages != nil {
		mux.HandleFunc("GET /v1/documents/{document_id}/pages/{page}", rt.getPage)
	}
	if rt.deps.Processor != nil {
		mux.HandleFunc("POST /v1/cases/{case_id}/process", rt.processCase)
		mux.HandleFunc("POST /v1/documents/{document_id}/retry", rt.retryDocument)
		mux.HandleFunc("POST /v1/documents/{document_id}/classify", rt.classifyDocument)
		mux.HandleFunc("POST /v1/documents/{document_id}/reextract", rt.reextractDocument)
	}
	if rt.deps.Evaluator != nil {
		mux.HandleFunc("POST /v1/cases/{case_id}/reconcile", rt.reconcileCase)
		mux.HandleFunc("POST /v1/cases/{case_id}/validate", rt.validateCase)
		mux.HandleFunc("GET /v1/cases/{case_id}/fields", rt.canonicalView)
		mux.HandleFunc("GET /v1/cases/{case_id}/checklist", rt.checklist)
	}
	if rt.deps.Review != nil {
		mux.HandleFunc("GET /v1/cases/{case_id}/review", rt.reviewQueue)
		mux.HandleFunc("POST /v1/cases/{case_id}/manual-fields", rt.submitManualField)
		mux.HandleFunc("POST /v1/fields/{field_id}/approve", rt.approveField)
		mux.HandleFunc("POST /v1/fields/{field_id}/reject", rt.rejectField)
		mux.HandleFunc("POST /v1/checklist/{item_id}/resolve", rt.resolveChecklistItem)
	}
	if rt.deps.Readiness != nil {
		mux.HandleFunc("GET /v1/cases/{case_id}/metrics", rt.caseMetrics)
		mux.HandleFunc("GET /v1/suppliers/{supplier_id}/metrics", rt.supplierMetrics)
	}

	var handler http.Handler = mux
	if rt.cfg.APIRequestValidation {
		validator, err := newRequestValidator()
		if err != nil {
			slog.Error("openapi_validator_disabled", "error", err.Error())
		} else {
			handler = validator.Middleware(handler)
		}
	}
	handler = backpressureMiddleware(handler, rt.cfg.APIMaxInFlight, time.Duration(rt.cfg.APIBackpressureWaitMs)*time.Millisecond)
	handler = rateLimitMiddleware(handler, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst)
	handler = accessLogMiddleware(handler)
	if rt.deps.Metrics != nil {
		handler = rt.deps.Metrics.Middleware(serviceName, handler)
	}
	handler = requestIDMiddleware(handler)

	if rt.deps.Metrics == nil {
		return handler
	}
	root := http.NewServeMux()
	root.Handle("GET /metrics", rt.deps.Metrics.Handler())
	root.Handle("/", handler)
	return root
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) openCase(w http.ResponseWriter, r *http.Request) {
	var in domain.OpenCaseInput
	if !decodeJSON(w, r, &in) {
		return
	}
	c, err := rt.deps.Cases.Open(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (rt *Router) getCase(w http.ResponseWriter, r *http.Request) {
	c, err := rt.deps.Cases.Get(r.Context(), r.PathValue("case_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (rt *Router) closeCase(w http.ResponseWriter, r *http.Request) {
	var req actorRequest
	if !decodeOptionalJSON(w, r, &req) {
		return
	}
	c, err := rt.deps.Cases.Close(r.Context(), r.PathValue("case_id"), actorFrom(r, req.Actor))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (rt *Router) uploadDocument(w http.ResponseWriter, r *http.Request) {
	if rt.cfg.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, rt.cfg.MaxUploadBytes+multipartInMem)
	}
	if err := r.ParseMultipartForm(multipartInMem); err != nil {
		rt.recordUpload("bad_request")
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "multipart field 'file' is required"})
		return
	}
	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		rt.recordUpload("bad_request")
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "multipart field 'file' is required"})
		return
	}
	defer file.Close()

	doc, err := rt.deps.Ingest.Upload(
		r.Context(),
		r.PathValue("case_id"),
		fileHeader.Filename,
		fileHeader.Header.Get("Content-Type"),
		file,
	)
	if err != nil {
		rt.recordUpload(errorLabel(err))
		writeError(w, r, err)
		return
	}
	rt.recordUpload("accepted")
	writeJSON(w, http.StatusAccepted, doc)
}

func (rt *Router) listDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := rt.deps.Documents.ListByCase(r.Context(), r.PathValue("case_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": nonNil(docs)})
}

func (rt *Router) getDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := rt.deps.Documents.GetByID(r.Context(), r.PathValue("document_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := documentResponse{Document: doc, Retryable: doc.Retryable()}
	if doc.ErrorCode != "" {
		resp.ErrorDescription = doc.ErrorCode.Message()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (rt *Router) getPage(w http.ResponseWriter, r *http.Request) {
	page, err := strconv.Atoi(r.PathValue("page"))
	if err != nil || page < 1 {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "page must be a positive integer"})
		return
	}
	text, err := rt.deps.Pages.GetPage(r.Context(), r.PathValue("document_id"), page)
	if err != nil {
		if domain.IsKind(err, domain.ErrEvidenceMissing) {
			writeJSON(w, http.StatusNotFound, errorBody{Error: "page not found"})
			return
		}
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, text)
}

func (rt *Router) processCase(w http.ResponseWriter, r *http.Request) {
	result, err := rt.deps.Processor.ProcessCase(r.Context(), r.PathValue("case_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (rt *Router) retryDocument(w http.ResponseWriter, r *http.Request) {
	var req actorRequest
	if !decodeOptionalJSON(w, r, &req) {
		return
	}
	doc, err := rt.deps.Processor.Retry(r.Context(), r.PathValue("document_id"), actorFrom(r, req.Actor))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, doc)
}

func (rt *Router) classifyDocument(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DocType string `json:"doc_type"`
		Actor   string `json:"actor"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	docType, ok := domain.ParseDocType(req.DocType)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "unknown doc_type"})
		return
	}
	doc, err := rt.deps.Processor.Reclassify(r.Context(), r.PathValue("document_id"), docType, actorFrom(r, req.Actor))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, doc)
}

func (rt *Router) reextractDocument(w http.ResponseWriter, r *http.Request) {
	report, err := rt.deps.Processor.Reextract(r.Context(), r.PathValue("document_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (rt *Router) reconcileCase(w http.ResponseWriter, r *http.Request) {
	views, err := rt.deps.Evaluator.Reconcile(r.Context(), r.PathValue("case_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"fields": nonNil(views)})
}

func (rt *Router) validateCase(w http.ResponseWriter, r *http.Request) {
	caseID := r.PathValue("case_id")
	summary, err := rt.deps.Evaluator.RunValidation(r.Context(), caseID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := rt.deps.Evaluator.Recompute(r.Context(), caseID); err != nil {
		slog.Warn("case_recompute_failed", "case_id", caseID, "error", err.Error())
	}
	writeJSON(w, http.StatusOK, summary)
}

func (rt *Router) canonicalView(w http.ResponseWriter, r *http.Request) {
	buyerOnly, _ := strconv.ParseBool(r.URL.Query().Get("buyer"))
	views, err := rt.deps.Evaluator.CanonicalView(r.Context(), r.PathValue("case_id"), buyerOnly)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"fields": nonNil(views)})
}

func (rt *Router) checklist(w http.ResponseWriter, r *http.Request) {
	items, err := rt.deps.Evaluator.Checklist(r.Context(), r.PathValue("case_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": nonNil(items)})
}

func (rt *Router) reviewQueue(w http.ResponseWriter, r *http.Request) {
	status := domain.FieldStatus(r.URL.Query().Get("status"))
	fields, err := rt.deps.Review.ReviewQueue(r.Context(), r.PathValue("case_id"), status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"fields": nonNil(fields)})
}

func (rt *Router) submitManualField(w http.ResponseWriter, r *http.Request) {
	var in domain.ManualFieldInput
	if !decodeJSON(w, r, &in) {
		return
	}
	in.CaseID = r.PathValue("case_id")
	in.Actor = actorFrom(r, in.Actor)
	field, err := rt.deps.Review.SubmitManualField(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	rt.recordReview("manual_field")
	writeJSON(w, http.StatusCreated, field)
}

func (rt *Router) approveField(w http.ResponseWriter, r *http.Request) {
	var req actorRequest
	if !decodeOptionalJSON(w, r, &req) {
		return
	}
	field, err := rt.deps.Review.Approve(r.Context(), r.PathValue("field_id"), actorFrom(r, req.Actor))
	if err != nil {
		writeError(w, r, err)
		return
	}
	rt.recordReview("approve")
	writeJSON(w, http.StatusOK, field)
}

func (rt *Router) rejectField(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
		Actor  string `json:"actor"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	field, err := rt.deps.Review.Reject(r.Context(), r.PathValue("field_id"), req.Reason, actorFrom(r, req.Actor))
	if err != nil {
		writeError(w, r, err)
		return
	}
	rt.recordReview("reject")
	writeJSON(w, http.StatusOK, field)
}

func (rt *Router) resolveChecklistItem(w http.ResponseWriter, r *http.Request) {
	var req actorRequest
	if !decodeOptionalJSON(w, r, &req) {
		return
	}
	item, err := rt.deps.Review.ResolveChecklistItem(r.Context(), r.PathValue("item_id"), actorFrom(r, req.Actor))
	if err != nil {
		writeError(w, r, err)
		return
	}
	rt.recordReview("resolve_checklist")
	writeJSON(w, http.StatusOK, item)
}

func (rt *Router) caseMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := rt.deps.Readiness.CaseMetrics(r.Context(), r.PathValue("case_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (rt *Router) supplierMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := rt.deps.Readiness.SupplierMetrics(r.Context(), r.PathValue("supplier_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (rt *Router) recordUpload(outcome string) {
	if rt.deps.Metrics != nil {
		rt.deps.Metrics.RecordUpload(serviceName, outcome)
	}
}

func (rt *Router) recordReview(action string) {
	if rt.deps.Metrics != nil {
		rt.deps.Metrics.RecordReviewAction(serviceName, action)
	}
}

type actorRequest struct {
	Actor string `json:"actor"`
}

type documentResponse struct {
	*domain.Document
	ErrorDescription string `json:"error_description,omitempty"`
	Retryable        bool   `json:"retryable"`
}

type errorBody struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func actorFrom(r *http.Request, bodyActor string) string {
	if actor := strings.TrimSpace(r.Header.Get(actorHeader)); actor != "" {
		return actor
	}
	if actor := strings.TrimSpace(bodyActor); actor != "" {
		return actor
	}
	return defaultActor
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json", RequestID: requestIDFromContext(r.Context())})
		return false
	}
	return true
}

// decodeOptionalJSON accepts an empty body for endpoints whose payload only carries the actor.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json", RequestID: requestIDFromContext(r.Context())})
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	message := err.Error()
	if status >= http.StatusInternalServerError {
		slog.Error("http_handler_failed",
			"request_id", requestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"error", message,
		)
		if status == http.StatusInternalServerError {
			message = "internal error"
		}
	}
	writeJSON(w, status, errorBody{Error: message, RequestID: requestIDFromContext(r.Context())})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
