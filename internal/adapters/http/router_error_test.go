package httpadapter

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kirillkom/trade-evidence/internal/config"
	"github.com/kirillkom/trade-evidence/internal/core/domain"
)

func TestMapErrorToHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domain.WrapError(domain.ErrInvalidInput, "open case", errors.New("missing supplier")), http.StatusBadRequest},
		{domain.WrapError(domain.ErrEvidenceMissing, "submit manual field", errors.New("snippet")), http.StatusBadRequest},
		{domain.WrapError(domain.ErrUnsupportedFile, "upload", errors.New("mime")), http.StatusUnsupportedMediaType},
		{domain.WrapError(domain.ErrFieldNotFound, "approve", errors.New("id=f")), http.StatusNotFound},
		{domain.WrapError(domain.ErrChecklistItemNotFound, "resolve", errors.New("id=i")), http.StatusNotFound},
		{domain.WrapError(domain.ErrCaseClosed, "upload", errors.New("closed")), http.StatusConflict},
		{domain.WrapError(domain.ErrInvalidTransition, "retry", errors.New("fatal code")), http.StatusConflict},
		{fmt.Errorf("process: %w", domain.WrapError(domain.ErrTemporary, "classify", errors.New("503"))), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := mapErrorToHTTPStatus(tc.err); got != tc.want {
			t.Fatalf("mapErrorToHTTPStatus(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestGetDocumentByIDReturns404ForNotFound(t *testing.T) {
	handler := NewRouter(config.Config{}, Dependencies{
		Documents: docsFake{err: domain.WrapError(domain.ErrDocumentNotFound, "get", errors.New("id=missing"))},
	}).Handler()

	req := httptest.NewRequest(http.MethodGet, "/v1/documents/missing", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
}

func TestUploadIntoClosedCaseReturns409(t *testing.T) {
	ingest := &ingestFake{err: domain.WrapError(domain.ErrCaseClosed, "upload document", errors.New("case case-1 is closed"))}
	handler := NewRouter(config.Config{}, Dependencies{Ingest: ingest}).Handler()
	body, contentType := multipartBody(t, "file", "invoice.pdf", "%PDF-1.7")

	req := httptest.NewRequest(http.MethodPost, "/v1/cases/case-1/documents", strings.NewReader(string(body)))
	req.Header.Set("Content-Type", contentType)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", res.Code)
	}
}

func TestInternalErrorsAreNotLeaked(t *testing.T) {
	cases := &casesFake{err: errors.New("pq: connection refused to 10.0.0.7")}
	handler := NewRouter(config.Config{}, Dependencies{Cases: cases}).Handler()

	req := httptest.NewRequest(http.MethodGet, "/v1/cases/case-1", nil)
	req.Header.Set(requestIDHeader, "req-42")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", res.Code)
	}
	var resp errorBody
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Error != "internal error" || resp.RequestID != "req-42" {
		t.Fatalf("unexpected error body: %+v", resp)
	}
}

func TestTemporaryFailureReturns503WithMessage(t *testing.T) {
	review := &reviewFake{err: domain.WrapError(domain.ErrTemporary, "approve", errors.New("lock timeout"))}
	handler := NewRouter(config.Config{}, Dependencies{Review: review}).Handler()

	req := httptest.NewRequest(http.MethodPost, "/v1/fields/f-1/approve", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", res.Code)
	}
	if !strings.Contains(res.Body.String(), "lock timeout") {
		t.Fatalf("expected temporary error message, got %s", res.Body.String())
	}
}
