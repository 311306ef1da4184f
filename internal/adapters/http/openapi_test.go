package httpadapter

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/kirillkom/trade-evidence/internal/config"
)

func TestEmbeddedOpenAPIDocumentIsValid(t *testing.T) {
	doc, err := loadOpenAPIDocument(context.Background())
	if err != nil {
		t.Fatalf("loadOpenAPIDocument() error = %v", err)
	}
	for _, path := range []string{"/v1/cases", "/v1/cases/{case_id}/documents", "/v1/fields/{field_id}/approve"} {
		if doc.Paths.Find(path) == nil {
			t.Fatalf("expected path %s in document", path)
		}
	}
}

func TestRequestValidationRejectsMissingRequiredFields(t *testing.T) {
	tr := newTestRouter(config.Config{APIRequestValidation: true})

	res := tr.do(http.MethodPost, "/v1/cases", "application/json", []byte(`{"supplier_id":"acme"}`))
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
	if len(tr.cases.opened) != 0 {
		t.Fatalf("expected handler not to run")
	}
	if !strings.Contains(res.Body.String(), "request body") {
		t.Fatalf("expected body validation message, got %s", res.Body.String())
	}
}

func TestRequestValidationRejectsUnknownReviewStatus(t *testing.T) {
	tr := newTestRouter(config.Config{APIRequestValidation: true})

	res := tr.do(http.MethodGet, "/v1/cases/case-1/review?status=maybe", "", nil)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
	if len(tr.review.statuses) != 0 {
		t.Fatalf("expected handler not to run")
	}

	res = tr.do(http.MethodGet, "/v1/cases/case-1/review?status=conflict", "", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
}

func TestOpenCaseAcceptedWhenValid(t *testing.T) {
	tr := newTestRouter(config.Config{APIRequestValidation: true})

	res := tr.do(http.MethodPost, "/v1/cases", "application/json", []byte(`{"supplier_id":"acme","reference_no":"PO-1"}`))
	if res.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", res.Code, res.Body.String())
	}
	if len(tr.cases.opened) != 1 || tr.cases.opened[0].ReferenceNo != "PO-1" {
		t.Fatalf("unexpected open calls: %+v", tr.cases.opened)
	}
}

func TestOpenAPISpecIsServed(t *testing.T) {
	tr := newTestRouter(config.Config{})
	res := tr.do(http.MethodGet, "/openapi.yaml", "", nil)
	if res.Code != http.StatusOK || !strings.Contains(res.Body.String(), "openapi: 3.0.3") {
		t.Fatalf("expected embedded spec, got %d", res.Code)
	}
}
