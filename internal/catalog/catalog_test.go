package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/kirillkom/trade-evidence/internal/core/domain"
)

func TestDefaultCatalog(t *testing.T) {
	cat, err := Default()
	if err != nil {
		t.Fatalf("Default() error = %v", err)
	}
	if cat.HeuristicThreshold != 0.80 {
		t.Fatalf("expected threshold 0.80, got %v", cat.HeuristicThreshold)
	}
	for _, dt := range domain.AllDocTypes {
		if _, ok := cat.Schema(dt); !ok {
			t.Fatalf("missing schema for %s", dt)
		}
	}
	cert, _ := cat.Schema(domain.DocTypeCertificate)
	if cert.Allows("test_report.lab_name") {
		t.Fatalf("certificate schema must not allow test_report keys")
	}

	families := cat.CompositionFamilies()
	addends := families["material.composition"]
	if len(addends) != 5 {
		t.Fatalf("expected 5 composition addends, got %v", addends)
	}
	for _, key := range addends {
		if key == "material.composition.total_pct" {
			t.Fatalf("declared total must not be an addend")
		}
	}

	if spec := cat.Field("shipment.invoice_number"); spec.Kind != domain.KindString {
		t.Fatalf("expected default string kind, got %s", spec.Kind)
	}
	if spec := cat.Field("material.composition.cotton_pct"); spec.Tolerance != 0.02 {
		t.Fatalf("expected default numeric tolerance, got %v", spec.Tolerance)
	}

	group := cat.ProductGroup("unknown-group")
	if group.Name != "textiles" {
		t.Fatalf("expected fallback to textiles, got %s", group.Name)
	}
	if keys := cat.ValidityKeys(); len(keys) != 1 || keys[0] != "certificate.oekotex.valid_until" {
		t.Fatalf("unexpected validity keys %v", keys)
	}
}

func TestParseRejectsUnknownDocType(t *testing.T) {
	_, err := Parse([]byte("doc_types:\n  - doc_type: passport\n    keys: [a]\n"))
	if err == nil {
		t.Fatalf("expected error for unknown doc type")
	}
}

func TestParseRejectsEmptyPayload(t *testing.T) {
	if _, err := Parse([]byte("  \n")); err == nil {
		t.Fatalf("expected error for empty payload")
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	payload := "heuristic_threshold: 0.7\ndoc_types:\n  - doc_type: invoice\n    keywords: [Invoice]\n    keys: [shipment.invoice_number]\n"
	if err := os.WriteFile(path, []byte(payload), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	cat, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cat.HeuristicThreshold != 0.7 {
		t.Fatalf("expected threshold 0.7, got %v", cat.HeuristicThreshold)
	}
	schema, _ := cat.Schema(domain.DocTypeInvoice)
	if schema.Keywords[0] != "invoice" {
		t.Fatalf("expected lowercased keyword, got %q", schema.Keywords[0])
	}
}
