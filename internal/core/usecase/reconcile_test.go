package usecase

import (
	"testing"
	"time"

	"github.com/kirillkom/trade-evidence/internal/core/domain"
)

func field(id, key, value string, tier domain.Tier, status domain.FieldStatus, confidence float64) domain.ExtractedField {
	return domain.ExtractedField{
		ID:           id,
		CaseID:       "case-1",
		DocumentID:   "doc-1",
		CanonicalKey: key,
		Value:        value,
		Page:         1,
		Snippet:      value,
		Confidence:   domain.Float64Ptr(confidence),
		Tier:         tier,
		Status:       status,
		CreatedFrom:  domain.SourceAI,
		CreatedAt:    testNow,
	}
}

func TestReconcileApprovedL2BeatsHigherConfidenceL1(t *testing.T) {
	cat := mustCatalog(t)
	fields := []domain.ExtractedField{
		field("f-1", "shipment.invoice_number", "INV-1", domain.TierL1, domain.FieldPendingReview, 0.99),
		field("f-2", "shipment.invoice_number", "INV-1", domain.TierL2, domain.FieldApproved, 0.9),
	}

	out := ReconcileFields(cat, "case-1", fields)
	if len(out.Views) != 1 {
		t.Fatalf("expected one view, got %d", len(out.Views))
	}
	v := out.Views[0]
	if v.Resolution != domain.ResolutionResolved || v.Winner == nil || v.Winner.ID != "f-2" {
		t.Fatalf("expected L2 field to win, got %+v", v)
	}
}

func TestReconcileApprovedValueOverridesDisagreeingCandidates(t *testing.T) {
	cat := mustCatalog(t)
	fields := []domain.ExtractedField{
		field("f-1", "shipment.invoice_number", "INV-9", domain.TierL1, domain.FieldConflict, 0.99),
		field("f-2", "shipment.invoice_number", "INV-1", domain.TierL2, domain.FieldApproved, 0.9),
	}

	out := ReconcileFields(cat, "case-1", fields)
	v := out.Views[0]
	if !v.Resolved() || v.Winner.ID != "f-2" {
		t.Fatalf("expected approved value to resolve the key, got %+v", v)
	}
	if len(out.ClearConflict) != 1 || out.ClearConflict[0] != "f-1" {
		t.Fatalf("expected f-1 conflict to be cleared, got %v", out.ClearConflict)
	}
}

func TestReconcileDisagreeingL1ValuesConflict(t *testing.T) {
	cat := mustCatalog(t)
	fields := []domain.ExtractedField{
		field("f-1", "material.composition.cotton_pct", "40", domain.TierL1, domain.FieldPendingReview, 0.9),
		field("f-2", "material.composition.cotton_pct", "60", domain.TierL1, domain.FieldPendingReview, 0.8),
	}

	out := ReconcileFields(cat, "case-1", fields)
	v := out.Views[0]
	if v.Resolution != domain.ResolutionConflict || v.Winner != nil {
		t.Fatalf("expected conflict without winner, got %+v", v)
	}
	if len(v.ConflictingFieldIDs) != 2 || len(out.MarkConflict) != 2 {
		t.Fatalf("expected both fields flagged, got view=%v mark=%v", v.ConflictingFieldIDs, out.MarkConflict)
	}
}

func TestReconcileNumericTolerance(t *testing.T) {
	cat := mustCatalog(t)
	fields := []domain.ExtractedField{
		field("f-1", "shipment.total_quantity", "1000", domain.TierL1, domain.FieldPendingReview, 0.9),
		field("f-2", "shipment.total_quantity", "1004", domain.TierL1, domain.FieldPendingReview, 0.8),
	}

	out := ReconcileFields(cat, "case-1", fields)
	if v := out.Views[0]; !v.Resolved() || v.Winner.ID != "f-1" {
		t.Fatalf("expected values within tolerance to agree, got %+v", v)
	}

	fields[1].Value = "1100"
	out = ReconcileFields(cat, "case-1", fields)
	if v := out.Views[0]; v.Resolution != domain.ResolutionConflict {
		t.Fatalf("expected 10%% difference to conflict, got %+v", v)
	}
}

func TestReconcileRejectedOnlyKeyIsEmpty(t *testing.T) {
	cat := mustCatalog(t)
	fields := []domain.ExtractedField{
		field("f-1", "shipment.invoice_number", "INV-1", domain.TierL1, domain.FieldRejected, 0.9),
	}

	out := ReconcileFields(cat, "case-1", fields)
	v := out.Views[0]
	if v.Resolution != domain.ResolutionEmpty || v.Winner != nil || len(v.CandidateIDs) != 0 {
		t.Fatalf("expected empty view, got %+v", v)
	}
}

func TestReconcileRecencyBreaksConfidenceTie(t *testing.T) {
	cat := mustCatalog(t)
	older := field("f-1", "shipment.invoice_number", "INV-1", domain.TierL1, domain.FieldPendingReview, 0.9)
	newer := field("f-2", "shipment.invoice_number", "inv-1", domain.TierL1, domain.FieldPendingReview, 0.9)
	newer.CreatedAt = older.CreatedAt.Add(time.Minute)

	out := ReconcileFields(cat, "case-1", []domain.ExtractedField{older, newer})
	if v := out.Views[0]; !v.Resolved() || v.Winner.ID != "f-2" {
		t.Fatalf("expected newer field to win, got %+v", v)
	}
}

func TestReconcileIgnoresSupersededFields(t *testing.T) {
	cat := mustCatalog(t)
	stale := field("f-1", "shipment.invoice_number", "INV-OLD", domain.TierL1, domain.FieldPendingReview, 0.99)
	stamp := testNow
	stale.SupersededAt = &stamp
	fresh := field("f-2", "shipment.invoice_number", "INV-NEW", domain.TierL1, domain.FieldPendingReview, 0.5)

	out := ReconcileFields(cat, "case-1", []domain.ExtractedField{stale, fresh})
	if v := out.Views[0]; !v.Resolved() || v.Winner.ID != "f-2" {
		t.Fatalf("expected superseded field to be ignored, got %+v", v)
	}
}

func TestNormalizeValue(t *testing.T) {
	cat := mustCatalog(t)
	tests := []struct {
		name      string
		key       string
		in        string
		wantValue string
		wantUnit  string
	}{
		{name: "percent", key: "material.composition.cotton_pct", in: "95 %", wantValue: "95", wantUnit: "%"},
		{name: "decimal comma", key: "material.composition.elastane_pct", in: "4,5%", wantValue: "4.5", wantUnit: "%"},
		{name: "grouped quantity", key: "shipment.total_quantity", in: "12,500 pcs", wantValue: "12500", wantUnit: "pcs"},
		{name: "european quantity", key: "shipment.total_quantity", in: "1.250,5 kg", wantValue: "1250.5", wantUnit: "kg"},
		{name: "date", key: "shipment.invoice_date", in: "5 March 2026", wantValue: "2026-03-05"},
		{name: "unparseable date kept", key: "shipment.invoice_date", in: "early spring", wantValue: "early spring"},
		{name: "string collapsed", key: "product.name", in: "  Basic   Tee ", wantValue: "Basic Tee"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			value, unit := normalizeValue(cat.Field(tc.key), tc.in, "")
			if value != tc.wantValue || unit != tc.wantUnit {
				t.Fatalf("normalizeValue(%q) = %q, %q; want %q, %q", tc.in, value, unit, tc.wantValue, tc.wantUnit)
			}
		})
	}
}
