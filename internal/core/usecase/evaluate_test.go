package usecase

import (
	"context"
	"testing"

	"github.com/kirillkom/trade-evidence/internal/core/domain"
)

const compositionFamily = "material.composition"

func seedApproved(env *testEnv, id, docID, key, value string) {
	env.seedField(domain.ExtractedField{
		ID:           id,
		DocumentID:   docID,
		CanonicalKey: key,
		Value:        value,
		Confidence:   domain.Float64Ptr(0.9),
		Tier:         domain.TierL2,
		Status:       domain.FieldApproved,
		Visibility:   domain.VisibilityBuyerVisible,
	})
}

func seedPending(env *testEnv, id, docID, key, value string) {
	env.seedField(domain.ExtractedField{
		ID:           id,
		DocumentID:   docID,
		CanonicalKey: key,
		Value:        value,
		Confidence:   domain.Float64Ptr(0.9),
	})
}

func TestRunValidationCompositionErrorBlocksCase(t *testing.T) {
	env := newTestEnv(t, openCase("general"))
	env.seedDocument("bom-1", domain.DocTypeBOM, domain.StatusExtracted, "Cotton 70% Elastane 35%")
	seedPending(env, "f-cotton", "bom-1", "material.composition.cotton_pct", "70")
	seedPending(env, "f-elastane", "bom-1", "material.composition.elastane_pct", "35")

	summary, err := env.evaluator.RunValidation(context.Background(), "case-1")
	if err != nil {
		t.Fatalf("RunValidation() error = %v", err)
	}
	if summary.Failed == 0 || summary.TotalRules != summary.Passed+summary.Failed+summary.Warnings {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	item, ok := env.checklist.find(domain.ChecklistCompositionError, compositionFamily)
	if !ok {
		t.Fatalf("expected composition_error checklist item")
	}
	if item.Severity != domain.SeverityHigh || item.Status != domain.ChecklistOpen {
		t.Fatalf("unexpected item: %+v", item)
	}
	if got := env.cases.status("case-1"); got != domain.CaseBlocked {
		t.Fatalf("expected blocked case, got %s", got)
	}
}

func TestRunValidationConflictingPercentagesAreNotACompositionError(t *testing.T) {
	env := newTestEnv(t, openCase("general"))
	env.seedDocument("bom-1", domain.DocTypeBOM, domain.StatusExtracted, "Cotton 40%", "Cotton 60%")
	seedPending(env, "f-40", "bom-1", "material.composition.cotton_pct", "40")
	env.seedField(domain.ExtractedField{
		ID:           "f-60",
		DocumentID:   "bom-1",
		CanonicalKey: "material.composition.cotton_pct",
		Value:        "60",
		Page:         2,
		Confidence:   domain.Float64Ptr(0.9),
	})

	if _, err := env.evaluator.RunValidation(context.Background(), "case-1"); err != nil {
		t.Fatalf("RunValidation() error = %v", err)
	}

	for _, f := range env.fields.active() {
		if f.Status != domain.FieldConflict {
			t.Fatalf("expected %s to be conflict, got %s", f.ID, f.Status)
		}
	}
	if item, ok := env.checklist.find(domain.ChecklistCompositionError, compositionFamily); ok {
		t.Fatalf("conflicting values alone must not raise composition_error, got %+v", item)
	}
}

func TestInvoiceNumberExtractedThenValidated(t *testing.T) {
	env := newTestEnv(t, openCase("general"))
	env.seedDocument("inv-1", domain.DocTypeInvoice, domain.StatusClassified, "COMMERCIAL INVOICE\nInvoice No: INV-2026-001\nDate: 2026-03-01")
	env.du.byPage[1] = []domain.CandidateField{
		{CanonicalKey: "shipment.invoice_number", Value: "INV-2026-001", Snippet: "Invoice No: INV-2026-001", Confidence: 0.95},
	}
	ctx := context.Background()

	doc := env.docs.get("inv-1")
	if _, err := env.extractor.Extract(ctx, &doc); err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	fields := env.fields.active()
	if len(fields) != 1 {
		t.Fatalf("expected one stored field, got %+v", fields)
	}
	f := fields[0]
	if f.CanonicalKey != "shipment.invoice_number" || f.Value != "INV-2026-001" || f.Page != 1 || f.Snippet != "Invoice No: INV-2026-001" {
		t.Fatalf("unexpected field: %+v", f)
	}
	if f.Tier != domain.TierL1 || f.Status != domain.FieldPendingReview {
		t.Fatalf("expected L1 pending_review, got %s %s", f.Tier, f.Status)
	}

	if _, err := env.evaluator.RunValidation(ctx, "case-1"); err != nil {
		t.Fatalf("RunValidation() error = %v", err)
	}
	if item, ok := env.checklist.find(domain.ChecklistMissingField, "shipment.invoice_number"); ok {
		t.Fatalf("invoice number is evidenced, got missing_field %+v", item)
	}
}

func TestRunValidationReopensAndClosesChecklistItems(t *testing.T) {
	env := newTestEnv(t, openCase("general"))
	env.seedDocument("bom-1", domain.DocTypeBOM, domain.StatusExtracted, "Cotton 70% Elastane 35%")
	seedPending(env, "f-cotton", "bom-1", "material.composition.cotton_pct", "70")
	seedPending(env, "f-elastane", "bom-1", "material.composition.elastane_pct", "35")
	ctx := context.Background()

	if _, err := env.evaluator.RunValidation(ctx, "case-1"); err != nil {
		t.Fatalf("RunValidation() error = %v", err)
	}
	item, _ := env.checklist.find(domain.ChecklistCompositionError, compositionFamily)

	if _, err := env.review.ResolveChecklistItem(ctx, item.ID, "reviewer"); err != nil {
		t.Fatalf("ResolveChecklistItem() error = %v", err)
	}
	if got, _ := env.checklist.find(domain.ChecklistCompositionError, compositionFamily); got.Status != domain.ChecklistDone {
		t.Fatalf("expected done after manual resolve, got %s", got.Status)
	}

	summary, err := env.evaluator.RunValidation(ctx, "case-1")
	if err != nil {
		t.Fatalf("RunValidation() error = %v", err)
	}
	reopened, _ := env.checklist.find(domain.ChecklistCompositionError, compositionFamily)
	if reopened.Status != domain.ChecklistReopened || reopened.ID != item.ID || summary.ChecklistReopened != 1 {
		t.Fatalf("expected same item reopened, got %+v (summary %+v)", reopened, summary)
	}

	env.fields.mu.Lock()
	for i := range env.fields.items {
		if env.fields.items[i].ID == "f-elastane" {
			env.fields.items[i].Value = "30"
		}
	}
	env.fields.mu.Unlock()

	summary, err = env.evaluator.RunValidation(ctx, "case-1")
	if err != nil {
		t.Fatalf("RunValidation() error = %v", err)
	}
	fixed, _ := env.checklist.find(domain.ChecklistCompositionError, compositionFamily)
	if fixed.Status != domain.ChecklistDone || fixed.CompletedAt == nil || summary.ChecklistItemsDone == 0 {
		t.Fatalf("expected item auto-completed, got %+v", fixed)
	}
}

func TestRunValidationRejectedOnlyKeyIsMissing(t *testing.T) {
	env := newTestEnv(t, openCase("general"))
	env.seedDocument("inv-1", domain.DocTypeInvoice, domain.StatusExtracted, "Invoice No: INV-1")
	env.seedField(domain.ExtractedField{
		ID:           "f-1",
		DocumentID:   "inv-1",
		CanonicalKey: "shipment.invoice_number",
		Value:        "INV-1",
		Status:       domain.FieldRejected,
	})

	if _, err := env.evaluator.RunValidation(context.Background(), "case-1"); err != nil {
		t.Fatalf("RunValidation() error = %v", err)
	}
	item, ok := env.checklist.find(domain.ChecklistMissingField, "shipment.invoice_number")
	if !ok || item.Severity != domain.SeverityHigh {
		t.Fatalf("expected high missing_field item, got %+v (found=%v)", item, ok)
	}

	views, err := env.evaluator.CanonicalView(context.Background(), "case-1", false)
	if err != nil {
		t.Fatalf("CanonicalView() error = %v", err)
	}
	if len(views) != 1 || views[0].Resolution != domain.ResolutionEmpty {
		t.Fatalf("expected empty view, got %+v", views)
	}
}

func TestRecomputeReachesReadyL2WhenEverythingApproved(t *testing.T) {
	env := newTestEnv(t, openCase("general"))
	env.seedDocument("inv-1", domain.DocTypeInvoice, domain.StatusExtracted, "Invoice No: INV-1 Qty 1200")
	env.seedDocument("pl-1", domain.DocTypePackingList, domain.StatusExtracted, "Total 1200 pcs")
	seedApproved(env, "f-inv", "inv-1", "shipment.invoice_number", "INV-1")
	seedApproved(env, "f-qty", "inv-1", "shipment.total_quantity", "1200")
	seedPending(env, "f-qty-pl", "pl-1", "shipment.total_quantity", "1200")

	c, err := env.evaluator.Recompute(context.Background(), "case-1")
	if err != nil {
		t.Fatalf("Recompute() error = %v", err)
	}
	if c.Status != domain.CaseReadyL2 || c.ReadyL1At == nil || c.ReadyL2At == nil {
		t.Fatalf("expected ready_l2 with both stamps, got %+v", c)
	}
	if len(env.checklist.items) != 0 {
		t.Fatalf("expected no checklist items, got %+v", env.checklist.items)
	}
}

func TestRecomputeStaysReadyL1WithUnreviewedFields(t *testing.T) {
	env := newTestEnv(t, openCase("general"))
	env.seedDocument("inv-1", domain.DocTypeInvoice, domain.StatusExtracted, "Invoice No: INV-1 Qty 1200")
	env.seedDocument("pl-1", domain.DocTypePackingList, domain.StatusExtracted, "Total 1200 pcs")
	seedApproved(env, "f-inv", "inv-1", "shipment.invoice_number", "INV-1")
	seedPending(env, "f-qty", "inv-1", "shipment.total_quantity", "1200")

	c, err := env.evaluator.Recompute(context.Background(), "case-1")
	if err != nil {
		t.Fatalf("Recompute() error = %v", err)
	}
	if c.Status != domain.CaseReadyL1 || c.ReadyL1At == nil || c.ReadyL2At != nil {
		t.Fatalf("expected ready_l1, got %+v", c)
	}

	buyer, err := env.evaluator.CanonicalView(context.Background(), "case-1", true)
	if err != nil {
		t.Fatalf("CanonicalView() error = %v", err)
	}
	if len(buyer) != 1 || buyer[0].CanonicalKey != "shipment.invoice_number" {
		t.Fatalf("expected buyer view to expose only the approved field, got %+v", buyer)
	}
}

func TestRecomputeQuantityMismatchBlocks(t *testing.T) {
	env := newTestEnv(t, openCase("general"))
	env.seedDocument("inv-1", domain.DocTypeInvoice, domain.StatusExtracted, "Qty 1200")
	env.seedDocument("pl-1", domain.DocTypePackingList, domain.StatusExtracted, "Qty 1000")
	seedApproved(env, "f-inv", "inv-1", "shipment.invoice_number", "INV-1")
	seedPending(env, "f-qty", "inv-1", "shipment.total_quantity", "1200")
	seedPending(env, "f-qty-pl", "pl-1", "shipment.total_quantity", "1000")

	c, err := env.evaluator.Recompute(context.Background(), "case-1")
	if err != nil {
		t.Fatalf("Recompute() error = %v", err)
	}
	if c.Status != domain.CaseBlocked {
		t.Fatalf("expected blocked, got %s", c.Status)
	}
	if _, ok := env.checklist.find(domain.ChecklistConflictDetected, quantitySubject); !ok {
		t.Fatalf("expected quantity conflict item")
	}
	if _, ok := env.checklist.find(domain.ChecklistConflictDetected, "shipment.total_quantity"); !ok {
		t.Fatalf("expected per-key conflict item")
	}
	for _, f := range env.fields.active() {
		if f.CanonicalKey == "shipment.total_quantity" && f.Status != domain.FieldConflict {
			t.Fatalf("expected conflicting fields marked, got %+v", f)
		}
	}
}

func TestRecomputeExpiredCertificateIsMediumSeverity(t *testing.T) {
	env := newTestEnv(t, openCase("general"))
	env.seedDocument("inv-1", domain.DocTypeInvoice, domain.StatusExtracted, "x")
	env.seedDocument("pl-1", domain.DocTypePackingList, domain.StatusExtracted, "x")
	env.seedDocument("cert-1", domain.DocTypeCertificate, domain.StatusExtracted, "valid until 2025-01-31")
	seedPending(env, "f-inv", "inv-1", "shipment.invoice_number", "INV-1")
	seedPending(env, "f-qty", "inv-1", "shipment.total_quantity", "1200")
	seedPending(env, "f-valid", "cert-1", "certificate.oekotex.valid_until", "2025-01-31")

	c, err := env.evaluator.Recompute(context.Background(), "case-1")
	if err != nil {
		t.Fatalf("Recompute() error = %v", err)
	}
	item, ok := env.checklist.find(domain.ChecklistExpiredDocument, "certificate.oekotex.valid_until")
	if !ok || item.Severity != domain.SeverityMedium {
		t.Fatalf("expected medium expired_document item, got %+v", item)
	}
	if c.Status != domain.CaseReadyL1 {
		t.Fatalf("medium items must not block, got %s", c.Status)
	}
}

func TestRecomputeWithUnsettledDocumentIsProcessing(t *testing.T) {
	env := newTestEnv(t, openCase("general"))
	env.seedDocument("inv-1", domain.DocTypeInvoice, domain.StatusExtracted, "x")
	env.seedDocument("pl-1", "", domain.StatusUploaded)

	c, err := env.evaluator.Recompute(context.Background(), "case-1")
	if err != nil {
		t.Fatalf("Recompute() error = %v", err)
	}
	if c.Status != domain.CaseProcessing {
		t.Fatalf("expected processing, got %s", c.Status)
	}
}

func TestEvaluatorRefusesClosedCase(t *testing.T) {
	c := openCase("general")
	c.Status = domain.CaseClosed
	env := newTestEnv(t, c)

	if _, err := env.evaluator.RunValidation(context.Background(), "case-1"); !domain.IsKind(err, domain.ErrCaseClosed) {
		t.Fatalf("expected case closed error, got %v", err)
	}
	got, err := env.evaluator.Recompute(context.Background(), "case-1")
	if err != nil || got.Status != domain.CaseClosed {
		t.Fatalf("expected closed case returned unchanged, got %+v err=%v", got, err)
	}
	if env.cases.saves != 0 {
		t.Fatalf("closed case must not be saved")
	}
}

func TestSyncChecklistLeavesPersistingItemsUntouched(t *testing.T) {
	existing := []domain.ChecklistItem{
		{ID: "i-1", CaseID: "case-1", Type: domain.ChecklistMissingField, Subject: "a", Status: domain.ChecklistOpen},
		{ID: "i-2", CaseID: "case-1", Type: domain.ChecklistMissingField, Subject: "b", Status: domain.ChecklistReopened},
	}
	findings := []Finding{
		{Type: domain.ChecklistMissingField, Severity: domain.SeverityHigh, Subject: "a"},
		{Type: domain.ChecklistMissingField, Severity: domain.SeverityHigh, Subject: "c"},
		{Type: domain.ChecklistMissingField, Severity: domain.SeverityHigh, Subject: "c"},
	}

	delta := syncChecklist("case-1", existing, findings, testNow, sequentialIDs("new"))
	if len(delta.inserts) != 1 || delta.inserts[0].Subject != "c" {
		t.Fatalf("expected one insert for c, got %+v", delta.inserts)
	}
	if len(delta.updates) != 1 || delta.updates[0].ID != "i-2" || delta.updates[0].Status != domain.ChecklistDone {
		t.Fatalf("expected only i-2 closed, got %+v", delta.updates)
	}
	if delta.done != 1 || delta.reopened != 0 || len(delta.current) != 3 {
		t.Fatalf("unexpected counters: %+v", delta)
	}
}
