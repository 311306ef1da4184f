package usecase

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/kirillkom/trade-evidence/internal/core/domain"
)

const (
	quantityKey     = "shipment.total_quantity"
	quantitySubject = "quantity:invoice-vs-packing_list"
)

// RuleInput is the read-only case state a rule evaluates.
type RuleInput struct {
	Case      *domain.Case
	Group     domain.ProductGroup
	Catalog   *domain.Catalog
	Documents []domain.Document
	Fields    []domain.ExtractedField
	Views     map[string]domain.CanonicalFieldView
	Now       time.Time
}

// Finding is a failed condition that maps onto one checklist item identity.
type Finding struct {
	Type           domain.ChecklistType
	Severity       domain.Severity
	Subject        string
	Title          string
	Description    string
	RelatedFieldID string
}

// Rule is stateless: the same input always yields the same results and findings.
type Rule interface {
	Key() string
	Evaluate(in RuleInput) ([]domain.RuleResult, []Finding)
}

func DefaultRules() []Rule {
	return []Rule{
		requiredFieldsRule{},
		requiredDocumentsRule{},
		conflictRule{},
		validityRule{},
		compositionRule{},
		quantityRule{},
	}
}

type requiredFieldsRule struct{}

func (requiredFieldsRule) Key() string { return "required_fields" }

func (r requiredFieldsRule) Evaluate(in RuleInput) ([]domain.RuleResult, []Finding) {
	var results []domain.RuleResult
	var findings []Finding
	for _, key := range in.Group.RequiredKeys {
		v, ok := in.Views[key]
		if ok && v.Resolved() {
			results = append(results, domain.RuleResult{
				RuleKey:         r.Key(),
				Severity:        domain.SeverityHigh,
				Outcome:         domain.OutcomePass,
				Message:         fmt.Sprintf("%s resolved", key),
				RelatedFieldIDs: []string{v.Winner.ID},
			})
			continue
		}
		reason := "no evidence"
		if ok && v.Resolution == domain.ResolutionConflict {
			reason = "conflicting values"
		}
		results = append(results, domain.RuleResult{
			RuleKey:  r.Key(),
			Severity: domain.SeverityHigh,
			Outcome:  domain.OutcomeFail,
			Message:  fmt.Sprintf("%s unresolved: %s", key, reason),
		})
		findings = append(findings, Finding{
			Type:        domain.ChecklistMissingField,
			Severity:    domain.SeverityHigh,
			Subject:     key,
			Title:       fmt.Sprintf("Missing field %s", key),
			Description: fmt.Sprintf("Required field %s has no resolved value (%s).", key, reason),
		})
	}
	return results, findings
}

type requiredDocumentsRule struct{}

func (requiredDocumentsRule) Key() string { return "required_documents" }

func (r requiredDocumentsRule) Evaluate(in RuleInput) ([]domain.RuleResult, []Finding) {
	present := make(map[domain.DocType]int)
	for _, doc := range in.Documents {
		if doc.Status == domain.StatusError || doc.DocType == "" {
			continue
		}
		present[doc.DocType]++
	}

	var results []domain.RuleResult
	var findings []Finding
	for _, t := range in.Group.RequiredDocTypes {
		if present[t] > 0 {
			results = append(results, domain.RuleResult{
				RuleKey:  r.Key(),
				Severity: domain.SeverityHigh,
				Outcome:  domain.OutcomePass,
				Message:  fmt.Sprintf("%s present", t),
			})
			continue
		}
		results = append(results, domain.RuleResult{
			RuleKey:  r.Key(),
			Severity: domain.SeverityHigh,
			Outcome:  domain.OutcomeFail,
			Message:  fmt.Sprintf("%s missing", t),
		})
		findings = append(findings, Finding{
			Type:        domain.ChecklistMissingDocument,
			Severity:    domain.SeverityHigh,
			Subject:     string(t),
			Title:       fmt.Sprintf("Missing document: %s", t),
			Description: fmt.Sprintf("Upload a %s for product group %s.", t, in.Group.Name),
		})
	}
	return results, findings
}

type conflictRule struct{}

func (conflictRule) Key() string { return "field_conflicts" }

func (r conflictRule) Evaluate(in RuleInput) ([]domain.RuleResult, []Finding) {
	keys := sortedViewKeys(in.Views)
	var results []domain.RuleResult
	var findings []Finding
	for _, key := range keys {
		v := in.Views[key]
		if v.Resolution != domain.ResolutionConflict {
			continue
		}
		related := ""
		if len(v.ConflictingFieldIDs) > 0 {
			related = v.ConflictingFieldIDs[0]
		}
		results = append(results, domain.RuleResult{
			RuleKey:         r.Key(),
			Severity:        domain.SeverityMedium,
			Outcome:         domain.OutcomeFail,
			Message:         fmt.Sprintf("%s has %d disagreeing values", key, len(v.ConflictingFieldIDs)),
			RelatedFieldIDs: v.ConflictingFieldIDs,
		})
		findings = append(findings, Finding{
			Type:           domain.ChecklistConflictDetected,
			Severity:       domain.SeverityMedium,
			Subject:        key,
			Title:          fmt.Sprintf("Conflicting values for %s", key),
			Description:    "Documents disagree on this value. Approve the correct one or reject the wrong ones.",
			RelatedFieldID: related,
		})
	}
	if len(results) == 0 {
		results = append(results, domain.RuleResult{
			RuleKey:  r.Key(),
			Severity: domain.SeverityMedium,
			Outcome:  domain.OutcomePass,
			Message:  "no conflicting fields",
		})
	}
	return results, findings
}

type validityRule struct{}

func (validityRule) Key() string { return "document_validity" }

func (r validityRule) Evaluate(in RuleInput) ([]domain.RuleResult, []Finding) {
	today := in.Now.UTC().Truncate(24 * time.Hour)
	var results []domain.RuleResult
	var findings []Finding
	for _, key := range in.Catalog.ValidityKeys() {
		v, ok := in.Views[key]
		if !ok || !v.Resolved() {
			results = append(results, domain.RuleResult{
				RuleKey:  r.Key(),
				Severity: domain.SeverityMedium,
				Outcome:  domain.OutcomeWarn,
				Message:  fmt.Sprintf("%s not resolved", key),
			})
			continue
		}
		validUntil, parsed := parseDate(v.Winner.Value)
		if !parsed {
			results = append(results, domain.RuleResult{
				RuleKey:         r.Key(),
				Severity:        domain.SeverityMedium,
				Outcome:         domain.OutcomeWarn,
				Message:         fmt.Sprintf("%s unreadable: %q", key, v.Winner.Value),
				RelatedFieldIDs: []string{v.Winner.ID},
			})
			continue
		}
		if !validUntil.Before(today) {
			results = append(results, domain.RuleResult{
				RuleKey:         r.Key(),
				Severity:        domain.SeverityMedium,
				Outcome:         domain.OutcomePass,
				Message:         fmt.Sprintf("%s valid until %s", key, validUntil.Format("2006-01-02")),
				RelatedFieldIDs: []string{v.Winner.ID},
			})
			continue
		}
		results = append(results, domain.RuleResult{
			RuleKey:         r.Key(),
			Severity:        domain.SeverityMedium,
			Outcome:         domain.OutcomeFail,
			Message:         fmt.Sprintf("%s expired on %s", key, validUntil.Format("2006-01-02")),
			RelatedFieldIDs: []string{v.Winner.ID},
		})
		findings = append(findings, Finding{
			Type:           domain.ChecklistExpiredDocument,
			Severity:       domain.SeverityMedium,
			Subject:        key,
			Title:          "Expired document",
			Description:    fmt.Sprintf("%s expired on %s. Upload a current document.", key, validUntil.Format("2006-01-02")),
			RelatedFieldID: v.Winner.ID,
		})
	}
	return results, findings
}

// compositionRule sums the resolved addends of each composition family.
// A family with a conflicted member is not evaluated.
type compositionRule struct{}

func (compositionRule) Key() string { return "composition_sum" }

func (r compositionRule) Evaluate(in RuleInput) ([]domain.RuleResult, []Finding) {
	families := in.Catalog.CompositionFamilies()
	names := make([]string, 0, len(families))
	for name := range families {
		names = append(names, name)
	}
	sort.Strings(names)

	var results []domain.RuleResult
	var findings []Finding
	for _, family := range names {
		var (
			total      float64
			resolved   []string
			conflicted []string
			unreadable []string
		)
		for _, key := range families[family] {
			v, ok := in.Views[key]
			if !ok {
				continue
			}
			switch {
			case v.Resolution == domain.ResolutionConflict:
				conflicted = append(conflicted, key)
			case v.Resolved():
				n, parsed := parseNumber(strings.TrimSuffix(v.Winner.Value, "%"))
				if !parsed {
					unreadable = append(unreadable, key)
					continue
				}
				total += n
				resolved = append(resolved, v.Winner.ID)
			}
		}

		switch {
		case len(conflicted) > 0:
			results = append(results, domain.RuleResult{
				RuleKey:  r.Key(),
				Severity: domain.SeverityHigh,
				Outcome:  domain.OutcomeWarn,
				Message:  fmt.Sprintf("%s not evaluated: conflicting %s", family, strings.Join(conflicted, ", ")),
			})
			continue
		case len(unreadable) > 0:
			results = append(results, domain.RuleResult{
				RuleKey:  r.Key(),
				Severity: domain.SeverityHigh,
				Outcome:  domain.OutcomeWarn,
				Message:  fmt.Sprintf("%s not evaluated: unreadable %s", family, strings.Join(unreadable, ", ")),
			})
			continue
		case len(resolved) == 0:
			results = append(results, domain.RuleResult{
				RuleKey:  r.Key(),
				Severity: domain.SeverityHigh,
				Outcome:  domain.OutcomeWarn,
				Message:  fmt.Sprintf("%s has no resolved values", family),
			})
			continue
		}

		if math.Abs(total-100) <= in.Catalog.CompositionTolerance {
			results = append(results, domain.RuleResult{
				RuleKey:         r.Key(),
				Severity:        domain.SeverityHigh,
				Outcome:         domain.OutcomePass,
				Message:         fmt.Sprintf("%s sums to %.1f%%", family, total),
				RelatedFieldIDs: resolved,
			})
			continue
		}
		results = append(results, domain.RuleResult{
			RuleKey:         r.Key(),
			Severity:        domain.SeverityHigh,
			Outcome:         domain.OutcomeFail,
			Message:         fmt.Sprintf("%s sums to %.1f%%", family, total),
			RelatedFieldIDs: resolved,
		})
		description := fmt.Sprintf("%s components sum to %.1f%%, expected 100%% within %.1f points.",
			family, total, in.Catalog.CompositionTolerance)
		findings = append(findings, Finding{
			Type:           domain.ChecklistCompositionError,
			Severity:       domain.SeverityHigh,
			Subject:        family,
			Title:          "Composition does not sum to 100%",
			Description:    description,
			RelatedFieldID: resolved[0],
		})
	}
	return results, findings
}

// quantityRule compares the invoice and packing list quantities directly.
type quantityRule struct{}

func (quantityRule) Key() string { return "quantity_match" }

func (r quantityRule) Evaluate(in RuleInput) ([]domain.RuleResult, []Finding) {
	docTypes := make(map[string]domain.DocType, len(in.Documents))
	for _, doc := range in.Documents {
		docTypes[doc.ID] = doc.DocType
	}
	var invoice, packing []domain.ExtractedField
	for _, f := range in.Fields {
		if f.CanonicalKey != quantityKey || !f.Active() {
			continue
		}
		switch docTypes[f.DocumentID] {
		case domain.DocTypeInvoice:
			invoice = append(invoice, f)
		case domain.DocTypePackingList:
			packing = append(packing, f)
		}
	}
	if len(invoice) == 0 || len(packing) == 0 {
		return []domain.RuleResult{{
			RuleKey:  r.Key(),
			Severity: domain.SeverityHigh,
			Outcome:  domain.OutcomeWarn,
			Message:  "invoice or packing list quantity not available",
		}}, nil
	}
	sortByPrecedence(invoice)
	sortByPrecedence(packing)
	a, b := invoice[0], packing[0]
	related := []string{a.ID, b.ID}
	if valuesAgree(in.Catalog.Field(quantityKey), a.Value, b.Value) {
		return []domain.RuleResult{{
			RuleKey:         r.Key(),
			Severity:        domain.SeverityHigh,
			Outcome:         domain.OutcomePass,
			Message:         fmt.Sprintf("invoice and packing list agree on %s", a.Value),
			RelatedFieldIDs: related,
		}}, nil
	}
	result := domain.RuleResult{
		RuleKey:         r.Key(),
		Severity:        domain.SeverityHigh,
		Outcome:         domain.OutcomeFail,
		Message:         fmt.Sprintf("invoice quantity %s differs from packing list %s", a.Value, b.Value),
		RelatedFieldIDs: related,
	}
	finding := Finding{
		Type:           domain.ChecklistConflictDetected,
		Severity:       domain.SeverityHigh,
		Subject:        quantitySubject,
		Title:          "Invoice and packing list quantities differ",
		Description:    fmt.Sprintf("Invoice states %s, packing list states %s.", a.Value, b.Value),
		RelatedFieldID: a.ID,
	}
	return []domain.RuleResult{result}, []Finding{finding}
}

func sortedViewKeys(views map[string]domain.CanonicalFieldView) []string {
	keys := make([]string, 0, len(views))
	for k := range views {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
