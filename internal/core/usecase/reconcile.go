package usecase

import (
	"sort"

	"github.com/kirillkom/trade-evidence/internal/core/domain"
)

// ReconcileOutcome is the canonical view plus the field status changes it implies.
type ReconcileOutcome struct {
	Views         []domain.CanonicalFieldView
	MarkConflict  []string
	ClearConflict []string
}

// ReconcileFields derives one canonical view per key from the case's
// non-superseded fields. It does not touch storage.
func ReconcileFields(catalog *domain.Catalog, caseID string, fields []domain.ExtractedField) ReconcileOutcome {
	byKey := make(map[string][]domain.ExtractedField)
	for _, f := range fields {
		if f.SupersededAt != nil {
			continue
		}
		byKey[f.CanonicalKey] = append(byKey[f.CanonicalKey], f)
	}
	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out ReconcileOutcome
	for _, key := range keys {
		view, mark, clear := reconcileKey(catalog.Field(key), caseID, key, byKey[key])
		out.Views = append(out.Views, view)
		out.MarkConflict = append(out.MarkConflict, mark...)
		out.ClearConflict = append(out.ClearConflict, clear...)
	}
	return out
}

func reconcileKey(spec domain.FieldSpec, caseID, key string, fields []domain.ExtractedField) (domain.CanonicalFieldView, []string, []string) {
	view := domain.CanonicalFieldView{CaseID: caseID, CanonicalKey: key, CandidateIDs: []string{}}

	var active, approved []domain.ExtractedField
	for _, f := range fields {
		if f.Status == domain.FieldRejected {
			continue
		}
		active = append(active, f)
		view.CandidateIDs = append(view.CandidateIDs, f.ID)
		if f.Status == domain.FieldApproved {
			approved = append(approved, f)
		}
	}
	if len(active) == 0 {
		view.Resolution = domain.ResolutionEmpty
		return view, nil, nil
	}

	contenders := active
	if len(approved) > 0 {
		contenders = approved
	}
	sortByPrecedence(contenders)

	if disagree(spec, contenders) {
		view.Resolution = domain.ResolutionConflict
		var mark []string
		for _, f := range contenders {
			view.ConflictingFieldIDs = append(view.ConflictingFieldIDs, f.ID)
			if f.Status == domain.FieldPendingReview {
				mark = append(mark, f.ID)
			}
		}
		return view, mark, nil
	}

	winner := contenders[0]
	view.Resolution = domain.ResolutionResolved
	view.Winner = &winner

	var clear []string
	for _, f := range active {
		if f.Status == domain.FieldConflict {
			clear = append(clear, f.ID)
		}
	}
	return view, nil, clear
}

// sortByPrecedence orders fields best first: tier, confidence (nil lowest),
// recency, then ID for a stable total order.
func sortByPrecedence(fields []domain.ExtractedField) {
	sort.SliceStable(fields, func(i, j int) bool {
		return outranks(fields[i], fields[j])
	})
}

func outranks(a, b domain.ExtractedField) bool {
	if a.Tier.Rank() != b.Tier.Rank() {
		return a.Tier.Rank() > b.Tier.Rank()
	}
	if ca, cb := a.ConfidenceValue(), b.ConfidenceValue(); ca != cb {
		return ca > cb
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID < b.ID
}

func disagree(spec domain.FieldSpec, fields []domain.ExtractedField) bool {
	for i := 0; i < len(fields); i++ {
		for j := i + 1; j < len(fields); j++ {
			if !valuesAgree(spec, fields[i].Value, fields[j].Value) {
				return true
			}
		}
	}
	return false
}

func viewsByKey(views []domain.CanonicalFieldView) map[string]domain.CanonicalFieldView {
	out := make(map[string]domain.CanonicalFieldView, len(views))
	for _, v := range views {
		out[v.CanonicalKey] = v
	}
	return out
}
