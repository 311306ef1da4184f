package domain

type Resolution string

const (
	ResolutionResolved Resolution = "resolved"
	ResolutionConflict Resolution = "conflict"
	ResolutionEmpty    Resolution = "empty"
)

// CanonicalFieldView is the derived per-key projection produced by reconciliation.
// Winner is nil unless Resolution is resolved.
type CanonicalFieldView struct {
	CaseID              string          `json:"case_id"`
	CanonicalKey        string          `json:"canonical_key"`
	Resolution          Resolution      `json:"resolution"`
	Winner              *ExtractedField `json:"winner,omitempty"`
	CandidateIDs        []string        `json:"candidate_ids"`
	ConflictingFieldIDs []string        `json:"conflicting_field_ids,omitempty"`
}

func (v CanonicalFieldView) Resolved() bool {
	return v.Resolution == ResolutionResolved && v.Winner != nil
}

// BuyerProjection keeps only resolved views whose winner is buyer visible.
func BuyerProjection(views []CanonicalFieldView) []CanonicalFieldView {
	out := make([]CanonicalFieldView, 0, len(views))
	for _, v := range views {
		if !v.Resolved() || v.Winner.Visibility != VisibilityBuyerVisible {
			continue
		}
		winner := *v.Winner
		out = append(out, CanonicalFieldView{
			CaseID:       v.CaseID,
			CanonicalKey: v.CanonicalKey,
			Resolution:   v.Resolution,
			Winner:       &winner,
			CandidateIDs: []string{winner.ID},
		})
	}
	return out
}
