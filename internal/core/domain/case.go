package domain

import "time"

type CaseStatus string

const (
	CaseDraft      CaseStatus = "draft"
	CaseProcessing CaseStatus = "processing"
	CaseBlocked    CaseStatus = "blocked"
	CaseReadyL1    CaseStatus = "ready_l1"
	CaseReadyL2    CaseStatus = "ready_l2"
	CaseClosed     CaseStatus = "closed"
)

// AcceptsUploads reports whether new documents may be attached in this status.
func (s CaseStatus) AcceptsUploads() bool {
	switch s {
	case CaseDraft, CaseBlocked, CaseReadyL1, CaseReadyL2:
		return true
	default:
		return false
	}
}

type Case struct {
	ID           string     `json:"id"`
	SupplierID   string     `json:"supplier_id"`
	BuyerID      string     `json:"buyer_id"`
	ReferenceNo  string     `json:"reference_no"`
	ProductGroup string     `json:"product_group"`
	DateFrom     *time.Time `json:"date_from,omitempty"`
	DateTo       *time.Time `json:"date_to,omitempty"`
	Status       CaseStatus `json:"status"`
	ReadyL1At    *time.Time `json:"ready_l1_at,omitempty"`
	ReadyL2At    *time.Time `json:"ready_l2_at,omitempty"`
	ClosedAt     *time.Time `json:"closed_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// CaseSnapshot is everything status derivation looks at.
type CaseSnapshot struct {
	Current          CaseStatus
	Documents        []Document
	Checklist        []ChecklistItem
	Views            []CanonicalFieldView
	RequiredKeys     []string
	RequiredDocTypes []DocType
}

// DeriveCaseStatus computes the case status from current facts. It has no side effects.
func DeriveCaseStatus(s CaseSnapshot) CaseStatus {
	if s.Current == CaseClosed {
		return CaseClosed
	}
	if len(s.Documents) == 0 {
		return CaseDraft
	}
	for _, doc := range s.Documents {
		if !doc.Status.Settled() {
			return CaseProcessing
		}
	}
	for _, item := range s.Checklist {
		if item.Severity == SeverityHigh && item.Outstanding() {
			return CaseBlocked
		}
	}
	if verifiedForBuyer(s) {
		return CaseReadyL2
	}
	return CaseReadyL1
}

func verifiedForBuyer(s CaseSnapshot) bool {
	present := make(map[DocType]bool, len(s.Documents))
	for _, doc := range s.Documents {
		if doc.Status == StatusExtracted {
			present[doc.DocType] = true
		}
	}
	for _, t := range s.RequiredDocTypes {
		if !present[t] {
			return false
		}
	}

	byKey := make(map[string]CanonicalFieldView, len(s.Views))
	for _, v := range s.Views {
		byKey[v.CanonicalKey] = v
	}
	for _, key := range s.RequiredKeys {
		v, ok := byKey[key]
		if !ok || !v.Resolved() {
			return false
		}
		w := v.Winner
		if w.Status != FieldApproved || w.Tier != TierL2 || w.Visibility != VisibilityBuyerVisible {
			return false
		}
	}
	return true
}

type OpenCaseInput struct {
	SupplierID   string     `json:"supplier_id"`
	BuyerID      string     `json:"buyer_id"`
	ReferenceNo  string     `json:"reference_no"`
	ProductGroup string     `json:"product_group"`
	DateFrom     *time.Time `json:"date_from,omitempty"`
	DateTo       *time.Time `json:"date_to,omitempty"`
}
