package domain

import (
	"errors"
	"time"
)

type Tier string

const (
	TierL1 Tier = "L1"
	TierL2 Tier = "L2"
)

// Rank orders tiers; L2 (human verified) outranks L1.
func (t Tier) Rank() int {
	switch t {
	case TierL2:
		return 2
	case TierL1:
		return 1
	default:
		return 0
	}
}

// Meets reports whether t is at least min.
func (t Tier) Meets(min Tier) bool {
	return t.Rank() >= min.Rank()
}

type FieldStatus string

const (
	FieldPendingReview FieldStatus = "pending_review"
	FieldApproved      FieldStatus = "approved"
	FieldRejected      FieldStatus = "rejected"
	FieldConflict      FieldStatus = "conflict"
)

type Visibility string

const (
	VisibilitySupplierOnly Visibility = "supplier_only"
	VisibilityBuyerVisible Visibility = "buyer_visible"
)

type FieldSource string

const (
	SourceAI     FieldSource = "ai"
	SourceManual FieldSource = "manual"
	SourceSystem FieldSource = "system"
)

// ExtractedField is one evidence-anchored value for a canonical key.
type ExtractedField struct {
	ID              string      `json:"id"`
	CaseID          string      `json:"case_id"`
	DocumentID      string      `json:"document_id"`
	CanonicalKey    string      `json:"canonical_key"`
	Value           string      `json:"value"`
	Unit            string      `json:"unit,omitempty"`
	Page            int         `json:"page"`
	Snippet         string      `json:"snippet"`
	Confidence      *float64    `json:"confidence,omitempty"`
	Tier            Tier        `json:"tier"`
	Status          FieldStatus `json:"status"`
	Visibility      Visibility  `json:"visibility"`
	CreatedFrom     FieldSource `json:"created_from"`
	ExtractionRunID string      `json:"extraction_run_id,omitempty"`
	SupersededAt    *time.Time  `json:"superseded_at,omitempty"`
	RejectionReason string      `json:"rejection_reason,omitempty"`
	ReviewedBy      string      `json:"reviewed_by,omitempty"`
	ReviewedAt      *time.Time  `json:"reviewed_at,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// Active fields take part in reconciliation.
func (f *ExtractedField) Active() bool {
	return f.SupersededAt == nil && f.Status != FieldRejected
}

// ValidateEvidence enforces that every non-system field is anchored to a page snippet.
func (f *ExtractedField) ValidateEvidence() error {
	if f.CreatedFrom == SourceSystem {
		return nil
	}
	if f.Page < 1 {
		return WrapError(ErrEvidenceMissing, "validate evidence", errors.New("page must be >= 1"))
	}
	if f.Snippet == "" {
		return WrapError(ErrEvidenceMissing, "validate evidence", errors.New("snippet is empty"))
	}
	return nil
}

func (f *ExtractedField) ConfidenceValue() float64 {
	if f.Confidence == nil {
		return -1
	}
	return *f.Confidence
}

// CandidateField is a raw extraction result before filtering and persistence.
type CandidateField struct {
	CanonicalKey string  `json:"canonical_key"`
	Value        string  `json:"value"`
	Unit         string  `json:"unit,omitempty"`
	Snippet      string  `json:"snippet"`
	Confidence   float64 `json:"confidence"`
}

func Float64Ptr(v float64) *float64 {
	return &v
}

// ManualFieldInput is a reviewer-entered value; it must still cite a page snippet.
type ManualFieldInput struct {
	CaseID       string `json:"case_id"`
	DocumentID   string `json:"document_id"`
	CanonicalKey string `json:"canonical_key"`
	Value        string `json:"value"`
	Unit         string `json:"unit,omitempty"`
	Page         int    `json:"page"`
	Snippet      string `json:"snippet"`
	Actor        string `json:"actor"`
}
