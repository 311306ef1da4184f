package domain

import "time"

type ChecklistType string

const (
	ChecklistMissingField     ChecklistType = "missing_field"
	ChecklistMissingDocument  ChecklistType = "missing_document"
	ChecklistConflictDetected ChecklistType = "conflict_detected"
	ChecklistExpiredDocument  ChecklistType = "expired_document"
	ChecklistCompositionError ChecklistType = "composition_error"
)

type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

type ChecklistStatus string

const (
	ChecklistOpen     ChecklistStatus = "open"
	ChecklistDone     ChecklistStatus = "done"
	ChecklistReopened ChecklistStatus = "reopened"
)

type ChecklistItem struct {
	ID             string          `json:"id"`
	CaseID         string          `json:"case_id"`
	Type           ChecklistType   `json:"type"`
	Severity       Severity        `json:"severity"`
	Status         ChecklistStatus `json:"status"`
	RuleKey        string          `json:"rule_key"`
	Subject        string          `json:"subject"`
	Title          string          `json:"title"`
	Description    string          `json:"description"`
	RelatedFieldID string          `json:"related_field_id,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// IdentityKey is what makes two checklist conditions "the same" across runs.
func (i ChecklistItem) IdentityKey() string {
	return ChecklistIdentity(i.Type, i.Subject)
}

func ChecklistIdentity(t ChecklistType, subject string) string {
	return string(t) + "|" + subject
}

// Outstanding items still need attention.
func (i ChecklistItem) Outstanding() bool {
	return i.Status == ChecklistOpen || i.Status == ChecklistReopened
}
