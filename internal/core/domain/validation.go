package domain

import "time"

type RuleOutcome string

const (
	OutcomePass RuleOutcome = "pass"
	OutcomeFail RuleOutcome = "fail"
	OutcomeWarn RuleOutcome = "warn"
)

type RuleResult struct {
	RuleKey         string      `json:"rule_key"`
	Severity        Severity    `json:"severity"`
	Outcome         RuleOutcome `json:"outcome"`
	Message         string      `json:"message"`
	RelatedFieldIDs []string    `json:"related_field_ids,omitempty"`
}

type ValidationSummary struct {
	CaseID                string       `json:"case_id"`
	TotalRules            int          `json:"total_rules"`
	Passed                int          `json:"passed"`
	Failed                int          `json:"failed"`
	Warnings              int          `json:"warnings"`
	ChecklistItemsCreated int          `json:"checklist_items_created"`
	ChecklistItemsDone    int          `json:"checklist_items_done"`
	ChecklistReopened     int          `json:"checklist_items_reopened"`
	Results               []RuleResult `json:"results"`
	RanAt                 time.Time    `json:"ran_at"`
}

type ExtractionReport struct {
	DocumentID         string         `json:"document_id"`
	RunID              string         `json:"run_id"`
	Status             DocumentStatus `json:"status"`
	PagesProcessed     int            `json:"pages_processed"`
	PagesFailed        int            `json:"pages_failed"`
	PagesSkipped       int            `json:"pages_skipped"`
	CandidatesAccepted int            `json:"candidates_accepted"`
	CandidatesDropped  int            `json:"candidates_dropped"`
	Discarded          bool           `json:"discarded,omitempty"`
}

// BatchResult reports partial success for case-wide operations.
type BatchResult struct {
	CaseID    string   `json:"case_id"`
	Processed int      `json:"processed"`
	Errored   int      `json:"errored"`
	Skipped   int      `json:"skipped"`
	Failed    []string `json:"failed_document_ids,omitempty"`
}

type AuditEntry struct {
	ID         string            `json:"id"`
	CaseID     string            `json:"case_id"`
	Actor      string            `json:"actor"`
	Action     string            `json:"action"`
	EntityType string            `json:"entity_type"`
	EntityID   string            `json:"entity_id"`
	Details    map[string]string `json:"details,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}
