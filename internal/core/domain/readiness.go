package domain

import "time"

type CaseMetrics struct {
	CaseID          string     `json:"case_id"`
	SupplierID      string     `json:"supplier_id"`
	Status          CaseStatus `json:"status"`
	DocumentCount   int        `json:"document_count"`
	FieldCount      int        `json:"field_count"`
	RequiredTotal   int        `json:"required_total"`
	RequiredPresent int        `json:"required_present"`
	CoveragePct     float64    `json:"coverage_pct"`
	ConflictRate    float64    `json:"conflict_rate"`
	DaysToReady     *float64   `json:"days_to_ready,omitempty"`
	DaysToReadyL2   *float64   `json:"days_to_ready_l2,omitempty"`
	L1Count         int        `json:"l1_count"`
	L2Count         int        `json:"l2_count"`
	BuyerVisible    int        `json:"buyer_visible_count"`
	ChecklistOpen   int        `json:"checklist_open"`
	ChecklistDone   int        `json:"checklist_done"`
	FirstUploadAt   *time.Time `json:"first_upload_at,omitempty"`
	ComputedAt      time.Time  `json:"computed_at"`
}

type SupplierMetrics struct {
	SupplierID       string        `json:"supplier_id"`
	CaseCount        int           `json:"case_count"`
	ReadyCount       int           `json:"ready_count"`
	AvgCoveragePct   float64       `json:"avg_coverage_pct"`
	AvgConflictRate  float64       `json:"avg_conflict_rate"`
	AvgDaysToReady   *float64      `json:"avg_days_to_ready,omitempty"`
	AvgDaysToReadyL2 *float64      `json:"avg_days_to_ready_l2,omitempty"`
	L1Count          int           `json:"l1_count"`
	L2Count          int           `json:"l2_count"`
	Cases            []CaseMetrics `json:"cases"`
}
