package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/trade-evidence/internal/core/domain"
)

// PipelineMetrics implements ports.PipelineObserver on top of a Prometheus registry.
type PipelineMetrics struct {
	service string

	classificationsTotal *prometheus.CounterVec
	candidatesAccepted   *prometheus.CounterVec
	candidatesDropped    *prometheus.CounterVec
	pageFailuresTotal    *prometheus.CounterVec
	validationRunsTotal  *prometheus.CounterVec
	checklistTransitions *prometheus.CounterVec
	caseStatusTotal      *prometheus.CounterVec
}

func NewPipelineMetrics(service string, registerer prometheus.Registerer) *PipelineMetrics {
	classificationsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trade",
			Subsystem: "pipeline",
			Name:      "classifications_total",
			Help:      "Documents classified by method and type.",
		},
		[]string{"service", "method", "doc_type"},
	)
	candidatesAccepted := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trade",
			Subsystem: "pipeline",
			Name:      "candidates_accepted_total",
			Help:      "Extracted field candidates persisted with evidence.",
		},
		[]string{"service"},
	)
	candidatesDropped := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trade",
			Subsystem: "pipeline",
			Name:      "candidates_dropped_total",
			Help:      "Extracted field candidates dropped by reason.",
		},
		[]string{"service", "reason"},
	)
	pageFailuresTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trade",
			Subsystem: "pipeline",
			Name:      "page_failures_total",
			Help:      "Per-page extraction calls that failed, by reason.",
		},
		[]string{"service", "reason"},
	)
	validationRunsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trade",
			Subsystem: "pipeline",
			Name:      "validation_rule_results_total",
			Help:      "Validation rule outcomes.",
		},
		[]string{"service", "outcome"},
	)
	checklistTransitions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trade",
			Subsystem: "pipeline",
			Name:      "checklist_transitions_total",
			Help:      "Checklist items created, completed or reopened by validation.",
		},
		[]string{"service", "transition"},
	)
	caseStatusTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trade",
			Subsystem: "pipeline",
			Name:      "case_status_changes_total",
			Help:      "Case status changes by target status.",
		},
		[]string{"service", "from", "to"},
	)

	registerer.MustRegister(
		classificationsTotal,
		candidatesAccepted,
		candidatesDropped,
		pageFailuresTotal,
		validationRunsTotal,
		checklistTransitions,
		caseStatusTotal,
	)

	return &PipelineMetrics{
		service:              service,
		classificationsTotal: classificationsTotal,
		candidatesAccepted:   candidatesAccepted,
		candidatesDropped:    candidatesDropped,
		pageFailuresTotal:    pageFailuresTotal,
		validationRunsTotal:  validationRunsTotal,
		checklistTransitions: checklistTransitions,
		caseStatusTotal:      caseStatusTotal,
	}
}

func (m *PipelineMetrics) ObserveClassification(method domain.ClassificationMethod, docType domain.DocType) {
	m.classificationsTotal.WithLabelValues(m.service, string(method), string(docType)).Inc()
}

func (m *PipelineMetrics) ObserveCandidates(accepted int, dropped map[string]int) {
	if accepted > 0 {
		m.candidatesAccepted.WithLabelValues(m.service).Add(float64(accepted))
	}
	for reason, n := range dropped {
		if n > 0 {
			m.candidatesDropped.WithLabelValues(m.service, reason).Add(float64(n))
		}
	}
}

func (m *PipelineMetrics) ObservePageFailure(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	m.pageFailuresTotal.WithLabelValues(m.service, reason).Inc()
}

func (m *PipelineMetrics) ObserveValidation(summary domain.ValidationSummary) {
	add := func(vec *prometheus.CounterVec, label string, n int) {
		if n > 0 {
			vec.WithLabelValues(m.service, label).Add(float64(n))
		}
	}
	add(m.validationRunsTotal, string(domain.OutcomePass), summary.Passed)
	add(m.validationRunsTotal, string(domain.OutcomeFail), summary.Failed)
	add(m.validationRunsTotal, string(domain.OutcomeWarn), summary.Warnings)
	add(m.checklistTransitions, "created", summary.ChecklistItemsCreated)
	add(m.checklistTransitions, "done", summary.ChecklistItemsDone)
	add(m.checklistTransitions, "reopened", summary.ChecklistReopened)
}

func (m *PipelineMetrics) ObserveCaseStatus(from, to domain.CaseStatus) {
	m.caseStatusTotal.WithLabelValues(m.service, string(from), string(to)).Inc()
}
