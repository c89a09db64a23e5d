// Package assessment defines the core assessment pipeline: the finding and
// score data model, the sub-query collection pattern, normalization helpers,
// the scoring engine, the module registry, and the run orchestrator.
package assessment

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Domain identifies a security area under assessment. Each value maps to
// exactly one registered module.
type Domain string

const (
	DomainIdentity         Domain = "identity-and-access"
	DomainDevice           Domain = "device-endpoint"
	DomainExchange         Domain = "exchange-email"
	DomainDataProtection   Domain = "data-protection"
	DomainPrivilegedAccess Domain = "privileged-access"
	DomainAppGovernance    Domain = "app-governance"
	DomainAuditLogging     Domain = "audit-logging"
	DomainCollaboration    Domain = "collaboration-security"
	DomainDefender         Domain = "defender-suite"
)

// Severity represents the severity level of a security finding.
type Severity string

const (
	Critical Severity = "CRITICAL"
	High     Severity = "HIGH"
	Medium   Severity = "MEDIUM"
	Low      Severity = "LOW"
	Info     Severity = "INFO"
)

// SeverityOrder returns a numeric priority for sorting (lower = more severe).
func SeverityOrder(s Severity) int {
	switch s {
	case Critical:
		return 0
	case High:
		return 1
	case Medium:
		return 2
	case Low:
		return 3
	case Info:
		return 4
	default:
		return 5
	}
}

// SeverityFor returns the effective severity of a check outcome: compliant
// checks are always recorded as INFO so they never affect the score.
func SeverityFor(compliant bool, nonCompliant Severity) Severity {
	if compliant {
		return Info
	}
	return nonCompliant
}

// Tenant is the entity under assessment. The ID is opaque and immutable
// once created (for Microsoft 365 it is the Entra tenant ID).
type Tenant struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
}

// RunStatus is the lifecycle state of an AssessmentRun.
type RunStatus string

const (
	StatusPending   RunStatus = "PENDING"
	StatusRunning   RunStatus = "RUNNING"
	StatusCompleted RunStatus = "COMPLETED"
	StatusFailed    RunStatus = "FAILED"
)

// CollectionResult is the output of a module's Collect for one domain.
//
// Success is false only if the entire domain collection aborted before the
// per-sub-query guards could run. Individual sub-query failures are recorded
// as warnings (and unavailable endpoints for essential sub-queries) while
// Success stays true.
type CollectionResult struct {
	// Domain is the assessment domain this collection belongs to.
	Domain Domain `json:"domain"`
	// Success reports whether the domain-level collection completed.
	Success bool `json:"success"`
	// Payloads maps sub-query keys to raw JSON responses.
	Payloads map[string]json.RawMessage `json:"payloads"`
	// Warnings lists per-sub-query failures ("Failed to collect <key>: <cause>").
	Warnings []string `json:"warnings,omitempty"`
	// UnavailableEndpoints lists essential sub-query keys that returned nothing.
	UnavailableEndpoints []string `json:"unavailable_endpoints,omitempty"`
	// ErrorMessage is set only when Success is false.
	ErrorMessage string `json:"error_message,omitempty"`
	// CollectedAt is when the collection finished.
	CollectedAt time.Time `json:"collected_at"`
}

// NewCollectionResult creates an empty successful result for a domain.
func NewCollectionResult(domain Domain) *CollectionResult {
	return &CollectionResult{
		Domain:   domain,
		Success:  true,
		Payloads: make(map[string]json.RawMessage),
	}
}

// maxAffectedResources caps the affected-resource list on a finding so
// reports stay readable for tenants with thousands of objects.
const maxAffectedResources = 20

// Finding represents a single normalized observation produced by a domain
// check. Findings are immutable once created.
type Finding struct {
	// CheckID is the stable, domain-scoped check identifier (e.g. "IAM-003").
	CheckID string `json:"check_id"`
	// CheckName is the short machine-friendly name of the check.
	CheckName string `json:"check_name"`
	// Title is a human-readable one-line summary.
	Title string `json:"title"`
	// Description explains what was observed.
	Description string `json:"description"`
	// Severity is the effective severity (INFO for compliant findings).
	Severity Severity `json:"severity"`
	// Compliant reports whether the tenant passed this check.
	Compliant bool `json:"compliant"`
	// Category groups findings within a domain (e.g. "Authentication").
	Category string `json:"category,omitempty"`
	// Evidence is a serialized JSON snippet supporting the finding.
	Evidence string `json:"evidence,omitempty"`
	// Remediation describes how to fix the issue.
	Remediation string `json:"remediation,omitempty"`
	// Reference links to vendor documentation or guidance.
	Reference string `json:"reference,omitempty"`
	// AffectedResources lists identifiers of affected objects (capped at 20).
	AffectedResources []string `json:"affected_resources,omitempty"`
	// Timestamp is when the finding was generated.
	Timestamp time.Time `json:"timestamp"`
}

// NormalizedFindings is the per-domain container handed from Normalize to
// the scoring engine.
type NormalizedFindings struct {
	// Domain is the assessment domain.
	Domain Domain `json:"domain"`
	// Findings are produced in the module's fixed check order.
	Findings []Finding `json:"findings"`
	// Summary holds human-readable roll-up lines (including degradation notes).
	Summary []string `json:"summary,omitempty"`
	// Metrics holds named numeric scoring inputs (counts, percentages).
	Metrics map[string]float64 `json:"metrics,omitempty"`
}

// NewNormalizedFindings creates an empty container for a domain.
func NewNormalizedFindings(domain Domain) *NormalizedFindings {
	return &NormalizedFindings{
		Domain:  domain,
		Metrics: make(map[string]float64),
	}
}

// Add appends a finding, stamping it and truncating the resource list.
func (nf *NormalizedFindings) Add(f Finding) {
	if f.Timestamp.IsZero() {
		f.Timestamp = time.Now().UTC()
	}
	if len(f.AffectedResources) > maxAffectedResources {
		f.AffectedResources = f.AffectedResources[:maxAffectedResources]
	}
	nf.Findings = append(nf.Findings, f)
}

// AddSummary appends a human-readable roll-up line.
func (nf *NormalizedFindings) AddSummary(format string, args ...interface{}) {
	nf.Summary = append(nf.Summary, fmt.Sprintf(format, args...))
}

// SetMetric records a named numeric scoring input.
func (nf *NormalizedFindings) SetMetric(name string, value float64) {
	nf.Metrics[name] = value
}

// ScoreBreakdown justifies a domain score without re-deriving it from the
// findings: finding counts by severity and compliance.
type ScoreBreakdown struct {
	Total                  int              `json:"total"`
	Compliant              int              `json:"compliant"`
	NonCompliant           int              `json:"non_compliant"`
	NonCompliantBySeverity map[Severity]int `json:"non_compliant_by_severity,omitempty"`
}

// DomainScore is the scored outcome for one domain.
type DomainScore struct {
	// Domain is the assessment domain.
	Domain Domain `json:"domain"`
	// Score is in [0,100]. Meaningless when Assessed is false.
	Score float64 `json:"score"`
	// Grade is the A-F posture grade derived from the findings.
	Grade string `json:"grade,omitempty"`
	// Assessed is false when the domain blew up mid-pipeline.
	Assessed bool `json:"assessed"`
	// Error annotates an unassessed domain with the failure cause.
	Error string `json:"error,omitempty"`
	// Breakdown holds the finding counts behind the score.
	Breakdown ScoreBreakdown `json:"breakdown"`
}

// UnassessedScore returns the placeholder score for a domain whose
// pipeline failed outside the collection guards.
func UnassessedScore(domain Domain, cause string) DomainScore {
	return DomainScore{Domain: domain, Assessed: false, Error: cause}
}

// AssessmentRun is one end-to-end assessment execution for a tenant.
// It is mutated only by the orchestrator and becomes immutable once it
// reaches a terminal status.
type AssessmentRun struct {
	// ID uniquely identifies the run.
	ID string `json:"id"`
	// TenantID is the tenant under assessment.
	TenantID string `json:"tenant_id"`
	// Status is the run lifecycle state.
	Status RunStatus `json:"status"`
	// StartedAt is when the run entered RUNNING.
	StartedAt time.Time `json:"started_at"`
	// CompletedAt is when the run reached a terminal status.
	CompletedAt time.Time `json:"completed_at,omitzero"`
	// DomainScores holds one entry per domain that passed permission validation.
	DomainScores map[Domain]DomainScore `json:"domain_scores,omitempty"`
	// SkippedDomains maps domains that failed permission validation to the reason.
	SkippedDomains map[Domain]string `json:"skipped_domains,omitempty"`
	// OverallScore is the weighted aggregate over assessed domains, in [0,100].
	OverallScore float64 `json:"overall_score"`
	// Grade is the A-F grade for the overall posture.
	Grade string `json:"grade,omitempty"`
	// Commentary is optional AI-generated analysis of the run.
	Commentary string `json:"commentary,omitempty"`
	// ErrorMessage explains a FAILED run.
	ErrorMessage string `json:"error_message,omitempty"`
}

// NewRun creates a pending run for a tenant with a fresh UUID.
func NewRun(tenantID string) *AssessmentRun {
	return &AssessmentRun{
		ID:             uuid.NewString(),
		TenantID:       tenantID,
		Status:         StatusPending,
		DomainScores:   make(map[Domain]DomainScore),
		SkippedDomains: make(map[Domain]string),
	}
}

// Terminal reports whether the run has reached a final status.
func (r *AssessmentRun) Terminal() bool {
	return r.Status == StatusCompleted || r.Status == StatusFailed
}

// Start transitions the run from PENDING to RUNNING.
func (r *AssessmentRun) Start() error {
	if r.Status != StatusPending {
		return fmt.Errorf("cannot start run in status %s", r.Status)
	}
	r.Status = StatusRunning
	r.StartedAt = time.Now().UTC()
	return nil
}

// Complete transitions the run to COMPLETED.
func (r *AssessmentRun) Complete() error {
	if r.Status != StatusRunning {
		return fmt.Errorf("cannot complete run in status %s", r.Status)
	}
	r.Status = StatusCompleted
	r.CompletedAt = time.Now().UTC()
	return nil
}

// Fail transitions the run to FAILED with an explanatory message.
func (r *AssessmentRun) Fail(message string) error {
	if r.Terminal() {
		return fmt.Errorf("cannot fail run in status %s", r.Status)
	}
	r.Status = StatusFailed
	r.ErrorMessage = message
	r.CompletedAt = time.Now().UTC()
	return nil
}
