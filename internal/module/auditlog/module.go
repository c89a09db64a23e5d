// Package auditlog assesses audit and sign-in logging health: whether the
// directory audit trail and sign-in logs are populated and whether
// identity protection has unremediated risk detections.
package auditlog

import (
	"context"
	"fmt"
	"time"

	"github.com/PiotrMackowski/TenantPosture/internal/assessment"
)

func init() {
	assessment.Register(New())
}

// Module implements the audit-logging assessment domain.
type Module struct{}

func New() *Module {
	return &Module{}
}

func (m *Module) Domain() assessment.Domain { return assessment.DomainAuditLogging }
func (m *Module) Name() string              { return "Audit & Sign-in Logging" }

func (m *Module) Description() string {
	return "Assesses audit trail health: directory audits, sign-in logs, and open identity risk detections."
}

func (m *Module) RequiredPermissions() []string {
	return []string{"AuditLog.Read.All", "IdentityRiskEvent.Read.All"}
}

var subQueries = []assessment.SubQuery{
	{Key: "directoryAudits", Path: "/v1.0/auditLogs/directoryAudits?$top=50", Essential: true},
	{Key: "signIns", Path: "/v1.0/auditLogs/signIns?$top=50"},
	{Key: "riskDetections", Path: "/v1.0/identityProtection/riskDetections?$top=100"},
}

func (m *Module) Collect(ctx context.Context, client assessment.GraphClient) *assessment.CollectionResult {
	return assessment.CollectSubQueries(ctx, client, m.Domain(), subQueries)
}

type auditRecord struct {
	ID                  string    `json:"id"`
	ActivityDateTime    time.Time `json:"activityDateTime"`
	ActivityDisplayName string    `json:"activityDisplayName"`
}

type signInRecord struct {
	ID              string    `json:"id"`
	CreatedDateTime time.Time `json:"createdDateTime"`
}

type riskDetection struct {
	ID        string `json:"id"`
	RiskLevel string `json:"riskLevel"`
	RiskState string `json:"riskState"`
	UserID    string `json:"userId"`
}

// auditFreshnessCutoff is how recent the newest audit record must be for
// the trail to count as live.
const auditFreshnessCutoff = 7 * 24 * time.Hour

func (m *Module) Normalize(result *assessment.CollectionResult) *assessment.NormalizedFindings {
	if !result.Success {
		return assessment.CollectionFailureFindings(m.Domain(), result)
	}

	nf := assessment.NewNormalizedFindings(m.Domain())
	assessment.NoteDegradedEndpoints(nf, result)

	audits := assessment.DecodeValueList[auditRecord](result, "directoryAudits", nf)
	signIns := assessment.DecodeValueList[signInRecord](result, "signIns", nf)
	risks := assessment.DecodeValueList[riskDetection](result, "riskDetections", nf)

	now := time.Now().UTC()
	auditFresh := false
	for _, a := range audits {
		if now.Sub(a.ActivityDateTime) <= auditFreshnessCutoff {
			auditFresh = true
			break
		}
	}

	var openHighRisks []string
	for _, r := range risks {
		if r.RiskState == "atRisk" && (r.RiskLevel == "high" || r.RiskLevel == "medium") {
			openHighRisks = append(openHighRisks, assessment.ResourceLabel(r.ID, r.UserID))
		}
	}

	nf.SetMetric("directory_audit_records", float64(len(audits)))
	nf.SetMetric("sign_in_records", float64(len(signIns)))
	nf.SetMetric("open_risk_detections", float64(len(openHighRisks)))

	// AUD-001: directory audit trail live.
	auditOK := len(audits) > 0 && auditFresh
	nf.Add(assessment.Finding{
		CheckID:     "AUD-001",
		CheckName:   "directory_audit_live",
		Title:       "Directory audit trail is live",
		Description: fmt.Sprintf("%d recent directory audit records; fresh within 7 days: %t", len(audits), auditFresh),
		Severity:    assessment.SeverityFor(auditOK, assessment.High),
		Compliant:   auditOK,
		Category:    "Logging",
		Remediation: "Verify audit logging is enabled and retained for the tenant.",
	})

	// AUD-002: sign-in logs available.
	signInOK := len(signIns) > 0
	nf.Add(assessment.Finding{
		CheckID:     "AUD-002",
		CheckName:   "sign_in_logs_available",
		Title:       "Sign-in logs available",
		Description: fmt.Sprintf("%d recent sign-in records returned", len(signIns)),
		Severity:    assessment.SeverityFor(signInOK, assessment.High),
		Compliant:   signInOK,
		Category:    "Logging",
		Remediation: "Confirm the tenant license includes sign-in log access and export logs to a SIEM.",
	})

	// AUD-003: unremediated risk detections.
	noOpenRisks := len(openHighRisks) == 0
	nf.Add(assessment.Finding{
		CheckID:           "AUD-003",
		CheckName:         "open_risk_detections",
		Title:             "No unremediated identity risk detections",
		Description:       fmt.Sprintf("%d medium/high risk detections are still at risk", len(openHighRisks)),
		Severity:          assessment.SeverityFor(noOpenRisks, assessment.Critical),
		Compliant:         noOpenRisks,
		Category:          "Identity Protection",
		AffectedResources: openHighRisks,
		Remediation:       "Investigate and dismiss or remediate open risk detections.",
		Reference:         "https://learn.microsoft.com/entra/id-protection/howto-identity-protection-investigate-risk",
	})

	// AUD-004: inventory.
	nf.Add(assessment.Finding{
		CheckID:     "AUD-004",
		CheckName:   "logging_inventory",
		Title:       "Logging inventory",
		Description: fmt.Sprintf("%d audit records, %d sign-in records, %d risk detections sampled", len(audits), len(signIns), len(risks)),
		Severity:    assessment.Info,
		Compliant:   true,
		Category:    "Inventory",
	})

	nf.AddSummary("Sampled %d audit and %d sign-in records", len(audits), len(signIns))
	return nf
}

func (m *Module) Score(findings *assessment.NormalizedFindings, policy assessment.ScoringPolicy) assessment.DomainScore {
	return assessment.ScoreFindings(findings, policy)
}
