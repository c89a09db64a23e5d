// Package dataprotection assesses information protection posture:
// sensitivity label coverage, data loss prevention policies, and
// retention configuration.
package dataprotection

import (
	"context"
	"fmt"

	"github.com/PiotrMackowski/TenantPosture/internal/assessment"
)

func init() {
	assessment.Register(New())
}

// Module implements the data-protection assessment domain.
type Module struct{}

func New() *Module {
	return &Module{}
}

func (m *Module) Domain() assessment.Domain { return assessment.DomainDataProtection }
func (m *Module) Name() string              { return "Data Protection" }

func (m *Module) Description() string {
	return "Assesses Purview information protection: sensitivity labels, DLP policies, and retention."
}

func (m *Module) RequiredPermissions() []string {
	return []string{"InformationProtectionPolicy.Read.All", "RecordsManagement.Read.All"}
}

var subQueries = []assessment.SubQuery{
	{Key: "sensitivityLabels", Path: "/beta/informationProtection/policy/labels", Essential: true},
	{Key: "dlpPolicies", Path: "/beta/security/dataLossPreventionPolicies"},
	{Key: "retentionLabels", Path: "/beta/security/labels/retentionLabels"},
}

func (m *Module) Collect(ctx context.Context, client assessment.GraphClient) *assessment.CollectionResult {
	return assessment.CollectSubQueries(ctx, client, m.Domain(), subQueries)
}

type sensitivityLabel struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	IsActive bool   `json:"isActive"`
}

type dlpPolicy struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Mode        string `json:"mode"`
}

type retentionLabel struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	IsInUse     bool   `json:"isInUse"`
}

func (m *Module) Normalize(result *assessment.CollectionResult) *assessment.NormalizedFindings {
	if !result.Success {
		return assessment.CollectionFailureFindings(m.Domain(), result)
	}

	nf := assessment.NewNormalizedFindings(m.Domain())
	assessment.NoteDegradedEndpoints(nf, result)

	labels := assessment.DecodeValueList[sensitivityLabel](result, "sensitivityLabels", nf)
	dlp := assessment.DecodeValueList[dlpPolicy](result, "dlpPolicies", nf)
	retention := assessment.DecodeValueList[retentionLabel](result, "retentionLabels", nf)

	activeLabels := 0
	for _, l := range labels {
		if l.IsActive {
			activeLabels++
		}
	}

	enforcedDLP := 0
	for _, p := range dlp {
		if p.Mode == "enforce" {
			enforcedDLP++
		}
	}

	usedRetention := 0
	for _, r := range retention {
		if r.IsInUse {
			usedRetention++
		}
	}

	nf.SetMetric("sensitivity_labels", float64(len(labels)))
	nf.SetMetric("active_sensitivity_labels", float64(activeLabels))
	nf.SetMetric("dlp_policies", float64(len(dlp)))
	nf.SetMetric("enforced_dlp_policies", float64(enforcedDLP))
	nf.SetMetric("retention_labels_in_use", float64(usedRetention))

	// DLP-001: sensitivity labels published.
	labelsOK := activeLabels > 0
	nf.Add(assessment.Finding{
		CheckID:     "DLP-001",
		CheckName:   "sensitivity_labels_published",
		Title:       "Sensitivity labels published",
		Description: fmt.Sprintf("%d active sensitivity labels of %d defined", activeLabels, len(labels)),
		Severity:    assessment.SeverityFor(labelsOK, assessment.High),
		Compliant:   labelsOK,
		Category:    "Classification",
		Remediation: "Define and publish sensitivity labels covering the tenant's data classifications.",
		Reference:   "https://learn.microsoft.com/purview/sensitivity-labels",
	})

	// DLP-002: DLP policies enforced.
	dlpOK := enforcedDLP > 0
	nf.Add(assessment.Finding{
		CheckID:     "DLP-002",
		CheckName:   "dlp_policies_enforced",
		Title:       "Data loss prevention policies enforced",
		Description: fmt.Sprintf("%d of %d DLP policies are in enforce mode", enforcedDLP, len(dlp)),
		Severity:    assessment.SeverityFor(dlpOK, assessment.High),
		Compliant:   dlpOK,
		Category:    "Data Loss Prevention",
		Remediation: "Move DLP policies from test mode to enforce for sensitive information types.",
	})

	// DLP-003: retention labels in use.
	retentionOK := usedRetention > 0
	nf.Add(assessment.Finding{
		CheckID:     "DLP-003",
		CheckName:   "retention_labels_in_use",
		Title:       "Retention labels in use",
		Description: fmt.Sprintf("%d retention labels are applied to content", usedRetention),
		Severity:    assessment.SeverityFor(retentionOK, assessment.Medium),
		Compliant:   retentionOK,
		Category:    "Retention",
		Remediation: "Publish retention labels and apply them to key content locations.",
	})

	// DLP-004: inventory.
	nf.Add(assessment.Finding{
		CheckID:     "DLP-004",
		CheckName:   "data_protection_inventory",
		Title:       "Data protection inventory",
		Description: fmt.Sprintf("%d sensitivity labels, %d DLP policies, %d retention labels", len(labels), len(dlp), len(retention)),
		Severity:    assessment.Info,
		Compliant:   true,
		Category:    "Inventory",
	})

	nf.AddSummary("Assessed %d sensitivity labels and %d DLP policies", len(labels), len(dlp))
	return nf
}

func (m *Module) Score(findings *assessment.NormalizedFindings, policy assessment.ScoringPolicy) assessment.DomainScore {
	return assessment.ScoreFindings(findings, policy)
}
