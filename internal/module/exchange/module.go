// Package exchange assesses email security posture: domain verification,
// anti-spam/anti-malware policy coverage, and safe attachment protection.
package exchange

import (
	"context"
	"fmt"

	"github.com/PiotrMackowski/TenantPosture/internal/assessment"
)

func init() {
	assessment.Register(New())
}

// Module implements the exchange-email assessment domain.
type Module struct{}

func New() *Module {
	return &Module{}
}

func (m *Module) Domain() assessment.Domain { return assessment.DomainExchange }
func (m *Module) Name() string              { return "Exchange & Email Security" }

func (m *Module) Description() string {
	return "Assesses email hygiene: accepted domain verification and threat protection policy coverage."
}

func (m *Module) RequiredPermissions() []string {
	return []string{"Domain.Read.All", "SecurityEvents.Read.All"}
}

var subQueries = []assessment.SubQuery{
	{Key: "domains", Path: "/v1.0/domains", Essential: true},
	{Key: "spamPolicies", Path: "/beta/security/emailSecurity/spamFilterPolicies"},
	{Key: "malwarePolicies", Path: "/beta/security/emailSecurity/malwareFilterPolicies"},
	{Key: "safeAttachmentPolicies", Path: "/beta/security/emailSecurity/safeAttachmentPolicies"},
}

func (m *Module) Collect(ctx context.Context, client assessment.GraphClient) *assessment.CollectionResult {
	return assessment.CollectSubQueries(ctx, client, m.Domain(), subQueries)
}

type acceptedDomain struct {
	ID         string `json:"id"`
	IsVerified bool   `json:"isVerified"`
	IsDefault  bool   `json:"isDefault"`
}

type filterPolicy struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

func (m *Module) Normalize(result *assessment.CollectionResult) *assessment.NormalizedFindings {
	if !result.Success {
		return assessment.CollectionFailureFindings(m.Domain(), result)
	}

	nf := assessment.NewNormalizedFindings(m.Domain())
	assessment.NoteDegradedEndpoints(nf, result)

	domains := assessment.DecodeValueList[acceptedDomain](result, "domains", nf)
	spamPolicies := assessment.DecodeValueList[filterPolicy](result, "spamPolicies", nf)
	malwarePolicies := assessment.DecodeValueList[filterPolicy](result, "malwarePolicies", nf)
	safeAttachment := assessment.DecodeValueList[filterPolicy](result, "safeAttachmentPolicies", nf)

	var unverified []string
	for _, d := range domains {
		if !d.IsVerified {
			unverified = append(unverified, d.ID)
		}
	}

	enabledCount := func(policies []filterPolicy) int {
		n := 0
		for _, p := range policies {
			if p.Enabled {
				n++
			}
		}
		return n
	}
	spamEnabled := enabledCount(spamPolicies)
	malwareEnabled := enabledCount(malwarePolicies)
	safeAttachEnabled := enabledCount(safeAttachment)

	nf.SetMetric("accepted_domains", float64(len(domains)))
	nf.SetMetric("unverified_domains", float64(len(unverified)))
	nf.SetMetric("spam_policies_enabled", float64(spamEnabled))
	nf.SetMetric("malware_policies_enabled", float64(malwareEnabled))
	nf.SetMetric("safe_attachment_policies_enabled", float64(safeAttachEnabled))

	// EXO-001: all accepted domains verified.
	allVerified := len(unverified) == 0
	nf.Add(assessment.Finding{
		CheckID:           "EXO-001",
		CheckName:         "domains_verified",
		Title:             "All accepted domains verified",
		Description:       fmt.Sprintf("%d of %d accepted domains are unverified", len(unverified), len(domains)),
		Severity:          assessment.SeverityFor(allVerified, assessment.Low),
		Compliant:         allVerified,
		Category:          "Domains",
		AffectedResources: unverified,
		Remediation:       "Complete DNS verification for all accepted domains or remove stale entries.",
	})

	// EXO-002: anti-spam policy coverage.
	spamOK := spamEnabled > 0
	nf.Add(assessment.Finding{
		CheckID:     "EXO-002",
		CheckName:   "spam_filter_enabled",
		Title:       "Anti-spam filtering enabled",
		Description: fmt.Sprintf("%d enabled anti-spam policies", spamEnabled),
		Severity:    assessment.SeverityFor(spamOK, assessment.Medium),
		Compliant:   spamOK,
		Category:    "Threat Protection",
		Remediation: "Enable at least one anti-spam policy covering all recipients.",
	})

	// EXO-003: anti-malware policy coverage.
	malwareOK := malwareEnabled > 0
	nf.Add(assessment.Finding{
		CheckID:     "EXO-003",
		CheckName:   "malware_filter_enabled",
		Title:       "Anti-malware filtering enabled",
		Description: fmt.Sprintf("%d enabled anti-malware policies", malwareEnabled),
		Severity:    assessment.SeverityFor(malwareOK, assessment.High),
		Compliant:   malwareOK,
		Category:    "Threat Protection",
		Remediation: "Enable anti-malware filtering with the common attachment filter.",
	})

	// EXO-004: safe attachments.
	safeOK := safeAttachEnabled > 0
	nf.Add(assessment.Finding{
		CheckID:     "EXO-004",
		CheckName:   "safe_attachments_enabled",
		Title:       "Safe attachment scanning enabled",
		Description: fmt.Sprintf("%d enabled safe attachment policies", safeAttachEnabled),
		Severity:    assessment.SeverityFor(safeOK, assessment.High),
		Compliant:   safeOK,
		Category:    "Threat Protection",
		Remediation: "Enable Defender for Office 365 safe attachment policies.",
		Reference:   "https://learn.microsoft.com/defender-office-365/safe-attachments-about",
	})

	// EXO-005: inventory.
	nf.Add(assessment.Finding{
		CheckID:     "EXO-005",
		CheckName:   "email_inventory",
		Title:       "Email configuration inventory",
		Description: fmt.Sprintf("%d accepted domains, %d threat protection policies", len(domains), len(spamPolicies)+len(malwarePolicies)+len(safeAttachment)),
		Severity:    assessment.Info,
		Compliant:   true,
		Category:    "Inventory",
	})

	nf.AddSummary("Assessed %d accepted domains and email threat protection policies", len(domains))
	return nf
}

func (m *Module) Score(findings *assessment.NormalizedFindings, policy assessment.ScoringPolicy) assessment.DomainScore {
	return assessment.ScoreFindings(findings, policy)
}
