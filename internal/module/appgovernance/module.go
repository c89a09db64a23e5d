// Package appgovernance assesses application registrations and service
// principals: credential hygiene, high-privilege consent grants, and
// user-consented permissions.
package appgovernance

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PiotrMackowski/TenantPosture/internal/assessment"
)

func init() {
	assessment.Register(New())
}

// Module implements the app-governance assessment domain.
type Module struct{}

func New() *Module {
	return &Module{}
}

func (m *Module) Domain() assessment.Domain { return assessment.DomainAppGovernance }
func (m *Module) Name() string              { return "Application Governance" }

func (m *Module) Description() string {
	return "Assesses app registrations and OAuth grants: secret expiry, high-privilege scopes, and user consent."
}

func (m *Module) RequiredPermissions() []string {
	return []string{"Application.Read.All", "Directory.Read.All"}
}

var subQueries = []assessment.SubQuery{
	{Key: "applications", Path: "/v1.0/applications?$select=id,appId,displayName,passwordCredentials&$top=999", Essential: true},
	{Key: "servicePrincipals", Path: "/v1.0/servicePrincipals?$select=id,appId,displayName,accountEnabled&$top=999"},
	{Key: "oauthGrants", Path: "/v1.0/oauth2PermissionGrants"},
}

func (m *Module) Collect(ctx context.Context, client assessment.GraphClient) *assessment.CollectionResult {
	return assessment.CollectSubQueries(ctx, client, m.Domain(), subQueries)
}

type passwordCredential struct {
	KeyID       string    `json:"keyId"`
	EndDateTime time.Time `json:"endDateTime"`
}

type application struct {
	ID                  string               `json:"id"`
	AppID               string               `json:"appId"`
	DisplayName         string               `json:"displayName"`
	PasswordCredentials []passwordCredential `json:"passwordCredentials"`
}

type servicePrincipal struct {
	ID             string `json:"id"`
	AppID          string `json:"appId"`
	DisplayName    string `json:"displayName"`
	AccountEnabled bool   `json:"accountEnabled"`
}

type oauthGrant struct {
	ID          string `json:"id"`
	ClientID    string `json:"clientId"`
	ConsentType string `json:"consentType"`
	Scope       string `json:"scope"`
}

// highPrivilegeScopes flags grants that effectively hand over the directory.
var highPrivilegeScopes = []string{
	"Directory.ReadWrite.All",
	"RoleManagement.ReadWrite.Directory",
	"Application.ReadWrite.All",
	"AppRoleAssignment.ReadWrite.All",
	"Mail.ReadWrite",
}

// maxSecretLifetime is the longest acceptable client secret validity.
const maxSecretLifetime = 2 * 365 * 24 * time.Hour

func (m *Module) Normalize(result *assessment.CollectionResult) *assessment.NormalizedFindings {
	if !result.Success {
		return assessment.CollectionFailureFindings(m.Domain(), result)
	}

	nf := assessment.NewNormalizedFindings(m.Domain())
	assessment.NoteDegradedEndpoints(nf, result)

	apps := assessment.DecodeValueList[application](result, "applications", nf)
	principals := assessment.DecodeValueList[servicePrincipal](result, "servicePrincipals", nf)
	grants := assessment.DecodeValueList[oauthGrant](result, "oauthGrants", nf)

	now := time.Now().UTC()
	var expiredSecrets, longLivedSecrets []string
	for _, app := range apps {
		for _, cred := range app.PasswordCredentials {
			label := assessment.ResourceLabel(app.AppID, app.DisplayName)
			if cred.EndDateTime.Before(now) {
				expiredSecrets = append(expiredSecrets, label)
			} else if cred.EndDateTime.Sub(now) > maxSecretLifetime {
				longLivedSecrets = append(longLivedSecrets, label)
			}
		}
	}

	var highPrivGrants, userConsents []string
	for _, g := range grants {
		for _, scope := range strings.Fields(g.Scope) {
			for _, hp := range highPrivilegeScopes {
				if scope == hp {
					highPrivGrants = append(highPrivGrants, fmt.Sprintf("%s: %s", g.ClientID, scope))
				}
			}
		}
		if g.ConsentType == "Principal" {
			userConsents = append(userConsents, g.ClientID)
		}
	}

	disabledPrincipals := 0
	for _, sp := range principals {
		if !sp.AccountEnabled {
			disabledPrincipals++
		}
	}

	nf.SetMetric("applications", float64(len(apps)))
	nf.SetMetric("service_principals", float64(len(principals)))
	nf.SetMetric("expired_secrets", float64(len(expiredSecrets)))
	nf.SetMetric("long_lived_secrets", float64(len(longLivedSecrets)))
	nf.SetMetric("high_privilege_grants", float64(len(highPrivGrants)))
	nf.SetMetric("user_consent_grants", float64(len(userConsents)))

	// APP-001: expired client secrets still attached.
	noExpired := len(expiredSecrets) == 0
	nf.Add(assessment.Finding{
		CheckID:           "APP-001",
		CheckName:         "expired_app_secrets",
		Title:             "No expired client secrets attached",
		Description:       fmt.Sprintf("%d applications carry expired client secrets", len(expiredSecrets)),
		Severity:          assessment.SeverityFor(noExpired, assessment.Low),
		Compliant:         noExpired,
		Category:          "Credentials",
		AffectedResources: expiredSecrets,
		Remediation:       "Remove expired client secrets from application registrations.",
	})

	// APP-002: overly long-lived secrets.
	noLongLived := len(longLivedSecrets) == 0
	nf.Add(assessment.Finding{
		CheckID:           "APP-002",
		CheckName:         "long_lived_app_secrets",
		Title:             "Client secret lifetimes within two years",
		Description:       fmt.Sprintf("%d applications have secrets valid for more than two years", len(longLivedSecrets)),
		Severity:          assessment.SeverityFor(noLongLived, assessment.Medium),
		Compliant:         noLongLived,
		Category:          "Credentials",
		AffectedResources: longLivedSecrets,
		Remediation:       "Rotate secrets on a shorter schedule or move to certificate credentials.",
	})

	// APP-003: high-privilege OAuth grants.
	noHighPriv := len(highPrivGrants) == 0
	nf.Add(assessment.Finding{
		CheckID:           "APP-003",
		CheckName:         "high_privilege_grants",
		Title:             "No high-privilege delegated grants",
		Description:       fmt.Sprintf("%d OAuth grants carry directory-level write scopes", len(highPrivGrants)),
		Severity:          assessment.SeverityFor(noHighPriv, assessment.Critical),
		Compliant:         noHighPriv,
		Category:          "Consent",
		AffectedResources: highPrivGrants,
		Remediation:       "Review and revoke delegated grants with directory-wide write scopes.",
		Reference:         "https://learn.microsoft.com/entra/identity/enterprise-apps/manage-consent-requests",
	})

	// APP-004: user-consented grants present.
	noUserConsent := len(userConsents) == 0
	nf.Add(assessment.Finding{
		CheckID:           "APP-004",
		CheckName:         "user_consent_grants",
		Title:             "No individual user consent grants",
		Description:       fmt.Sprintf("%d grants were consented by individual users", len(userConsents)),
		Severity:          assessment.SeverityFor(noUserConsent, assessment.Medium),
		Compliant:         noUserConsent,
		Category:          "Consent",
		AffectedResources: userConsents,
		Remediation:       "Restrict user consent and route app permissions through admin consent workflow.",
	})

	// APP-005: inventory.
	nf.Add(assessment.Finding{
		CheckID:     "APP-005",
		CheckName:   "app_inventory",
		Title:       "Application inventory",
		Description: fmt.Sprintf("%d applications, %d service principals (%d disabled), %d OAuth grants", len(apps), len(principals), disabledPrincipals, len(grants)),
		Severity:    assessment.Info,
		Compliant:   true,
		Category:    "Inventory",
	})

	nf.AddSummary("Assessed %d applications and %d OAuth grants", len(apps), len(grants))
	return nf
}

func (m *Module) Score(findings *assessment.NormalizedFindings, policy assessment.ScoringPolicy) assessment.DomainScore {
	return assessment.ScoreFindings(findings, policy)
}
