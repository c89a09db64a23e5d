// Package identity assesses identity and access management posture:
// conditional access coverage, legacy authentication, MFA registration,
// guest account hygiene, and external collaboration settings.
package identity

import (
	"context"
	"fmt"

	"github.com/PiotrMackowski/TenantPosture/internal/assessment"
)

func init() {
	assessment.Register(New())
}

// Module implements the identity-and-access assessment domain.
type Module struct{}

// New creates the identity module.
func New() *Module {
	return &Module{}
}

func (m *Module) Domain() assessment.Domain { return assessment.DomainIdentity }
func (m *Module) Name() string              { return "Identity & Access Management" }

func (m *Module) Description() string {
	return "Assesses Entra ID sign-in protections: conditional access, legacy authentication, MFA registration, and guest account hygiene."
}

func (m *Module) RequiredPermissions() []string {
	return []string{"User.Read.All", "Policy.Read.All", "Reports.Read.All"}
}

// subQueries is the fixed collection plan for this domain.
var subQueries = []assessment.SubQuery{
	{Key: "users", Path: "/v1.0/users?$select=id,displayName,userPrincipalName,userType,accountEnabled&$top=999", Essential: true},
	{Key: "caPolicies", Path: "/v1.0/identity/conditionalAccess/policies", Essential: true},
	{Key: "securityDefaults", Path: "/v1.0/policies/identitySecurityDefaultsEnforcementPolicy"},
	{Key: "authorizationPolicy", Path: "/v1.0/policies/authorizationPolicy"},
	{Key: "mfaRegistration", Path: "/beta/reports/credentialUserRegistrationDetails"},
}

func (m *Module) Collect(ctx context.Context, client assessment.GraphClient) *assessment.CollectionResult {
	return assessment.CollectSubQueries(ctx, client, m.Domain(), subQueries)
}

// user is the subset of the Graph user object the checks need.
type user struct {
	ID                string `json:"id"`
	DisplayName       string `json:"displayName"`
	UserPrincipalName string `json:"userPrincipalName"`
	UserType          string `json:"userType"`
	AccountEnabled    bool   `json:"accountEnabled"`
}

type caPolicy struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	State       string `json:"state"`
	Conditions  struct {
		ClientAppTypes []string `json:"clientAppTypes"`
	} `json:"conditions"`
	GrantControls struct {
		BuiltInControls []string `json:"builtInControls"`
	} `json:"grantControls"`
}

type securityDefaultsPolicy struct {
	IsEnabled bool `json:"isEnabled"`
}

type authorizationPolicy struct {
	AllowInvitesFrom string `json:"allowInvitesFrom"`
}

type mfaRegistrationDetail struct {
	UserPrincipalName string `json:"userPrincipalName"`
	IsMfaRegistered   bool   `json:"isMfaRegistered"`
}

// guestRatioThreshold is the guest share above which the tenant gets a
// non-compliant finding.
const guestRatioThreshold = 10.0

// mfaCoverageThreshold is the minimum MFA registration coverage considered
// compliant.
const mfaCoverageThreshold = 90.0

func (m *Module) Normalize(result *assessment.CollectionResult) *assessment.NormalizedFindings {
	if !result.Success {
		return assessment.CollectionFailureFindings(m.Domain(), result)
	}

	nf := assessment.NewNormalizedFindings(m.Domain())
	assessment.NoteDegradedEndpoints(nf, result)

	users := assessment.DecodeValueList[user](result, "users", nf)
	policies := assessment.DecodeValueList[caPolicy](result, "caPolicies", nf)
	mfaDetails := assessment.DecodeValueList[mfaRegistrationDetail](result, "mfaRegistration", nf)

	var secDefaults securityDefaultsPolicy
	haveSecDefaults := assessment.DecodeObject(result, "securityDefaults", nf, &secDefaults)

	var authzPolicy authorizationPolicy
	haveAuthz := assessment.DecodeObject(result, "authorizationPolicy", nf, &authzPolicy)

	guests := 0
	enabled := 0
	for _, u := range users {
		if u.UserType == "Guest" {
			guests++
		}
		if u.AccountEnabled {
			enabled++
		}
	}
	guestPct := assessment.Percentage(guests, len(users))

	enabledPolicies := 0
	legacyAuthBlocked := false
	for _, p := range policies {
		if p.State != "enabled" {
			continue
		}
		enabledPolicies++
		for _, app := range p.Conditions.ClientAppTypes {
			if app == "exchangeActiveSync" || app == "other" {
				for _, ctl := range p.GrantControls.BuiltInControls {
					if ctl == "block" {
						legacyAuthBlocked = true
					}
				}
			}
		}
	}

	mfaRegistered := 0
	for _, d := range mfaDetails {
		if d.IsMfaRegistered {
			mfaRegistered++
		}
	}
	mfaPct := assessment.Percentage(mfaRegistered, len(mfaDetails))

	nf.SetMetric("total_users", float64(len(users)))
	nf.SetMetric("enabled_users", float64(enabled))
	nf.SetMetric("guest_users", float64(guests))
	nf.SetMetric("guest_percentage", guestPct)
	nf.SetMetric("enabled_ca_policies", float64(enabledPolicies))
	nf.SetMetric("mfa_registration_percentage", mfaPct)

	// IAM-001: modern sign-in protection exists at all.
	protected := enabledPolicies > 0 || (haveSecDefaults && secDefaults.IsEnabled)
	nf.Add(assessment.Finding{
		CheckID:     "IAM-001",
		CheckName:   "sign_in_protection_enabled",
		Title:       "Conditional access or security defaults enforced",
		Description: fmt.Sprintf("%d enabled conditional access policies; security defaults enabled: %t", enabledPolicies, haveSecDefaults && secDefaults.IsEnabled),
		Severity:    assessment.SeverityFor(protected, assessment.Critical),
		Compliant:   protected,
		Category:    "Authentication",
		Remediation: "Enable security defaults or define conditional access policies requiring MFA.",
		Reference:   "https://learn.microsoft.com/entra/identity/conditional-access/overview",
	})

	// IAM-002: legacy authentication blocked.
	legacyDesc := "No conditional access policy blocks legacy client apps"
	if legacyAuthBlocked {
		legacyDesc = "A conditional access policy blocks legacy client apps"
	}
	nf.Add(assessment.Finding{
		CheckID:     "IAM-002",
		CheckName:   "legacy_auth_blocked",
		Title:       "Legacy authentication protocols blocked",
		Description: legacyDesc,
		Severity:    assessment.SeverityFor(legacyAuthBlocked, assessment.High),
		Compliant:   legacyAuthBlocked,
		Category:    "Authentication",
		Remediation: "Create a conditional access policy that blocks legacy authentication client apps.",
		Reference:   "https://learn.microsoft.com/entra/identity/conditional-access/block-legacy-authentication",
	})

	// IAM-003: guest account share. Zero users degrades to 0% compliant.
	guestOK := guestPct <= guestRatioThreshold
	var guestResources []string
	for _, u := range users {
		if u.UserType == "Guest" {
			guestResources = append(guestResources, assessment.ResourceLabel(u.ID, u.UserPrincipalName))
		}
	}
	nf.Add(assessment.Finding{
		CheckID:           "IAM-003",
		CheckName:         "guest_account_ratio",
		Title:             "Guest account share within bounds",
		Description:       fmt.Sprintf("%d of %d users (%.1f%%) are guests", guests, len(users), guestPct),
		Severity:          assessment.SeverityFor(guestOK, assessment.Medium),
		Compliant:         guestOK,
		Category:          "Accounts",
		Evidence:          assessment.MarshalEvidence(map[string]interface{}{"guests": guests, "total": len(users)}),
		Remediation:       "Review guest accounts and remove those no longer needed.",
		AffectedResources: guestResources,
	})

	// IAM-004: MFA registration coverage. Missing report degrades to
	// non-compliant only when we positively observed low coverage.
	mfaOK := len(mfaDetails) == 0 || mfaPct >= mfaCoverageThreshold
	nf.Add(assessment.Finding{
		CheckID:     "IAM-004",
		CheckName:   "mfa_registration_coverage",
		Title:       "MFA registration coverage",
		Description: fmt.Sprintf("%d of %d reported users (%.1f%%) are registered for MFA", mfaRegistered, len(mfaDetails), mfaPct),
		Severity:    assessment.SeverityFor(mfaOK, assessment.High),
		Compliant:   mfaOK,
		Category:    "Authentication",
		Remediation: "Drive MFA registration through registration campaigns or conditional access.",
		Reference:   "https://learn.microsoft.com/entra/identity/authentication/howto-mfa-getstarted",
	})

	// IAM-005: external invitations restricted.
	inviteOK := !haveAuthz || authzPolicy.AllowInvitesFrom != "everyone"
	nf.Add(assessment.Finding{
		CheckID:     "IAM-005",
		CheckName:   "guest_invite_restrictions",
		Title:       "Guest invitations restricted",
		Description: fmt.Sprintf("allowInvitesFrom is %q", authzPolicy.AllowInvitesFrom),
		Severity:    assessment.SeverityFor(inviteOK, assessment.Medium),
		Compliant:   inviteOK,
		Category:    "Accounts",
		Remediation: "Restrict guest invitations to admins or specific roles in external collaboration settings.",
	})

	// IAM-006: directory inventory (informational).
	nf.Add(assessment.Finding{
		CheckID:     "IAM-006",
		CheckName:   "directory_inventory",
		Title:       "Directory user inventory",
		Description: fmt.Sprintf("Directory contains %d users (%d enabled, %d guests)", len(users), enabled, guests),
		Severity:    assessment.Info,
		Compliant:   true,
		Category:    "Inventory",
	})

	nf.AddSummary("Assessed %d users, %d conditional access policies", len(users), len(policies))
	return nf
}

func (m *Module) Score(findings *assessment.NormalizedFindings, policy assessment.ScoringPolicy) assessment.DomainScore {
	return assessment.ScoreFindings(findings, policy)
}
