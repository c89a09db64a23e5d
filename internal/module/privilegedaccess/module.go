// Package privilegedaccess assesses privileged role hygiene: global
// administrator count, PIM adoption, and privileged roles held by guests.
package privilegedaccess

import (
	"context"
	"fmt"
	"strings"

	"github.com/PiotrMackowski/TenantPosture/internal/assessment"
)

func init() {
	assessment.Register(New())
}

// Module implements the privileged-access assessment domain.
type Module struct{}

func New() *Module {
	return &Module{}
}

func (m *Module) Domain() assessment.Domain { return assessment.DomainPrivilegedAccess }
func (m *Module) Name() string              { return "Privileged Access" }

func (m *Module) Description() string {
	return "Assesses directory role assignments: global admin count, PIM eligible vs permanent assignments, and guest role holders."
}

func (m *Module) RequiredPermissions() []string {
	return []string{"RoleManagement.Read.Directory", "Directory.Read.All"}
}

var subQueries = []assessment.SubQuery{
	{Key: "directoryRoles", Path: "/v1.0/directoryRoles?$expand=members", Essential: true},
	{Key: "eligibleAssignments", Path: "/v1.0/roleManagement/directory/roleEligibilitySchedules"},
	{Key: "permanentAssignments", Path: "/v1.0/roleManagement/directory/roleAssignments"},
}

func (m *Module) Collect(ctx context.Context, client assessment.GraphClient) *assessment.CollectionResult {
	return assessment.CollectSubQueries(ctx, client, m.Domain(), subQueries)
}

type roleMember struct {
	ID                string `json:"id"`
	DisplayName       string `json:"displayName"`
	UserPrincipalName string `json:"userPrincipalName"`
	UserType          string `json:"userType"`
}

type directoryRole struct {
	ID          string       `json:"id"`
	DisplayName string       `json:"displayName"`
	Members     []roleMember `json:"members"`
}

type roleAssignment struct {
	ID               string `json:"id"`
	PrincipalID      string `json:"principalId"`
	RoleDefinitionID string `json:"roleDefinitionId"`
}

const (
	// minGlobalAdmins guards against a single point of lockout.
	minGlobalAdmins = 2
	// maxGlobalAdmins caps the blast radius of the most powerful role.
	maxGlobalAdmins = 4
)

func (m *Module) Normalize(result *assessment.CollectionResult) *assessment.NormalizedFindings {
	if !result.Success {
		return assessment.CollectionFailureFindings(m.Domain(), result)
	}

	nf := assessment.NewNormalizedFindings(m.Domain())
	assessment.NoteDegradedEndpoints(nf, result)

	roles := assessment.DecodeValueList[directoryRole](result, "directoryRoles", nf)
	eligible := assessment.DecodeValueList[roleAssignment](result, "eligibleAssignments", nf)
	permanent := assessment.DecodeValueList[roleAssignment](result, "permanentAssignments", nf)

	var (
		globalAdmins []string
		guestHolders []string
		totalHolders int
	)
	for _, role := range roles {
		isGlobalAdmin := strings.EqualFold(role.DisplayName, "Global Administrator")
		for _, member := range role.Members {
			totalHolders++
			label := assessment.ResourceLabel(member.ID, member.UserPrincipalName)
			if isGlobalAdmin {
				globalAdmins = append(globalAdmins, label)
			}
			if member.UserType == "Guest" {
				guestHolders = append(guestHolders, fmt.Sprintf("%s in %s", label, role.DisplayName))
			}
		}
	}

	nf.SetMetric("global_admins", float64(len(globalAdmins)))
	nf.SetMetric("privileged_role_holders", float64(totalHolders))
	nf.SetMetric("guest_role_holders", float64(len(guestHolders)))
	nf.SetMetric("eligible_assignments", float64(len(eligible)))
	nf.SetMetric("permanent_assignments", float64(len(permanent)))

	// PIM-001: global admin count within bounds.
	adminCountOK := len(globalAdmins) >= minGlobalAdmins && len(globalAdmins) <= maxGlobalAdmins
	nf.Add(assessment.Finding{
		CheckID:           "PIM-001",
		CheckName:         "global_admin_count",
		Title:             "Global administrator count within bounds",
		Description:       fmt.Sprintf("%d global administrators (recommended %d-%d)", len(globalAdmins), minGlobalAdmins, maxGlobalAdmins),
		Severity:          assessment.SeverityFor(adminCountOK, assessment.High),
		Compliant:         adminCountOK,
		Category:          "Role Assignment",
		AffectedResources: globalAdmins,
		Remediation:       "Keep 2-4 global administrators; delegate day-to-day work to lesser roles.",
		Reference:         "https://learn.microsoft.com/entra/identity/role-based-access-control/best-practices",
	})

	// PIM-002: just-in-time access adoption.
	pimOK := len(eligible) > 0
	nf.Add(assessment.Finding{
		CheckID:     "PIM-002",
		CheckName:   "pim_adoption",
		Title:       "Just-in-time privileged access in use",
		Description: fmt.Sprintf("%d eligible (PIM) assignments vs %d permanent assignments", len(eligible), len(permanent)),
		Severity:    assessment.SeverityFor(pimOK, assessment.High),
		Compliant:   pimOK,
		Category:    "Role Assignment",
		Remediation: "Convert standing privileged assignments to PIM-eligible assignments.",
	})

	// PIM-003: no guests in privileged roles.
	noGuests := len(guestHolders) == 0
	nf.Add(assessment.Finding{
		CheckID:           "PIM-003",
		CheckName:         "guest_privileged_roles",
		Title:             "No guest accounts in privileged roles",
		Description:       fmt.Sprintf("%d privileged role memberships held by guests", len(guestHolders)),
		Severity:          assessment.SeverityFor(noGuests, assessment.Critical),
		Compliant:         noGuests,
		Category:          "Role Assignment",
		AffectedResources: guestHolders,
		Remediation:       "Remove guest accounts from directory roles.",
	})

	// PIM-004: inventory.
	nf.Add(assessment.Finding{
		CheckID:     "PIM-004",
		CheckName:   "privileged_access_inventory",
		Title:       "Privileged role inventory",
		Description: fmt.Sprintf("%d activated directory roles with %d total memberships", len(roles), totalHolders),
		Severity:    assessment.Info,
		Compliant:   true,
		Category:    "Inventory",
	})

	nf.AddSummary("Assessed %d directory roles, %d privileged memberships", len(roles), totalHolders)
	return nf
}

func (m *Module) Score(findings *assessment.NormalizedFindings, policy assessment.ScoringPolicy) assessment.DomainScore {
	return assessment.ScoreFindings(findings, policy)
}
