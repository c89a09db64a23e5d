// Package collaboration assesses Teams/SharePoint collaboration exposure:
// external sharing level, anonymous link expiry, and public group visibility.
package collaboration

import (
	"context"
	"fmt"

	"github.com/PiotrMackowski/TenantPosture/internal/assessment"
)

func init() {
	assessment.Register(New())
}

// Module implements the collaboration-security assessment domain.
type Module struct{}

func New() *Module {
	return &Module{}
}

func (m *Module) Domain() assessment.Domain { return assessment.DomainCollaboration }
func (m *Module) Name() string              { return "Collaboration Security" }

func (m *Module) Description() string {
	return "Assesses sharing exposure across SharePoint and Microsoft 365 groups."
}

func (m *Module) RequiredPermissions() []string {
	return []string{"Group.Read.All", "SharePointTenantSettings.Read.All"}
}

var subQueries = []assessment.SubQuery{
	{Key: "groups", Path: "/v1.0/groups?$select=id,displayName,visibility,groupTypes&$top=999", Essential: true},
	{Key: "sharepointSettings", Path: "/v1.0/admin/sharepoint/settings"},
}

func (m *Module) Collect(ctx context.Context, client assessment.GraphClient) *assessment.CollectionResult {
	return assessment.CollectSubQueries(ctx, client, m.Domain(), subQueries)
}

type group struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"displayName"`
	Visibility  string   `json:"visibility"`
	GroupTypes  []string `json:"groupTypes"`
}

type sharepointSettings struct {
	SharingCapability                 string   `json:"sharingCapability"`
	SharingAllowedDomainList          []string `json:"sharingAllowedDomainList"`
	RequireAnonymousLinksExpireInDays int      `json:"requireAnonymousLinksExpireInDays"`
}

func (m *Module) Normalize(result *assessment.CollectionResult) *assessment.NormalizedFindings {
	if !result.Success {
		return assessment.CollectionFailureFindings(m.Domain(), result)
	}

	nf := assessment.NewNormalizedFindings(m.Domain())
	assessment.NoteDegradedEndpoints(nf, result)

	groups := assessment.DecodeValueList[group](result, "groups", nf)

	var spSettings sharepointSettings
	haveSettings := assessment.DecodeObject(result, "sharepointSettings", nf, &spSettings)

	var publicGroups []string
	unified := 0
	for _, g := range groups {
		for _, t := range g.GroupTypes {
			if t == "Unified" {
				unified++
				break
			}
		}
		if g.Visibility == "Public" {
			publicGroups = append(publicGroups, assessment.ResourceLabel(g.ID, g.DisplayName))
		}
	}
	publicPct := assessment.Percentage(len(publicGroups), len(groups))

	nf.SetMetric("groups", float64(len(groups)))
	nf.SetMetric("unified_groups", float64(unified))
	nf.SetMetric("public_groups", float64(len(publicGroups)))
	nf.SetMetric("public_group_percentage", publicPct)

	// COL-001: external sharing not wide open.
	sharingOK := !haveSettings || spSettings.SharingCapability != "externalUserAndGuestSharing"
	nf.Add(assessment.Finding{
		CheckID:     "COL-001",
		CheckName:   "external_sharing_level",
		Title:       "External sharing restricted",
		Description: fmt.Sprintf("SharePoint sharing capability is %q", spSettings.SharingCapability),
		Severity:    assessment.SeverityFor(sharingOK, assessment.High),
		Compliant:   sharingOK,
		Category:    "Sharing",
		Remediation: "Limit SharePoint external sharing to existing guests or specific domains.",
		Reference:   "https://learn.microsoft.com/sharepoint/turn-external-sharing-on-or-off",
	})

	// COL-002: anonymous links expire.
	expiryOK := !haveSettings || spSettings.RequireAnonymousLinksExpireInDays > 0
	nf.Add(assessment.Finding{
		CheckID:     "COL-002",
		CheckName:   "anonymous_link_expiry",
		Title:       "Anonymous sharing links expire",
		Description: fmt.Sprintf("Anonymous links expire after %d days (0 = never)", spSettings.RequireAnonymousLinksExpireInDays),
		Severity:    assessment.SeverityFor(expiryOK, assessment.Medium),
		Compliant:   expiryOK,
		Category:    "Sharing",
		Remediation: "Require anonymous sharing links to expire within a bounded number of days.",
	})

	// COL-003: public group exposure.
	publicOK := len(publicGroups) == 0
	nf.Add(assessment.Finding{
		CheckID:           "COL-003",
		CheckName:         "public_groups",
		Title:             "No public Microsoft 365 groups",
		Description:       fmt.Sprintf("%d of %d groups (%.1f%%) are public", len(publicGroups), len(groups), publicPct),
		Severity:          assessment.SeverityFor(publicOK, assessment.Medium),
		Compliant:         publicOK,
		Category:          "Groups",
		AffectedResources: publicGroups,
		Remediation:       "Review public groups and switch sensitive ones to private visibility.",
	})

	// COL-004: inventory.
	nf.Add(assessment.Finding{
		CheckID:     "COL-004",
		CheckName:   "collaboration_inventory",
		Title:       "Collaboration inventory",
		Description: fmt.Sprintf("%d groups (%d Microsoft 365 groups)", len(groups), unified),
		Severity:    assessment.Info,
		Compliant:   true,
		Category:    "Inventory",
	})

	nf.AddSummary("Assessed %d groups and tenant sharing settings", len(groups))
	return nf
}

func (m *Module) Score(findings *assessment.NormalizedFindings, policy assessment.ScoringPolicy) assessment.DomainScore {
	return assessment.ScoreFindings(findings, policy)
}
