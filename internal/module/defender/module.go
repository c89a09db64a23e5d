// Package defender assesses the Microsoft Defender suite signal: secure
// score level and open security alerts.
package defender

import (
	"context"
	"fmt"

	"github.com/PiotrMackowski/TenantPosture/internal/assessment"
)

func init() {
	assessment.Register(New())
}

// Module implements the defender-suite assessment domain.
type Module struct{}

func New() *Module {
	return &Module{}
}

func (m *Module) Domain() assessment.Domain { return assessment.DomainDefender }
func (m *Module) Name() string              { return "Defender Suite" }

func (m *Module) Description() string {
	return "Assesses Microsoft secure score and the state of Defender security alerts."
}

func (m *Module) RequiredPermissions() []string {
	return []string{"SecurityEvents.Read.All"}
}

var subQueries = []assessment.SubQuery{
	{Key: "secureScores", Path: "/v1.0/security/secureScores?$top=1", Essential: true},
	{Key: "alerts", Path: "/v1.0/security/alerts_v2?$top=100"},
}

func (m *Module) Collect(ctx context.Context, client assessment.GraphClient) *assessment.CollectionResult {
	return assessment.CollectSubQueries(ctx, client, m.Domain(), subQueries)
}

type secureScore struct {
	ID              string  `json:"id"`
	CurrentScore    float64 `json:"currentScore"`
	MaxScore        float64 `json:"maxScore"`
	CreatedDateTime string  `json:"createdDateTime"`
}

type securityAlert struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Severity string `json:"severity"`
	Status   string `json:"status"`
}

// secureScoreThreshold is the minimum secure score share considered healthy.
const secureScoreThreshold = 50.0

func (m *Module) Normalize(result *assessment.CollectionResult) *assessment.NormalizedFindings {
	if !result.Success {
		return assessment.CollectionFailureFindings(m.Domain(), result)
	}

	nf := assessment.NewNormalizedFindings(m.Domain())
	assessment.NoteDegradedEndpoints(nf, result)

	scores := assessment.DecodeValueList[secureScore](result, "secureScores", nf)
	alerts := assessment.DecodeValueList[securityAlert](result, "alerts", nf)

	scorePct := 0.0
	haveScore := len(scores) > 0
	if haveScore && scores[0].MaxScore > 0 {
		scorePct = scores[0].CurrentScore / scores[0].MaxScore * 100
	}

	var openHigh, openOther []string
	for _, a := range alerts {
		if a.Status == "resolved" {
			continue
		}
		label := assessment.ResourceLabel(a.ID, a.Title)
		if a.Severity == "high" || a.Severity == "critical" {
			openHigh = append(openHigh, label)
		} else {
			openOther = append(openOther, label)
		}
	}

	nf.SetMetric("secure_score_percentage", scorePct)
	nf.SetMetric("open_high_alerts", float64(len(openHigh)))
	nf.SetMetric("open_other_alerts", float64(len(openOther)))

	// DEF-001: secure score level. Missing score degrades to non-compliant
	// since the signal itself is part of the suite's health.
	scoreOK := haveScore && scorePct >= secureScoreThreshold
	nf.Add(assessment.Finding{
		CheckID:     "DEF-001",
		CheckName:   "secure_score_level",
		Title:       "Microsoft secure score at a healthy level",
		Description: fmt.Sprintf("Secure score is %.1f%% of maximum (available: %t)", scorePct, haveScore),
		Severity:    assessment.SeverityFor(scoreOK, assessment.High),
		Compliant:   scoreOK,
		Category:    "Posture",
		Remediation: "Work through the secure score improvement actions in the Defender portal.",
		Reference:   "https://learn.microsoft.com/defender-xdr/microsoft-secure-score",
	})

	// DEF-002: open high-severity alerts.
	noHigh := len(openHigh) == 0
	nf.Add(assessment.Finding{
		CheckID:           "DEF-002",
		CheckName:         "open_high_severity_alerts",
		Title:             "No open high-severity security alerts",
		Description:       fmt.Sprintf("%d high/critical alerts are unresolved", len(openHigh)),
		Severity:          assessment.SeverityFor(noHigh, assessment.Critical),
		Compliant:         noHigh,
		Category:          "Alerts",
		AffectedResources: openHigh,
		Remediation:       "Triage and resolve open high-severity Defender alerts.",
	})

	// DEF-003: alert backlog.
	backlogOK := len(openOther) <= 10
	nf.Add(assessment.Finding{
		CheckID:           "DEF-003",
		CheckName:         "alert_backlog",
		Title:             "Security alert backlog under control",
		Description:       fmt.Sprintf("%d lower-severity alerts are unresolved", len(openOther)),
		Severity:          assessment.SeverityFor(backlogOK, assessment.Medium),
		Compliant:         backlogOK,
		Category:          "Alerts",
		AffectedResources: openOther,
		Remediation:       "Establish an alert triage routine to keep the backlog bounded.",
	})

	// DEF-004: inventory.
	nf.Add(assessment.Finding{
		CheckID:     "DEF-004",
		CheckName:   "defender_inventory",
		Title:       "Defender signal inventory",
		Description: fmt.Sprintf("Secure score available: %t; %d alerts sampled", haveScore, len(alerts)),
		Severity:    assessment.Info,
		Compliant:   true,
		Category:    "Inventory",
	})

	nf.AddSummary("Assessed secure score and %d Defender alerts", len(alerts))
	return nf
}

func (m *Module) Score(findings *assessment.NormalizedFindings, policy assessment.ScoringPolicy) assessment.DomainScore {
	return assessment.ScoreFindings(findings, policy)
}
