package advisor

import (
	"context"
	"strings"
	"testing"

	"github.com/PiotrMackowski/TenantPosture/internal/assessment"
)

func TestNewRequiresAPIKey(t *testing.T) {
	if _, err := New(context.Background(), "", ""); err == nil {
		t.Fatal("expected error for empty API key")
	}
}

func TestBuildPrompt(t *testing.T) {
	run := assessment.NewRun("tenant-1")
	run.Start()
	run.DomainScores[assessment.DomainIdentity] = assessment.DomainScore{
		Domain: assessment.DomainIdentity, Score: 60, Assessed: true,
		Breakdown: assessment.ScoreBreakdown{Total: 6, NonCompliant: 2},
	}
	run.DomainScores[assessment.DomainDefender] = assessment.UnassessedScore(assessment.DomainDefender, "pipeline failed")
	run.OverallScore = 60
	run.Grade = "C"
	run.Complete()

	nf := assessment.NewNormalizedFindings(assessment.DomainIdentity)
	nf.Add(assessment.Finding{CheckID: "IAM-002", Title: "Legacy auth blocked", Severity: assessment.High, Compliant: false})
	nf.Add(assessment.Finding{CheckID: "IAM-001", Title: "Sign-in protection", Severity: assessment.Critical, Compliant: false})
	nf.Add(assessment.Finding{CheckID: "IAM-006", Title: "Inventory", Severity: assessment.Info, Compliant: true})

	prompt := buildPrompt(&assessment.RunResult{
		Run:      run,
		Findings: map[assessment.Domain]*assessment.NormalizedFindings{assessment.DomainIdentity: nf},
	})

	if !strings.Contains(prompt, "Overall score: 60.0/100 (grade C)") {
		t.Errorf("prompt missing overall score:\n%s", prompt)
	}
	if !strings.Contains(prompt, "identity-and-access: 60.0 (2 non-compliant of 6 checks)") {
		t.Errorf("prompt missing domain line:\n%s", prompt)
	}
	if !strings.Contains(prompt, "defender-suite: not assessed") {
		t.Errorf("prompt should note unassessed domains:\n%s", prompt)
	}

	// Non-compliant findings are listed most severe first; compliant ones
	// are omitted.
	critIdx := strings.Index(prompt, "IAM-001")
	highIdx := strings.Index(prompt, "IAM-002")
	if critIdx == -1 || highIdx == -1 || critIdx > highIdx {
		t.Errorf("findings out of severity order:\n%s", prompt)
	}
	if strings.Contains(prompt, "IAM-006") {
		t.Errorf("compliant findings should not appear in the prompt:\n%s", prompt)
	}
}

func TestBuildPromptCapsFindings(t *testing.T) {
	run := assessment.NewRun("tenant-1")
	run.Start()
	run.Complete()

	nf := assessment.NewNormalizedFindings(assessment.DomainIdentity)
	for i := 0; i < maxPromptFindings+30; i++ {
		nf.Add(assessment.Finding{CheckID: "IAM-XXX", Title: "finding", Severity: assessment.Medium, Compliant: false})
	}

	prompt := buildPrompt(&assessment.RunResult{
		Run:      run,
		Findings: map[assessment.Domain]*assessment.NormalizedFindings{assessment.DomainIdentity: nf},
	})

	if got := strings.Count(prompt, "IAM-XXX"); got != maxPromptFindings {
		t.Errorf("prompt lists %d findings, want capped at %d", got, maxPromptFindings)
	}
}
