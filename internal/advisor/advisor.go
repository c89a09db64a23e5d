// Package advisor generates optional AI commentary for completed
// assessment runs using the Gemini API.
package advisor

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/PiotrMackowski/TenantPosture/internal/assessment"
	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const defaultModel = "gemini-1.5-flash"

// maxPromptFindings caps how many non-compliant findings are included in
// the prompt so large tenants stay inside the model's context budget.
const maxPromptFindings = 40

// Advisor turns a run result into a short executive commentary. It
// implements assessment.Commentator.
type Advisor struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// New creates an Advisor with the given API key and model name
// (empty model name uses the default).
func New(ctx context.Context, apiKey, modelName string) (*Advisor, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}

	if modelName == "" {
		modelName = defaultModel
	}
	model := client.GenerativeModel(modelName)
	// Deterministic-ish output for report commentary.
	model.SetTemperature(0)

	return &Advisor{client: client, model: model}, nil
}

// Close releases the underlying client.
func (a *Advisor) Close() {
	a.client.Close()
}

// Commentary produces a short analysis of the run's posture.
func (a *Advisor) Commentary(ctx context.Context, result *assessment.RunResult) (string, error) {
	prompt := buildPrompt(result)

	resp, err := a.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("generating commentary: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("no response candidates")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	commentary := strings.TrimSpace(sb.String())
	if commentary == "" {
		return "", fmt.Errorf("empty commentary response")
	}
	return commentary, nil
}

// buildPrompt summarizes the run for the model: overall posture, per-domain
// scores, and the most severe non-compliant findings.
func buildPrompt(result *assessment.RunResult) string {
	var sb strings.Builder
	run := result.Run

	sb.WriteString("You are a cloud security analyst. Write a concise executive summary (max 200 words) of this Microsoft 365 tenant security assessment. Focus on the highest-risk gaps and the order in which to fix them.\n\n")
	fmt.Fprintf(&sb, "Overall score: %.1f/100 (grade %s)\n\nDomain scores:\n", run.OverallScore, run.Grade)

	domains := make([]assessment.Domain, 0, len(run.DomainScores))
	for d := range run.DomainScores {
		domains = append(domains, d)
	}
	sort.Slice(domains, func(i, j int) bool { return domains[i] < domains[j] })
	for _, d := range domains {
		ds := run.DomainScores[d]
		if !ds.Assessed {
			fmt.Fprintf(&sb, "- %s: not assessed (%s)\n", d, ds.Error)
			continue
		}
		fmt.Fprintf(&sb, "- %s: %.1f (%d non-compliant of %d checks)\n", d, ds.Score, ds.Breakdown.NonCompliant, ds.Breakdown.Total)
	}

	nonCompliant := make([]assessment.Finding, 0)
	for _, f := range result.AllFindings() {
		if !f.Compliant {
			nonCompliant = append(nonCompliant, f)
		}
	}
	sort.SliceStable(nonCompliant, func(i, j int) bool {
		return assessment.SeverityOrder(nonCompliant[i].Severity) < assessment.SeverityOrder(nonCompliant[j].Severity)
	})
	if len(nonCompliant) > maxPromptFindings {
		nonCompliant = nonCompliant[:maxPromptFindings]
	}

	sb.WriteString("\nNon-compliant findings:\n")
	for _, f := range nonCompliant {
		fmt.Fprintf(&sb, "- [%s] %s: %s\n", f.Severity, f.CheckID, f.Title)
	}

	return sb.String()
}
