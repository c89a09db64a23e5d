// Package json generates JSON assessment reports.
package json

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/PiotrMackowski/TenantPosture/internal/assessment"
)

// Report is the top-level JSON report structure.
type Report struct {
	Title       string                                               `json:"title"`
	GeneratedAt string                                               `json:"generated_at"`
	Run         *assessment.AssessmentRun                            `json:"run"`
	Findings    map[assessment.Domain]*assessment.NormalizedFindings `json:"findings,omitempty"`
}

// Reporter generates JSON reports.
type Reporter struct{}

// Generate writes a JSON report for a run result to the given writer.
func (r *Reporter) Generate(w io.Writer, result *assessment.RunResult) error {
	report := Report{
		Title:       "TenantPosture Security Assessment Report",
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Run:         result.Run,
		Findings:    result.Findings,
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(report); err != nil {
		return fmt.Errorf("encoding JSON report: %w", err)
	}
	return nil
}
