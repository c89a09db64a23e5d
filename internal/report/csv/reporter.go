// Package csv generates CSV assessment reports.
package csv

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/PiotrMackowski/TenantPosture/internal/assessment"
)

// Reporter generates CSV reports.
type Reporter struct{}

// columns defines the CSV header row.
var columns = []string{
	"Domain", "CheckID", "CheckName", "Title", "Severity", "Compliant",
	"Category", "Description", "Remediation", "Reference", "AffectedResources",
}

// Generate writes a CSV report to the given writer, most severe first.
func (r *Reporter) Generate(w io.Writer, result *assessment.RunResult) error {
	type row struct {
		domain  assessment.Domain
		finding assessment.Finding
	}

	var rows []row
	for domain, nf := range result.Findings {
		for _, f := range nf.Findings {
			rows = append(rows, row{domain: domain, finding: f})
		}
	}

	sort.SliceStable(rows, func(i, j int) bool {
		si := assessment.SeverityOrder(rows[i].finding.Severity)
		sj := assessment.SeverityOrder(rows[j].finding.Severity)
		if si != sj {
			return si < sj
		}
		if rows[i].domain != rows[j].domain {
			return rows[i].domain < rows[j].domain
		}
		return rows[i].finding.CheckID < rows[j].finding.CheckID
	})

	cw := csv.NewWriter(w)
	defer cw.Flush()

	if err := cw.Write(columns); err != nil {
		return fmt.Errorf("writing CSV header: %w", err)
	}

	for _, rec := range rows {
		f := rec.finding
		out := []string{
			string(rec.domain),
			f.CheckID,
			f.CheckName,
			f.Title,
			string(f.Severity),
			strconv.FormatBool(f.Compliant),
			f.Category,
			f.Description,
			f.Remediation,
			f.Reference,
			strings.Join(f.AffectedResources, "; "),
		}
		if err := cw.Write(out); err != nil {
			return fmt.Errorf("writing CSV row: %w", err)
		}
	}

	return nil
}
