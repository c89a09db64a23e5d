// Package mcpserver implements the MCP server for AI-assisted analysis of
// assessment runs.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/PiotrMackowski/TenantPosture/internal/assessment"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const (
	// maxQueryLimit caps the number of records returned per query to prevent
	// excessive memory use / output size from MCP tool calls.
	maxQueryLimit = 500

	// defaultQueryLimit is the default number of records returned.
	defaultQueryLimit = 50

	// maxInputLength caps generic string input length for MCP parameters.
	maxInputLength = 256
)

// validSeverities lists allowed severity filter values.
var validSeverities = map[string]bool{
	"CRITICAL": true,
	"HIGH":     true,
	"MEDIUM":   true,
	"LOW":      true,
	"INFO":     true,
}

// RunData holds the loaded run for MCP tool queries.
type RunData struct {
	Result *assessment.RunResult
}

// NewMCPServer creates a new MCP server with all assessment tools registered.
func NewMCPServer(data *RunData) *server.MCPServer {
	s := server.NewMCPServer(
		"TenantPosture",
		"0.1.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	registerTools(s, data)
	registerResources(s, data)

	return s
}

func registerTools(s *server.MCPServer, data *RunData) {
	// list_findings: List findings with optional filters.
	s.AddTool(
		mcp.NewTool("list_findings",
			mcp.WithDescription("List assessment findings. Optionally filter by severity, domain, or compliance state."),
			mcp.WithString("severity",
				mcp.Description("Filter by severity: CRITICAL, HIGH, MEDIUM, LOW, INFO"),
			),
			mcp.WithString("domain",
				mcp.Description("Filter by assessment domain (e.g. identity-and-access, device-compliance)"),
			),
			mcp.WithBoolean("non_compliant_only",
				mcp.Description("Return only non-compliant findings"),
			),
			mcp.WithNumber("limit",
				mcp.Description("Max number of findings to return (default 50, max 500)"),
			),
		),
		listFindingsHandler(data),
	)

	// get_finding: Get a specific finding by check ID.
	s.AddTool(
		mcp.NewTool("get_finding",
			mcp.WithDescription("Get detailed information about a specific finding by its check ID."),
			mcp.WithString("check_id",
				mcp.Required(),
				mcp.Description("The check ID (e.g. IAM-001)"),
			),
		),
		getFindingHandler(data),
	)

	// get_run_summary: Get the run summary.
	s.AddTool(
		mcp.NewTool("get_run_summary",
			mcp.WithDescription("Get the overall run summary including posture score, grade, and per-domain scores."),
		),
		getRunSummaryHandler(data),
	)

	// get_domain_score: Get one domain's score and breakdown.
	s.AddTool(
		mcp.NewTool("get_domain_score",
			mcp.WithDescription("Get the score, grade, and finding breakdown for a single assessment domain."),
			mcp.WithString("domain",
				mcp.Required(),
				mcp.Description("The assessment domain (e.g. identity-and-access)"),
			),
		),
		getDomainScoreHandler(data),
	)

	// suggest_remediation: Get remediation advice for a finding.
	s.AddTool(
		mcp.NewTool("suggest_remediation",
			mcp.WithDescription("Get detailed remediation steps and context for a specific finding."),
			mcp.WithString("check_id",
				mcp.Required(),
				mcp.Description("The check ID to get remediation for"),
			),
		),
		suggestRemediationHandler(data),
	)

	// list_domains: List assessed domains with scores.
	s.AddTool(
		mcp.NewTool("list_domains",
			mcp.WithDescription("List all domains in the run with their scores and assessment state."),
		),
		listDomainsHandler(data),
	)
}

func registerResources(s *server.MCPServer, data *RunData) {
	// Run summary resource.
	s.AddResource(
		mcp.NewResource(
			"tenantposture://summary",
			"Run Summary",
			mcp.WithResourceDescription("Overall tenant posture summary"),
			mcp.WithMIMEType("application/json"),
		),
		func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
			summaryJSON, _ := json.MarshalIndent(data.Result.Run, "", "  ")
			return []mcp.ResourceContents{
				mcp.TextResourceContents{
					URI:      "tenantposture://summary",
					MIMEType: "application/json",
					Text:     string(summaryJSON),
				},
			}, nil
		},
	)

	// Run metadata resource.
	s.AddResource(
		mcp.NewResource(
			"tenantposture://run/meta",
			"Run Metadata",
			mcp.WithResourceDescription("Information about the assessment run"),
			mcp.WithMIMEType("application/json"),
		),
		func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
			run := data.Result.Run
			meta := map[string]interface{}{
				"run_id":       run.ID,
				"tenant_id":    run.TenantID,
				"status":       run.Status,
				"started_at":   run.StartedAt,
				"completed_at": run.CompletedAt,
				"domains":      len(run.DomainScores),
			}
			metaJSON, _ := json.MarshalIndent(meta, "", "  ")
			return []mcp.ResourceContents{
				mcp.TextResourceContents{
					URI:      "tenantposture://run/meta",
					MIMEType: "application/json",
					Text:     string(metaJSON),
				},
			}, nil
		},
	)
}

// --- Tool Handlers ---

func listFindingsHandler(data *RunData) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		severity := strings.TrimSpace(req.GetString("severity", ""))
		domain := strings.TrimSpace(req.GetString("domain", ""))
		nonCompliantOnly := req.GetBool("non_compliant_only", false)

		// Validate severity filter.
		if severity != "" {
			severity = strings.ToUpper(severity)
			if !validSeverities[severity] {
				return mcp.NewToolResultError(
					fmt.Sprintf("invalid severity %q; allowed values: CRITICAL, HIGH, MEDIUM, LOW, INFO", severity),
				), nil
			}
		}

		// Validate domain filter against the run's domains.
		if domain != "" {
			if len(domain) > maxInputLength {
				return mcp.NewToolResultError("domain exceeds maximum length"), nil
			}
			if _, ok := data.Result.Findings[assessment.Domain(domain)]; !ok {
				return mcp.NewToolResultError(
					fmt.Sprintf("domain %q not found in run. Available domains: %s", domain, strings.Join(runDomains(data), ", ")),
				), nil
			}
		}

		limit := int(req.GetFloat("limit", float64(defaultQueryLimit)))
		if limit <= 0 {
			limit = defaultQueryLimit
		}
		if limit > maxQueryLimit {
			limit = maxQueryLimit
		}

		type findingRow struct {
			Domain    assessment.Domain   `json:"domain"`
			CheckID   string              `json:"check_id"`
			CheckName string              `json:"check_name"`
			Title     string              `json:"title"`
			Severity  assessment.Severity `json:"severity"`
			Compliant bool                `json:"compliant"`
			Category  string              `json:"category"`
		}

		var rows []findingRow
		for d, nf := range data.Result.Findings {
			if domain != "" && string(d) != domain {
				continue
			}
			for _, f := range nf.Findings {
				if severity != "" && string(f.Severity) != severity {
					continue
				}
				if nonCompliantOnly && f.Compliant {
					continue
				}
				rows = append(rows, findingRow{
					Domain:    d,
					CheckID:   f.CheckID,
					CheckName: f.CheckName,
					Title:     f.Title,
					Severity:  f.Severity,
					Compliant: f.Compliant,
					Category:  f.Category,
				})
			}
		}

		// Sort by severity, then check ID.
		sort.Slice(rows, func(i, j int) bool {
			si := assessment.SeverityOrder(rows[i].Severity)
			sj := assessment.SeverityOrder(rows[j].Severity)
			if si != sj {
				return si < sj
			}
			return rows[i].CheckID < rows[j].CheckID
		})

		total := len(rows)
		if len(rows) > limit {
			rows = rows[:limit]
		}

		result, _ := json.MarshalIndent(map[string]interface{}{
			"count":    len(rows),
			"total":    total,
			"findings": rows,
		}, "", "  ")

		return mcp.NewToolResultText(string(result)), nil
	}
}

func getFindingHandler(data *RunData) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		checkID, err := req.RequireString("check_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if len(checkID) > maxInputLength {
			return mcp.NewToolResultError("check_id exceeds maximum length"), nil
		}

		if f, ok := findByCheckID(data, checkID); ok {
			result, _ := json.MarshalIndent(f, "", "  ")
			return mcp.NewToolResultText(string(result)), nil
		}

		return mcp.NewToolResultError(fmt.Sprintf("finding %q not found", checkID)), nil
	}
}

func getRunSummaryHandler(data *RunData) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		result, _ := json.MarshalIndent(data.Result.Run, "", "  ")
		return mcp.NewToolResultText(string(result)), nil
	}
}

func getDomainScoreHandler(data *RunData) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		domain, err := req.RequireString("domain")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if len(domain) > maxInputLength {
			return mcp.NewToolResultError("domain exceeds maximum length"), nil
		}

		ds, ok := data.Result.Run.DomainScores[assessment.Domain(domain)]
		if !ok {
			return mcp.NewToolResultError(
				fmt.Sprintf("domain %q not found in run. Available domains: %s", domain, strings.Join(runDomains(data), ", ")),
			), nil
		}

		result, _ := json.MarshalIndent(ds, "", "  ")
		return mcp.NewToolResultText(string(result)), nil
	}
}

func suggestRemediationHandler(data *RunData) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		checkID, err := req.RequireString("check_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if len(checkID) > maxInputLength {
			return mcp.NewToolResultError("check_id exceeds maximum length"), nil
		}

		if f, ok := findByCheckID(data, checkID); ok {
			remediation := map[string]interface{}{
				"check_id":           f.CheckID,
				"title":              f.Title,
				"severity":           f.Severity,
				"remediation":        f.Remediation,
				"reference":          f.Reference,
				"affected_resources": f.AffectedResources,
				"evidence":           f.Evidence,
			}
			result, _ := json.MarshalIndent(remediation, "", "  ")
			return mcp.NewToolResultText(string(result)), nil
		}

		return mcp.NewToolResultError(fmt.Sprintf("finding %q not found", checkID)), nil
	}
}

func listDomainsHandler(data *RunData) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		type domainSummary struct {
			Domain       assessment.Domain `json:"domain"`
			Score        float64           `json:"score"`
			Grade        string            `json:"grade"`
			Assessed     bool              `json:"assessed"`
			Findings     int               `json:"findings"`
			NonCompliant int               `json:"non_compliant"`
		}

		var domains []domainSummary
		for _, ds := range data.Result.Run.DomainScores {
			domains = append(domains, domainSummary{
				Domain:       ds.Domain,
				Score:        ds.Score,
				Grade:        ds.Grade,
				Assessed:     ds.Assessed,
				Findings:     ds.Breakdown.Total,
				NonCompliant: ds.Breakdown.NonCompliant,
			})
		}
		sort.Slice(domains, func(i, j int) bool {
			return domains[i].Domain < domains[j].Domain
		})

		result, _ := json.MarshalIndent(map[string]interface{}{
			"total_domains": len(domains),
			"domains":       domains,
		}, "", "  ")

		return mcp.NewToolResultText(string(result)), nil
	}
}

// findByCheckID looks a finding up across all domains.
func findByCheckID(data *RunData, checkID string) (assessment.Finding, bool) {
	for _, nf := range data.Result.Findings {
		for _, f := range nf.Findings {
			if f.CheckID == checkID || f.CheckName == checkID {
				return f, true
			}
		}
	}
	return assessment.Finding{}, false
}

// runDomains returns the run's domain names sorted.
func runDomains(data *RunData) []string {
	var out []string
	for d := range data.Result.Findings {
		out = append(out, string(d))
	}
	sort.Strings(out)
	return out
}
