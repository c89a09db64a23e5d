package mcpserver

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/PiotrMackowski/TenantPosture/internal/assessment"
	"github.com/mark3labs/mcp-go/mcp"
)

func newTestRunData() *RunData {
	run := assessment.NewRun("tenant-1")
	run.Start()

	identity := assessment.NewNormalizedFindings(assessment.DomainIdentity)
	identity.Add(assessment.Finding{
		CheckID:     "IAM-001",
		CheckName:   "sign_in_protection_enabled",
		Title:       "Sign-in protection enforced",
		Severity:    assessment.Critical,
		Compliant:   false,
		Category:    "Authentication",
		Remediation: "Enable security defaults or a Conditional Access policy.",
		Reference:   "https://learn.microsoft.com/entra/conditional-access",
	})
	identity.Add(assessment.Finding{
		CheckID:   "IAM-006",
		CheckName: "directory_inventory",
		Title:     "Directory inventory",
		Severity:  assessment.Info,
		Compliant: true,
		Category:  "Inventory",
	})

	device := assessment.NewNormalizedFindings(assessment.DomainDevice)
	device.Add(assessment.Finding{
		CheckID:   "DEV-001",
		CheckName: "compliance_policy_exists",
		Title:     "Device compliance policy assigned",
		Severity:  assessment.High,
		Compliant: false,
		Category:  "Compliance",
	})

	policy := assessment.ScoringPolicy{
		Penalties: map[assessment.Severity]float64{
			assessment.Critical: 25, assessment.High: 15,
			assessment.Medium: 7, assessment.Low: 3, assessment.Info: 0,
		},
		DefaultWeight: 1,
	}
	run.DomainScores[assessment.DomainIdentity] = assessment.ScoreFindings(identity, policy)
	run.DomainScores[assessment.DomainDevice] = assessment.ScoreFindings(device, policy)
	run.OverallScore = assessment.OverallScore(run.DomainScores, policy)
	run.Grade = assessment.GradeForScore(run.OverallScore)
	run.Complete()

	return &RunData{
		Result: &assessment.RunResult{
			Run: run,
			Findings: map[assessment.Domain]*assessment.NormalizedFindings{
				assessment.DomainIdentity: identity,
				assessment.DomainDevice:   device,
			},
		},
	}
}

func TestNewMCPServer(t *testing.T) {
	data := newTestRunData()
	s := NewMCPServer(data)
	if s == nil {
		t.Fatal("NewMCPServer() returned nil")
	}
}

func TestListFindingsHandler_All(t *testing.T) {
	data := newTestRunData()
	handler := listFindingsHandler(data)

	req := mcp.CallToolRequest{}
	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}

	text := result.Content[0].(mcp.TextContent).Text
	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		t.Fatalf("Failed to parse result JSON: %v", err)
	}

	count := int(parsed["count"].(float64))
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}
}

func TestListFindingsHandler_FilterBySeverity(t *testing.T) {
	data := newTestRunData()
	handler := listFindingsHandler(data)

	req := mcp.CallToolRequest{}
	req.Params.Arguments = map[string]interface{}{
		"severity": "CRITICAL",
	}

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}

	text := result.Content[0].(mcp.TextContent).Text
	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		t.Fatalf("Failed to parse result JSON: %v", err)
	}

	count := int(parsed["count"].(float64))
	if count != 1 {
		t.Errorf("count = %d, want 1 (only CRITICAL)", count)
	}
}

func TestListFindingsHandler_FilterByDomain(t *testing.T) {
	data := newTestRunData()
	handler := listFindingsHandler(data)

	req := mcp.CallToolRequest{}
	req.Params.Arguments = map[string]interface{}{
		"domain": "device-endpoint",
	}

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}

	text := result.Content[0].(mcp.TextContent).Text
	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		t.Fatalf("Failed to parse result JSON: %v", err)
	}

	count := int(parsed["count"].(float64))
	if count != 1 {
		t.Errorf("count = %d, want 1 (only device-endpoint)", count)
	}
}

func TestListFindingsHandler_NonCompliantOnly(t *testing.T) {
	data := newTestRunData()
	handler := listFindingsHandler(data)

	req := mcp.CallToolRequest{}
	req.Params.Arguments = map[string]interface{}{
		"non_compliant_only": true,
	}

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}

	text := result.Content[0].(mcp.TextContent).Text
	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		t.Fatalf("Failed to parse result JSON: %v", err)
	}

	count := int(parsed["count"].(float64))
	if count != 2 {
		t.Errorf("count = %d, want 2 (non-compliant only)", count)
	}
}

func TestGetFindingHandler_Found(t *testing.T) {
	data := newTestRunData()
	handler := getFindingHandler(data)

	req := mcp.CallToolRequest{}
	req.Params.Arguments = map[string]interface{}{
		"check_id": "IAM-001",
	}

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}

	text := result.Content[0].(mcp.TextContent).Text
	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		t.Fatalf("Failed to parse result JSON: %v", err)
	}

	if parsed["check_id"] != "IAM-001" {
		t.Errorf("check_id = %v, want %q", parsed["check_id"], "IAM-001")
	}
}

func TestGetFindingHandler_ByCheckName(t *testing.T) {
	data := newTestRunData()
	handler := getFindingHandler(data)

	req := mcp.CallToolRequest{}
	req.Params.Arguments = map[string]interface{}{
		"check_id": "compliance_policy_exists",
	}

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}

	text := result.Content[0].(mcp.TextContent).Text
	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		t.Fatalf("Failed to parse result JSON: %v", err)
	}

	// Should find by check name match.
	if parsed["check_id"] != "DEV-001" {
		t.Errorf("check_id = %v, want %q", parsed["check_id"], "DEV-001")
	}
}

func TestGetFindingHandler_NotFound(t *testing.T) {
	data := newTestRunData()
	handler := getFindingHandler(data)

	req := mcp.CallToolRequest{}
	req.Params.Arguments = map[string]interface{}{
		"check_id": "NONEXISTENT",
	}

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}

	if !result.IsError {
		t.Error("Should return error for nonexistent finding")
	}
}

func TestGetRunSummaryHandler(t *testing.T) {
	data := newTestRunData()
	handler := getRunSummaryHandler(data)

	req := mcp.CallToolRequest{}
	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}

	text := result.Content[0].(mcp.TextContent).Text
	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		t.Fatalf("Failed to parse result JSON: %v", err)
	}

	if parsed["tenant_id"] != "tenant-1" {
		t.Errorf("tenant_id = %v, want %q", parsed["tenant_id"], "tenant-1")
	}
	if parsed["status"] != string(assessment.StatusCompleted) {
		t.Errorf("status = %v, want %q", parsed["status"], assessment.StatusCompleted)
	}
}

func TestGetDomainScoreHandler_Found(t *testing.T) {
	data := newTestRunData()
	handler := getDomainScoreHandler(data)

	req := mcp.CallToolRequest{}
	req.Params.Arguments = map[string]interface{}{
		"domain": "identity-and-access",
	}

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}

	text := result.Content[0].(mcp.TextContent).Text
	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		t.Fatalf("Failed to parse result JSON: %v", err)
	}

	// One critical finding against the default penalties: 100 - 25.
	score := parsed["score"].(float64)
	if score != 75 {
		t.Errorf("score = %v, want 75", score)
	}
}

func TestGetDomainScoreHandler_NotFound(t *testing.T) {
	data := newTestRunData()
	handler := getDomainScoreHandler(data)

	req := mcp.CallToolRequest{}
	req.Params.Arguments = map[string]interface{}{
		"domain": "nonexistent-domain",
	}

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}

	if !result.IsError {
		t.Error("Should return error for nonexistent domain")
	}
}

func TestSuggestRemediationHandler_Found(t *testing.T) {
	data := newTestRunData()
	handler := suggestRemediationHandler(data)

	req := mcp.CallToolRequest{}
	req.Params.Arguments = map[string]interface{}{
		"check_id": "IAM-001",
	}

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}

	text := result.Content[0].(mcp.TextContent).Text
	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		t.Fatalf("Failed to parse result JSON: %v", err)
	}

	if parsed["remediation"] != "Enable security defaults or a Conditional Access policy." {
		t.Errorf("remediation = %v, want the IAM-001 remediation", parsed["remediation"])
	}
}

func TestSuggestRemediationHandler_NotFound(t *testing.T) {
	data := newTestRunData()
	handler := suggestRemediationHandler(data)

	req := mcp.CallToolRequest{}
	req.Params.Arguments = map[string]interface{}{
		"check_id": "NONEXISTENT",
	}

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}

	if !result.IsError {
		t.Error("Should return error for nonexistent finding")
	}
}

func TestListDomainsHandler(t *testing.T) {
	data := newTestRunData()
	handler := listDomainsHandler(data)

	req := mcp.CallToolRequest{}
	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}

	text := result.Content[0].(mcp.TextContent).Text
	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		t.Fatalf("Failed to parse result JSON: %v", err)
	}

	totalDomains := int(parsed["total_domains"].(float64))
	if totalDomains != 2 {
		t.Errorf("total_domains = %d, want 2", totalDomains)
	}
}

// --- Input validation tests ---

func TestListFindingsHandler_InvalidSeverity(t *testing.T) {
	data := newTestRunData()
	handler := listFindingsHandler(data)

	req := mcp.CallToolRequest{}
	req.Params.Arguments = map[string]interface{}{
		"severity": "INVALID",
	}

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}

	if !result.IsError {
		t.Error("Should return error for invalid severity")
	}
}

func TestListFindingsHandler_UnknownDomain(t *testing.T) {
	data := newTestRunData()
	handler := listFindingsHandler(data)

	req := mcp.CallToolRequest{}
	req.Params.Arguments = map[string]interface{}{
		"domain": "nonexistent-domain",
	}

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}

	if !result.IsError {
		t.Error("Should return error for unknown domain")
	}
}

func TestListFindingsHandler_LimitBounds(t *testing.T) {
	data := newTestRunData()
	handler := listFindingsHandler(data)

	tests := []struct {
		name  string
		limit float64
	}{
		{"negative limit uses default", -1},
		{"zero limit uses default", 0},
		{"excessive limit is capped", 999999},
		{"normal limit", 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := mcp.CallToolRequest{}
			req.Params.Arguments = map[string]interface{}{
				"limit": tt.limit,
			}

			result, err := handler(context.Background(), req)
			if err != nil {
				t.Fatalf("handler error: %v", err)
			}

			if result.IsError {
				t.Errorf("unexpected error for limit %v", tt.limit)
			}
		})
	}
}

func TestGetFindingHandler_ExcessiveLength(t *testing.T) {
	data := newTestRunData()
	handler := getFindingHandler(data)

	longID := make([]byte, 300)
	for i := range longID {
		longID[i] = 'a'
	}

	req := mcp.CallToolRequest{}
	req.Params.Arguments = map[string]interface{}{
		"check_id": string(longID),
	}

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}

	if !result.IsError {
		t.Error("Should return error for excessively long check_id")
	}
}

func TestSuggestRemediationHandler_ExcessiveLength(t *testing.T) {
	data := newTestRunData()
	handler := suggestRemediationHandler(data)

	longID := make([]byte, 300)
	for i := range longID {
		longID[i] = 'a'
	}

	req := mcp.CallToolRequest{}
	req.Params.Arguments = map[string]interface{}{
		"check_id": string(longID),
	}

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}

	if !result.IsError {
		t.Error("Should return error for excessively long check_id")
	}
}
