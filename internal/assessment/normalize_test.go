package assessment

import (
	"encoding/json"
	"strings"
	"testing"
)

type testRecord struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

func collectionWith(payloads map[string]string) *CollectionResult {
	result := NewCollectionResult(DomainIdentity)
	for k, v := range payloads {
		result.Payloads[k] = json.RawMessage(v)
	}
	return result
}

func TestDecodeValueList(t *testing.T) {
	result := collectionWith(map[string]string{
		"users": `{"value":[{"id":"u1","displayName":"Alice"},{"id":"u2"}]}`,
	})
	nf := NewNormalizedFindings(DomainIdentity)

	records := DecodeValueList[testRecord](result, "users", nf)
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
	if records[0].DisplayName != "Alice" {
		t.Errorf("DisplayName = %q, want Alice", records[0].DisplayName)
	}
	if len(nf.Summary) != 0 {
		t.Errorf("clean decode should not add summary lines: %v", nf.Summary)
	}
}

func TestDecodeValueListBareArray(t *testing.T) {
	result := collectionWith(map[string]string{
		"users": `[{"id":"u1"}]`,
	})
	nf := NewNormalizedFindings(DomainIdentity)

	records := DecodeValueList[testRecord](result, "users", nf)
	if len(records) != 1 {
		t.Fatalf("records = %d, want 1 (bare array fallback)", len(records))
	}
}

func TestDecodeValueListMissingPayload(t *testing.T) {
	result := collectionWith(nil)
	nf := NewNormalizedFindings(DomainIdentity)

	records := DecodeValueList[testRecord](result, "users", nf)
	if records != nil {
		t.Errorf("records = %v, want nil for missing payload", records)
	}
	if len(nf.Summary) != 0 {
		t.Error("missing payloads are silent; the collector already warned")
	}
}

func TestDecodeValueListMalformed(t *testing.T) {
	result := collectionWith(map[string]string{
		"users": `{"value": "not an array"}`,
	})
	nf := NewNormalizedFindings(DomainIdentity)

	records := DecodeValueList[testRecord](result, "users", nf)
	if records != nil {
		t.Errorf("records = %v, want nil for malformed payload", records)
	}
	if len(nf.Summary) != 1 || !strings.Contains(nf.Summary[0], "could not be parsed") {
		t.Errorf("malformed payload should add a summary line, got %v", nf.Summary)
	}
}

func TestDecodeObject(t *testing.T) {
	result := collectionWith(map[string]string{
		"settings": `{"id":"s1","displayName":"Defaults"}`,
	})
	nf := NewNormalizedFindings(DomainIdentity)

	var rec testRecord
	if !DecodeObject(result, "settings", nf, &rec) {
		t.Fatal("DecodeObject should succeed")
	}
	if rec.ID != "s1" {
		t.Errorf("ID = %q, want s1", rec.ID)
	}

	var missing testRecord
	if DecodeObject(result, "absent", nf, &missing) {
		t.Error("DecodeObject should report false for missing payloads")
	}
}

func TestPercentage(t *testing.T) {
	tests := []struct {
		part, total int
		want        float64
	}{
		{1, 4, 25},
		{0, 10, 0},
		{10, 10, 100},
		{3, 0, 0},  // zero guests in zero users is 0%, not NaN
		{1, -5, 0}, // defensive divisor
	}
	for _, tt := range tests {
		if got := Percentage(tt.part, tt.total); got != tt.want {
			t.Errorf("Percentage(%d, %d) = %v, want %v", tt.part, tt.total, got, tt.want)
		}
	}
}

func TestMarshalEvidence(t *testing.T) {
	ev := MarshalEvidence(map[string]string{"key": "value"})
	if ev != `{"key":"value"}` {
		t.Errorf("evidence = %q", ev)
	}

	big := strings.Repeat("x", maxEvidenceBytes*2)
	truncated := MarshalEvidence(big)
	if !strings.HasSuffix(truncated, "...(truncated)") {
		t.Error("oversized evidence should be truncated")
	}
	if len(truncated) > maxEvidenceBytes+len("...(truncated)") {
		t.Errorf("truncated evidence too long: %d bytes", len(truncated))
	}

	if got := MarshalEvidence(make(chan int)); got != "" {
		t.Errorf("unserializable evidence should degrade to empty, got %q", got)
	}
}

func TestCollectionFailureFindings(t *testing.T) {
	result := NewCollectionResult(DomainExchange)
	result.Success = false
	result.ErrorMessage = "collection aborted: no API client configured"
	result.Warnings = []string{"Failed to collect domains: status 500"}

	nf := CollectionFailureFindings(DomainExchange, result)

	if len(nf.Findings) != 0 {
		t.Errorf("failure findings should be empty, got %d", len(nf.Findings))
	}
	if len(nf.Summary) != 2 {
		t.Fatalf("Summary = %v, want failure line plus warning", nf.Summary)
	}
	if !strings.Contains(nf.Summary[0], "Collection for domain exchange-email failed") {
		t.Errorf("Summary[0] = %q", nf.Summary[0])
	}
}

func TestCollectionFailureFindingsUnknownCause(t *testing.T) {
	result := NewCollectionResult(DomainExchange)
	result.Success = false

	nf := CollectionFailureFindings(DomainExchange, result)
	if !strings.Contains(nf.Summary[0], "unknown collection failure") {
		t.Errorf("Summary[0] = %q", nf.Summary[0])
	}
}

func TestNoteDegradedEndpoints(t *testing.T) {
	result := NewCollectionResult(DomainIdentity)
	result.UnavailableEndpoints = []string{"users", "caPolicies"}

	nf := NewNormalizedFindings(DomainIdentity)
	NoteDegradedEndpoints(nf, result)

	if len(nf.Summary) != 2 {
		t.Fatalf("Summary = %v, want 2 degradation notes", nf.Summary)
	}
	if !strings.Contains(nf.Summary[0], `"users"`) {
		t.Errorf("Summary[0] = %q", nf.Summary[0])
	}
}

func TestResourceLabel(t *testing.T) {
	if got := ResourceLabel("id-1", "Alice"); got != "Alice (id-1)" {
		t.Errorf("ResourceLabel = %q", got)
	}
	if got := ResourceLabel("id-1", ""); got != "id-1" {
		t.Errorf("ResourceLabel = %q, want bare ID", got)
	}
}
