package device

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/PiotrMackowski/TenantPosture/internal/assessment"
)

func collectionWith(payloads map[string]string) *assessment.CollectionResult {
	result := assessment.NewCollectionResult(assessment.DomainDevice)
	for k, v := range payloads {
		result.Payloads[k] = json.RawMessage(v)
	}
	return result
}

func findingByID(t *testing.T, nf *assessment.NormalizedFindings, id string) assessment.Finding {
	t.Helper()
	for _, f := range nf.Findings {
		if f.CheckID == id {
			return f
		}
	}
	t.Fatalf("finding %s not produced", id)
	return assessment.Finding{}
}

func TestNormalizeHealthyFleet(t *testing.T) {
	recent := time.Now().UTC().Add(-24 * time.Hour).Format(time.RFC3339)
	result := collectionWith(map[string]string{
		"managedDevices": fmt.Sprintf(`{"value":[
			{"id":"d1","deviceName":"laptop-1","complianceState":"compliant","isEncrypted":true,"jailBroken":"False","lastSyncDateTime":"%s"},
			{"id":"d2","deviceName":"laptop-2","complianceState":"compliant","isEncrypted":true,"jailBroken":"False","lastSyncDateTime":"%s"}
		]}`, recent, recent),
		"compliancePolicies":    `{"value":[{"id":"cp1","displayName":"Windows baseline"}]}`,
		"configurationProfiles": `{"value":[{"id":"cf1","displayName":"BitLocker"}]}`,
	})

	nf := New().Normalize(result)

	for _, id := range []string{"DEV-001", "DEV-002", "DEV-003", "DEV-004", "DEV-005", "DEV-006"} {
		if f := findingByID(t, nf, id); !f.Compliant {
			t.Errorf("%s should be compliant for a healthy fleet: %s", id, f.Description)
		}
	}
	if nf.Metrics["compliance_percentage"] != 100 {
		t.Errorf("compliance_percentage = %v", nf.Metrics["compliance_percentage"])
	}
}

func TestNormalizeNoPolicies(t *testing.T) {
	result := collectionWith(map[string]string{
		"managedDevices":     `{"value":[]}`,
		"compliancePolicies": `{"value":[]}`,
	})

	nf := New().Normalize(result)

	f := findingByID(t, nf, "DEV-001")
	if f.Compliant {
		t.Error("DEV-001 should be non-compliant with zero compliance policies")
	}
	if f.Severity != assessment.High {
		t.Errorf("DEV-001 severity = %s, want HIGH", f.Severity)
	}
}

func TestNormalizeLowComplianceRate(t *testing.T) {
	result := collectionWith(map[string]string{
		"managedDevices": `{"value":[
			{"id":"d1","complianceState":"compliant","isEncrypted":true,"jailBroken":"False"},
			{"id":"d2","complianceState":"noncompliant","isEncrypted":true,"jailBroken":"False"},
			{"id":"d3","complianceState":"noncompliant","isEncrypted":true,"jailBroken":"False"},
			{"id":"d4","complianceState":"compliant","isEncrypted":true,"jailBroken":"False"}
		]}`,
		"compliancePolicies": `{"value":[{"id":"cp1"}]}`,
	})

	nf := New().Normalize(result)

	// 50% compliant is under the 80% threshold.
	if findingByID(t, nf, "DEV-002").Compliant {
		t.Error("DEV-002 should be non-compliant at 50%")
	}
	if nf.Metrics["compliance_percentage"] != 50 {
		t.Errorf("compliance_percentage = %v, want 50", nf.Metrics["compliance_percentage"])
	}
}

func TestNormalizeJailbrokenDevices(t *testing.T) {
	result := collectionWith(map[string]string{
		"managedDevices": `{"value":[
			{"id":"d1","deviceName":"phone-1","complianceState":"compliant","isEncrypted":true,"jailBroken":"True"},
			{"id":"d2","deviceName":"phone-2","complianceState":"compliant","isEncrypted":true,"jailBroken":"Unknown"}
		]}`,
		"compliancePolicies": `{"value":[{"id":"cp1"}]}`,
	})

	nf := New().Normalize(result)

	f := findingByID(t, nf, "DEV-004")
	if f.Compliant {
		t.Error("DEV-004 should be non-compliant with a jailbroken device")
	}
	if f.Severity != assessment.Critical {
		t.Errorf("DEV-004 severity = %s, want CRITICAL", f.Severity)
	}
	// Only "True" counts; "Unknown" does not.
	if len(f.AffectedResources) != 1 {
		t.Errorf("AffectedResources = %v, want only phone-1", f.AffectedResources)
	}
}

func TestNormalizeStaleDevices(t *testing.T) {
	old := time.Now().UTC().Add(-45 * 24 * time.Hour).Format(time.RFC3339)
	result := collectionWith(map[string]string{
		"managedDevices": fmt.Sprintf(`{"value":[
			{"id":"d1","deviceName":"ghost","complianceState":"compliant","isEncrypted":true,"jailBroken":"False","lastSyncDateTime":"%s"}
		]}`, old),
		"compliancePolicies": `{"value":[{"id":"cp1"}]}`,
	})

	nf := New().Normalize(result)
	if findingByID(t, nf, "DEV-005").Compliant {
		t.Error("DEV-005 should be non-compliant with a 45-day-stale device")
	}
}

func TestNormalizeZeroSyncTimeNotStale(t *testing.T) {
	// A zero lastSyncDateTime means the field was absent, not a 50-year
	// stale device.
	result := collectionWith(map[string]string{
		"managedDevices":     `{"value":[{"id":"d1","complianceState":"compliant","isEncrypted":true,"jailBroken":"False"}]}`,
		"compliancePolicies": `{"value":[{"id":"cp1"}]}`,
	})

	nf := New().Normalize(result)
	if !findingByID(t, nf, "DEV-005").Compliant {
		t.Error("missing sync timestamps must not count as stale")
	}
}

func TestNormalizeEmptyFleet(t *testing.T) {
	result := collectionWith(map[string]string{
		"managedDevices":     `{"value":[]}`,
		"compliancePolicies": `{"value":[{"id":"cp1"}]}`,
	})

	nf := New().Normalize(result)

	// Rate checks degrade to compliant with no devices to measure.
	if !findingByID(t, nf, "DEV-002").Compliant {
		t.Error("DEV-002 should be compliant for an empty fleet")
	}
	if !findingByID(t, nf, "DEV-003").Compliant {
		t.Error("DEV-003 should be compliant for an empty fleet")
	}
}

func TestNormalizeCollectionFailure(t *testing.T) {
	result := assessment.NewCollectionResult(assessment.DomainDevice)
	result.Success = false
	result.ErrorMessage = "collection aborted: connection refused"

	nf := New().Normalize(result)
	if len(nf.Findings) != 0 {
		t.Errorf("failed collection should yield zero findings, got %d", len(nf.Findings))
	}
}
