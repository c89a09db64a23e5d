// Package device assesses managed device and endpoint posture via Intune:
// compliance policy coverage, device compliance rate, disk encryption,
// jailbroken devices, and sync staleness.
package device

import (
	"context"
	"fmt"
	"time"

	"github.com/PiotrMackowski/TenantPosture/internal/assessment"
)

func init() {
	assessment.Register(New())
}

// Module implements the device-endpoint assessment domain.
type Module struct{}

func New() *Module {
	return &Module{}
}

func (m *Module) Domain() assessment.Domain { return assessment.DomainDevice }
func (m *Module) Name() string              { return "Device & Endpoint Security" }

func (m *Module) Description() string {
	return "Assesses Intune-managed device posture: compliance policies, encryption, jailbreak status, and sync freshness."
}

func (m *Module) RequiredPermissions() []string {
	return []string{"DeviceManagementManagedDevices.Read.All", "DeviceManagementConfiguration.Read.All"}
}

var subQueries = []assessment.SubQuery{
	{Key: "managedDevices", Path: "/v1.0/deviceManagement/managedDevices?$select=id,deviceName,complianceState,isEncrypted,jailBroken,lastSyncDateTime&$top=1000", Essential: true},
	{Key: "compliancePolicies", Path: "/v1.0/deviceManagement/deviceCompliancePolicies", Essential: true},
	{Key: "configurationProfiles", Path: "/v1.0/deviceManagement/deviceConfigurations"},
}

func (m *Module) Collect(ctx context.Context, client assessment.GraphClient) *assessment.CollectionResult {
	return assessment.CollectSubQueries(ctx, client, m.Domain(), subQueries)
}

type managedDevice struct {
	ID               string    `json:"id"`
	DeviceName       string    `json:"deviceName"`
	ComplianceState  string    `json:"complianceState"`
	IsEncrypted      bool      `json:"isEncrypted"`
	JailBroken       string    `json:"jailBroken"`
	LastSyncDateTime time.Time `json:"lastSyncDateTime"`
}

type compliancePolicy struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

type configurationProfile struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

const (
	// complianceRateThreshold is the minimum compliant-device share.
	complianceRateThreshold = 80.0
	// encryptionRateThreshold is the minimum encrypted-device share.
	encryptionRateThreshold = 90.0
	// staleSyncCutoff marks devices that have not checked in recently.
	staleSyncCutoff = 30 * 24 * time.Hour
)

func (m *Module) Normalize(result *assessment.CollectionResult) *assessment.NormalizedFindings {
	if !result.Success {
		return assessment.CollectionFailureFindings(m.Domain(), result)
	}

	nf := assessment.NewNormalizedFindings(m.Domain())
	assessment.NoteDegradedEndpoints(nf, result)

	devices := assessment.DecodeValueList[managedDevice](result, "managedDevices", nf)
	policies := assessment.DecodeValueList[compliancePolicy](result, "compliancePolicies", nf)
	profiles := assessment.DecodeValueList[configurationProfile](result, "configurationProfiles", nf)

	var (
		compliant  int
		encrypted  int
		jailbroken []string
		stale      []string
	)
	now := time.Now().UTC()
	for _, d := range devices {
		if d.ComplianceState == "compliant" {
			compliant++
		}
		if d.IsEncrypted {
			encrypted++
		}
		if d.JailBroken == "True" {
			jailbroken = append(jailbroken, assessment.ResourceLabel(d.ID, d.DeviceName))
		}
		if !d.LastSyncDateTime.IsZero() && now.Sub(d.LastSyncDateTime) > staleSyncCutoff {
			stale = append(stale, assessment.ResourceLabel(d.ID, d.DeviceName))
		}
	}

	compliancePct := assessment.Percentage(compliant, len(devices))
	encryptionPct := assessment.Percentage(encrypted, len(devices))

	nf.SetMetric("managed_devices", float64(len(devices)))
	nf.SetMetric("compliance_percentage", compliancePct)
	nf.SetMetric("encryption_percentage", encryptionPct)
	nf.SetMetric("compliance_policies", float64(len(policies)))
	nf.SetMetric("jailbroken_devices", float64(len(jailbroken)))
	nf.SetMetric("stale_devices", float64(len(stale)))

	// DEV-001: at least one compliance policy exists.
	havePolicies := len(policies) > 0
	nf.Add(assessment.Finding{
		CheckID:     "DEV-001",
		CheckName:   "compliance_policy_exists",
		Title:       "Device compliance policies defined",
		Description: fmt.Sprintf("%d device compliance policies configured", len(policies)),
		Severity:    assessment.SeverityFor(havePolicies, assessment.High),
		Compliant:   havePolicies,
		Category:    "Compliance",
		Remediation: "Define Intune device compliance policies for every supported platform.",
		Reference:   "https://learn.microsoft.com/mem/intune/protect/device-compliance-get-started",
	})

	// DEV-002: compliance rate. No devices degrades to compliant.
	complianceOK := len(devices) == 0 || compliancePct >= complianceRateThreshold
	nf.Add(assessment.Finding{
		CheckID:     "DEV-002",
		CheckName:   "device_compliance_rate",
		Title:       "Managed device compliance rate",
		Description: fmt.Sprintf("%d of %d devices (%.1f%%) are compliant", compliant, len(devices), compliancePct),
		Severity:    assessment.SeverityFor(complianceOK, assessment.High),
		Compliant:   complianceOK,
		Category:    "Compliance",
		Remediation: "Investigate and remediate non-compliant devices.",
	})

	// DEV-003: encryption rate.
	encryptionOK := len(devices) == 0 || encryptionPct >= encryptionRateThreshold
	nf.Add(assessment.Finding{
		CheckID:     "DEV-003",
		CheckName:   "device_encryption_rate",
		Title:       "Managed device disk encryption",
		Description: fmt.Sprintf("%d of %d devices (%.1f%%) report disk encryption", encrypted, len(devices), encryptionPct),
		Severity:    assessment.SeverityFor(encryptionOK, assessment.High),
		Compliant:   encryptionOK,
		Category:    "Data Protection",
		Remediation: "Enforce BitLocker/FileVault through compliance and configuration policies.",
	})

	// DEV-004: jailbroken devices.
	noJailbroken := len(jailbroken) == 0
	nf.Add(assessment.Finding{
		CheckID:           "DEV-004",
		CheckName:         "jailbroken_devices",
		Title:             "No jailbroken or rooted devices enrolled",
		Description:       fmt.Sprintf("%d jailbroken/rooted devices detected", len(jailbroken)),
		Severity:          assessment.SeverityFor(noJailbroken, assessment.Critical),
		Compliant:         noJailbroken,
		Category:          "Endpoint Integrity",
		AffectedResources: jailbroken,
		Remediation:       "Block or retire jailbroken devices via compliance policy.",
	})

	// DEV-005: sync staleness.
	noStale := len(stale) == 0
	nf.Add(assessment.Finding{
		CheckID:           "DEV-005",
		CheckName:         "stale_devices",
		Title:             "Devices syncing within 30 days",
		Description:       fmt.Sprintf("%d devices have not synced in over 30 days", len(stale)),
		Severity:          assessment.SeverityFor(noStale, assessment.Medium),
		Compliant:         noStale,
		Category:          "Hygiene",
		AffectedResources: stale,
		Remediation:       "Retire or re-enroll devices that no longer check in.",
	})

	// DEV-006: inventory.
	nf.Add(assessment.Finding{
		CheckID:     "DEV-006",
		CheckName:   "device_inventory",
		Title:       "Managed device inventory",
		Description: fmt.Sprintf("%d managed devices, %d configuration profiles", len(devices), len(profiles)),
		Severity:    assessment.Info,
		Compliant:   true,
		Category:    "Inventory",
	})

	nf.AddSummary("Assessed %d managed devices against %d compliance policies", len(devices), len(policies))
	return nf
}

func (m *Module) Score(findings *assessment.NormalizedFindings, policy assessment.ScoringPolicy) assessment.DomainScore {
	return assessment.ScoreFindings(findings, policy)
}
