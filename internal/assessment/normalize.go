package assessment

import (
	"encoding/json"
	"fmt"
)

// valueEnvelope is the Graph collection response wrapper.
type valueEnvelope struct {
	Value json.RawMessage `json:"value"`
}

// DecodeValueList decodes a Graph collection payload ({"value": [...]})
// into a typed record list. A missing payload returns nil without comment
// (the collector already warned); a malformed payload degrades to nil plus
// a summary line on nf. It never fails the domain's normalization.
func DecodeValueList[T any](result *CollectionResult, key string, nf *NormalizedFindings) []T {
	raw, ok := result.Payloads[key]
	if !ok || len(raw) == 0 {
		return nil
	}

	// Some endpoints return a bare array instead of the {"value": [...]}
	// envelope; unwrap only when the envelope actually decodes.
	body := raw
	var env valueEnvelope
	if err := json.Unmarshal(raw, &env); err == nil && env.Value != nil {
		body = env.Value
	}

	var records []T
	if err := json.Unmarshal(body, &records); err != nil {
		nf.AddSummary("Payload %q could not be parsed and was skipped: %v", key, err)
		return nil
	}
	return records
}

// DecodeObject decodes a single-object payload into a typed record.
// Returns false (with a summary line for malformed data) when the payload
// is unusable.
func DecodeObject[T any](result *CollectionResult, key string, nf *NormalizedFindings, out *T) bool {
	raw, ok := result.Payloads[key]
	if !ok || len(raw) == 0 {
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		nf.AddSummary("Payload %q could not be parsed and was skipped: %v", key, err)
		return false
	}
	return true
}

// Percentage returns part/total as a percentage, treating a zero divisor
// as 0 rather than failing.
func Percentage(part, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}

// maxEvidenceBytes caps serialized evidence so a single finding cannot
// balloon a report.
const maxEvidenceBytes = 4096

// MarshalEvidence serializes a value as compact JSON evidence, truncating
// oversized payloads. Unserializable values degrade to an empty string.
func MarshalEvidence(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	if len(data) > maxEvidenceBytes {
		return string(data[:maxEvidenceBytes]) + "...(truncated)"
	}
	return string(data)
}

// CollectionFailureFindings builds the finding-free result for a domain
// whose collection aborted entirely. The summary explains the failure so
// an operator can distinguish "nothing wrong" from "couldn't check".
func CollectionFailureFindings(domain Domain, result *CollectionResult) *NormalizedFindings {
	nf := NewNormalizedFindings(domain)
	msg := result.ErrorMessage
	if msg == "" {
		msg = "unknown collection failure"
	}
	nf.AddSummary("Collection for domain %s failed: %s", domain, msg)
	for _, w := range result.Warnings {
		nf.AddSummary("%s", w)
	}
	return nf
}

// NoteDegradedEndpoints records summary lines for unavailable essential
// endpoints so downstream consumers see which signals are missing.
func NoteDegradedEndpoints(nf *NormalizedFindings, result *CollectionResult) {
	for _, key := range result.UnavailableEndpoints {
		nf.AddSummary("Endpoint %q was unavailable; related checks ran on partial data", key)
	}
}

// ResourceLabel formats a resource identifier with a readable display name.
func ResourceLabel(id, displayName string) string {
	if displayName == "" {
		return id
	}
	return fmt.Sprintf("%s (%s)", displayName, id)
}
