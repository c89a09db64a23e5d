package assessment

import (
	"fmt"
	"os"
	"sort"

	"github.com/PiotrMackowski/TenantPosture/policies"
	"gopkg.in/yaml.v3"
)

// ScoringPolicy is the configurable policy table behind the scoring engine:
// per-severity penalties for non-compliant findings and per-domain weights
// for the tenant-level aggregate. Deployments tune it via policies/scoring.yaml.
type ScoringPolicy struct {
	// Penalties maps severity to the points deducted per non-compliant finding.
	Penalties map[Severity]float64 `yaml:"penalties"`
	// Weights maps domains to their weight in the overall score.
	Weights map[Domain]float64 `yaml:"weights"`
	// DefaultWeight applies to domains absent from Weights (default 1.0).
	DefaultWeight float64 `yaml:"default_weight"`
}

// DefaultScoringPolicy returns the built-in policy embedded in the binary.
func DefaultScoringPolicy() ScoringPolicy {
	data, err := policies.Embedded.ReadFile("scoring.yaml")
	if err != nil {
		// The embed is part of the build; a missing file is a packaging bug.
		panic(fmt.Sprintf("assessment: embedded scoring policy missing: %v", err))
	}
	p, err := parseScoringPolicy(data)
	if err != nil {
		panic(fmt.Sprintf("assessment: embedded scoring policy invalid: %v", err))
	}
	return p
}

// LoadScoringPolicy loads a scoring policy from a YAML file.
func LoadScoringPolicy(path string) (ScoringPolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ScoringPolicy{}, fmt.Errorf("reading scoring policy %s: %w", path, err)
	}
	p, err := parseScoringPolicy(data)
	if err != nil {
		return ScoringPolicy{}, fmt.Errorf("parsing scoring policy %s: %w", path, err)
	}
	return p, nil
}

func parseScoringPolicy(data []byte) (ScoringPolicy, error) {
	var p ScoringPolicy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return ScoringPolicy{}, err
	}
	if len(p.Penalties) == 0 {
		return ScoringPolicy{}, fmt.Errorf("scoring policy has no penalties")
	}
	if p.DefaultWeight <= 0 {
		p.DefaultWeight = 1.0
	}
	return p, nil
}

// penalty returns the deduction for one non-compliant finding. INFO never
// penalizes regardless of configuration.
func (p ScoringPolicy) penalty(s Severity) float64 {
	if s == Info {
		return 0
	}
	return p.Penalties[s]
}

// weight returns the overall-score weight for a domain.
func (p ScoringPolicy) weight(d Domain) float64 {
	if w, ok := p.Weights[d]; ok && w > 0 {
		return w
	}
	if p.DefaultWeight > 0 {
		return p.DefaultWeight
	}
	return 1.0
}

// ScoreFindings converts a domain's normalized findings into a DomainScore.
//
// The score starts at 100 and loses the configured penalty per non-compliant
// finding, clamped to [0,100]. Compliant and INFO findings never reduce the
// score; zero findings score 100 ("nothing assessed counts as nothing found
// wrong"). The function is deterministic and total.
func ScoreFindings(nf *NormalizedFindings, policy ScoringPolicy) DomainScore {
	ds := DomainScore{
		Domain:   nf.Domain,
		Assessed: true,
		Breakdown: ScoreBreakdown{
			NonCompliantBySeverity: make(map[Severity]int),
		},
	}

	score := 100.0
	for _, f := range nf.Findings {
		ds.Breakdown.Total++
		if f.Compliant {
			ds.Breakdown.Compliant++
			continue
		}
		ds.Breakdown.NonCompliant++
		ds.Breakdown.NonCompliantBySeverity[f.Severity]++
		score -= policy.penalty(f.Severity)
	}

	if score < 0 {
		score = 0
	}
	ds.Score = score
	ds.Grade = GradeForScore(score)
	return ds
}

// OverallScore aggregates domain scores into a tenant-level score as a
// weighted average over assessed domains. Skipped and unassessed domains
// are excluded rather than defaulted so a permissions gap cannot inflate
// the tenant score. Returns 0 when nothing was assessed.
func OverallScore(scores map[Domain]DomainScore, policy ScoringPolicy) float64 {
	var weighted, totalWeight float64
	for _, ds := range sortedScores(scores) {
		if !ds.Assessed {
			continue
		}
		w := policy.weight(ds.Domain)
		weighted += ds.Score * w
		totalWeight += w
	}
	if totalWeight == 0 {
		return 0
	}
	return weighted / totalWeight
}

// sortedScores returns scores in stable domain order so aggregation never
// depends on map iteration or completion order.
func sortedScores(scores map[Domain]DomainScore) []DomainScore {
	out := make([]DomainScore, 0, len(scores))
	for _, ds := range scores {
		out = append(out, ds)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Domain < out[j].Domain })
	return out
}

// GradeForScore maps a numeric score to an A-F posture grade.
func GradeForScore(score float64) string {
	switch {
	case score >= 90:
		return "A"
	case score >= 75:
		return "B"
	case score >= 60:
		return "C"
	case score >= 40:
		return "D"
	default:
		return "F"
	}
}
