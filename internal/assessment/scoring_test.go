package assessment

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func testPolicy() ScoringPolicy {
	return ScoringPolicy{
		Penalties: map[Severity]float64{
			Critical: 25,
			High:     15,
			Medium:   7,
			Low:      3,
			Info:     0,
		},
		Weights: map[Domain]float64{
			DomainIdentity: 1.5,
		},
		DefaultWeight: 1.0,
	}
}

func TestScoreFindingsEmpty(t *testing.T) {
	nf := NewNormalizedFindings(DomainIdentity)
	ds := ScoreFindings(nf, testPolicy())

	if ds.Score != 100 {
		t.Errorf("Score = %v, want 100 for zero findings", ds.Score)
	}
	if !ds.Assessed {
		t.Error("empty findings are still an assessed domain")
	}
	if ds.Grade != "A" {
		t.Errorf("Grade = %q, want A", ds.Grade)
	}
}

func TestScoreFindingsPenalties(t *testing.T) {
	nf := NewNormalizedFindings(DomainIdentity)
	nf.Add(Finding{CheckID: "IAM-001", Severity: Critical, Compliant: false})
	nf.Add(Finding{CheckID: "IAM-002", Severity: High, Compliant: false})
	nf.Add(Finding{CheckID: "IAM-003", Severity: Info, Compliant: true})

	ds := ScoreFindings(nf, testPolicy())

	if ds.Score != 60 {
		t.Errorf("Score = %v, want 60 (100 - 25 - 15)", ds.Score)
	}
	if ds.Breakdown.Total != 3 || ds.Breakdown.Compliant != 1 || ds.Breakdown.NonCompliant != 2 {
		t.Errorf("Breakdown = %+v", ds.Breakdown)
	}
	if ds.Breakdown.NonCompliantBySeverity[Critical] != 1 {
		t.Errorf("NonCompliantBySeverity = %v", ds.Breakdown.NonCompliantBySeverity)
	}
	if ds.Grade != "C" {
		t.Errorf("Grade = %q, want C", ds.Grade)
	}
}

func TestScoreFindingsDeterministic(t *testing.T) {
	nf := NewNormalizedFindings(DomainIdentity)
	nf.Add(Finding{CheckID: "IAM-001", Severity: Critical, Compliant: false})
	nf.Add(Finding{CheckID: "IAM-002", Severity: Medium, Compliant: false})
	nf.Add(Finding{CheckID: "IAM-003", Severity: Info, Compliant: true})

	first := ScoreFindings(nf, testPolicy())
	for i := 0; i < 3; i++ {
		again := ScoreFindings(nf, testPolicy())
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("identical findings produced different scores:\nfirst: %+v\nagain: %+v", first, again)
		}
	}
}

func TestScoreFindingsClampedAtZero(t *testing.T) {
	nf := NewNormalizedFindings(DomainIdentity)
	for i := 0; i < 10; i++ {
		nf.Add(Finding{Severity: Critical, Compliant: false})
	}

	ds := ScoreFindings(nf, testPolicy())
	if ds.Score != 0 {
		t.Errorf("Score = %v, want clamped to 0", ds.Score)
	}
	if ds.Grade != "F" {
		t.Errorf("Grade = %q, want F", ds.Grade)
	}
}

func TestScoreFindingsCompliantNeverPenalizes(t *testing.T) {
	nf := NewNormalizedFindings(DomainIdentity)
	nf.Add(Finding{Severity: Info, Compliant: true})
	nf.Add(Finding{Severity: Info, Compliant: true})

	ds := ScoreFindings(nf, testPolicy())
	if ds.Score != 100 {
		t.Errorf("Score = %v, want 100 for all-compliant", ds.Score)
	}
}

func TestScoreFindingsInfoNeverPenalizes(t *testing.T) {
	// A policy that (mis)configures an INFO penalty must still be ignored.
	policy := testPolicy()
	policy.Penalties[Info] = 50

	nf := NewNormalizedFindings(DomainIdentity)
	nf.Add(Finding{Severity: Info, Compliant: false})

	ds := ScoreFindings(nf, policy)
	if ds.Score != 100 {
		t.Errorf("Score = %v, want 100; INFO findings never deduct", ds.Score)
	}
}

func TestScoreFindingsMonotonicity(t *testing.T) {
	nf := NewNormalizedFindings(DomainIdentity)
	prev := ScoreFindings(nf, testPolicy()).Score
	for i := 0; i < 5; i++ {
		nf.Add(Finding{Severity: Medium, Compliant: false})
		next := ScoreFindings(nf, testPolicy()).Score
		if next > prev {
			t.Fatalf("score increased from %v to %v after adding a non-compliant finding", prev, next)
		}
		prev = next
	}
}

func TestOverallScoreWeighted(t *testing.T) {
	scores := map[Domain]DomainScore{
		DomainIdentity: {Domain: DomainIdentity, Score: 80, Assessed: true},
		DomainDevice:   {Domain: DomainDevice, Score: 60, Assessed: true},
	}

	// identity weight 1.5, device default 1.0: (80*1.5 + 60*1.0) / 2.5 = 72.
	got := OverallScore(scores, testPolicy())
	if got != 72 {
		t.Errorf("OverallScore = %v, want 72", got)
	}
}

func TestOverallScoreExcludesUnassessed(t *testing.T) {
	scores := map[Domain]DomainScore{
		DomainDevice:   {Domain: DomainDevice, Score: 60, Assessed: true},
		DomainDefender: UnassessedScore(DomainDefender, "pipeline failed"),
	}

	// The unassessed domain is excluded, not counted as zero.
	got := OverallScore(scores, testPolicy())
	if got != 60 {
		t.Errorf("OverallScore = %v, want 60", got)
	}
}

func TestOverallScoreNothingAssessed(t *testing.T) {
	scores := map[Domain]DomainScore{
		DomainDevice: UnassessedScore(DomainDevice, "boom"),
	}
	if got := OverallScore(scores, testPolicy()); got != 0 {
		t.Errorf("OverallScore = %v, want 0", got)
	}
	if got := OverallScore(nil, testPolicy()); got != 0 {
		t.Errorf("OverallScore(nil) = %v, want 0", got)
	}
}

func TestGradeForScore(t *testing.T) {
	tests := []struct {
		score float64
		want  string
	}{
		{100, "A"}, {90, "A"},
		{89.9, "B"}, {75, "B"},
		{74.9, "C"}, {60, "C"},
		{59.9, "D"}, {40, "D"},
		{39.9, "F"}, {0, "F"},
	}
	for _, tt := range tests {
		if got := GradeForScore(tt.score); got != tt.want {
			t.Errorf("GradeForScore(%v) = %q, want %q", tt.score, got, tt.want)
		}
	}
}

func TestDefaultScoringPolicy(t *testing.T) {
	policy := DefaultScoringPolicy()

	if len(policy.Penalties) == 0 {
		t.Fatal("embedded policy should define penalties")
	}
	if policy.Penalties[Critical] <= policy.Penalties[High] {
		t.Error("CRITICAL should penalize more than HIGH")
	}
	if policy.DefaultWeight <= 0 {
		t.Errorf("DefaultWeight = %v, want positive", policy.DefaultWeight)
	}
}

func TestLoadScoringPolicy(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scoring.yaml")
	content := `penalties:
  CRITICAL: 30
  HIGH: 10
weights:
  identity-and-access: 2.0
default_weight: 1.0
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	policy, err := LoadScoringPolicy(path)
	if err != nil {
		t.Fatalf("LoadScoringPolicy error: %v", err)
	}
	if policy.Penalties[Critical] != 30 {
		t.Errorf("Penalties[CRITICAL] = %v, want 30", policy.Penalties[Critical])
	}
	if policy.Weights[DomainIdentity] != 2.0 {
		t.Errorf("Weights[identity] = %v, want 2.0", policy.Weights[DomainIdentity])
	}
}

func TestLoadScoringPolicyErrors(t *testing.T) {
	if _, err := LoadScoringPolicy("/nonexistent/scoring.yaml"); err == nil {
		t.Error("expected error for missing file")
	}

	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.yaml")
	if err := os.WriteFile(empty, []byte("weights: {}\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadScoringPolicy(empty); err == nil {
		t.Error("expected error for a policy without penalties")
	}
}
