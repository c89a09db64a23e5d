package assessment

import (
	"context"
	"fmt"
	"io"
	"log"
	"sort"
	"strings"
	"sync"
)

// defaultDomainWorkers bounds how many domain modules run concurrently so
// a full assessment stays inside the remote API's rate limits.
const defaultDomainWorkers = 3

// RunStore is the persistence collaborator consuming completed runs. It is
// declared here so the core never depends on a storage implementation.
type RunStore interface {
	// SaveRun durably stores a terminal run with its findings.
	SaveRun(ctx context.Context, result *RunResult) error
	// SaveRawPayloads optionally stores a domain's raw collection for
	// audit/drill-down, tagged by tenant, run, and domain.
	SaveRawPayloads(ctx context.Context, tenantID, runID string, collection *CollectionResult) error
}

// Commentator produces optional AI commentary for a completed run.
type Commentator interface {
	Commentary(ctx context.Context, result *RunResult) (string, error)
}

// RunResult bundles a run with the per-domain artifacts produced during it.
// Collections and findings are locally owned by the run execution and are
// never mutated after hand-off.
type RunResult struct {
	Run         *AssessmentRun                 `json:"run"`
	Findings    map[Domain]*NormalizedFindings `json:"findings,omitempty"`
	Collections map[Domain]*CollectionResult   `json:"-"`
}

// AllFindings returns every finding across domains in stable domain order.
func (rr *RunResult) AllFindings() []Finding {
	var out []Finding
	for _, d := range sortedFindingDomains(rr.Findings) {
		out = append(out, rr.Findings[d].Findings...)
	}
	return out
}

func sortedFindingDomains(m map[Domain]*NormalizedFindings) []Domain {
	domains := make([]Domain, 0, len(m))
	for d := range m {
		domains = append(domains, d)
	}
	sort.Slice(domains, func(i, j int) bool { return domains[i] < domains[j] })
	return domains
}

// Orchestrator validates, collects, normalizes, and scores every registered
// domain for a tenant, then assembles the run-level result.
type Orchestrator struct {
	client GraphClient
	policy ScoringPolicy

	// Workers bounds concurrent domain executions (default 3).
	Workers int
	// Store, when set, receives the terminal run and raw payloads.
	Store RunStore
	// Commentator, when set, annotates completed runs.
	Commentator Commentator
	// SaveRaw enables raw payload persistence alongside the run.
	SaveRaw bool
	// Modules overrides the global registry (used by tests); nil means
	// all registered modules.
	Modules []Module

	logger *log.Logger
}

// NewOrchestrator creates an orchestrator over the given client and policy.
// A nil logger discards output.
func NewOrchestrator(client GraphClient, policy ScoringPolicy, logger *log.Logger) *Orchestrator {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Orchestrator{
		client:  client,
		policy:  policy,
		Workers: defaultDomainWorkers,
		logger:  logger,
	}
}

// domainOutcome is the internal hand-off from one domain's pipeline.
type domainOutcome struct {
	domain     Domain
	skipped    string // non-empty: permission skip reason
	score      DomainScore
	findings   *NormalizedFindings
	collection *CollectionResult
}

// Run executes one full assessment for a tenant. It always returns a
// terminal run: degraded and skipped domains are recorded as data, and the
// run fails only when zero domains pass permission validation.
func (o *Orchestrator) Run(ctx context.Context, tenantID string) (*RunResult, error) {
	run := NewRun(tenantID)
	if err := run.Start(); err != nil {
		return nil, err
	}

	modules := o.Modules
	if modules == nil {
		modules = Modules()
	}

	workers := o.Workers
	if workers <= 0 {
		workers = defaultDomainWorkers
	}

	o.logger.Printf("[assess] run %s: assessing %d domains for tenant %s", run.ID, len(modules), tenantID)

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		sem      = make(chan struct{}, workers)
		outcomes []domainOutcome
	)

	for _, m := range modules {
		wg.Add(1)
		go func(m Module) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			outcome := o.runDomain(ctx, m)

			mu.Lock()
			outcomes = append(outcomes, outcome)
			mu.Unlock()
		}(m)
	}

	wg.Wait()

	result := &RunResult{
		Run:         run,
		Findings:    make(map[Domain]*NormalizedFindings),
		Collections: make(map[Domain]*CollectionResult),
	}

	ran := 0
	for _, oc := range outcomes {
		if oc.skipped != "" {
			run.SkippedDomains[oc.domain] = oc.skipped
			continue
		}
		ran++
		run.DomainScores[oc.domain] = oc.score
		if oc.findings != nil {
			result.Findings[oc.domain] = oc.findings
		}
		if oc.collection != nil {
			result.Collections[oc.domain] = oc.collection
		}
	}

	if ran == 0 {
		msg := "no domain could be assessed"
		if len(run.SkippedDomains) > 0 {
			msg = fmt.Sprintf("no domain could be assessed: %d domains skipped for missing permissions", len(run.SkippedDomains))
		}
		run.DomainScores = make(map[Domain]DomainScore)
		if err := run.Fail(msg); err != nil {
			return nil, err
		}
		o.logger.Printf("[assess] run %s failed: %s", run.ID, msg)
	} else {
		run.OverallScore = OverallScore(run.DomainScores, o.policy)
		run.Grade = GradeForScore(run.OverallScore)
		if err := run.Complete(); err != nil {
			return nil, err
		}
		o.logger.Printf("[assess] run %s completed: overall score %.1f (%s), %d assessed, %d skipped",
			run.ID, run.OverallScore, run.Grade, ran, len(run.SkippedDomains))
	}

	o.annotate(ctx, result)
	o.persist(ctx, result)

	return result, nil
}

// runDomain executes one domain's pipeline. A panic anywhere past the
// collection guards is converted into an unassessed score so a blown domain
// never aborts the run.
func (o *Orchestrator) runDomain(ctx context.Context, m Module) (outcome domainOutcome) {
	outcome.domain = m.Domain()

	defer func() {
		if r := recover(); r != nil {
			o.logger.Printf("[assess] domain %s panicked: %v", m.Domain(), r)
			outcome.score = UnassessedScore(m.Domain(), fmt.Sprintf("domain pipeline failed: %v", r))
			outcome.findings = nil
		}
	}()

	if missing := ValidatePermissions(ctx, o.client, m); len(missing) > 0 {
		reason := fmt.Sprintf("missing permissions: %s", strings.Join(missing, ", "))
		o.logger.Printf("[assess] skipping domain %s: %s", m.Domain(), reason)
		outcome.skipped = reason
		return outcome
	}

	o.logger.Printf("[collect] domain %s: collecting", m.Domain())
	collection := m.Collect(ctx, o.client)
	outcome.collection = collection
	for _, w := range collection.Warnings {
		o.logger.Printf("[collect] domain %s: %s", m.Domain(), w)
	}

	findings := m.Normalize(collection)
	outcome.findings = findings

	// A whole-domain collection abort yields an unassessed score; scoring
	// the empty findings would report a clean 100 for a domain that was
	// never actually checked.
	if !collection.Success {
		msg := collection.ErrorMessage
		if msg == "" {
			msg = "collection failed"
		}
		o.logger.Printf("[assess] domain %s unassessed: %s", m.Domain(), msg)
		outcome.score = UnassessedScore(m.Domain(), msg)
		return outcome
	}

	outcome.score = m.Score(findings, o.policy)

	o.logger.Printf("[assess] domain %s: score %.1f (%d findings, %d non-compliant)",
		m.Domain(), outcome.score.Score, outcome.score.Breakdown.Total, outcome.score.Breakdown.NonCompliant)
	return outcome
}

// annotate fills in AI commentary when a commentator is configured.
// Commentary failures are logged and dropped; they never fail the run.
func (o *Orchestrator) annotate(ctx context.Context, result *RunResult) {
	if o.Commentator == nil || result.Run.Status != StatusCompleted {
		return
	}
	commentary, err := o.Commentator.Commentary(ctx, result)
	if err != nil {
		o.logger.Printf("[assess] commentary generation failed: %v", err)
		return
	}
	result.Run.Commentary = commentary
}

// persist hands the terminal run to the store. Storage failures are logged;
// the run result is still returned to the caller.
func (o *Orchestrator) persist(ctx context.Context, result *RunResult) {
	if o.Store == nil {
		return
	}
	if err := o.Store.SaveRun(ctx, result); err != nil {
		o.logger.Printf("[assess] saving run %s: %v", result.Run.ID, err)
	}
	if !o.SaveRaw {
		return
	}
	for _, collection := range result.Collections {
		if err := o.Store.SaveRawPayloads(ctx, result.Run.TenantID, result.Run.ID, collection); err != nil {
			o.logger.Printf("[assess] saving raw payloads for %s: %v", collection.Domain, err)
		}
	}
}
