// Package snowflake exports assessment results to a Snowflake warehouse
// for fleet-level analytics. It implements assessment.RunStore over
// database/sql with the gosnowflake driver.
package snowflake

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/PiotrMackowski/TenantPosture/internal/assessment"
	_ "github.com/snowflakedb/gosnowflake"
)

// Exporter writes runs, domain scores, and findings to Snowflake tables
// (ASSESSMENT_RUNS, DOMAIN_SCORES, FINDINGS).
type Exporter struct {
	db *sql.DB
}

// NewExporter opens a Snowflake connection from a DSN
// (user:pass@account/db/schema?warehouse=wh).
func NewExporter(dsn string) (*Exporter, error) {
	if dsn == "" {
		return nil, fmt.Errorf("snowflake DSN is required")
	}
	db, err := sql.Open("snowflake", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening snowflake connection: %w", err)
	}
	return &Exporter{db: db}, nil
}

// Close releases the underlying connection pool.
func (e *Exporter) Close() error {
	return e.db.Close()
}

// SaveRun inserts the run, its domain scores, and its findings in one
// transaction.
func (e *Exporter) SaveRun(ctx context.Context, result *assessment.RunResult) error {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	run := result.Run
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO ASSESSMENT_RUNS (ID, TENANT_ID, STATUS, STARTED_AT, COMPLETED_AT, OVERALL_SCORE, GRADE, ERROR_MESSAGE)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.TenantID, string(run.Status), run.StartedAt, run.CompletedAt,
		run.OverallScore, run.Grade, run.ErrorMessage,
	); err != nil {
		return fmt.Errorf("inserting run %s: %w", run.ID, err)
	}

	for _, domain := range orderedDomains(run.DomainScores) {
		ds := run.DomainScores[domain]
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO DOMAIN_SCORES (RUN_ID, DOMAIN, SCORE, GRADE, ASSESSED, ERROR, TOTAL_FINDINGS, NON_COMPLIANT)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID, string(ds.Domain), ds.Score, ds.Grade, ds.Assessed, ds.Error,
			ds.Breakdown.Total, ds.Breakdown.NonCompliant,
		); err != nil {
			return fmt.Errorf("inserting score for %s: %w", ds.Domain, err)
		}
	}

	for _, f := range result.AllFindings() {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO FINDINGS (RUN_ID, CHECK_ID, CHECK_NAME, TITLE, SEVERITY, COMPLIANT, CATEGORY, REMEDIATION)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID, f.CheckID, f.CheckName, f.Title, string(f.Severity), f.Compliant, f.Category, f.Remediation,
		); err != nil {
			return fmt.Errorf("inserting finding %s: %w", f.CheckID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing export: %w", err)
	}
	return nil
}

// SaveRawPayloads is a no-op for the warehouse exporter: raw snapshots stay
// in the local JSON store, only distilled results are exported.
func (e *Exporter) SaveRawPayloads(context.Context, string, string, *assessment.CollectionResult) error {
	return nil
}

// orderedDomains returns map keys in stable order for deterministic inserts.
func orderedDomains(scores map[assessment.Domain]assessment.DomainScore) []assessment.Domain {
	out := make([]assessment.Domain, 0, len(scores))
	for d := range scores {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
