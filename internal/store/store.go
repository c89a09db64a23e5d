// Package store persists assessment runs and raw collection snapshots as
// JSON documents on disk.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/PiotrMackowski/TenantPosture/internal/assessment"
)

// JSONStore implements assessment.RunStore on a local directory:
// runs/<run-id>.json for the run document and raw/<run-id>/<domain>.json
// for optional raw payload snapshots.
type JSONStore struct {
	dir string
}

// NewJSONStore creates a store rooted at dir, creating it if needed.
func NewJSONStore(dir string) (*JSONStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("store directory is required")
	}
	for _, sub := range []string{"runs", "raw"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0700); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
	}
	return &JSONStore{dir: dir}, nil
}

// SaveRun writes the terminal run with its findings.
func (s *JSONStore) SaveRun(_ context.Context, result *assessment.RunResult) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling run: %w", err)
	}
	path := s.RunPath(result.Run.ID)
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing run file: %w", err)
	}
	return nil
}

// SaveRawPayloads writes one domain's raw collection for audit/drill-down.
func (s *JSONStore) SaveRawPayloads(_ context.Context, tenantID, runID string, collection *assessment.CollectionResult) error {
	doc := struct {
		TenantID string                       `json:"tenant_id"`
		RunID    string                       `json:"run_id"`
		Domain   assessment.Domain            `json:"domain"`
		Result   *assessment.CollectionResult `json:"result"`
	}{TenantID: tenantID, RunID: runID, Domain: collection.Domain, Result: collection}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling raw payloads: %w", err)
	}

	dir := filepath.Join(s.dir, "raw", runID)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating raw directory: %w", err)
	}
	path := filepath.Join(dir, string(collection.Domain)+".json")
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing raw payload file: %w", err)
	}
	return nil
}

// RunPath returns the file path for a run ID.
func (s *JSONStore) RunPath(runID string) string {
	return filepath.Join(s.dir, "runs", runID+".json")
}

// LoadRun reads a previously saved run result from a file path.
func LoadRun(path string) (*assessment.RunResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading run file: %w", err)
	}
	var result assessment.RunResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("parsing run file: %w", err)
	}
	if result.Run == nil {
		return nil, fmt.Errorf("run file %s has no run document", path)
	}
	return &result, nil
}
