package assessment

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

const (
	// defaultSubQueryConcurrency bounds parallel sub-queries within one domain.
	defaultSubQueryConcurrency = 4

	// subQueryTimeout is the per-sub-query deadline, separate from the
	// overall run deadline so one slow endpoint cannot stall its siblings.
	subQueryTimeout = 45 * time.Second
)

// GraphClient is the directory-API collaborator consumed by collectors.
// Implementations must be safe for concurrent use by multiple modules.
type GraphClient interface {
	// FetchRawJSON returns the raw JSON response for a Graph endpoint path.
	FetchRawJSON(ctx context.Context, path string) (json.RawMessage, error)
	// HasPermission reports whether the credential holds a permission scope.
	HasPermission(ctx context.Context, scope string) (bool, error)
}

// SubQuery describes one independent endpoint fetch within a domain's
// collection plan.
type SubQuery struct {
	// Key is the stable payload key the response is stored under.
	Key string
	// Path is the Graph endpoint path to fetch.
	Path string
	// Essential marks sub-queries whose absence degrades the domain's core
	// signal; their failures are additionally recorded as unavailable endpoints.
	Essential bool
}

// CollectSubQueries executes a domain's fixed sub-query list against the
// client with bounded concurrency. Each sub-query is isolated: a failure is
// recorded as a warning (plus an unavailable-endpoint marker for essential
// sub-queries) and never aborts the others. Only a whole-domain failure
// (nil client, or a panic during a fetch) yields Success=false.
func CollectSubQueries(ctx context.Context, client GraphClient, domain Domain, queries []SubQuery) (result *CollectionResult) {
	result = NewCollectionResult(domain)

	defer func() {
		if r := recover(); r != nil {
			result.Success = false
			result.ErrorMessage = fmt.Sprintf("collection aborted: %v", r)
		}
		result.CollectedAt = time.Now().UTC()
	}()

	if client == nil {
		result.Success = false
		result.ErrorMessage = "collection aborted: no API client configured"
		return result
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, defaultSubQueryConcurrency)
	)

	for _, sq := range queries {
		wg.Add(1)
		go func(sq SubQuery) {
			defer wg.Done()

			// Each sub-query runs on its own goroutine, so the panic guard
			// must live here; recovery on the calling goroutine cannot see it.
			defer func() {
				if r := recover(); r != nil {
					mu.Lock()
					defer mu.Unlock()
					result.Success = false
					result.ErrorMessage = fmt.Sprintf("collection aborted: panic in sub-query %s: %v", sq.Key, r)
				}
			}()

			sem <- struct{}{}
			defer func() { <-sem }()

			qctx, cancel := context.WithTimeout(ctx, subQueryTimeout)
			defer cancel()

			raw, err := client.FetchRawJSON(qctx, sq.Path)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Warnings = append(result.Warnings, fmt.Sprintf("Failed to collect %s: %v", sq.Key, err))
				if sq.Essential {
					result.UnavailableEndpoints = append(result.UnavailableEndpoints, sq.Key)
				}
				return
			}
			result.Payloads[sq.Key] = raw
		}(sq)
	}

	wg.Wait()
	return result
}

// ValidatePermissions checks every required permission of a module via the
// client. It fails closed: a permission-check error counts as a missing
// permission. Returns the list of missing scopes (empty means runnable).
func ValidatePermissions(ctx context.Context, client GraphClient, m Module) []string {
	var missing []string
	for _, scope := range m.RequiredPermissions() {
		ok, err := client.HasPermission(ctx, scope)
		if err != nil || !ok {
			missing = append(missing, scope)
		}
	}
	return missing
}
