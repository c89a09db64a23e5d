// Module registry.
//
// Each assessment domain package registers its module in an init()
// function. The CLI blank-imports the domain packages
// (cmd/tenantposture/modules.go) to populate the registry.
//
// To add a new domain:
//  1. Create internal/module/<domain>/ with a Module implementation.
//  2. Call assessment.Register(New()) in an init() function.
//  3. Add the blank import in cmd/tenantposture/modules.go.
package assessment

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Module is the contract every assessment domain implements. Modules are
// self-contained, share no mutable state, and are safe to run concurrently.
type Module interface {
	// Domain returns the assessment domain this module covers.
	Domain() Domain
	// Name returns the human-readable display name.
	Name() string
	// Description explains what the module assesses.
	Description() string
	// RequiredPermissions lists the Graph permission scopes the module needs.
	// Validation fails closed: if any scope is missing the module is skipped.
	RequiredPermissions() []string
	// Collect fetches the domain's raw payloads from the directory API.
	Collect(ctx context.Context, client GraphClient) *CollectionResult
	// Normalize turns a collection result into typed findings and metrics.
	// It must handle Success=false gracefully and never panic.
	Normalize(result *CollectionResult) *NormalizedFindings
	// Score converts the findings into a bounded domain score.
	Score(findings *NormalizedFindings, policy ScoringPolicy) DomainScore
}

var (
	registryMu sync.RWMutex
	registry   = make(map[Domain]Module)
)

// Register adds a domain module to the global registry.
// Panics if the domain is already registered.
func Register(m Module) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[m.Domain()]; exists {
		panic(fmt.Sprintf("assessment: domain %q already registered", m.Domain()))
	}
	registry[m.Domain()] = m
}

// Get returns the module for a domain, or an error listing what is available.
func Get(domain Domain) (Module, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	m, ok := registry[domain]
	if !ok {
		return nil, fmt.Errorf("unknown domain %q; available: %v", domain, domainNamesLocked())
	}
	return m, nil
}

// Modules returns all registered modules in stable domain order.
func Modules() []Module {
	registryMu.RLock()
	defer registryMu.RUnlock()

	out := make([]Module, 0, len(registry))
	for _, m := range registry {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Domain() < out[j].Domain() })
	return out
}

// Domains returns the registered domain names in sorted order.
func Domains() []Domain {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return domainNamesLocked()
}

// domainNamesLocked returns sorted domains. Caller must hold registryMu.
func domainNamesLocked() []Domain {
	names := make([]Domain, 0, len(registry))
	for d := range registry {
		names = append(names, d)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}
