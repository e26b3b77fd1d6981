// Package mapping implements the entity-specific mapper actions
// (protein_historical_resolution, gene_symbol_bridge_match,
// fuzzy_identifier_match) supplementing the core primitive actions.
// Every mapper here conforms to the same contract: accept a Dataset plus
// resolver config, return a raw result Dataset and a list of
// StandardMappingResult records, with confidence scores taken from the
// confidence framework (spec.md §4.7).
package mapping

import (
	"sync"

	"github.com/arpanauts/biomapper-sub014/pkg/resolver"
)

// shells holds the resolver.Shell configured per action type through
// Configure, and is read by each mapper action's Execute. The cmd/biomapper
// entrypoint does not call Configure, so that binary starts with no shell
// configured for any action type. Mapper actions self-register into the action registry at
// package init() time, before any resolver configuration exists — so the
// shell lookup is deferred to call time rather than baked into the
// registered factory.
var (
	shellsMu sync.RWMutex
	shells   = map[string]*resolver.Shell{}
)

// Configure wires a resolver.Shell for the named action type. Call once
// during startup, before any job runs.
func Configure(actionType string, shell *resolver.Shell) {
	shellsMu.Lock()
	defer shellsMu.Unlock()
	shells[actionType] = shell
}

func shellFor(actionType string) *resolver.Shell {
	shellsMu.RLock()
	defer shellsMu.RUnlock()
	return shells[actionType]
}
