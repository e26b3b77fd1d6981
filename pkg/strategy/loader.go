// Package strategy loads, validates, and serves the declarative YAML
// pipelines the executor runs. A Strategy is immutable once loaded: it is
// parsed, validated, and then shared-read by every job that executes it,
// the way the teacher's config package loads chains once at startup into a
// read-only registry.
package strategy

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/arpanauts/biomapper-sub014/pkg/model"
)

// Registry is the read-only, in-memory collection of loaded strategies,
// keyed by name.
type Registry struct {
	byName map[string]*model.Strategy
	names  []string
}

// LoadDir reads every *.yaml/*.yml file in dir, parses and validates each as
// a Strategy, and returns a Registry. It fails fast on the first invalid
// file, mirroring the teacher's fail-fast configuration validator.
func LoadDir(dir string, knownActionTypes func(string) bool) (*Registry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, model.NewError(model.KindStrategyLoadError, "", "", fmt.Sprintf("read strategies directory %q: %v", dir, err))
	}

	reg := &Registry{byName: make(map[string]*model.Strategy)}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}
		path := filepath.Join(dir, name)
		strat, err := LoadFile(path, knownActionTypes)
		if err != nil {
			return nil, err
		}
		if _, exists := reg.byName[strat.Name]; exists {
			return nil, model.NewError(model.KindStrategyLoadError, "", "", fmt.Sprintf("duplicate strategy name %q (file %s)", strat.Name, path))
		}
		reg.byName[strat.Name] = strat
		reg.names = append(reg.names, strat.Name)
	}
	sort.Strings(reg.names)
	return reg, nil
}

// LoadFile parses and validates a single strategy YAML file. Environment
// variables of the form ${ENV_VAR} appearing in the raw YAML text are NOT
// expanded here — those are reserved for the strategy's own expression
// language (pkg/expr) and resolved per-job, not at load time.
func LoadFile(path string, knownActionTypes func(string) bool) (*model.Strategy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, model.NewError(model.KindStrategyLoadError, "", "", fmt.Sprintf("read strategy file %q: %v", path, err))
	}

	var strat model.Strategy
	if err := yaml.Unmarshal(data, &strat); err != nil {
		return nil, model.NewError(model.KindStrategyLoadError, "", "", fmt.Sprintf("parse strategy file %q: %v", path, err))
	}
	strat.SourcePath = path

	if err := Validate(&strat, knownActionTypes); err != nil {
		return nil, err
	}
	return &strat, nil
}

// Get returns a loaded strategy by name.
func (r *Registry) Get(name string) (*model.Strategy, bool) {
	s, ok := r.byName[name]
	return s, ok
}

// Names returns every loaded strategy name in sorted order.
func (r *Registry) Names() []string {
	return r.names
}

// All returns every loaded strategy, in the same order as Names.
func (r *Registry) All() []*model.Strategy {
	out := make([]*model.Strategy, 0, len(r.names))
	for _, n := range r.names {
		out = append(out, r.byName[n])
	}
	return out
}
