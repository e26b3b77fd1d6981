package executor

import "github.com/arpanauts/biomapper-sub014/pkg/model"

// orderedSteps returns the main steps of s in declared order, for
// execution.mode=sequential only; DAG mode is scheduled wave-by-wave by
// dagWaves instead (see runDAG), since a single flat order can't express
// "these N steps' dependencies are all satisfied, run them concurrently."
func orderedSteps(s *model.Strategy) []model.Step {
	return s.Steps
}

// dagWaves groups steps into levels: wave 0 holds every step with no
// depends_on, wave k+1 holds every step whose dependencies all finished by
// wave k. No step within a wave depends on another step of that wave, so they may run
// concurrently (spec.md §4.6/§5); steps across waves observe a
// happens-before relationship via the wave boundary. Ties within a wave are
// broken by declaration order for deterministic dispatch order. The
// strategy loader already rejected cycles, so this never needs to detect
// one.
func dagWaves(steps []model.Step) [][]model.Step {
	indexOf := make(map[string]int, len(steps))
	for i, s := range steps {
		indexOf[s.Name] = i
	}

	indegree := make(map[string]int, len(steps))
	dependents := make(map[string][]string, len(steps))
	for _, s := range steps {
		if _, ok := indegree[s.Name]; !ok {
			indegree[s.Name] = 0
		}
		for _, dep := range s.DependsOn {
			indegree[s.Name]++
			dependents[dep] = append(dependents[dep], s.Name)
		}
	}

	var ready []string
	for _, s := range steps {
		if indegree[s.Name] == 0 {
			ready = append(ready, s.Name)
		}
	}

	var waves [][]model.Step
	for len(ready) > 0 {
		sortByDeclarationOrder(ready, indexOf)

		wave := make([]model.Step, len(ready))
		for i, name := range ready {
			wave[i] = steps[indexOf[name]]
		}
		waves = append(waves, wave)

		var next []string
		for _, name := range ready {
			for _, dep := range dependents[name] {
				indegree[dep]--
				if indegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		ready = next
	}
	return waves
}

func sortByDeclarationOrder(names []string, indexOf map[string]int) {
	for i := 1; i < len(names); i++ {
		for j := i; j > 0 && indexOf[names[j-1]] > indexOf[names[j]]; j-- {
			names[j-1], names[j] = names[j], names[j-1]
		}
	}
}
