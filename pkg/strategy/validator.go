package strategy

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/arpanauts/biomapper-sub014/pkg/model"
)

// structValidate runs the go-playground/validator struct-tag pass
// (required/min fields on Strategy, Step, RetryPolicy). A single instance is
// reused across loads; per the library's own docs it is safe for concurrent
// use once configured.
var structValidate = validator.New()

// Validate performs comprehensive, fail-fast structural validation of a
// loaded Strategy. It first runs the go-playground/validator struct-tag pass
// (required names, action types, at least one step, retry.max_attempts >= 1),
// then the hand-rolled checks this package adds on top: unique step names,
// known action types, an acyclic depends_on graph, well-formed enums, and a
// syntactic check of every expression string the strategy contains. It does
// not evaluate any expression — that happens per-job, once parameters and
// variables are bound — but it does reject malformed ${...} syntax at load
// time so a broken strategy file never reaches the executor.
func Validate(s *model.Strategy, knownActionTypes func(string) bool) error {
	if err := structValidate.Struct(s); err != nil {
		return loadErr(s, err.Error())
	}

	if len(s.Steps) == 0 {
		return loadErr(s, "strategy must declare at least one step")
	}

	switch s.ExecutionModeOrDefault() {
	case model.ExecutionModeSequential, model.ExecutionModeDAG:
	default:
		return loadErr(s, fmt.Sprintf("execution.mode %q is not one of sequential, dag", s.Execution.Mode))
	}

	if err := validateErrorAction(s.ErrorHandling.Default, "error_handling.default"); err != nil {
		return loadErr(s, err.Error())
	}

	seen := make(map[string]bool, len(s.Steps))
	for _, step := range append(append([]model.Step{}, s.Steps...), s.FinallySteps...) {
		if step.Name == "" {
			return loadErr(s, "every step requires a name")
		}
		if seen[step.Name] {
			return loadErr(s, fmt.Sprintf("duplicate step name %q", step.Name))
		}
		seen[step.Name] = true

		if step.ActionType == "" {
			return loadErr(s, fmt.Sprintf("step %q: action_type is required", step.Name))
		}
		if knownActionTypes != nil && !knownActionTypes(step.ActionType) {
			return model.NewError(model.KindUnknownActionType, step.Name, step.ActionType,
				fmt.Sprintf("strategy %q references unknown action type %q", s.Name, step.ActionType))
		}

		if err := validateExpressions(step); err != nil {
			return loadErr(s, fmt.Sprintf("step %q: %s", step.Name, err))
		}

		if step.OnError != nil {
			if err := validateOnError(step.OnError); err != nil {
				return loadErr(s, fmt.Sprintf("step %q: %s", step.Name, err))
			}
		}
		if step.Checkpoint != nil {
			switch *step.Checkpoint {
			case model.CheckpointBefore, model.CheckpointAfter:
			default:
				return loadErr(s, fmt.Sprintf("step %q: checkpoint %q is not one of before, after", step.Name, *step.Checkpoint))
			}
		}
		if step.Repeat != nil && step.Repeat.MaxIterations > model.HardMaxRepeatIterations {
			return loadErr(s, fmt.Sprintf("step %q: repeat.max_iterations %d exceeds the hard cap of %d", step.Name, step.Repeat.MaxIterations, model.HardMaxRepeatIterations))
		}
	}

	for _, step := range s.Steps {
		for _, dep := range step.DependsOn {
			if !seen[dep] {
				return loadErr(s, fmt.Sprintf("step %q depends_on unknown step %q", step.Name, dep))
			}
		}
	}

	if err := checkAcyclic(s.Steps); err != nil {
		return loadErr(s, err.Error())
	}

	return nil
}

func validateErrorAction(a model.ErrorAction, field string) error {
	if a == "" {
		return nil
	}
	switch a {
	case model.ErrorActionStop, model.ErrorActionContinue, model.ErrorActionSkip, model.ErrorActionRetry:
		return nil
	default:
		return fmt.Errorf("%s %q is not one of stop, continue, skip, retry", field, a)
	}
}

func validateOnError(oe *model.OnErrorSpec) error {
	if err := validateErrorAction(oe.Action, "on_error.action"); err != nil {
		return err
	}
	if oe.Action == model.ErrorActionRetry && oe.Retry == nil {
		return fmt.Errorf("on_error.action is retry but no retry policy is configured")
	}
	if oe.Retry != nil {
		switch oe.Retry.Backoff {
		case "", model.BackoffLinear, model.BackoffExponential:
		default:
			return fmt.Errorf("on_error.retry.backoff %q is not one of linear, exponential", oe.Retry.Backoff)
		}
		if oe.Retry.MaxAttempts < 1 {
			return fmt.Errorf("on_error.retry.max_attempts must be at least 1")
		}
		if oe.Retry.Fallback != nil {
			if err := validateErrorAction(oe.Retry.Fallback.Action, "on_error.retry.fallback.action"); err != nil {
				return err
			}
		}
	}
	return nil
}

// validateExpressions syntactically checks every ${...} token in a step's
// condition, for_each.items, repeat.while_condition, skip_if_exists, and
// string-valued action_params, without evaluating any of them.
func validateExpressions(step model.Step) error {
	candidates := []string{step.Condition, step.SkipIfExists}
	if step.ForEach != nil {
		candidates = append(candidates, step.ForEach.Items)
	}
	if step.Repeat != nil {
		candidates = append(candidates, step.Repeat.WhileCondition)
	}
	candidates = append(candidates, collectStrings(step.ActionParams)...)

	for _, c := range candidates {
		if err := checkBalanced(c); err != nil {
			return err
		}
	}
	return nil
}

func collectStrings(v any) []string {
	switch x := v.(type) {
	case string:
		return []string{x}
	case map[string]any:
		var out []string
		for _, val := range x {
			out = append(out, collectStrings(val)...)
		}
		return out
	case []any:
		var out []string
		for _, val := range x {
			out = append(out, collectStrings(val)...)
		}
		return out
	default:
		return nil
	}
}

func checkBalanced(s string) error {
	depth := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '$' && i+1 < len(s) && s[i+1] == '{' {
			depth++
			i++
			continue
		}
		if s[i] == '}' && depth > 0 {
			depth--
		}
	}
	if depth != 0 {
		return fmt.Errorf("unterminated expression in %q", s)
	}
	return nil
}

// checkAcyclic rejects a depends_on graph containing a cycle, via
// iterative DFS with a recursion-stack set.
func checkAcyclic(steps []model.Step) error {
	deps := make(map[string][]string, len(steps))
	for _, s := range steps {
		deps[s.Name] = s.DependsOn
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(steps))

	var visit func(name string, path []string) error
	visit = func(name string, path []string) error {
		switch color[name] {
		case black:
			return nil
		case gray:
			return fmt.Errorf("depends_on cycle detected: %v", append(path, name))
		}
		color[name] = gray
		for _, dep := range deps[name] {
			if err := visit(dep, append(path, name)); err != nil {
				return err
			}
		}
		color[name] = black
		return nil
	}

	for _, s := range steps {
		if err := visit(s.Name, nil); err != nil {
			return err
		}
	}
	return nil
}

func loadErr(s *model.Strategy, msg string) error {
	return model.NewError(model.KindStrategyLoadError, "", "", fmt.Sprintf("strategy %q (%s): %s", s.Name, s.SourcePath, msg))
}
