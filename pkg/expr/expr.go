// Package expr implements the strategy language's minimal, safe expression
// and substitution engine: ${parameters.x}, ${steps.s.metrics.y},
// ${variables.v}, ${env.E:-default}, and the safe arithmetic/comparison/
// ternary subset described in the specification. It is built on
// github.com/expr-lang/expr, which already sandboxes evaluation to the
// environment object handed to it — here, an Env exposing only the six
// declared prefixes (parameters, variables, env, steps, foreach, repeat),
// so no expression can read context state outside those paths.
package expr

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"

	"github.com/arpanauts/biomapper-sub014/pkg/model"
)

// StepView is the subset of a completed step's state visible to later
// expressions: ${steps.S.metrics.M}, ${steps.S.outputs.K}, ${steps.S.failed}.
type StepView struct {
	Metrics map[string]any `expr:"metrics"`
	Outputs map[string]any `expr:"outputs"`
	Failed  bool           `expr:"failed"`
}

// Env is the evaluation environment: exactly the six prefixes the
// specification recognizes. Substitute never exposes anything else to
// expr-lang, which is what makes "no expression can read outside declared
// prefixes" (spec.md §8 property 7) hold.
type Env struct {
	Parameters map[string]any      `expr:"parameters"`
	Variables  map[string]any      `expr:"variables"`
	Env        map[string]any      `expr:"env"`
	Steps      map[string]StepView `expr:"steps"`
	Foreach    map[string]any      `expr:"foreach"`
	Repeat     map[string]any      `expr:"repeat"`
}

// NewEnv builds an evaluation Env from an ExecutionContext plus the
// process environment and any loop-local foreach/repeat bindings.
func NewEnv(parameters, variables map[string]any, osEnv map[string]string, steps map[string]StepView, foreach, repeat map[string]any) Env {
	envMap := make(map[string]any, len(osEnv))
	for k, v := range osEnv {
		envMap[k] = v
	}
	if steps == nil {
		steps = map[string]StepView{}
	}
	if foreach == nil {
		foreach = map[string]any{}
	}
	if repeat == nil {
		repeat = map[string]any{}
	}
	return Env{
		Parameters: parameters,
		Variables:  variables,
		Env:        envMap,
		Steps:      steps,
		Foreach:    foreach,
		Repeat:     repeat,
	}
}

// token describes one ${...} occurrence found in a template string.
type token struct {
	raw   string // the full "${...}" text, including braces
	inner string // the text between ${ and }
}

// findTokens scans s for balanced ${...} occurrences, honoring nested
// braces/brackets so an indexing expression like ${variables.list[0]} is
// captured whole.
func findTokens(s string) []token {
	var tokens []token
	i := 0
	for i < len(s) {
		start := strings.Index(s[i:], "${")
		if start < 0 {
			break
		}
		start += i
		depth := 1
		j := start + 2
		for j < len(s) && depth > 0 {
			switch s[j] {
			case '{':
				depth++
			case '}':
				depth--
			}
			j++
		}
		if depth != 0 {
			break // unterminated; caller will treat remaining text literally
		}
		tokens = append(tokens, token{raw: s[start:j], inner: s[start+2 : j-1]})
		i = j
	}
	return tokens
}

// splitDefault splits "expr:-default" into its expression and default text
// at the first top-level (bracket/paren/quote-free) occurrence of ":-".
// Returns hasDefault=false if none is present.
func splitDefault(inner string) (exprText string, defaultText string, hasDefault bool) {
	depth := 0
	inQuote := byte(0)
	for i := 0; i < len(inner)-1; i++ {
		c := inner[i]
		if inQuote != 0 {
			if c == inQuote {
				inQuote = 0
			}
			continue
		}
		switch c {
		case '\'', '"':
			inQuote = c
		case '(', '[':
			depth++
		case ')', ']':
			depth--
		}
		if depth == 0 && inQuote == 0 && c == ':' && inner[i+1] == '-' {
			return strings.TrimSpace(inner[:i]), strings.TrimSpace(inner[i+2:]), true
		}
	}
	return inner, "", false
}

// literalValue interprets a default-value literal: numbers and booleans are
// parsed to their native type, everything else is a bare string. Strings
// may optionally be quoted.
func literalValue(s string) any {
	if len(s) >= 2 && ((s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'')) {
		return s[1 : len(s)-1]
	}
	if s == "true" {
		return true
	}
	if s == "false" {
		return false
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

// EvalOne evaluates a single ${...} expression (with optional :-default)
// against env, returning its native Go value (bool, float64, string,
// []any, map[string]any, ...).
func EvalOne(inner string, env Env) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = model.NewError(model.KindExpressionError, "", "", fmt.Sprintf("panic evaluating expression %q: %v", inner, r))
		}
	}()

	exprText, defaultText, hasDefault := splitDefault(inner)

	program, compileErr := expr.Compile(exprText, expr.Env(Env{}), expr.AllowUndefinedVariables())
	if compileErr != nil {
		if hasDefault {
			return literalValue(defaultText), nil
		}
		return nil, model.NewError(model.KindExpressionError, "", "", fmt.Sprintf("failed to parse expression %q: %v", exprText, compileErr))
	}

	out, runErr := expr.Run(program, env)
	if runErr != nil || isUndefined(out) {
		if hasDefault {
			return literalValue(defaultText), nil
		}
		if runErr != nil {
			return nil, model.NewError(model.KindExpressionError, "", "", fmt.Sprintf("failed to evaluate expression %q: %v", exprText, runErr))
		}
		return nil, model.NewError(model.KindExpressionError, "", "", fmt.Sprintf("unresolved reference in expression %q", exprText))
	}
	return out, nil
}

func isUndefined(v any) bool {
	return v == nil
}

// Substitute applies expression substitution to a template string. If the
// entire (trimmed) string is a single ${...} token, the native evaluated
// value is returned (so conditions, for_each.items, and numeric params keep
// their real type). Otherwise, every token is evaluated and stringified,
// and the result is literal string concatenation, matching how the
// specification describes substitution inside ordinary strings.
func Substitute(template string, env Env) (any, error) {
	tokens := findTokens(template)
	if len(tokens) == 0 {
		return template, nil
	}

	if len(tokens) == 1 && strings.TrimSpace(template) == tokens[0].raw {
		return EvalOne(tokens[0].inner, env)
	}

	var sb strings.Builder
	rest := template
	for _, t := range tokens {
		idx := strings.Index(rest, t.raw)
		sb.WriteString(rest[:idx])
		val, err := EvalOne(t.inner, env)
		if err != nil {
			return nil, err
		}
		sb.WriteString(stringify(val))
		rest = rest[idx+len(t.raw):]
	}
	sb.WriteString(rest)
	return sb.String(), nil
}

func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprintf("%v", x)
	}
}

// SubstituteParams walks a map of action_params (or any nested
// map/slice/string structure), applying Substitute to every string leaf.
func SubstituteParams(params map[string]any, env Env) (map[string]any, error) {
	out := make(map[string]any, len(params))
	for k, v := range params {
		sv, err := substituteValue(v, env)
		if err != nil {
			return nil, err
		}
		out[k] = sv
	}
	return out, nil
}

func substituteValue(v any, env Env) (any, error) {
	switch x := v.(type) {
	case string:
		return Substitute(x, env)
	case map[string]any:
		return SubstituteParams(x, env)
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			sv, err := substituteValue(item, env)
			if err != nil {
				return nil, err
			}
			out[i] = sv
		}
		return out, nil
	default:
		return v, nil
	}
}

// EvalBool evaluates an expression expecting a boolean result, used for
// `condition` and `repeat.while_condition`. Non-boolean results are a
// type-mismatch EXPRESSION_ERROR per the type coercion rules in spec.md §4.4.
func EvalBool(template string, env Env) (bool, error) {
	v, err := Substitute(template, env)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, model.NewError(model.KindExpressionError, "", "", fmt.Sprintf("expression %q did not evaluate to a boolean (got %T)", template, v))
	}
	return b, nil
}

// EvalList evaluates an expression expecting a list result, used for
// `for_each.items`.
func EvalList(template string, env Env) ([]any, error) {
	v, err := Substitute(template, env)
	if err != nil {
		return nil, err
	}
	switch x := v.(type) {
	case []any:
		return x, nil
	default:
		return nil, model.NewError(model.KindExpressionError, "", "", fmt.Sprintf("expression %q did not evaluate to a list (got %T)", template, v))
	}
}
