package orchestration

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/c4h-ai/orchestrator/internal/models"
)

// Rule is one routing entry. A nil NextTeam ends the workflow when the
// rule matches.
type Rule struct {
	Condition string
	NextTeam  *string
}

// Routing selects the next team after a team run. Rules are evaluated in
// declaration order and the first match wins; Default applies when no
// rule matches.
type Routing struct {
	Rules   []Rule
	Default *string
}

// routeEnv is what conditions can see: the team's task outcomes, plus a
// scope exposing the merged team output under "data" and the workflow
// context under "context".
type routeEnv struct {
	tasks []models.TaskResult
	scope map[string]any
}

// Next evaluates the rules against the finished team. Evaluation is
// side-effect-free; a condition that fails to evaluate counts as no
// match and logs a warning.
func (r Routing) Next(logger *zap.Logger, tasks []models.TaskResult, scope map[string]any) *string {
	env := routeEnv{tasks: tasks, scope: scope}
	for _, rule := range r.Rules {
		ok, err := evalCondition(rule.Condition, env)
		if err != nil {
			logger.Warn("routing condition did not evaluate, treating as no match",
				zap.String("condition", rule.Condition),
				zap.Error(err))
			continue
		}
		if ok {
			return rule.NextTeam
		}
	}
	return r.Default
}

// Condition grammar, smallest thing that covers the rule files:
//
//	expr   := and ("or" and)*
//	and    := unary ("and" unary)*
//	unary  := "not" unary | "(" expr ")" | term
//	term   := predicate | path | path cmp int
//
// Predicates are all_success, any_failure, any_success, all_failure.
// Paths are dotted lookups into the scope; a trailing ".length" yields
// the element count. A bare path is a truthiness test.
func evalCondition(expr string, env routeEnv) (bool, error) {
	toks, err := tokenize(expr)
	if err != nil {
		return false, err
	}
	if len(toks) == 0 {
		return false, fmt.Errorf("empty condition")
	}
	p := &condParser{toks: toks, env: env}
	v, err := p.parseOr()
	if err != nil {
		return false, err
	}
	if p.pos != len(p.toks) {
		return false, fmt.Errorf("unexpected trailing token %q", p.toks[p.pos])
	}
	return v, nil
}

type condParser struct {
	toks []string
	env  routeEnv
	pos  int
}

func (p *condParser) peek() string {
	if p.pos < len(p.toks) {
		return p.toks[p.pos]
	}
	return ""
}

func (p *condParser) next() string {
	t := p.peek()
	p.pos++
	return t
}

func (p *condParser) parseOr() (bool, error) {
	left, err := p.parseAnd()
	if err != nil {
		return false, err
	}
	for p.peek() == "or" {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return false, err
		}
		left = left || right
	}
	return left, nil
}

func (p *condParser) parseAnd() (bool, error) {
	left, err := p.parseUnary()
	if err != nil {
		return false, err
	}
	for p.peek() == "and" {
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return false, err
		}
		left = left && right
	}
	return left, nil
}

func (p *condParser) parseUnary() (bool, error) {
	switch p.peek() {
	case "not":
		p.next()
		v, err := p.parseUnary()
		return !v, err
	case "(":
		p.next()
		v, err := p.parseOr()
		if err != nil {
			return false, err
		}
		if p.next() != ")" {
			return false, fmt.Errorf("missing closing parenthesis")
		}
		return v, nil
	}
	return p.parseTerm()
}

var comparisons = map[string]bool{">": true, "<": true, ">=": true, "<=": true, "==": true, "!=": true}

func (p *condParser) parseTerm() (bool, error) {
	tok := p.next()
	switch tok {
	case "", ")":
		return false, fmt.Errorf("expected a predicate or path")
	case "all_success":
		return p.env.allWhere(func(r models.TaskResult) bool { return r.Result.Success }), nil
	case "all_failure":
		return p.env.allWhere(func(r models.TaskResult) bool { return !r.Result.Success }), nil
	case "any_success":
		return p.env.anyWhere(func(r models.TaskResult) bool { return r.Result.Success }), nil
	case "any_failure":
		return p.env.anyWhere(func(r models.TaskResult) bool { return !r.Result.Success }), nil
	}

	if !comparisons[p.peek()] {
		v, ok := lookupPath(p.env.scope, tok)
		if !ok {
			return false, nil
		}
		return truthy(v), nil
	}

	op := p.next()
	lit := p.next()
	want, err := strconv.ParseInt(lit, 10, 64)
	if err != nil {
		return false, fmt.Errorf("comparison needs an integer literal, got %q", lit)
	}
	v, ok := lookupPath(p.env.scope, tok)
	if !ok {
		return false, fmt.Errorf("path %q is absent", tok)
	}
	got, ok := asInt(v)
	if !ok {
		return false, fmt.Errorf("path %q is not numeric", tok)
	}
	switch op {
	case ">":
		return got > want, nil
	case "<":
		return got < want, nil
	case ">=":
		return got >= want, nil
	case "<=":
		return got <= want, nil
	case "==":
		return got == want, nil
	default:
		return got != want, nil
	}
}

func (e routeEnv) allWhere(pred func(models.TaskResult) bool) bool {
	for _, r := range e.tasks {
		if !pred(r) {
			return false
		}
	}
	return true
}

func (e routeEnv) anyWhere(pred func(models.TaskResult) bool) bool {
	for _, r := range e.tasks {
		if pred(r) {
			return true
		}
	}
	return false
}

// lookupPath walks a dotted path through nested string-keyed mappings. A
// final "length" segment applied to a non-mapping yields its size.
func lookupPath(scope map[string]any, path string) (any, bool) {
	var current any = scope
	segments := strings.Split(path, ".")
	for i, seg := range segments {
		m, ok := current.(map[string]any)
		if !ok {
			if seg == "length" && i == len(segments)-1 {
				if n, ok := lengthOf(current); ok {
					return n, true
				}
			}
			return nil, false
		}
		next, ok := m[seg]
		if !ok {
			if seg == "length" && i == len(segments)-1 {
				return len(m), true
			}
			return nil, false
		}
		current = next
	}
	if last := segments[len(segments)-1]; last == "length" {
		if n, ok := lengthOf(current); ok {
			return n, true
		}
	}
	return current, true
}

// lengthOf sizes slices, maps and strings of any element type; task data
// carries typed slices, not just []any.
func lengthOf(v any) (int, bool) {
	if v == nil {
		return 0, false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map, reflect.String:
		return rv.Len(), true
	default:
		return 0, false
	}
}

func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	}
	if n, ok := asInt(v); ok {
		return n != 0
	}
	if n, ok := lengthOf(v); ok {
		return n > 0
	}
	return true
}

func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

func tokenize(expr string) ([]string, error) {
	var toks []string
	i := 0
	for i < len(expr) {
		c := expr[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n':
			i++
		case c == '(' || c == ')':
			toks = append(toks, string(c))
			i++
		case c == '>' || c == '<' || c == '=' || c == '!':
			j := i + 1
			if j < len(expr) && expr[j] == '=' {
				j++
			}
			op := expr[i:j]
			if op == "=" || op == "!" {
				return nil, fmt.Errorf("invalid operator %q", op)
			}
			toks = append(toks, op)
			i = j
		case isWordByte(c):
			j := i
			for j < len(expr) && isWordByte(expr[j]) {
				j++
			}
			toks = append(toks, expr[i:j])
			i = j
		default:
			return nil, fmt.Errorf("invalid character %q", string(c))
		}
	}
	return toks, nil
}

func isWordByte(c byte) bool {
	return c == '_' || c == '.' || c == '-' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
