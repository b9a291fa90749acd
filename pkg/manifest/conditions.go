package manifest

import (
	"fmt"
	"sync"

	exprlang "github.com/expr-lang/expr"
	exprvm "github.com/expr-lang/expr/vm"
)

// Conditions evaluates conditional_items predicates against host facts.
// Compiled programs are cached by expression text.
type Conditions struct {
	facts map[string]any

	mu       sync.Mutex
	programs map[string]*exprvm.Program
}

// NewConditions creates an evaluator over facts. Facts are exposed as
// top-level variables, so a condition reads like
// `hostname startsWith "lab-" && os == "darwin"`.
func NewConditions(facts map[string]any) *Conditions {
	env := make(map[string]any, len(facts))
	for k, v := range facts {
		env[k] = v
	}
	return &Conditions{
		facts:    env,
		programs: make(map[string]*exprvm.Program),
	}
}

// Evaluate runs expression and requires a boolean result. Unknown
// variables evaluate to nil rather than failing compilation.
func (c *Conditions) Evaluate(expression string) (bool, error) {
	if expression == "" {
		return false, fmt.Errorf("condition must not be empty")
	}

	program, err := c.compile(expression)
	if err != nil {
		return false, err
	}

	out, err := exprlang.Run(program, c.facts)
	if err != nil {
		return false, fmt.Errorf("condition %q failed: %w", expression, err)
	}
	result, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("condition %q returned %T, expected bool", expression, out)
	}
	return result, nil
}

func (c *Conditions) compile(expression string) (*exprvm.Program, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p, ok := c.programs[expression]; ok {
		return p, nil
	}

	p, err := exprlang.Compile(expression,
		exprlang.Env(map[string]any{}),
		exprlang.AllowUndefinedVariables(),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid condition %q: %w", expression, err)
	}
	c.programs[expression] = p
	return p, nil
}
