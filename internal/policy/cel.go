package policy

import (
	"fmt"
	"log/slog"

	"github.com/google/cel-go/cel"
)

// CompiledRule wraps a pre-compiled CEL program for fast repeated evaluation.
type CompiledRule struct {
	Expression string
	program    cel.Program
}

// ToolContext is what a custom policy sees about a pending tool call.
type ToolContext struct {
	ToolName   string
	Params     map[string]any
	SessionKey string
	ChannelID  string
	AgentID    string
	// ToolCalls is the session's tool-call count in the current window,
	// including this call.
	ToolCalls int
}

// CELEvaluator compiles and evaluates CEL expressions against ToolContext
// values. Expressions are compiled once at load time; evaluation is lock-free
// and safe for concurrent use.
type CELEvaluator struct {
	env    *cel.Env
	logger *slog.Logger
}

// NewCELEvaluator creates a CELEvaluator with the variables available in
// custom policy conditions.
func NewCELEvaluator(logger *slog.Logger) (*CELEvaluator, error) {
	if logger == nil {
		logger = slog.Default()
	}

	env, err := cel.NewEnv(
		// tool.*
		cel.Variable("tool.name", cel.StringType),
		cel.Variable("tool.params", cel.MapType(cel.StringType, cel.DynType)),

		// session.*
		cel.Variable("session.key", cel.StringType),
		cel.Variable("session.channel", cel.StringType),
		cel.Variable("session.tool_calls", cel.IntType),

		// agent.*
		cel.Variable("agent.id", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &CELEvaluator{
		env:    env,
		logger: logger.With("component", "policy.CELEvaluator"),
	}, nil
}

// CompileExpression parses and type-checks a CEL expression. The result must
// be boolean.
func (c *CELEvaluator) CompileExpression(expr string) (CompiledRule, error) {
	ast, issues := c.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return CompiledRule{}, fmt.Errorf("CEL compile error in %q: %w", expr, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return CompiledRule{}, fmt.Errorf("CEL expression %q must evaluate to bool, got %s", expr, ast.OutputType())
	}

	prg, err := c.env.Program(ast)
	if err != nil {
		return CompiledRule{}, fmt.Errorf("CEL program creation failed for %q: %w", expr, err)
	}

	c.logger.Debug("compiled CEL expression", "expression", expr)

	return CompiledRule{
		Expression: expr,
		program:    prg,
	}, nil
}

// Evaluate runs a pre-compiled rule against tc. It returns true when the
// condition holds.
func (c *CELEvaluator) Evaluate(rule CompiledRule, tc ToolContext) (bool, error) {
	if rule.program == nil {
		return false, fmt.Errorf("CEL rule %q is not compiled", rule.Expression)
	}

	params := tc.Params
	// CEL map access on a nil map fails.
	if params == nil {
		params = map[string]any{}
	}

	vars := map[string]any{
		"tool.name":          tc.ToolName,
		"tool.params":        params,
		"session.key":        tc.SessionKey,
		"session.channel":    tc.ChannelID,
		"session.tool_calls": int64(tc.ToolCalls),
		"agent.id":           tc.AgentID,
	}

	out, _, err := rule.program.Eval(vars)
	if err != nil {
		return false, fmt.Errorf("CEL evaluation error for %q: %w", rule.Expression, err)
	}

	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression %q returned non-bool: %T", rule.Expression, out.Value())
	}
	return result, nil
}
