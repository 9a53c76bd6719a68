// Package insights evaluates CEL advisory rules against score results.
//
// Rules never change a score. They attach short improvement tips to a
// result, such as pointing a single-channel merchant at digital payments.
package insights

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/notenetra/creditscore/internal/domain"
)

// Engine is the CEL-based insight rule engine.
type Engine struct {
	mu            sync.RWMutex
	env           *cel.Env
	compiledRules map[string]*CompiledRule
	maxWorkers    int
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Rule    *domain.InsightRule
	Program cel.Program
}

// NewEngine creates an insight engine with no rules loaded.
func NewEngine(maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 4
	}

	env, err := cel.NewEnv(
		cel.Variable("consistency", cel.DoubleType),
		cel.Variable("growth", cel.DoubleType),
		cel.Variable("diversity", cel.DoubleType),
		cel.Variable("timing", cel.DoubleType),
		cel.Variable("raw_score", cel.DoubleType),
		cel.Variable("score", cel.IntType),
		cel.Variable("tier", cel.StringType),
		cel.Variable("transactions", cel.IntType),
		cel.Variable("credits", cel.IntType),
		cel.Variable("months", cel.IntType),
		cel.Variable("channels", cel.IntType),
		cel.Variable("collection_days", cel.IntType),
		cel.Variable("insufficient_data", cel.BoolType),
		cel.Variable("unmeasured", cel.ListType(cel.StringType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:           env,
		compiledRules: make(map[string]*CompiledRule),
		maxWorkers:    maxWorkers,
	}, nil
}

// ValidateRule compiles a rule without loading it.
func (e *Engine) ValidateRule(rule *domain.InsightRule) error {
	if rule == nil {
		return fmt.Errorf("rule is required")
	}
	if rule.ID == "" {
		return fmt.Errorf("rule id is required")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compileRule(rule)
	return err
}

// LoadRule compiles and loads a rule, replacing any rule with the same ID.
func (e *Engine) LoadRule(rule *domain.InsightRule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compileRule(rule)
	if err != nil {
		return err
	}
	e.compiledRules[rule.ID] = compiled
	return nil
}

// ReloadRules replaces every loaded rule. Disabled rules are skipped. On a
// compile error the previously loaded set is kept.
func (e *Engine) ReloadRules(rules []*domain.InsightRule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	next := make(map[string]*CompiledRule, len(rules))
	for _, r := range rules {
		if !r.Enabled {
			continue
		}
		compiled, err := e.compileRule(r)
		if err != nil {
			return err
		}
		next[r.ID] = compiled
	}

	e.compiledRules = next
	return nil
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiledRules)
}

// LoadedRules returns the loaded rules ordered by ID.
func (e *Engine) LoadedRules() []*domain.InsightRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]*domain.InsightRule, 0, len(e.compiledRules))
	for _, c := range e.compiledRules {
		rules = append(rules, c.Rule)
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })
	return rules
}

// Evaluate returns the insights triggered by r, most severe first, then by
// rule ID. Rules that fail to evaluate are skipped. The result is never nil.
func (e *Engine) Evaluate(r domain.ScoreResult) []domain.Insight {
	e.mu.RLock()
	rules := make([]*CompiledRule, 0, len(e.compiledRules))
	for _, c := range e.compiledRules {
		rules = append(rules, c)
	}
	e.mu.RUnlock()

	if len(rules) == 0 {
		return []domain.Insight{}
	}

	activation := Activation(r)

	fired := make([]*domain.InsightRule, len(rules))
	var wg sync.WaitGroup
	sem := make(chan struct{}, e.maxWorkers)

	for i, rule := range rules {
		wg.Add(1)
		go func(idx int, c *CompiledRule) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			out, _, err := c.Program.Eval(activation)
			if err != nil {
				return
			}
			if b, ok := out.(types.Bool); ok && bool(b) {
				fired[idx] = c.Rule
			}
		}(i, rule)
	}
	wg.Wait()

	out := []domain.Insight{}
	for _, rule := range fired {
		if rule == nil {
			continue
		}
		out = append(out, domain.Insight{RuleID: rule.ID, Message: rule.Message, Severity: rule.Severity})
	}
	sort.Slice(out, func(i, j int) bool {
		if si, sj := severityRank(out[i].Severity), severityRank(out[j].Severity); si != sj {
			return si > sj
		}
		return out[i].RuleID < out[j].RuleID
	})
	return out
}

// Activation builds the CEL variables for a score result.
func Activation(r domain.ScoreResult) map[string]any {
	unmeasured := r.Unmeasured
	if unmeasured == nil {
		unmeasured = []string{}
	}
	return map[string]any{
		"consistency":       r.Features.Consistency,
		"growth":            r.Features.Growth,
		"diversity":         r.Features.Diversity,
		"timing":            r.Features.Timing,
		"raw_score":         r.RawScore,
		"score":             int64(r.NormalizedScore),
		"tier":              string(r.Tier),
		"transactions":      int64(r.Evidence.Transactions),
		"credits":           int64(r.Evidence.Credits),
		"months":            int64(r.Evidence.Months),
		"channels":          int64(r.Evidence.Channels),
		"collection_days":   int64(r.Evidence.CollectionDays),
		"insufficient_data": r.InsufficientData,
		"unmeasured":        unmeasured,
	}
}

// Close unloads every rule.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiledRules = make(map[string]*CompiledRule)
	return nil
}

func (e *Engine) compileRule(rule *domain.InsightRule) (*CompiledRule, error) {
	ast, issues := e.env.Compile(rule.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", rule.ID, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rule %s: expression must return bool, got %s", rule.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", rule.ID, err)
	}
	return &CompiledRule{Rule: rule, Program: program}, nil
}

func severityRank(s domain.InsightSeverity) int {
	switch s {
	case domain.SeverityWarning:
		return 2
	case domain.SeverityAdvice:
		return 1
	}
	return 0
}
