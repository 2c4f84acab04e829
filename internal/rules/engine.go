package rules

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

type compiledRule interface {
	Apply(input string) (output string, changed bool)
}

// RuleParser parses one line into a compiled rule.
type RuleParser interface {
	CanParse(line string) bool
	Parse(line string) (compiledRule, error)
}

// Engine applies ordered substitutions. Each rule runs once, in file order,
// on the output of the previous rule.
type Engine struct {
	rules []compiledRule
}

// builtinFormatting normalizes generated replies: collapse runs of blank
// lines, turn "*" bullets into "•", put headers on their own paragraph and
// separate a list from the line before it.
const builtinFormatting = `
s/\n{3,}/\n\n/g
s/^\s*\*\s*/• /gm
s/^#+\s*/\n${0}/gm
s/(\n[^•\n]+\n)(•)/${1}\n${2}/g
`

// NewEngine loads and compiles rules from a file using built-in parsers.
// A missing file yields an engine that changes nothing.
func NewEngine(path string) (*Engine, error) {
	return NewEngineWithParsers(path, defaultRuleParsers())
}

// NewFormatter returns the reply formatting rules followed by the rules in
// path, if any.
func NewFormatter(path string) (*Engine, error) {
	base, err := Parse(builtinFormatting)
	if err != nil {
		return nil, fmt.Errorf("built-in formatting rules: %w", err)
	}
	user, err := NewEngine(path)
	if err != nil {
		return nil, err
	}
	base.rules = append(base.rules, user.rules...)
	return base, nil
}

// Parse compiles rules from text.
func Parse(contents string) (*Engine, error) {
	rules, err := parseRules(contents, defaultRuleParsers())
	if err != nil {
		return nil, err
	}
	return &Engine{rules: rules}, nil
}

// NewEngineWithParsers allows parser extension without engine changes.
func NewEngineWithParsers(path string, parsers []RuleParser) (*Engine, error) {
	if len(parsers) == 0 {
		parsers = defaultRuleParsers()
	}

	if strings.TrimSpace(path) == "" {
		return &Engine{}, nil
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Engine{}, nil
		}
		return nil, fmt.Errorf("failed to read rules file %q: %w", path, err)
	}

	rules, err := parseRules(string(contents), parsers)
	if err != nil {
		return nil, fmt.Errorf("failed to parse rules file %q: %w", path, err)
	}

	return &Engine{rules: rules}, nil
}

// Len reports the number of compiled rules.
func (e *Engine) Len() int {
	return len(e.rules)
}

// Apply transforms text deterministically.
func (e *Engine) Apply(text string) (string, error) {
	result := text
	for _, rule := range e.rules {
		result, _ = rule.Apply(result)
	}
	return result, nil
}
