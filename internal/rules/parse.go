package rules

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Rule syntax, one per line:
//
//	from => to          case-insensitive literal replacement of every match
//	s/pattern/repl/gms  regular expression; any non-alphanumeric delimiter
//
// Blank lines and lines starting with # are ignored.

func defaultRuleParsers() []RuleParser {
	return []RuleParser{regexRuleParser{}, literalRuleParser{}}
}

func parseRules(contents string, parsers []RuleParser) ([]compiledRule, error) {
	var compiled []compiledRule
	for n, raw := range strings.Split(contents, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || line[0] == '#' {
			continue
		}
		parser := parserFor(line, parsers)
		if parser == nil {
			return nil, fmt.Errorf("line %d: unsupported rule format", n+1)
		}
		rule, err := parser.Parse(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", n+1, err)
		}
		compiled = append(compiled, rule)
	}
	return compiled, nil
}

func parserFor(line string, parsers []RuleParser) RuleParser {
	for _, p := range parsers {
		if p.CanParse(line) {
			return p
		}
	}
	return nil
}

// substitution is the compiled form of both rule kinds. limit is 1 when
// only the first match is replaced and -1 otherwise.
type substitution struct {
	re       *regexp.Regexp
	template string
	literal  bool
	limit    int
}

func (s substitution) Apply(input string) (string, bool) {
	var out string
	switch {
	case s.literal:
		out = s.re.ReplaceAllLiteralString(input, s.template)
	case s.limit < 0:
		out = s.re.ReplaceAllString(input, s.template)
	default:
		m := s.re.FindStringSubmatchIndex(input)
		if m == nil {
			return input, false
		}
		out = input[:m[0]] + string(s.re.ExpandString(nil, s.template, input, m)) + input[m[1]:]
	}
	return out, out != input
}

type literalRuleParser struct{}

func (literalRuleParser) CanParse(line string) bool { return strings.Contains(line, "=>") }

func (literalRuleParser) Parse(line string) (compiledRule, error) { return parseLiteralRule(line) }

func parseLiteralRule(line string) (compiledRule, error) {
	from, to, ok := strings.Cut(line, "=>")
	if !ok {
		return nil, errors.New("invalid literal rule")
	}
	from = strings.TrimSpace(from)
	if from == "" {
		return nil, errors.New("literal rule source cannot be empty")
	}
	return substitution{
		re:       regexp.MustCompile("(?i)" + regexp.QuoteMeta(from)),
		template: expandEscapes(strings.TrimSpace(to), 0),
		literal:  true,
		limit:    -1,
	}, nil
}

type regexRuleParser struct{}

func (regexRuleParser) CanParse(line string) bool { return looksLikeRegexRule(line) }

func (regexRuleParser) Parse(line string) (compiledRule, error) { return parseRegexRule(line) }

func parseRegexRule(line string) (compiledRule, error) {
	if !looksLikeRegexRule(line) {
		return nil, errors.New("regex rule must be s followed by a non-alphanumeric delimiter")
	}
	delim := line[1]
	pattern, repl, tail, err := splitExpression(line[2:], delim)
	if err != nil {
		return nil, err
	}
	mods, global, err := regexModifiers(strings.TrimSpace(tail))
	if err != nil {
		return nil, err
	}
	re, err := regexp.Compile("(?" + mods + ")" + pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regex: %w", err)
	}
	rule := substitution{re: re, template: expandEscapes(repl, delim), limit: 1}
	if global {
		rule.limit = -1
	}
	return rule, nil
}

// splitExpression returns the pattern and replacement of an s-expression
// body along with whatever follows the closing delimiter. A backslash
// protects the next byte, which stays in the returned text.
func splitExpression(body string, delim byte) (pattern, repl, tail string, err error) {
	var fields []string
	begin := 0
	for i := 0; i < len(body) && len(fields) < 2; i++ {
		switch body[i] {
		case '\\':
			i++
		case delim:
			fields = append(fields, body[begin:i])
			begin = i + 1
		}
	}
	switch len(fields) {
	case 0:
		return "", "", "", errors.New("invalid regex pattern: unterminated expression")
	case 1:
		return "", "", "", errors.New("invalid regex replacement: unterminated expression")
	}
	return fields[0], fields[1], body[begin:], nil
}

// regexModifiers maps trailing flags to inline regexp modifiers. Matching
// is always case-insensitive; g switches to replacing every match.
func regexModifiers(flags string) (mods string, global bool, err error) {
	var multiLine, dotAll bool
	for _, f := range flags {
		switch f {
		case 'g':
			global = true
		case 'm':
			multiLine = true
		case 's':
			dotAll = true
		case 'i', ' ':
		default:
			return "", false, fmt.Errorf("unsupported regex flag %q", f)
		}
	}
	mods = "i"
	if multiLine {
		mods += "m"
	}
	if dotAll {
		mods += "s"
	}
	return mods, global, nil
}

func looksLikeRegexRule(line string) bool {
	return len(line) > 1 && line[0] == 's' && !isWordOrBlank(line[1])
}

func isWordOrBlank(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	return c == ' ' || c == '\t'
}

// expandEscapes turns \n, \t, \\ and an escaped delimiter into the
// characters they name. Other escapes are kept for the regexp template.
func expandEscapes(s string, delim byte) string {
	if !strings.Contains(s, "\\") {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 == len(s) {
			b.WriteByte(s[i])
			continue
		}
		next := s[i+1]
		switch {
		case next == 'n':
			b.WriteByte('\n')
		case next == 't':
			b.WriteByte('\t')
		case next == '\\':
			b.WriteByte('\\')
		case delim != 0 && next == delim:
			b.WriteByte(delim)
		default:
			b.WriteByte('\\')
			b.WriteByte(next)
		}
		i++
	}
	return b.String()
}
