package rules

import (
	"bufio"
	"io"
	"regexp"
	"strconv"
	"strings"
)

var (
	// <output_template> (<frequency>) = <func> <input_pattern>
	aggregationLineRe = regexp.MustCompile(`^(\S+)\s+\((\d+)\)\s*=\s*(\w+)\s+(\S+)$`)

	captureRe = regexp.MustCompile(`<<([A-Za-z_][A-Za-z0-9_]*)>>`)
)

// AggregationRule routes matching input metrics into an aggregate metric.
type AggregationRule struct {
	Input     string // Pattern as written in the rule file
	Output    string // Output template as written in the rule file
	Frequency int64  // Interval width in seconds
	Func      AggFunc

	pattern  *regexp.Regexp
	captures []string
}

// NewAggregationRule compiles a rule from its parts.
func NewAggregationRule(input, output string, frequency int64, fn AggFunc) (*AggregationRule, error) {
	if frequency <= 0 {
		return nil, configErr("frequency must be positive, got %d", frequency)
	}
	pattern, captures, err := compilePattern(input)
	if err != nil {
		return nil, err
	}

	known := make(map[string]bool, len(captures))
	for _, name := range captures {
		known[name] = true
	}
	for _, m := range captureRe.FindAllStringSubmatch(output, -1) {
		if !known[m[1]] {
			return nil, configErr("output template references unknown capture %q", m[1])
		}
	}
	if strings.Contains(captureRe.ReplaceAllString(output, ""), "<<") {
		return nil, configErr("malformed placeholder in output template %q", output)
	}

	return &AggregationRule{
		Input:     input,
		Output:    output,
		Frequency: frequency,
		Func:      fn,
		pattern:   pattern,
		captures:  captures,
	}, nil
}

// ParseAggregationRule parses one rule definition line.
func ParseAggregationRule(line string) (*AggregationRule, error) {
	m := aggregationLineRe.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return nil, configErr("expected '<output> (<frequency>) = <func> <pattern>'")
	}

	frequency, err := strconv.ParseInt(m[2], 10, 64)
	if err != nil {
		return nil, configErr("bad frequency %q", m[2])
	}
	fn, err := ParseAggFunc(m[3])
	if err != nil {
		return nil, err
	}
	return NewAggregationRule(m[4], m[1], frequency, fn)
}

// ParseAggregationRules reads a rule file. Blank lines and lines starting
// with '#' are skipped. The first bad line aborts parsing.
func ParseAggregationRules(name string, r io.Reader) ([]*AggregationRule, error) {
	var rules []*AggregationRule

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		rule, err := ParseAggregationRule(line)
		if err != nil {
			return nil, &ParseError{File: name, Line: lineNo, Text: line, Err: err}
		}
		rules = append(rules, rule)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return rules, nil
}

// Match reports whether metric matches the rule's pattern.
func (r *AggregationRule) Match(metric string) bool {
	return r.pattern.MatchString(metric)
}

// AggregateMetric returns the output metric name for metric, if it matches.
func (r *AggregationRule) AggregateMetric(metric string) (string, bool) {
	m := r.pattern.FindStringSubmatch(metric)
	if m == nil {
		return "", false
	}

	values := make(map[string]string, len(r.captures))
	for i, name := range r.pattern.SubexpNames() {
		if name != "" {
			values[name] = m[i]
		}
	}

	return captureRe.ReplaceAllStringFunc(r.Output, func(placeholder string) string {
		return values[placeholder[2:len(placeholder)-2]]
	}), true
}

// Regexp returns the compiled, fully anchored pattern.
func (r *AggregationRule) Regexp() *regexp.Regexp {
	return r.pattern
}

func (r *AggregationRule) String() string {
	return r.Output + " (" + strconv.FormatInt(r.Frequency, 10) + ") = " + r.Func.String() + " " + r.Input
}

// compilePattern turns a dotted input pattern into an anchored regexp.
// "*" matches within one segment, "<<name>>" captures one segment.
func compilePattern(pattern string) (*regexp.Regexp, []string, error) {
	segments := strings.Split(pattern, ".")
	parts := make([]string, len(segments))
	seen := make(map[string]bool)
	var captures []string

	for i, seg := range segments {
		if seg == "" {
			return nil, nil, configErr("empty segment in pattern %q", pattern)
		}

		locs := captureRe.FindAllStringSubmatchIndex(seg, -1)
		switch len(locs) {
		case 0:
			parts[i] = globFragment(seg)
		case 1:
			loc := locs[0]
			name := seg[loc[2]:loc[3]]
			if seen[name] {
				return nil, nil, configErr("duplicate capture %q in pattern %q", name, pattern)
			}
			seen[name] = true
			captures = append(captures, name)
			parts[i] = globFragment(seg[:loc[0]]) + "(?P<" + name + ">[^.]+)" + globFragment(seg[loc[1]:])
		default:
			return nil, nil, configErr("more than one capture in segment %q", seg)
		}

		if strings.Contains(captureRe.ReplaceAllString(seg, ""), "<<") ||
			strings.Contains(captureRe.ReplaceAllString(seg, ""), ">>") {
			return nil, nil, configErr("malformed capture in segment %q", seg)
		}
	}

	re, err := regexp.Compile("^" + strings.Join(parts, `\.`) + "$")
	if err != nil {
		return nil, nil, configErr("pattern %q: %v", pattern, err)
	}
	return re, captures, nil
}

func globFragment(s string) string {
	if s == "*" {
		return `[^.]+`
	}
	pieces := strings.Split(s, "*")
	for i, p := range pieces {
		pieces[i] = regexp.QuoteMeta(p)
	}
	return strings.Join(pieces, `[^.]*`)
}
