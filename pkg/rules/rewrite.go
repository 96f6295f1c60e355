package rules

import (
	"bufio"
	"io"
	"regexp"
	"strings"
)

// Phase selects when a rewrite rule runs relative to aggregation.
type Phase int

const (
	Pre  Phase = iota // before aggregation matching
	Post              // after aggregation matching
)

func (p Phase) String() string {
	if p == Post {
		return "post"
	}
	return "pre"
}

var backrefRe = regexp.MustCompile(`\\(\d+)`)

// RewriteRule replaces every match of Pattern in a metric name.
type RewriteRule struct {
	Phase       Phase
	Pattern     *regexp.Regexp
	Replacement string
}

// NewRewriteRule compiles pattern. Classic "\1" backreferences in
// replacement are accepted alongside Go's "${1}".
func NewRewriteRule(phase Phase, pattern, replacement string) (RewriteRule, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return RewriteRule{}, configErr("bad rewrite pattern %q: %v", pattern, err)
	}
	replacement = backrefRe.ReplaceAllStringFunc(replacement, func(ref string) string {
		return "${" + ref[1:] + "}"
	})
	return RewriteRule{Phase: phase, Pattern: re, Replacement: replacement}, nil
}

// Apply rewrites metric.
func (r RewriteRule) Apply(metric string) string {
	return r.Pattern.ReplaceAllString(metric, r.Replacement)
}

// ParseRewriteRules reads a rewrite rule file made of "[pre]" and "[post]"
// sections holding "pattern = replacement" lines.
func ParseRewriteRules(name string, r io.Reader) (pre, post []RewriteRule, err error) {
	scanner := bufio.NewScanner(r)
	lineNo := 0
	section := ""

	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = strings.ToLower(strings.TrimSpace(line[1 : len(line)-1]))
			if section != "pre" && section != "post" {
				return nil, nil, &ParseError{File: name, Line: lineNo, Text: line, Err: configErr("unknown section %q", section)}
			}
			continue
		}
		if section == "" {
			return nil, nil, &ParseError{File: name, Line: lineNo, Text: line, Err: configErr("rule outside of a [pre] or [post] section")}
		}

		pattern, replacement, ok := strings.Cut(line, "=")
		if !ok {
			return nil, nil, &ParseError{File: name, Line: lineNo, Text: line, Err: configErr("expected 'pattern = replacement'")}
		}
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			return nil, nil, &ParseError{File: name, Line: lineNo, Text: line, Err: configErr("empty pattern")}
		}

		phase := Pre
		if section == "post" {
			phase = Post
		}
		rule, err := NewRewriteRule(phase, pattern, strings.TrimSpace(replacement))
		if err != nil {
			return nil, nil, &ParseError{File: name, Line: lineNo, Text: line, Err: err}
		}

		if phase == Pre {
			pre = append(pre, rule)
		} else {
			post = append(post, rule)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, err
	}
	return pre, post, nil
}
