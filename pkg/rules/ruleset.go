package rules

// RuleSet is one immutable generation of compiled rules. It is never
// modified after it has been published through an Engine.
type RuleSet struct {
	Pre          []RewriteRule
	Post         []RewriteRule
	Aggregations []*AggregationRule
}

// Match is one aggregation rule that accepted a metric.
type Match struct {
	Output string
	Rule   *AggregationRule
}

// Rewrite runs every rule of the given phase in definition order, each one
// seeing the previous rule's output.
func (rs *RuleSet) Rewrite(phase Phase, metric string) string {
	rules := rs.Pre
	if phase == Post {
		rules = rs.Post
	}
	for _, r := range rules {
		metric = r.Apply(metric)
	}
	return metric
}

// AggregateMetrics returns the output of every aggregation rule matching
// metric, in rule order. It does not stop at the first match.
func (rs *RuleSet) AggregateMetrics(metric string) []Match {
	var matches []Match
	for _, rule := range rs.Aggregations {
		if out, ok := rule.AggregateMetric(metric); ok {
			matches = append(matches, Match{Output: out, Rule: rule})
		}
	}
	return matches
}

// Empty reports whether the set holds no rules at all.
func (rs *RuleSet) Empty() bool {
	return len(rs.Pre) == 0 && len(rs.Post) == 0 && len(rs.Aggregations) == 0
}
