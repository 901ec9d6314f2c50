// Package catalog holds the static pattern libraries used by the security
// checks: dangerous shell commands, sensitive data shapes, prompt-injection
// phrases, suspicious URLs and compliance-leak phrases. A Catalog is pure
// data plus matching; it holds no mutable state and is safe for concurrent
// use.
package catalog

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/dlclark/regexp2"
)

// DefaultMatchTimeout bounds a single rule evaluation. A rule that runs past
// it reports an error and is skipped.
const DefaultMatchTimeout = 100 * time.Millisecond

// Severity ranks prompt-injection rules. Rules in other catalogs leave it
// empty.
type Severity string

const (
	SeverityNone   Severity = ""
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Rank orders severities: high > medium > low > none.
func (s Severity) Rank() int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// Max returns the higher-ranked of s and other.
func (s Severity) Max(other Severity) Severity {
	if other.Rank() > s.Rank() {
		return other
	}
	return s
}

// RuleSpec is the declarative form of a rule.
type RuleSpec struct {
	Pattern    string
	Label      string
	Severity   Severity
	IgnoreCase bool
}

// Rule is a compiled, immutable pattern rule.
type Rule struct {
	Label    string
	Severity Severity
	Pattern  string
	re       *regexp2.Regexp
}

// Match reports whether the rule matches text. Each call starts from the
// beginning of text; no match position is carried between calls.
func (r *Rule) Match(text string) (bool, error) {
	return r.re.MatchString(text)
}

// ReplaceAll replaces every match of the rule in text with repl. The
// replacement is literal. It reports whether anything was replaced.
func (r *Rule) ReplaceAll(text, repl string) (string, bool, error) {
	out, err := r.re.ReplaceFunc(text, func(regexp2.Match) string { return repl }, -1, -1)
	if err != nil {
		return text, false, err
	}
	return out, out != text, nil
}

// Match is one rule hit.
type Match struct {
	Label    string   `json:"label"`
	Severity Severity `json:"severity,omitempty"`
}

// Catalog is an ordered set of rules grouped by purpose. Declaration order
// decides which label MatchAny reports when several rules could match.
type Catalog struct {
	Name   string
	rules  []*Rule
	logger *slog.Logger
}

// Option configures catalog compilation.
type Option func(*options)

type options struct {
	timeout time.Duration
	logger  *slog.Logger
}

// WithMatchTimeout overrides DefaultMatchTimeout.
func WithMatchTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithLogger sets the logger used to report rule failures.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// New compiles specs into a Catalog. A pattern that fails to compile is an
// error: catalogs are static and a broken one is a programming mistake.
func New(name string, specs []RuleSpec, opts ...Option) (*Catalog, error) {
	o := options{timeout: DefaultMatchTimeout, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	c := &Catalog{
		Name:   name,
		rules:  make([]*Rule, 0, len(specs)),
		logger: o.logger.With("component", "catalog.Catalog", "catalog", name),
	}
	for i, s := range specs {
		// ECMAScript semantics keep \w and \d ASCII-only.
		flags := regexp2.RegexOptions(regexp2.ECMAScript)
		if s.IgnoreCase {
			flags |= regexp2.IgnoreCase
		}
		re, err := regexp2.Compile(s.Pattern, flags)
		if err != nil {
			return nil, fmt.Errorf("catalog %s: rule %d (%s): %w", name, i, s.Label, err)
		}
		re.MatchTimeout = o.timeout
		c.rules = append(c.rules, &Rule{
			Label:    s.Label,
			Severity: s.Severity,
			Pattern:  s.Pattern,
			re:       re,
		})
	}
	return c, nil
}

// MustNew is New that panics on error. Use it for built-in catalogs only.
func MustNew(name string, specs []RuleSpec, opts ...Option) *Catalog {
	c, err := New(name, specs, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// Rules returns the compiled rules in declaration order.
func (c *Catalog) Rules() []*Rule {
	return c.rules
}

// Len returns the number of rules.
func (c *Catalog) Len() int {
	return len(c.rules)
}

// MatchAny returns the first rule, in declaration order, that matches text.
// A rule that errors is logged and skipped.
func (c *Catalog) MatchAny(text string) (Match, bool) {
	for _, r := range c.rules {
		ok, err := r.Match(text)
		if err != nil {
			c.ruleFailed(r, err)
			continue
		}
		if ok {
			return Match{Label: r.Label, Severity: r.Severity}, true
		}
	}
	return Match{}, false
}

// MatchAll returns every rule that matches text, in declaration order.
func (c *Catalog) MatchAll(text string) []Match {
	var matches []Match
	for _, r := range c.rules {
		ok, err := r.Match(text)
		if err != nil {
			c.ruleFailed(r, err)
			continue
		}
		if ok {
			matches = append(matches, Match{Label: r.Label, Severity: r.Severity})
		}
	}
	return matches
}

func (c *Catalog) ruleFailed(r *Rule, err error) {
	c.logger.Warn("rule evaluation failed, skipping",
		"label", r.Label,
		"error", err,
	)
}

// Highest returns the maximum severity across matches.
func Highest(matches []Match) Severity {
	sev := SeverityNone
	for _, m := range matches {
		sev = sev.Max(m.Severity)
	}
	return sev
}

// Labels returns the labels of matches in order.
func Labels(matches []Match) []string {
	labels := make([]string, len(matches))
	for i, m := range matches {
		labels[i] = m.Label
	}
	return labels
}
