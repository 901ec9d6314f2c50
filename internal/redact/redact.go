// Package redact scrubs sensitive data from outbound agent text and detects
// outbound text that suggests the agent is complying with an injection.
package redact

import (
	"log/slog"

	"github.com/clawguard/clawguard/internal/catalog"
)

// Placeholder replaces every redacted span.
const Placeholder = "[REDACTED]"

// Redactor applies the sensitive-data catalog to text.
type Redactor struct {
	patterns *catalog.Catalog
	logger   *slog.Logger
}

// NewRedactor creates a Redactor over the given catalog.
func NewRedactor(patterns *catalog.Catalog, logger *slog.Logger) *Redactor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Redactor{
		patterns: patterns,
		logger:   logger.With("component", "redact.Redactor"),
	}
}

// maxPasses bounds the rescans Redact makes over its own output.
const maxPasses = 8

// Redact replaces every match of every rule with Placeholder. The count is
// the number of distinct rules that matched at least once, not the number of
// occurrences. When nothing matches, text is returned as given with a count
// of zero.
//
// Rules run in catalog order over the progressively redacted text. A
// replacement can complete a pattern for another rule (a quoted value whose
// only content was a bearer token, say), so the rules are re-applied until
// a pass changes nothing. The result is stable under a second Redact.
func (r *Redactor) Redact(text string) (string, int) {
	if text == "" || r.patterns == nil {
		return text, 0
	}

	rules := r.patterns.Rules()
	matched := make(map[int]struct{})
	result := text
	for pass := 0; pass < maxPasses; pass++ {
		changed := false
		for i, rule := range rules {
			out, ok, err := rule.ReplaceAll(result, Placeholder)
			if err != nil {
				r.logger.Warn("redaction rule failed, skipping",
					"label", rule.Label,
					"error", err,
				)
				continue
			}
			if ok {
				result = out
				matched[i] = struct{}{}
				changed = true
			}
		}
		if !changed {
			break
		}
	}

	if len(matched) == 0 {
		return text, 0
	}
	return result, len(matched)
}

// LeakDetector matches outbound text against the compliance-leak catalog.
type LeakDetector struct {
	patterns *catalog.Catalog
}

// NewLeakDetector creates a LeakDetector.
func NewLeakDetector(patterns *catalog.Catalog) *LeakDetector {
	return &LeakDetector{patterns: patterns}
}

// Match returns the label of the first compliance-leak rule matching text.
func (d *LeakDetector) Match(text string) (string, bool) {
	if text == "" || d.patterns == nil {
		return "", false
	}
	m, ok := d.patterns.MatchAny(text)
	if !ok {
		return "", false
	}
	return m.Label, true
}
