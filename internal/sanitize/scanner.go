// Package sanitize implements prompt injection detection for inbound agent
// messages. Content is scored against the severity-tagged injection catalog
// and detections are remembered in a short-lived ring so later checks
// (outbound compliance-leak blocking, agent context annotation) can react to
// a recent attack. No complete defense against prompt injection exists;
// this is detection and containment, not prevention.
package sanitize

import (
	"log/slog"
	"strings"

	"github.com/clawguard/clawguard/internal/catalog"
)

// ScanResult is the outcome of scanning content for injection.
type ScanResult struct {
	Detected bool             `json:"detected"`
	Matches  []catalog.Match  `json:"matches,omitempty"`
	Severity catalog.Severity `json:"severity,omitempty"`
}

// Labels returns every matched label in catalog order.
func (r ScanResult) Labels() []string {
	return catalog.Labels(r.Matches)
}

// Label joins the matched labels the way they are stored in memory.
func (r ScanResult) Label() string {
	return strings.Join(r.Labels(), ", ")
}

// Scanner checks inbound content for prompt injection patterns.
type Scanner struct {
	patterns *catalog.Catalog
	logger   *slog.Logger
}

// NewScanner creates a scanner over the given severity-tagged catalog.
func NewScanner(patterns *catalog.Catalog, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{
		patterns: patterns,
		logger:   logger.With("component", "sanitize.Scanner"),
	}
}

// Scan evaluates every rule against content. The severity is the highest
// over all matches, and every matched label is kept, not only the winner.
func (s *Scanner) Scan(content string) ScanResult {
	if content == "" || s.patterns == nil {
		return ScanResult{}
	}

	matches := s.patterns.MatchAll(content)
	if len(matches) == 0 {
		return ScanResult{}
	}

	res := ScanResult{
		Detected: true,
		Matches:  matches,
		Severity: catalog.Highest(matches),
	}
	s.logger.Debug("injection patterns matched",
		"severity", string(res.Severity),
		"labels", res.Labels(),
		"content_len", len(content),
	)
	return res
}
