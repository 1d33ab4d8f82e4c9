package scrub

import (
	"regexp"
	"sort"
	"strings"
	"time"
)

// Scrubber detects and redacts secrets from content.
type Scrubber interface {
	// Scrub redacts secrets from the content.
	Scrub(content string) *Result

	// Check detects secrets without redacting.
	Check(content string) *Result

	// IsEnabled returns whether scrubbing is enabled.
	IsEnabled() bool
}

// scrubber is the default implementation using regexp rules. The config is
// immutable after New, so scrubbing is safe for concurrent use.
type scrubber struct {
	config *Config
}

// redaction tracks a span to redact.
type redaction struct {
	start, end int
}

// New creates a Scrubber with the given configuration. A nil config uses
// DefaultConfig().
func New(cfg *Config) (Scrubber, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &scrubber{config: cfg}, nil
}

// MustNew creates a Scrubber, panicking on error. For use with the built-in
// rule set, which always compiles.
func MustNew(cfg *Config) Scrubber {
	s, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return s
}

// Scrub redacts secrets from the content.
func (s *scrubber) Scrub(content string) *Result {
	start := time.Now()
	result := &Result{
		Original: content,
		Scrubbed: content,
		Findings: make([]Finding, 0),
		ByRule:   make(map[string]int),
	}

	if !s.config.Enabled {
		result.Duration = time.Since(start)
		return result
	}

	redactions := make([]redaction, 0)

	for _, rule := range s.config.compiledRules {
		// Keyword pre-filter: skip the expensive pattern scan when none
		// of the rule's keywords appear.
		if len(rule.keywords) > 0 && !anyKeywordMatches(rule.keywords, content) {
			continue
		}

		for _, match := range rule.pattern.FindAllStringIndex(content, -1) {
			if s.isAllowed(content[match[0]:match[1]]) {
				continue
			}

			result.Findings = append(result.Findings, Finding{
				RuleID:      rule.ID,
				Description: rule.Description,
				Severity:    rule.Severity,
				StartIndex:  match[0],
				EndIndex:    match[1],
				Line:        strings.Count(content[:match[0]], "\n") + 1,
			})
			result.ByRule[rule.ID]++
			redactions = append(redactions, redaction{start: match[0], end: match[1]})
		}
	}

	result.TotalFindings = len(result.Findings)

	if len(redactions) > 0 {
		result.Scrubbed = applyRedactions(content, redactions, s.config.RedactionString)
	}

	result.Duration = time.Since(start)
	return result
}

// Check detects secrets without redacting.
func (s *scrubber) Check(content string) *Result {
	result := s.Scrub(content)
	result.Scrubbed = result.Original
	return result
}

// IsEnabled returns whether scrubbing is enabled.
func (s *scrubber) IsEnabled() bool {
	return s.config.Enabled
}

// isAllowed checks if the match is in the allow list.
func (s *scrubber) isAllowed(match string) bool {
	for _, pattern := range s.config.compiledAllowList {
		if pattern.MatchString(match) {
			return true
		}
	}
	return false
}

func anyKeywordMatches(keywords []*regexp.Regexp, content string) bool {
	for _, kw := range keywords {
		if kw.MatchString(content) {
			return true
		}
	}
	return false
}

// applyRedactions replaces the matched spans with the redaction string.
// Spans from different rules can overlap, so they are merged first and
// applied back to front to keep earlier indices valid.
func applyRedactions(content string, redactions []redaction, replacement string) string {
	sort.Slice(redactions, func(i, j int) bool {
		return redactions[i].start < redactions[j].start
	})

	merged := []redaction{redactions[0]}
	for _, curr := range redactions[1:] {
		last := &merged[len(merged)-1]
		if curr.start <= last.end {
			if curr.end > last.end {
				last.end = curr.end
			}
		} else {
			merged = append(merged, curr)
		}
	}

	scrubbed := content
	for i := len(merged) - 1; i >= 0; i-- {
		r := merged[i]
		scrubbed = scrubbed[:r.start] + replacement + scrubbed[r.end:]
	}
	return scrubbed
}

// NoopScrubber is a scrubber that does nothing (disabled mode).
type NoopScrubber struct{}

// Scrub returns content unchanged.
func (n *NoopScrubber) Scrub(content string) *Result {
	return &Result{
		Original: content,
		Scrubbed: content,
		Findings: make([]Finding, 0),
		ByRule:   make(map[string]int),
	}
}

// Check returns content unchanged.
func (n *NoopScrubber) Check(content string) *Result {
	return n.Scrub(content)
}

// IsEnabled returns false.
func (n *NoopScrubber) IsEnabled() bool {
	return false
}

var (
	_ Scrubber = (*scrubber)(nil)
	_ Scrubber = (*NoopScrubber)(nil)
)
