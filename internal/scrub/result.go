package scrub

import "time"

// Result contains the scrubbing result for one piece of content.
type Result struct {
	// Original is the original input content
	Original string `json:"-"`

	// Scrubbed is the content with secrets redacted
	Scrubbed string `json:"scrubbed"`

	// Findings contains the detected secrets (without the matched values)
	Findings []Finding `json:"findings,omitempty"`

	// Duration is how long scrubbing took
	Duration time.Duration `json:"duration"`

	// TotalFindings is the count of secrets found
	TotalFindings int `json:"total_findings"`

	// ByRule maps rule IDs to finding counts
	ByRule map[string]int `json:"by_rule,omitempty"`
}

// Finding represents one detected secret. The matched text is deliberately
// absent so findings can be logged and returned to callers.
type Finding struct {
	// RuleID identifies which rule matched
	RuleID string `json:"rule_id"`

	// Description explains what was found
	Description string `json:"description"`

	// Severity indicates the importance
	Severity string `json:"severity"`

	// StartIndex is the start position in the original content
	StartIndex int `json:"start_index"`

	// EndIndex is the end position in the original content
	EndIndex int `json:"end_index"`

	// Line is the line number (1-indexed)
	Line int `json:"line,omitempty"`
}

// HasFindings returns true if any secrets were found.
func (r *Result) HasFindings() bool {
	return r.TotalFindings > 0
}

// Summary returns a short description suitable for log fields.
func (r *Result) Summary() string {
	if !r.HasFindings() {
		return "no secrets detected"
	}

	severities := make(map[string]int, len(r.Findings))
	for _, f := range r.Findings {
		severities[f.Severity]++
	}

	for _, severity := range []string{"high", "medium", "low"} {
		if severities[severity] > 0 {
			return "secrets redacted (" + severity + " severity)"
		}
	}
	return "secrets redacted"
}
