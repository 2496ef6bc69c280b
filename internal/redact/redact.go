// Package redact detects and masks personally identifiable information
// in action payloads. Detection runs two ways: value patterns (SSNs,
// card numbers, emails, phone numbers) and field names that conventionally
// hold PII (ssn, salary, date_of_birth). Privacy policies use the scan to
// decide and the rewrite to produce a Modify verdict instead of blocking
// outright.
package redact

import (
	"log/slog"
	"regexp"
	"sort"
	"strings"
)

// Placeholder replaces matched PII in redacted output.
const Placeholder = "[REDACTED]"

// piiFieldNames are payload key substrings that conventionally hold PII.
// A key match masks the whole value; no pattern needs to fire.
var piiFieldNames = []string{
	"ssn", "social_security", "tax_id",
	"credit_card", "card_number", "cvv",
	"bank_account", "routing_number",
	"driver_license", "passport",
	"date_of_birth", "dob",
	"salary", "compensation",
}

// ScanResult reports what a scan found.
type ScanResult struct {
	Detected bool     `json:"detected"`
	Kinds    []string `json:"kinds,omitempty"`  // distinct pattern names
	Fields   []string `json:"fields,omitempty"` // payload keys involved
}

type compiledPattern struct {
	Name  string
	Regex *regexp.Regexp
}

// Redactor scans and rewrites text and payloads. It is immutable after
// construction and safe for concurrent use.
type Redactor struct {
	patterns []*compiledPattern
	logger   *slog.Logger
}

// NewRedactor creates a Redactor with the default PII patterns.
func NewRedactor(logger *slog.Logger) *Redactor {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Redactor{logger: logger.With("component", "redact.Redactor")}
	r.loadDefaultPatterns()
	return r
}

func (r *Redactor) loadDefaultPatterns() {
	rawPatterns := []struct {
		name    string
		pattern string
	}{
		{"ssn", `\b\d{3}-\d{2}-\d{4}\b`},
		{"credit_card", `\b(?:\d{4}[ -]?){3}\d{4}\b`},
		{"email", `\b[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}\b`},
		{"phone", `\b(?:\+?1[-. ]?)?\(?\d{3}\)?[-. ]\d{3}[-. ]\d{4}\b`},
		{"date_of_birth", `\b\d{2}/\d{2}/\d{4}\b`},
	}

	for _, rp := range rawPatterns {
		re, err := regexp.Compile(rp.pattern)
		if err != nil {
			r.logger.Warn("failed to compile PII pattern", "name", rp.name, "error", err)
			continue
		}
		r.patterns = append(r.patterns, &compiledPattern{Name: rp.name, Regex: re})
	}
}

// ScanText reports which PII patterns match the text.
func (r *Redactor) ScanText(text string) ScanResult {
	if text == "" {
		return ScanResult{}
	}
	var kinds []string
	for _, p := range r.patterns {
		if p.Regex.MatchString(text) {
			kinds = append(kinds, p.Name)
		}
	}
	if len(kinds) == 0 {
		return ScanResult{}
	}
	return ScanResult{Detected: true, Kinds: kinds}
}

// RedactText replaces every pattern match with the placeholder and
// returns the rewritten text plus the pattern names that fired.
func (r *Redactor) RedactText(text string) (string, []string) {
	if text == "" {
		return text, nil
	}
	var kinds []string
	for _, p := range r.patterns {
		if p.Regex.MatchString(text) {
			kinds = append(kinds, p.Name)
			text = p.Regex.ReplaceAllString(text, Placeholder)
		}
	}
	return text, kinds
}

// ScanPayload checks payload key names and string values. It reports the
// keys involved so policies can name them in reasons.
func (r *Redactor) ScanPayload(payload map[string]any) ScanResult {
	var out ScanResult
	kindSet := map[string]bool{}

	for key, value := range payload {
		if isPIIFieldName(key) {
			out.Fields = append(out.Fields, key)
			out.Detected = true
			continue
		}
		if s, ok := value.(string); ok {
			res := r.ScanText(s)
			if res.Detected {
				out.Fields = append(out.Fields, key)
				out.Detected = true
				for _, k := range res.Kinds {
					kindSet[k] = true
				}
			}
		}
	}

	for k := range kindSet {
		out.Kinds = append(out.Kinds, k)
	}
	sort.Strings(out.Kinds)
	sort.Strings(out.Fields)
	return out
}

// RedactPayload returns a copy of the payload with PII masked: values of
// PII-named fields are replaced wholesale, and pattern matches inside
// other string values are replaced in place. Keys listed in exclude are
// copied untouched — callers exclude addressing fields (to, recipient)
// that routing still needs.
func (r *Redactor) RedactPayload(payload map[string]any, exclude ...string) (map[string]any, ScanResult) {
	skip := make(map[string]bool, len(exclude))
	for _, k := range exclude {
		skip[k] = true
	}

	out := make(map[string]any, len(payload))
	var res ScanResult
	kindSet := map[string]bool{}

	for key, value := range payload {
		if skip[key] {
			out[key] = value
			continue
		}
		if isPIIFieldName(key) {
			out[key] = Placeholder
			res.Fields = append(res.Fields, key)
			res.Detected = true
			continue
		}
		if s, ok := value.(string); ok {
			redacted, kinds := r.RedactText(s)
			out[key] = redacted
			if len(kinds) > 0 {
				res.Fields = append(res.Fields, key)
				res.Detected = true
				for _, k := range kinds {
					kindSet[k] = true
				}
			}
			continue
		}
		out[key] = value
	}

	for k := range kindSet {
		res.Kinds = append(res.Kinds, k)
	}
	sort.Strings(res.Kinds)
	sort.Strings(res.Fields)
	return out, res
}

func isPIIFieldName(key string) bool {
	lower := strings.ToLower(key)
	for _, name := range piiFieldNames {
		if strings.Contains(lower, name) {
			return true
		}
	}
	return false
}
