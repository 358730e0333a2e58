// Package guard screens conversation text on both sides of the language
// model: caller utterances have PII masked before leaving the process,
// and generated replies are checked for prohibited content before they
// reach the caller.
package guard

import (
	"fmt"
	"regexp"
	"strings"
)

// Vietnamese mobile numbers, with or without the leading zero.
var phoneRegex = regexp.MustCompile(`\b0?(3[2-9]|5[689]|7[06-9]|8[1-689]|9[0-46-9])[0-9]{7}\b`)

var emailRegex = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)

// prohibitedKeywords block a reply outright when present.
var prohibitedKeywords = []string{
	"bạo lực", "tự sát", "ma túy", "bom", "tấn công", "hack", "xâm nhập",
	"kill", "suicide",
}

var jailbreakPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore previous instructions`),
	regexp.MustCompile(`(?i)act as a malicious`),
}

// PIIMap records placeholder-to-original substitutions made by RedactPII.
type PIIMap map[string]string

// RedactPII masks phone numbers and email addresses with numbered
// placeholders and returns the substitution map needed to restore them.
func RedactPII(text string) (string, PIIMap) {
	m := PIIMap{}

	redacted := phoneRegex.ReplaceAllStringFunc(text, func(match string) string {
		placeholder := fmt.Sprintf("[PHONE_%d]", len(m)+1)
		m[placeholder] = match
		return placeholder
	})
	redacted = emailRegex.ReplaceAllStringFunc(redacted, func(match string) string {
		placeholder := fmt.Sprintf("[EMAIL_%d]", len(m)+1)
		m[placeholder] = match
		return placeholder
	})
	return redacted, m
}

// UnredactPII restores the originals captured by RedactPII.
func UnredactPII(text string, m PIIMap) string {
	for placeholder, original := range m {
		text = strings.ReplaceAll(text, placeholder, original)
	}
	return text
}

// Violations lists what a reply tripped, by category.
type Violations struct {
	ProhibitedKeywords []string
	JailbreakPatterns  []string
}

// Empty reports whether no rule was tripped.
func (v Violations) Empty() bool {
	return len(v.ProhibitedKeywords) == 0 && len(v.JailbreakPatterns) == 0
}

// CheckResponse evaluates a generated reply. ok is true when the reply
// may be spoken to the caller.
func CheckResponse(text string) (ok bool, v Violations) {
	lower := strings.ToLower(text)
	for _, kw := range prohibitedKeywords {
		if strings.Contains(lower, kw) {
			v.ProhibitedKeywords = append(v.ProhibitedKeywords, kw)
		}
	}
	for _, p := range jailbreakPatterns {
		if p.MatchString(text) {
			v.JailbreakPatterns = append(v.JailbreakPatterns, p.String())
		}
	}
	return v.Empty(), v
}

// Sanitize normalizes a reply before synthesis.
func Sanitize(text string) string {
	return strings.TrimSpace(text)
}
