package llm

import (
	"regexp"
	"strconv"
	"strings"
)

var intPattern = regexp.MustCompile(`-?\d+`)

// ExtractField returns the value following a "| <label> |" marker, cut at
// the next pipe or line end. Label matching is case-insensitive; the value
// is returned trimmed.
func ExtractField(text, label string) (string, bool) {
	re, err := regexp.Compile(`(?i)\|\s*` + regexp.QuoteMeta(label) + `\s*\|\s*([^|\n]*)`)
	if err != nil {
		return "", false
	}
	m := re.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return strings.TrimSpace(m[1]), true
}

// ExtractInt returns the first integer inside the labelled field, so
// "| Total PFT Rewarded | 85 PFT |" yields 85.
func ExtractInt(text, label string) (int, bool) {
	field, ok := ExtractField(text, label)
	if !ok {
		return 0, false
	}
	digits := intPattern.FindString(field)
	if digits == "" {
		return 0, false
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return n, true
}
