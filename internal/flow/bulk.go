package flow

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/BTreeMap/PayPipe/internal/validate"
)

// optionalPlaceholders stand in for an optional value the user skips mid-list.
var optionalPlaceholders = map[string]bool{"": true, "-": true, "n/a": true, "na": true, "none": true, "skip": true}

// parseBulk maps the non-empty lines of text onto segment by position.
// Trailing optional fields may be omitted. Any problem rejects the whole
// submission; the returned map is nil unless every field is valid.
func parseBulk(ctx context.Context, reg *validate.Registry, segment []Field, text string) (map[string]string, []string) {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}

	required := 0
	for _, f := range segment {
		if !f.Optional {
			required++
		}
	}
	if len(lines) < required {
		missing := make([]string, 0, required-len(lines))
		for _, f := range segment[len(lines):required] {
			missing = append(missing, f.Label)
		}
		return nil, []string{fmt.Sprintf("Expected at least %d lines but got %d. Missing: %s.",
			required, len(lines), strings.Join(missing, ", "))}
	}
	if len(lines) > len(segment) {
		return nil, []string{fmt.Sprintf("Expected at most %d lines but got %d. Put each item on its own line and nothing else.",
			len(segment), len(lines))}
	}

	values := make(map[string]string, len(segment))
	var problems []string
	for idx, f := range segment {
		if idx >= len(lines) {
			values[f.Name] = ""
			continue
		}
		raw, problem := stripLabel(lines[idx], idx, f, segment)
		if problem != "" {
			problems = append(problems, problem)
			continue
		}
		if f.Optional && optionalPlaceholders[strings.ToLower(raw)] {
			values[f.Name] = ""
			continue
		}
		res := reg.Validate(ctx, f.Kind, raw, f.Rules())
		if !res.Valid {
			problems = append(problems, fmt.Sprintf("Line %d (%s): %s", idx+1, f.Label, res.Message))
			continue
		}
		values[f.Name] = res.Value
	}
	if len(problems) > 0 {
		return nil, problems
	}
	return values, nil
}

// stripLabel removes an optional "Label:" prefix from a line. A prefix that
// names a different field of the segment is reported, since it means the
// lines are out of order.
func stripLabel(line string, idx int, f Field, segment []Field) (string, string) {
	prefix, rest, ok := strings.Cut(line, ":")
	if !ok {
		return line, ""
	}
	key := labelKey(prefix)
	if key == "" {
		return line, ""
	}
	if key == labelKey(f.Name) || key == labelKey(f.Label) {
		return strings.TrimSpace(rest), ""
	}
	for _, other := range segment {
		if other.Name == f.Name {
			continue
		}
		if key == labelKey(other.Name) || key == labelKey(other.Label) {
			return "", fmt.Sprintf("Line %d is labelled %q but %s was expected there.", idx+1, strings.TrimSpace(prefix), f.Label)
		}
	}
	return line, ""
}

// labelKey reduces "Date of birth (DD-MM-YYYY)" and "date_of_birth" to the same key.
func labelKey(s string) string {
	if i := strings.Index(s, "("); i >= 0 {
		s = s[:i]
	}
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
