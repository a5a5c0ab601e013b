// Package validator decides whether a candidate's filename has the shape a
// watch rule requires: prefix, then a date token, then an allowed extension.
//
// Validation is pure: no filesystem access and no clock. The checks run in a
// fixed order and the first failing check determines the verdict.
package validator

import (
	"fmt"
	"strings"
	"time"

	"github.com/harrison/ingestagent/internal/models"
)

// Validate checks candidate against rule.
//
// Order of checks:
//  1. the filename starts with rule.Prefix (ASCII exact match)
//  2. the segment after the prefix starts with a date in rule.DateFormat
//  3. what follows the date (and the version token, when a version
//     separator is configured) is one of rule.Extensions (ASCII exact match)
//
// Every compiled layout is fixed-width, so the date token is cut by length
// and dots inside the date or the extension never shift the split.
func Validate(candidate models.Candidate, rule models.WatchRule) models.ValidationResult {
	result := models.ValidationResult{Candidate: candidate}
	name := candidate.Name

	if name == "" || !strings.HasPrefix(name, rule.Prefix) {
		result.Verdict = models.VerdictInvalidPrefix
		result.Reason = fmt.Sprintf("filename %q does not start with prefix %q", name, rule.Prefix)
		return result
	}

	rest := name[len(rule.Prefix):]
	if rest == "" {
		result.Verdict = models.VerdictInvalidDate
		result.Reason = fmt.Sprintf("filename %q has no date after prefix %q", name, rule.Prefix)
		return result
	}

	layout := rule.DateLayout
	if layout == "" {
		compiled, err := CompileDateFormat(rule.DateFormat)
		if err != nil {
			result.Verdict = models.VerdictInvalidDate
			result.Reason = fmt.Sprintf("rule date format unusable: %v", err)
			return result
		}
		layout = compiled
	}

	dateToken, tail := rest, ""
	if len(rest) > len(layout) {
		dateToken, tail = rest[:len(layout)], rest[len(layout):]
	}

	fileDate, err := parseStrict(layout, dateToken)
	if err != nil {
		result.Verdict = models.VerdictInvalidDate
		result.Reason = fmt.Sprintf("date %q does not match format %s", dateToken, rule.DateFormat)
		return result
	}

	version, ext, ok := splitTail(tail, rule.VersionSeparator, rule.Extensions)
	if !ok {
		result.Verdict = models.VerdictInvalidDate
		result.Reason = fmt.Sprintf("unexpected %q after date %q", tail, dateToken)
		return result
	}

	if !rule.HasExtension(ext) {
		result.Verdict = models.VerdictInvalidExtension
		result.Reason = fmt.Sprintf("extension %q not in allowed set [%s]", ext, strings.Join(rule.Extensions, ", "))
		return result
	}

	result.Verdict = models.VerdictValid
	result.Reason = "ok"
	result.FileDate = fileDate
	result.FileVersion = version
	return result
}

// splitTail splits what follows the date into an optional version token and
// the extension. The tail must be empty, start with the version separator,
// or start with a dot; anything else means the date segment runs on and ok
// is false.
func splitTail(tail, separator string, allowed []string) (version, ext string, ok bool) {
	switch {
	case tail == "":
		return "", "", true
	case separator != "" && strings.HasPrefix(tail, separator):
		return splitVersion(tail[len(separator):], allowed)
	case strings.HasPrefix(tail, "."):
		return "", tail, true
	default:
		return "", "", false
	}
}

// splitVersion cuts a version token off the extension. The longest allowed
// extension that leaves a non-empty version wins; otherwise the extension
// starts at the first dot.
func splitVersion(segment string, allowed []string) (string, string, bool) {
	best := ""
	for _, ext := range allowed {
		if ext != "" && len(ext) < len(segment) && strings.HasSuffix(segment, ext) && len(ext) > len(best) {
			best = ext
		}
	}
	if best != "" {
		return segment[:len(segment)-len(best)], best, true
	}
	if i := strings.IndexByte(segment, '.'); i >= 0 {
		return segment[:i], segment[i:], true
	}
	return segment, "", true
}

// parseStrict parses value with layout and requires the formatted result to
// round-trip, which rejects inputs time.Parse tolerates such as single-digit
// fields in a two-digit slot.
func parseStrict(layout, value string) (time.Time, error) {
	parsed, err := time.Parse(layout, value)
	if err != nil {
		return time.Time{}, err
	}
	if parsed.Format(layout) != value {
		return time.Time{}, fmt.Errorf("value %q is not canonical for layout %q", value, layout)
	}
	return parsed, nil
}
