package validator

import (
	"fmt"
	"strings"
)

// tokenLayouts maps pattern tokens to Go reference-time fragments.
// Longer tokens come first so "YYYY" is matched before "YY".
var tokenLayouts = []struct {
	token  string
	layout string
}{
	{"YYYY", "2006"},
	{"YY", "06"},
	{"MM", "01"},
	{"DD", "02"},
	{"HH", "15"},
	{"mm", "04"},
	{"ss", "05"},
}

// strftimeLayouts maps strftime directives to Go reference-time fragments.
var strftimeLayouts = map[byte]string{
	'Y': "2006",
	'y': "06",
	'm': "01",
	'd': "02",
	'H': "15",
	'M': "04",
	'S': "05",
	'j': "002",
}

// CompileDateFormat converts a configured date pattern into a Go time layout.
//
// Two pattern languages are accepted:
//
//	YYYYMMDD, YYYY-MM-DD, DDMMYYYY_HHmmss   token patterns
//	%Y%m%d, %d%m%Y                         strftime patterns
//
// Characters that are not tokens are kept as literals. Letters outside the
// token set are rejected so a typo like "YYYYMMDDD" fails at load time.
func CompileDateFormat(format string) (string, error) {
	if strings.TrimSpace(format) == "" {
		return "", fmt.Errorf("date format is empty")
	}
	if strings.Contains(format, "%") {
		return compileStrftime(format)
	}
	return compileTokens(format)
}

func compileTokens(format string) (string, error) {
	var sb strings.Builder
	hasToken := false
	for i := 0; i < len(format); {
		matched := false
		for _, tl := range tokenLayouts {
			if strings.HasPrefix(format[i:], tl.token) {
				sb.WriteString(tl.layout)
				i += len(tl.token)
				matched = true
				hasToken = true
				break
			}
		}
		if matched {
			continue
		}
		c := format[i]
		if isASCIILetter(c) {
			return "", fmt.Errorf("date format %q: unknown token at %q", format, format[i:])
		}
		if isASCIIDigit(c) {
			return "", fmt.Errorf("date format %q: digits are not allowed as literals", format)
		}
		sb.WriteByte(c)
		i++
	}
	if !hasToken {
		return "", fmt.Errorf("date format %q contains no date tokens", format)
	}
	return sb.String(), nil
}

func compileStrftime(format string) (string, error) {
	var sb strings.Builder
	hasToken := false
	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' {
			if isASCIIDigit(c) {
				return "", fmt.Errorf("date format %q: digits are not allowed as literals", format)
			}
			sb.WriteByte(c)
			continue
		}
		if i+1 >= len(format) {
			return "", fmt.Errorf("date format %q: dangling %%", format)
		}
		i++
		if format[i] == '%' {
			sb.WriteByte('%')
			continue
		}
		layout, ok := strftimeLayouts[format[i]]
		if !ok {
			return "", fmt.Errorf("date format %q: unsupported directive %%%c", format, format[i])
		}
		sb.WriteString(layout)
		hasToken = true
	}
	if !hasToken {
		return "", fmt.Errorf("date format %q contains no date directives", format)
	}
	return sb.String(), nil
}

func isASCIILetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isASCIIDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
