package scanning

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// ExtractionResult holds the contact fields found in a block of card text.
// Fields that were not detected are empty.
type ExtractionResult struct {
	Name        string `json:"name"`
	PhoneNumber string `json:"phoneNumber"`
	Email       string `json:"email"`
}

// jsSpace is the class JavaScript's \s matches. RE2's \s is ASCII only,
// which misses the no-break spaces OCR puts between digit groups.
const jsSpace = `[\s\x{0B}\p{Zs}\x{2028}\x{2029}\x{FEFF}]`

// phonePattern matches North American numbers: optional country code,
// optional (parenthesised) area code, exchange, subscriber and extension.
var phonePattern = regexp.MustCompile(strings.ReplaceAll(
	`(?i)(?:(?:\+?1\s*(?:[.-]\s*)?)?(?:\(\s*([2-9]1[02-9]|[2-9][02-8]1|[2-9][02-8][02-9])\s*\)|([2-9]1[02-9]|[2-9][02-8]1|[2-9][02-8][02-9]))\s*(?:[.-]\s*)?)?([2-9]1[02-9]|[2-9][02-9]1|[2-9][02-9]{2})\s*(?:[.-]\s*)?([0-9]{4})(?:\s*(?:#|x\.?|ext\.?|extension)\s*(\d+))?`,
	`\s`, jsSpace,
))

var nonDigits = regexp.MustCompile(`\D`)

// nameLength is the printed length of a name line on the cards we read.
const nameLength = 3

// Extract pulls a name, phone number and email out of OCR text.
//
// Every line is checked by each detector independently and a later match
// replaces an earlier one, so the last matching line wins per field.
func Extract(text string) ExtractionResult {
	var result ExtractionResult
	if text == "" {
		return result
	}

	for _, line := range strings.Split(text, "\n") {
		if email, ok := detectEmail(line); ok {
			result.Email = email
		}
		if name, ok := detectName(line); ok {
			result.Name = name
		}
		if phone, ok := detectPhone(line); ok {
			result.PhoneNumber = phone
		}
	}

	return result
}

// detectEmail takes any line containing an @ verbatim.
func detectEmail(line string) (string, bool) {
	if !strings.Contains(line, "@") {
		return "", false
	}
	return line, true
}

// detectName takes a line that is exactly three characters once trimmed.
func detectName(line string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	if utf8.RuneCountInString(trimmed) != nameLength {
		return "", false
	}
	return trimmed, true
}

// detectPhone keeps only the digits of a line that looks like a phone
// number. Extension digits end up appended to the number.
func detectPhone(line string) (string, bool) {
	if !phonePattern.MatchString(line) {
		return "", false
	}
	return nonDigits.ReplaceAllString(line, ""), true
}
