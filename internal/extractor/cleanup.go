package extractor

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"regexp"
	"strings"
)

var (
	newlinePattern       = regexp.MustCompile(`\s*\n\s*`)
	spacePattern         = regexp.MustCompile(`\s+`)
	trailingCommaPattern = regexp.MustCompile(`,(\s*[}\]])`)
	singleQuotedKey      = regexp.MustCompile(`'(\w+)':`)
)

// CleanJSON repairs common hand-written JSON mistakes: it collapses
// whitespace, drops trailing commas and double-quotes single-quoted keys
func CleanJSON(fragment string) string {
	if fragment == "" || len(fragment) > MaxFragmentSize {
		return fragment
	}

	cleaned := newlinePattern.ReplaceAllString(fragment, " ")
	cleaned = strings.TrimSpace(spacePattern.ReplaceAllString(cleaned, " "))
	cleaned = trailingCommaPattern.ReplaceAllString(cleaned, "$1")
	cleaned = singleQuotedKey.ReplaceAllString(cleaned, `"$1":`)
	return cleaned
}

// FormatJSON parses text as exactly one JSON value and re-indents it with
// four spaces. Key order and numeric literals are preserved.
func FormatJSON(text string) (string, error) {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()

	var value interface{}
	if err := dec.Decode(&value); err != nil {
		return "", err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return "", errors.New("unexpected data after JSON value")
	}

	var out bytes.Buffer
	if err := json.Indent(&out, []byte(text), "", "    "); err != nil {
		return "", err
	}
	return out.String(), nil
}

// ValidJSON reports whether text is a single well-formed JSON value
func ValidJSON(text string) bool {
	_, err := FormatJSON(text)
	return err == nil
}
