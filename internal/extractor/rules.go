package extractor

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"
)

// ErrMatchTimeout is returned when a rule does not finish within its deadline
var ErrMatchTimeout = errors.New("pattern match timed out")

// Rule is one extraction pattern. Find returns the candidate JSON fragments
// found in text, in order of appearance.
type Rule struct {
	Name string
	Find func(text string) []string
}

// PatternRule builds a rule returning the first capture group of every match
func PatternRule(name, expr string) Rule {
	re := regexp.MustCompile(expr)
	return Rule{
		Name: name,
		Find: func(text string) []string {
			var fragments []string
			for _, m := range re.FindAllStringSubmatch(text, -1) {
				fragments = append(fragments, m[1])
			}
			return fragments
		},
	}
}

// DefaultRules returns the extraction patterns in priority order: call
// literals, @Json assignments, then literals embedded in comments
func DefaultRules() []Rule {
	return []Rule{
		PatternRule("exec-single-object", `(?is)EXEC\s+\[.*?\]\s+'(\{.*?\})'`),
		PatternRule("exec-single-array", `(?is)EXEC\s+\[.*?\]\s+'(\[.*?\])'`),
		PatternRule("exec-double-object", `(?is)EXEC\s+\[.*?\]\s+"(\{.*?\})"`),
		PatternRule("exec-double-array", `(?is)EXEC\s+\[.*?\]\s+"(\[.*?\])"`),
		PatternRule("json-single-object", `(?is)@Json\s*=\s*'(\{.*?\})'`),
		PatternRule("json-single-array", `(?is)@Json\s*=\s*'(\[.*?\])'`),
		PatternRule("json-double-object", `(?is)@Json\s*=\s*"(\{.*?\})"`),
		PatternRule("json-double-array", `(?is)@Json\s*=\s*"(\[.*?\])"`),
		PatternRule("execute-single-object", `(?is)EXECUTE\s+\[.*?\]\s+'(\{.*?\})'`),
		PatternRule("execute-single-array", `(?is)EXECUTE\s+\[.*?\]\s+'(\[.*?\])'`),
		PatternRule("json-unicode-object", `(?is)@Json\s*=\s*N?'(\{[^']*\})'`),
		PatternRule("json-unicode-array", `(?is)@Json\s*=\s*N?'(\[[^\]]*\])'`),
		PatternRule("block-comment", `(?is)/\*.*?(\{.*?\}).*?\*/`),
		PatternRule("line-comment", `(?is)--.*?(\{.*?\})`),
	}
}

type matchResult struct {
	fragments []string
	err       error
}

// matchWithTimeout runs a rule on its own goroutine and abandons it once the
// deadline passes. An abandoned rule is reported as ErrMatchTimeout.
func matchWithTimeout(ctx context.Context, rule Rule, text string, timeout time.Duration) ([]string, error) {
	results := make(chan matchResult, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				results <- matchResult{err: fmt.Errorf("pattern %s failed: %v", rule.Name, r)}
			}
		}()
		results <- matchResult{fragments: rule.Find(text)}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-results:
		return res.fragments, res.err
	case <-timer.C:
		return nil, fmt.Errorf("%w: %s after %s", ErrMatchTimeout, rule.Name, timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
