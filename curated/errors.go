// Package curated gives every package in this pipeline one error type:
// pattern plus arguments, formatted lazily, classifiable by pattern rather
// than by substring matching on a rendered message. A decode failure four
// call frames deep and a CLI exit handler both want to ask "was this a
// digest mismatch?" without agreeing on wording; curated.Is answers that
// from the pattern alone.
//
// Error() collapses an immediately repeated leading segment, so wrapping a
// curated error in another with the same first segment doesn't repeat it in
// the final message. Only the first two segments are compared.
package curated

import (
	"fmt"
	"strings"
)

// fdoErr is a pattern plus its formatting arguments. Argument formatting is
// deferred to Error() so that Is/Has can compare against the pattern string
// without ever rendering it.
type fdoErr struct {
	pattern string
	args    []interface{}
}

// Errorf builds an error tagged with pattern. pattern is normally one of the
// named constants in kinds.go so that call sites elsewhere in the module can
// classify the result with Is or Has instead of matching on rendered text.
func Errorf(pattern string, args ...interface{}) error {
	return fdoErr{pattern: pattern, args: args}
}

// Error renders the error, collapsing an immediately repeated leading
// segment produced by wrapping a curated error in another curated error with
// an identical first segment.
func (e fdoErr) Error() string {
	rendered := fmt.Errorf(e.pattern, e.args...).Error()

	parts := strings.SplitN(rendered, ": ", 3)
	if len(parts) > 1 && parts[0] == parts[1] {
		return strings.Join(parts[1:], ": ")
	}
	return strings.Join(parts, ": ")
}

// IsAny reports whether err was constructed by Errorf, as opposed to an
// error from the standard library or a third-party package.
func IsAny(err error) bool {
	if err == nil {
		return false
	}
	_, ok := err.(fdoErr)
	return ok
}

// Is reports whether err is a curated error built from exactly pattern.
func Is(err error, pattern string) bool {
	if err == nil {
		return false
	}
	e, ok := err.(fdoErr)
	return ok && e.pattern == pattern
}

// Has reports whether pattern appears anywhere in err's wrap chain: err
// itself, or a curated error nested among its formatting arguments.
func Has(err error, pattern string) bool {
	if err == nil || !IsAny(err) {
		return false
	}
	if Is(err, pattern) {
		return true
	}
	for _, v := range err.(fdoErr).args {
		if nested, ok := v.(fdoErr); ok && Has(nested, pattern) {
			return true
		}
	}
	return false
}
