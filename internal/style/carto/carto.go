// Package carto checks CartoCSS sources against the property set of a target
// rendering-engine version. It reproduces the violation messages the engine's
// own compiler reports, in source order, so callers can reject a style before
// storing it.
package carto

import (
	"strings"

	"golang.org/x/mod/semver"
)

// baseProperties is the rule surface shared by every supported engine line.
var baseProperties = []string{
	"background-color",
	"background-image",
	"building-fill",
	"building-fill-opacity",
	"building-height",
	"line-cap",
	"line-color",
	"line-dasharray",
	"line-gamma",
	"line-join",
	"line-opacity",
	"line-pattern-file",
	"line-width",
	"marker-allow-overlap",
	"marker-file",
	"marker-fill",
	"marker-height",
	"marker-line-color",
	"marker-line-opacity",
	"marker-line-width",
	"marker-max-error",
	"marker-opacity",
	"marker-placement",
	"marker-spacing",
	"marker-transform",
	"marker-type",
	"marker-width",
	"point-allow-overlap",
	"point-file",
	"point-opacity",
	"point-transform",
	"polygon-fill",
	"polygon-gamma",
	"polygon-opacity",
	"polygon-pattern-file",
	"polygon-pattern-opacity",
	"raster-opacity",
	"raster-scaling",
	"text-allow-overlap",
	"text-avoid-edges",
	"text-character-spacing",
	"text-dx",
	"text-dy",
	"text-face-name",
	"text-fill",
	"text-halo-fill",
	"text-halo-radius",
	"text-line-spacing",
	"text-name",
	"text-placement",
	"text-size",
	"text-spacing",
	"text-transform",
}

// properties introduced with the 2.1 line.
var v21Properties = []string{
	"comp-op",
	"direct-image-filters",
	"image-filters",
	"line-comp-op",
	"line-simplify",
	"marker-comp-op",
	"marker-multi-policy",
	"opacity",
	"polygon-comp-op",
	"text-comp-op",
}

// RulesFor returns the set of recognized properties for an engine version.
// Unparseable versions get the newest rule surface.
func RulesFor(version string) map[string]struct{} {
	rules := make(map[string]struct{}, len(baseProperties)+len(v21Properties))
	for _, p := range baseProperties {
		rules[p] = struct{}{}
	}
	v := canonical(version)
	if v == "" || semver.Compare(v, "v2.1.0") >= 0 {
		for _, p := range v21Properties {
			rules[p] = struct{}{}
		}
	}
	return rules
}

func canonical(version string) string {
	v := strings.TrimSpace(version)
	if v == "" {
		return ""
	}
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return ""
	}
	return v
}

// Validate scans a CartoCSS source and returns every violation it finds, in
// source order. A nil result means the source parses cleanly for the given
// engine version.
func Validate(source, version string) []string {
	rules := RulesFor(version)
	var violations []string
	depth := 0
	i, n := 0, len(source)
	for i < n {
		ch := source[i]
		switch {
		case ch == '/' && i+1 < n && source[i+1] == '*':
			i = skipComment(source, i+2)
		case ch == '"' || ch == '\'':
			i = skipString(source, i+1, ch)
		case ch == '{':
			depth++
			i++
		case ch == '}':
			if depth > 0 {
				depth--
			}
			i++
		case depth > 0 && isIdentStart(ch):
			start := i
			for i < n && isIdentChar(source[i]) {
				i++
			}
			word := source[start:i]
			j := i
			for j < n && isSpace(source[j]) {
				j++
			}
			if j < n && source[j] == ':' {
				if _, ok := rules[word]; !ok {
					violations = append(violations, "Unrecognized rule: "+word)
				}
				i = skipValue(source, j+1)
			} else {
				// Selector fragment of a nested rule, leave the braces to
				// the outer loop.
				i = j
			}
		default:
			i++
		}
	}
	if depth > 0 {
		violations = append(violations, "Missing closing brace")
	}
	return violations
}

func skipComment(source string, i int) int {
	for ; i < len(source); i++ {
		if source[i] == '*' && i+1 < len(source) && source[i+1] == '/' {
			return i + 2
		}
	}
	return i
}

func skipString(source string, i int, quote byte) int {
	for ; i < len(source); i++ {
		if source[i] == '\\' {
			i++
			continue
		}
		if source[i] == quote {
			return i + 1
		}
	}
	return i
}

// skipValue consumes a declaration value up to its terminating ';', leaving a
// closing '}' for the block scanner.
func skipValue(source string, i int) int {
	for i < len(source) {
		switch source[i] {
		case ';':
			return i + 1
		case '}':
			return i
		case '"', '\'':
			i = skipString(source, i+1, source[i])
		default:
			i++
		}
	}
	return i
}

func isSpace(ch byte) bool {
	return ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r'
}

func isIdentStart(ch byte) bool {
	return ch >= 'a' && ch <= 'z' || ch >= 'A' && ch <= 'Z' || ch == '_'
}

func isIdentChar(ch byte) bool {
	return isIdentStart(ch) || ch >= '0' && ch <= '9' || ch == '-'
}
