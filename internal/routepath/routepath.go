// Package routepath converts schema paths into router paths, documentation tags
// and upstream request paths.
package routepath

import (
	"net/url"
	"regexp"
	"slices"
	"strings"

	"github.com/stoewer/go-strcase"
)

// Syntax selects how a router spells a named path parameter.
type Syntax int

const (
	// ColonSyntax spells parameters as ":name" (Fiber).
	ColonSyntax Syntax = iota
	// BraceSyntax spells parameters as "{name}" (chi, net/http, OpenAPI).
	BraceSyntax
)

// rootTag is the tag of paths without literal segments.
const rootTag = "root"

var (
	placeholderPattern = regexp.MustCompile(`\{(\w+)\}`)
	colonParamPattern  = regexp.MustCompile(`:(\w+)`)
	anyBracesPattern   = regexp.MustCompile(`\{.*?\}`)
)

// ToRoutePath rewrites every {name} placeholder of path in the given router
// syntax. Everything else is left untouched.
func ToRoutePath(path string, syntax Syntax) string {
	switch syntax {
	case BraceSyntax:
		return placeholderPattern.ReplaceAllString(path, "{$1}")
	default:
		return placeholderPattern.ReplaceAllString(path, ":$1")
	}
}

// Normalize blanks every placeholder name, so paths a router cannot tell apart
// ("/a/{x}" and "/a/{y}") compare equal.
func Normalize(path string) string {
	return placeholderPattern.ReplaceAllString(path, "{}")
}

// ExtractParamNames returns the distinct placeholder names of path, sorted.
func ExtractParamNames(path string) []string {
	matches := placeholderPattern.FindAllStringSubmatch(path, -1)
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		if !slices.Contains(names, m[1]) {
			names = append(names, m[1])
		}
	}
	slices.Sort(names)
	return names
}

// segments splits path on "/" and drops empty segments.
func segments(path string) []string {
	parts := strings.Split(path, "/")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// TagFor derives the documentation tag of path: literal segments joined with
// ".", placeholders removed. Paths without literal segments map to "root".
func TagFor(path string) string {
	var clean []string
	for _, seg := range segments(path) {
		if seg = anyBracesPattern.ReplaceAllString(seg, ""); seg != "" {
			clean = append(clean, seg)
		}
	}

	if len(clean) == 0 {
		return rootTag
	}
	return strings.Join(clean, ".")
}

// GroupFor returns the first non-empty segment of path, or "" for the root.
func GroupFor(path string) string {
	if parts := segments(path); len(parts) > 0 {
		return parts[0]
	}
	return ""
}

// Resolve substitutes {name} and :name placeholders of path with the
// path-escaped values from params. Parameters that matched no placeholder are
// returned in rest; rest is nil when every parameter was used.
func Resolve(path string, params map[string]string) (resolved string, rest map[string]string) {
	used := make(map[string]bool, len(params))

	replace := func(pattern *regexp.Regexp) {
		resolved = pattern.ReplaceAllStringFunc(resolved, func(match string) string {
			name := pattern.FindStringSubmatch(match)[1]
			value, ok := params[name]
			if !ok {
				return match
			}
			used[name] = true
			return url.PathEscape(value)
		})
	}

	// Colon placeholders first: escaped values can never contain braces.
	resolved = path
	replace(colonParamPattern)
	replace(placeholderPattern)

	for name, value := range params {
		if used[name] {
			continue
		}
		if rest == nil {
			rest = make(map[string]string)
		}
		rest[name] = value
	}

	return resolved, rest
}

// OperationID builds a lower camel case identifier from the verb and every
// segment of path, e.g. GET /nodes/{node}/qemu -> getNodesNodeQemu.
func OperationID(verb, path string) string {
	words := []string{strings.ToLower(verb)}
	for _, seg := range segments(path) {
		seg = strings.NewReplacer("{", "", "}", "").Replace(seg)
		if seg != "" {
			words = append(words, seg)
		}
	}
	if len(words) == 1 {
		words = append(words, rootTag)
	}
	return strcase.LowerCamelCase(strings.Join(words, "_"))
}
