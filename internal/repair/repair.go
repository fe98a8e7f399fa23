// Package repair fixes text mangled by PDF extraction, where glyph runs
// lose the spaces between them ("wordBoundary", "end.Next", "version2").
package repair

import "regexp"

type rule struct {
	name    string
	pattern *regexp.Regexp
	replace string
}

// rules run in order; each inserts a space at one kind of glued boundary.
// Order matters: the punctuation rule must see original punctuation before
// the case rules touch the letters around it.
var rules = []rule{
	{
		name:    "punct-alnum",
		pattern: regexp.MustCompile(`([.,;:!?])([\p{L}\p{N}])`),
		replace: "$1 $2",
	},
	{
		name:    "lower-upper",
		pattern: regexp.MustCompile(`(\p{Ll})(\p{Lu})`),
		replace: "$1 $2",
	},
	{
		name:    "letter-digit",
		pattern: regexp.MustCompile(`(\p{L})(\p{N})`),
		replace: "$1 $2",
	},
	{
		name:    "digit-letter",
		pattern: regexp.MustCompile(`(\p{N})(\p{L})`),
		replace: "$1 $2",
	},
}

// Text applies all repair rules to s.
func Text(s string) string {
	for _, r := range rules {
		s = r.pattern.ReplaceAllString(s, r.replace)
	}
	return s
}
