// Package localenum parses human-formatted numbers the site renders per
// locale, such as review counts of the form "1,234", "1.234" or "1 234".
package localenum

import (
	"strings"
)

// Parser turns a locale-formatted integer string into a number.
type Parser interface {
	ParseInt(s string) (int, bool)
}

type separators struct {
	group   rune
	decimal rune
}

// Known locale conventions by BCP47 primary subtag. Anything absent falls
// back to a heuristic that handles both comma and dot grouping.
var localeTable = map[string]separators{
	"en": {group: ',', decimal: '.'},
	"de": {group: '.', decimal: ','},
	"fr": {group: ' ', decimal: ','},
	"es": {group: '.', decimal: ','},
	"it": {group: '.', decimal: ','},
	"nl": {group: '.', decimal: ','},
	"pt": {group: '.', decimal: ','},
	"pl": {group: ' ', decimal: ','},
	"tr": {group: '.', decimal: ','},
	"ru": {group: ' ', decimal: ','},
}

// ForLocale returns a Parser for the given BCP47 language tag.
func ForLocale(tag string) Parser {
	primary, _, _ := strings.Cut(strings.ToLower(tag), "-")

	if sep, ok := localeTable[primary]; ok {
		return tableParser{sep: sep}
	}

	return heuristicParser{}
}

type tableParser struct {
	sep separators
}

func (p tableParser) ParseInt(s string) (int, bool) {
	var b strings.Builder

	for _, r := range normalize(s) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == p.sep.group:
			// grouping, skip
		case r == p.sep.decimal:
			// integer counts never carry a fraction; stop at the
			// decimal mark rather than concatenating digits
			return atoi(b.String())
		default:
			return atoi(b.String())
		}
	}

	return atoi(b.String())
}

// heuristicParser strips every non-digit rune. Correct for integer counts in
// any grouping convention, wrong only for fractional values, which the site
// does not use for counts.
type heuristicParser struct{}

func (heuristicParser) ParseInt(s string) (int, bool) {
	var b strings.Builder

	for _, r := range normalize(s) {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}

	return atoi(b.String())
}

// normalize maps the non-breaking space variants some locales group with
// onto a plain space.
func normalize(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '\u00a0', '\u202f', '\u2009':
			return ' '
		default:
			return r
		}
	}, strings.TrimSpace(s))
}

func atoi(s string) (int, bool) {
	if s == "" {
		return 0, false
	}

	n := 0
	for _, r := range s {
		n = n*10 + int(r-'0')
	}

	return n, true
}
