package usecase

import (
	"sort"
	"strings"
	"unicode"
)

// Correlator joins free text to symbols through a symbol -> keywords table.
// Matching is case-insensitive on whole words, so "ETH" does not match "whether".
// This is an approximate join: text may map to zero or several symbols.
type Correlator struct {
	symbols  []string
	keywords map[string][]string // symbol -> normalized keyword phrases
}

// NewCorrelator builds a correlator. Each symbol also matches itself.
func NewCorrelator(table map[string][]string) *Correlator {
	c := &Correlator{keywords: make(map[string][]string, len(table))}
	for sym, kws := range table {
		phrases := []string{normalizePhrase(sym)}
		for _, kw := range kws {
			if p := normalizePhrase(kw); p != "" {
				phrases = append(phrases, p)
			}
		}
		key := strings.ToUpper(sym)
		c.symbols = append(c.symbols, key)
		c.keywords[key] = phrases
	}
	sort.Strings(c.symbols)
	return c
}

// Symbols returns the symbols whose keywords appear in text, sorted.
func (c *Correlator) Symbols(text string) []string {
	padded := " " + normalizePhrase(text) + " "
	var out []string
	for _, sym := range c.symbols {
		for _, kw := range c.keywords[sym] {
			if strings.Contains(padded, " "+kw+" ") {
				out = append(out, sym)
				break
			}
		}
	}
	return out
}

// Match reports whether the keyword sets of a and b intersect.
func (c *Correlator) Match(a, b string) bool {
	sa := c.Symbols(a)
	if len(sa) == 0 {
		return false
	}
	for _, s := range c.Symbols(b) {
		for _, t := range sa {
			if s == t {
				return true
			}
		}
	}
	return false
}

// normalizePhrase lowercases and collapses every non alphanumeric run to one space.
func normalizePhrase(s string) string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return strings.Join(fields, " ")
}
