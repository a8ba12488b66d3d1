package fingerprint

import (
	"regexp"
	"strings"
	"unicode"
)

// Placeholder replaces masked literals.
const Placeholder = "?"

var (
	quoted  = regexp.MustCompile(`'(?:[^'\\]|\\.)*'|"(?:[^"\\]|\\.)*"`)
	numeric = regexp.MustCompile(`(^|[^A-Za-z0-9_$.])-?\d+(?:\.\d+)?`)
	listLit = regexp.MustCompile(`\[\s*\?(?:\s*,\s*\?)*\s*\]`)
)

// punctuation is split into tokens of its own.
var punctuation = map[rune]bool{
	'(': true, ')': true, '[': true, ']': true, '{': true, '}': true,
	':': true, ',': true, '=': true, '-': true,
}

// mask replaces string, numeric and list literals with Placeholder.
func mask(text string) string {
	text = quoted.ReplaceAllString(text, Placeholder)
	text = numeric.ReplaceAllString(text, "${1}"+Placeholder)
	return listLit.ReplaceAllString(text, Placeholder)
}

// tokenize masks literals and splits on whitespace, keeping punctuation as
// separate tokens. Keywords are upper-cased unless they follow a colon, where
// they are labels or relationship types.
func tokenize(text string) []string {
	text = mask(text)

	var tokens []string
	var current strings.Builder
	flush := func() {
		if current.Len() == 0 {
			return
		}
		tok := current.String()
		if len(tokens) == 0 || tokens[len(tokens)-1] != ":" {
			tok = normalizeKeyword(tok)
		}
		tokens = append(tokens, tok)
		current.Reset()
	}

	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			flush()
		case punctuation[r]:
			flush()
			tokens = append(tokens, string(r))
		default:
			current.WriteRune(r)
		}
	}
	flush()
	return tokens
}

var keywords = map[string]bool{
	"MATCH": true, "OPTIONAL": true, "WHERE": true, "RETURN": true, "WITH": true,
	"CREATE": true, "MERGE": true, "DELETE": true, "DETACH": true, "SET": true,
	"REMOVE": true, "ORDER": true, "BY": true, "LIMIT": true, "SKIP": true,
	"AND": true, "OR": true, "NOT": true, "IN": true, "CONTAINS": true,
	"STARTS": true, "ENDS": true, "UNWIND": true, "AS": true, "DISTINCT": true,
}

func normalizeKeyword(tok string) string {
	if up := strings.ToUpper(tok); keywords[up] {
		return up
	}
	return tok
}

// render joins tokens back into readable text.
func render(tokens []string) string {
	var b strings.Builder
	for i, tok := range tokens {
		if i > 0 && !tightAfter(tokens[i-1]) && !tightBefore(tok) {
			b.WriteByte(' ')
		}
		b.WriteString(tok)
	}
	return b.String()
}

func tightAfter(tok string) bool {
	switch tok {
	case "(", "[", "{", ":", "-":
		return true
	}
	return false
}

func tightBefore(tok string) bool {
	switch tok {
	case ")", "]", "}", ":", ",", "-":
		return true
	}
	return false
}
