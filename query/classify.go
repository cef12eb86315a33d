package query

import "strings"

var rowKeywords = map[string]bool{
	"SELECT": true, "WITH": true, "VALUES": true, "PRAGMA": true, "SHOW": true,
	"EXPLAIN": true, "DESCRIBE": true, "DESC": true, "TABLE": true,
}

// ReturnsRows reports whether q produces a result set: its first keyword
// outside comments starts a query, or it carries a RETURNING clause.
func ReturnsRows(q string) bool {
	words := Words(q)
	if len(words) == 0 {
		return false
	}
	if rowKeywords[words[0]] {
		return true
	}
	for _, w := range words[1:] {
		if w == "RETURNING" {
			return true
		}
	}
	return false
}

// Words returns the upper-cased bare words of q, skipping quoted literals,
// comments and markers.
func Words(q string) []string {
	var words []string
	s := NewScanner(q)
	for {
		tok := s.Next()
		if tok.Kind == EOI || tok.Kind == Truncated {
			return words
		}
		if tok.Kind != Text {
			continue
		}
		text := s.Text(tok)
		if quotedOrComment(text) {
			continue
		}
		for _, f := range strings.FieldsFunc(text, func(r rune) bool {
			return !(r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9')
		}) {
			words = append(words, strings.ToUpper(f))
		}
	}
}

func quotedOrComment(text string) bool {
	return strings.HasPrefix(text, "'") || strings.HasPrefix(text, `"`) ||
		strings.HasPrefix(text, "--") || strings.HasPrefix(text, "/*")
}
