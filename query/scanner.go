// Package query tokenizes SQL text for parameter markers and rewrites
// queries between placeholder dialects or into fully inlined SQL.
package query

// TokenKind classifies a scanned token.
type TokenKind int

const (
	Text TokenKind = iota
	PositionalMarker
	NamedMarker
	EOI
	// Truncated marks an unterminated quote or block comment. The token
	// spans the remainder of the input.
	Truncated
)

// Token is a byte span [Start, End) of the scanned source.
type Token struct {
	Kind  TokenKind
	Start int
	End   int
}

// Scanner walks a SQL string one token at a time.
type Scanner struct {
	src string
	pos int
}

// NewScanner returns a Scanner positioned at the start of src.
func NewScanner(src string) *Scanner {
	return &Scanner{src: src}
}

// Text returns the source bytes of tok.
func (s *Scanner) Text(tok Token) string {
	return s.src[tok.Start:tok.End]
}

// Next returns the next token. After EOI or Truncated every call returns EOI.
func (s *Scanner) Next() Token {
	start := s.pos
	if start >= len(s.src) {
		return Token{Kind: EOI, Start: start, End: start}
	}
	switch c := s.src[start]; c {
	case '"', '\'':
		return s.quoted(c)
	case ':':
		return s.colon()
	case '?':
		if start+1 < len(s.src) && s.src[start+1] == '?' {
			return s.emit(Text, start+2)
		}
		return s.emit(PositionalMarker, start+1)
	case '-':
		if start+1 < len(s.src) && s.src[start+1] == '-' {
			end := start + 2
			for end < len(s.src) && s.src[end] != '\n' && s.src[end] != '\r' {
				end++
			}
			return s.emit(Text, end)
		}
		return s.emit(Text, start+1)
	case '/':
		if start+1 < len(s.src) && s.src[start+1] == '*' {
			for i := start + 2; i+1 < len(s.src); i++ {
				if s.src[i] == '*' && s.src[i+1] == '/' {
					return s.emit(Text, i+2)
				}
			}
			return s.emit(Truncated, len(s.src))
		}
		return s.emit(Text, start+1)
	}
	end := start + 1
	for end < len(s.src) && !special(s.src[end]) {
		end++
	}
	return s.emit(Text, end)
}

func (s *Scanner) emit(kind TokenKind, end int) Token {
	tok := Token{Kind: kind, Start: s.pos, End: end}
	s.pos = end
	return tok
}

func (s *Scanner) quoted(q byte) Token {
	for i := s.pos + 1; i < len(s.src); i++ {
		switch s.src[i] {
		case '\\':
			i++
		case q:
			return s.emit(Text, i+1)
		}
	}
	return s.emit(Truncated, len(s.src))
}

func (s *Scanner) colon() Token {
	start := s.pos
	end := start + 1
	if end < len(s.src) && s.src[end] == ':' {
		for end < len(s.src) && s.src[end] == ':' {
			end++
		}
		return s.emit(Text, end)
	}
	for end < len(s.src) && identChar(s.src[end]) {
		end++
	}
	if end == start+1 {
		return s.emit(Text, end)
	}
	// a marker glued to an identifier, as in 12:30 or a:b, is text
	if start > 0 && alnum(s.src[start-1]) {
		return s.emit(Text, end)
	}
	return s.emit(NamedMarker, end)
}

func special(c byte) bool {
	switch c {
	case ':', '?', '"', '\'', '-', '/':
		return true
	}
	return false
}

func alnum(c byte) bool {
	return c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func identChar(c byte) bool {
	return alnum(c) || c == '_'
}
