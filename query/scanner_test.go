package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type scanned struct {
	kind TokenKind
	text string
}

func scanAll(src string) []scanned {
	var out []scanned
	s := NewScanner(src)
	for {
		tok := s.Next()
		if tok.Kind == EOI {
			return out
		}
		out = append(out, scanned{tok.Kind, s.Text(tok)})
	}
}

func TestScanner(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want []scanned
	}{
		{
			name: "markers",
			src:  "SELECT * FROM t WHERE a=? AND b=:name",
			want: []scanned{
				{Text, "SELECT * FROM t WHERE a="},
				{PositionalMarker, "?"},
				{Text, " AND b="},
				{NamedMarker, ":name"},
			},
		},
		{
			name: "cast",
			src:  "x::int",
			want: []scanned{{Text, "x"}, {Text, "::"}, {Text, "int"}},
		},
		{
			name: "escaped question",
			src:  "a ?? b",
			want: []scanned{{Text, "a "}, {Text, "??"}, {Text, " b"}},
		},
		{
			name: "quoted with escape",
			src:  `'it\'s ?' ?`,
			want: []scanned{{Text, `'it\'s ?'`}, {Text, " "}, {PositionalMarker, "?"}},
		},
		{
			name: "double quoted",
			src:  `"a:b" :c`,
			want: []scanned{{Text, `"a:b"`}, {Text, " "}, {NamedMarker, ":c"}},
		},
		{
			name: "time literal",
			src:  "12:30",
			want: []scanned{{Text, "12"}, {Text, ":30"}},
		},
		{
			name: "lone colon",
			src:  ": x",
			want: []scanned{{Text, ":"}, {Text, " x"}},
		},
		{
			name: "line comment",
			src:  "-- c ?\n?",
			want: []scanned{{Text, "-- c ?"}, {Text, "\n"}, {PositionalMarker, "?"}},
		},
		{
			name: "block comment",
			src:  "/* ? */?",
			want: []scanned{{Text, "/* ? */"}, {PositionalMarker, "?"}},
		},
		{
			name: "minus and slash",
			src:  "a-b/c",
			want: []scanned{{Text, "a"}, {Text, "-"}, {Text, "b"}, {Text, "/"}, {Text, "c"}},
		},
		{
			name: "unterminated quote",
			src:  "SELECT 'abc",
			want: []scanned{{Text, "SELECT "}, {Truncated, "'abc"}},
		},
		{
			name: "unterminated comment",
			src:  "/* abc",
			want: []scanned{{Truncated, "/* abc"}},
		},
		{
			name: "empty",
			src:  "",
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, scanAll(tt.src))
		})
	}
}

func TestScannerCoversInput(t *testing.T) {
	src := `INSERT INTO t (a, "b") VALUES (:a, '?', ?) -- ?`
	s := NewScanner(src)
	var rebuilt string
	for {
		tok := s.Next()
		if tok.Kind == EOI {
			break
		}
		rebuilt += s.Text(tok)
	}
	assert.Equal(t, src, rebuilt)
}
