package query

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shrek82/dbo/param"
	"github.com/shrek82/dbo/sqlstate"
)

// Support is a bitmask of the placeholder dialects a backend understands
// natively. A query's detected dialect uses the same bits.
type Support int

const (
	None       Support = 0
	Named      Support = 1 << 0
	Positional Support = 1 << 1
)

func (s Support) String() string {
	switch s {
	case None:
		return "none"
	case Named:
		return "named"
	case Positional:
		return "positional"
	case Named | Positional:
		return "named|positional"
	}
	return "support(" + strconv.Itoa(int(s)) + ")"
}

// Placeholder is one marker found in a query.
type Placeholder struct {
	Marker      string
	Offset      int
	BindNo      int
	Replacement string
}

// Identity is the key a placeholder resolves against: its name for a named
// marker, its 0-based bind number for "?".
func (p Placeholder) Identity() string {
	if p.Marker == "?" {
		return strconv.Itoa(p.BindNo)
	}
	return p.Marker
}

// Parsed is the result of scanning a query for markers.
type Parsed struct {
	Query        string
	Style        Support
	Placeholders []Placeholder
}

// Parse scans q and collects its markers in order of appearance.
func Parse(q string) (*Parsed, error) {
	p := &Parsed{Query: q}
	s := NewScanner(q)
	for {
		tok := s.Next()
		switch tok.Kind {
		case EOI:
			return p, nil
		case Truncated:
			return p, sqlstate.Newf(sqlstate.SyntaxError, "unterminated quoted string or comment at offset %d", tok.Start)
		case NamedMarker:
			p.Style |= Named
		case PositionalMarker:
			p.Style |= Positional
		default:
			continue
		}
		p.Placeholders = append(p.Placeholders, Placeholder{
			Marker: s.Text(tok),
			Offset: tok.Start,
			BindNo: len(p.Placeholders),
		})
	}
}

// Outcome of a rewrite pass.
type Outcome int

const (
	Unchanged Outcome = iota
	Rewritten
	Failed
)

// Values resolves bound parameter values during emulated binding.
type Values interface {
	Count() int
	Named(name string) (param.Value, bool)
	Positional(index int) (param.Value, bool)
}

// QuoteFunc renders a value as a SQL literal.
type QuoteFunc func(v param.Value) (string, error)

// DefaultQuote wraps the text in single quotes, doubling embedded ones.
func DefaultQuote(v param.Value) (string, error) {
	return "'" + strings.ReplaceAll(v.Text, "'", "''") + "'", nil
}

// Result carries the rewritten query. Labels maps a placeholder identity to
// the generated native marker; Order lists identities in native bind order.
type Result struct {
	Query        string
	Outcome      Outcome
	Style        Support
	Placeholders []Placeholder
	Labels       map[string]string
	Order        []string
}

// Rewriter turns a query into the form a backend executes.
type Rewriter struct {
	// Native is the set of dialects the backend accepts as-is.
	Native Support
	// Template forces a positional rewrite with generated labels, e.g. "$%d".
	Template string
	// Quote renders non-numeric literals for emulated binding.
	Quote QuoteFunc
}

// Rewrite classifies q and rewrites it for the backend. With Native None,
// vals supplies the values to inline; a nil vals only validates the markers.
// On failure the returned Result holds q untouched.
func (r Rewriter) Rewrite(q string, vals Values) (*Result, error) {
	res := &Result{Query: q, Outcome: Unchanged}
	parsed, err := Parse(q)
	if err != nil {
		res.Outcome = Failed
		return res, err
	}
	res.Style = parsed.Style
	res.Placeholders = parsed.Placeholders
	if len(parsed.Placeholders) == 0 {
		return res, nil
	}
	if parsed.Style == Named|Positional {
		return r.fail(res, "mixed named and positional parameters")
	}
	if r.Native&parsed.Style != 0 && r.Template == "" {
		return res, nil
	}

	style := parsed.Style
	if r.Template != "" {
		style = Positional
	}

	switch {
	case r.Native == None:
		if vals == nil {
			return res, nil
		}
		if err := r.inline(res, style, vals); err != nil {
			res.Outcome = Failed
			res.Query = q
			return res, err
		}
	case style == Positional:
		r.label(res)
	default:
		for i := range res.Placeholders {
			res.Placeholders[i].Replacement = "?"
			res.Order = append(res.Order, res.Placeholders[i].Marker)
		}
	}
	res.Query = splice(q, res.Placeholders)
	res.Outcome = Rewritten
	return res, nil
}

func (r Rewriter) fail(res *Result, msg string) (*Result, error) {
	res.Outcome = Failed
	return res, sqlstate.New(sqlstate.InvalidParamNumber, msg)
}

func (r Rewriter) inline(res *Result, style Support, vals Values) error {
	n := vals.Count()
	if n == 0 {
		return sqlstate.New(sqlstate.InvalidParamNumber, "no parameters were bound")
	}
	lookup := func(p Placeholder) (param.Value, bool) {
		if style == Positional {
			return vals.Positional(p.BindNo)
		}
		return vals.Named(p.Marker)
	}
	if n != len(res.Placeholders) {
		reused := style != Positional && len(res.Placeholders) > n
		for i := 0; reused && i < len(res.Placeholders); i++ {
			_, reused = lookup(res.Placeholders[i])
		}
		if !reused {
			return sqlstate.New(sqlstate.InvalidParamNumber, "number of bound variables does not match number of tokens")
		}
	}
	quote := r.Quote
	if quote == nil {
		quote = DefaultQuote
	}
	for i := range res.Placeholders {
		p := &res.Placeholders[i]
		v, ok := lookup(*p)
		if !ok {
			return sqlstate.New(sqlstate.InvalidParamNumber, "parameter was not defined")
		}
		switch v.Kind {
		case param.Null, param.Integer, param.Boolean:
			p.Replacement = v.Literal()
		default:
			lit, err := quote(v)
			if err != nil {
				return err
			}
			p.Replacement = lit
		}
	}
	return nil
}

func (r Rewriter) label(res *Result) {
	tmpl := r.Template
	if tmpl == "" {
		tmpl = ":pdo%d"
	}
	res.Labels = make(map[string]string, len(res.Placeholders))
	next := 1
	for i := range res.Placeholders {
		p := &res.Placeholders[i]
		id := p.Identity()
		if l, ok := res.Labels[id]; ok {
			p.Replacement = l
			continue
		}
		p.Replacement = fmt.Sprintf(tmpl, next)
		next++
		res.Labels[id] = p.Replacement
		res.Order = append(res.Order, id)
	}
}

func splice(q string, phs []Placeholder) string {
	var b strings.Builder
	b.Grow(len(q) + len(phs)*4)
	pos := 0
	for _, p := range phs {
		b.WriteString(q[pos:p.Offset])
		b.WriteString(p.Replacement)
		pos = p.Offset + len(p.Marker)
	}
	b.WriteString(q[pos:])
	return b.String()
}
