package query

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shrek82/dbo/param"
	"github.com/shrek82/dbo/sqlstate"
)

type testValues struct {
	named map[string]param.Value
	pos   []param.Value
}

func (v testValues) Count() int { return len(v.named) + len(v.pos) }

func (v testValues) Named(name string) (param.Value, bool) {
	val, ok := v.named[name]
	return val, ok
}

func (v testValues) Positional(i int) (param.Value, bool) {
	if i < 0 || i >= len(v.pos) {
		return param.Value{}, false
	}
	return v.pos[i], true
}

func positional(vals ...param.Value) testValues { return testValues{pos: vals} }

func TestEmulatedRewrite(t *testing.T) {
	r := Rewriter{Native: None}
	res, err := r.Rewrite("SELECT * FROM t WHERE a=? AND b=?", positional(param.Int(1), param.Text("x")))
	require.NoError(t, err)
	assert.Equal(t, Rewritten, res.Outcome)
	assert.Equal(t, "SELECT * FROM t WHERE a=1 AND b='x'", res.Query)
}

func TestEmulatedLiterals(t *testing.T) {
	r := Rewriter{Native: None}
	res, err := r.Rewrite("VALUES (?, ?, ?, ?, ?)", positional(
		param.NullValue, param.Bool(true), param.Float64(2.5), param.Text("O'Brien"), param.Int(-3)))
	require.NoError(t, err)
	assert.Equal(t, "VALUES (NULL, 1, '2.5', 'O''Brien', -3)", res.Query)
}

func TestEmulatedCustomQuote(t *testing.T) {
	r := Rewriter{Native: None, Quote: func(v param.Value) (string, error) { return "<" + v.Text + ">", nil }}
	res, err := r.Rewrite("a=:a", testValues{named: map[string]param.Value{":a": param.Text("v")}})
	require.NoError(t, err)
	assert.Equal(t, "a=<v>", res.Query)
}

func TestNamedTemplateReusesLabel(t *testing.T) {
	r := Rewriter{Native: Named, Template: "$%d"}
	res, err := r.Rewrite("SELECT * FROM t WHERE a=:x AND b=:x", nil)
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM t WHERE a=$1 AND b=$1", res.Query)
	assert.Equal(t, map[string]string{":x": "$1"}, res.Labels)
	assert.Equal(t, []string{":x"}, res.Order)
}

func TestPositionalTemplate(t *testing.T) {
	r := Rewriter{Native: Named, Template: "$%d"}
	res, err := r.Rewrite("a=? AND b=? AND c='?'", nil)
	require.NoError(t, err)
	assert.Equal(t, "a=$1 AND b=$2 AND c='?'", res.Query)
	assert.Equal(t, []string{"0", "1"}, res.Order)
}

func TestPositionalToNamedBackend(t *testing.T) {
	r := Rewriter{Native: Named}
	res, err := r.Rewrite("a=? AND b=?", nil)
	require.NoError(t, err)
	assert.Equal(t, "a=:pdo1 AND b=:pdo2", res.Query)
}

func TestNamedToPositionalBackend(t *testing.T) {
	r := Rewriter{Native: Positional}
	res, err := r.Rewrite("a=:x AND b=:y AND c=:x", nil)
	require.NoError(t, err)
	assert.Equal(t, "a=? AND b=? AND c=?", res.Query)
	assert.Equal(t, []string{":x", ":y", ":x"}, res.Order)
}

func TestNativeDialectUnchanged(t *testing.T) {
	r := Rewriter{Native: Named | Positional}
	for _, q := range []string{"a=?", "a=:x", "SELECT 1"} {
		res, err := r.Rewrite(q, nil)
		require.NoError(t, err)
		assert.Equal(t, Unchanged, res.Outcome)
		assert.Equal(t, q, res.Query)
	}
}

func TestMixedStylesFail(t *testing.T) {
	for _, r := range []Rewriter{{Native: None}, {Native: Named, Template: "$%d"}, {Native: Positional}} {
		q := "SELECT * FROM t WHERE a=? AND b=:x"
		res, err := r.Rewrite(q, positional(param.Int(1), param.Int(2)))
		require.Error(t, err)
		assert.True(t, errors.Is(err, sqlstate.New(sqlstate.InvalidParamNumber, "")))
		assert.Contains(t, err.Error(), "mixed named and positional parameters")
		assert.Equal(t, Failed, res.Outcome)
		assert.Equal(t, q, res.Query)
	}
}

func TestCountMismatch(t *testing.T) {
	r := Rewriter{Native: None}

	_, err := r.Rewrite("a=? AND b=?", positional(param.Int(1)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "number of bound variables does not match number of tokens")

	res, err := r.Rewrite("a=:x AND b=:x", testValues{named: map[string]param.Value{":x": param.Int(5)}})
	require.NoError(t, err)
	assert.Equal(t, "a=5 AND b=5", res.Query)

	_, err = r.Rewrite("a=:x AND b=:y", testValues{named: map[string]param.Value{":x": param.Int(5)}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match")
}

func TestUndefinedParameter(t *testing.T) {
	r := Rewriter{Native: None}
	q := "a=:x AND b=:y"
	res, err := r.Rewrite(q, testValues{named: map[string]param.Value{":x": param.Int(1), ":z": param.Int(2)}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parameter was not defined")
	assert.Equal(t, q, res.Query)
}

func TestNoParametersBound(t *testing.T) {
	r := Rewriter{Native: None}
	_, err := r.Rewrite("a=?", testValues{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no parameters were bound")
}

func TestValidateOnly(t *testing.T) {
	res, err := Rewriter{Native: None}.Rewrite("a=? AND b=?", nil)
	require.NoError(t, err)
	assert.Equal(t, Unchanged, res.Outcome)
	assert.Equal(t, Positional, res.Style)
	assert.Len(t, res.Placeholders, 2)
}

func TestTruncatedQuery(t *testing.T) {
	_, err := Rewriter{Native: None}.Rewrite("SELECT 'abc", nil)
	require.Error(t, err)
	assert.Equal(t, sqlstate.SyntaxError, sqlstate.CodeOf(err))
}

func TestNoMarkers(t *testing.T) {
	res, err := Rewriter{Native: None}.Rewrite("SELECT '?', x::int, 12:30", positional(param.Int(1)))
	require.NoError(t, err)
	assert.Equal(t, Unchanged, res.Outcome)
	assert.Empty(t, res.Placeholders)
}

func TestReturnsRows(t *testing.T) {
	tests := map[string]bool{
		"SELECT 1":                              true,
		"  -- lead\n select 1":                  true,
		"/* c */ WITH x AS (SELECT 1) SELECT 1": true,
		"INSERT INTO t VALUES (1)":              false,
		"INSERT INTO t VALUES (1) RETURNING id": true,
		"UPDATE t SET a='RETURNING'":            false,
		"PRAGMA table_info(t)":                  true,
		"":                                      false,
		"DELETE FROM t":                         false,
	}
	for q, want := range tests {
		assert.Equal(t, want, ReturnsRows(q), q)
	}
}
