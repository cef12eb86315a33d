package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	l, err := ParseLevel(" Warn ")
	require.NoError(t, err)
	assert.Equal(t, LevelWarn, l)

	_, err = ParseLevel("loud")
	assert.Error(t, err)
}

func TestTextOutput(t *testing.T) {
	var buf bytes.Buffer
	l := SetLevelOutput(New(), LevelInfo, &buf)
	l.WithFields(map[string]any{"conn_id": "abc"}).Warn("retry %d", 2)
	l.Debug("hidden")

	out := buf.String()
	assert.Contains(t, out, "[DBO]")
	assert.Contains(t, out, "WARN: retry 2")
	assert.Contains(t, out, "conn_id:abc")
	assert.NotContains(t, out, "hidden")
}

func TestJSONStatement(t *testing.T) {
	var buf bytes.Buffer
	l := SetLevelOutput(New(), LevelDebug, &buf)
	l.SetFormat(FormatJSON)
	l.WithFields(map[string]any{"conn_id": "c1"}).Statement("SELECT 1", time.Millisecond, errors.New("boom"), 7)

	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "SQL", got["level"])
	assert.Equal(t, "SELECT 1", got["sql"])
	assert.Equal(t, "boom", got["error"])
	assert.Equal(t, "c1", got["conn_id"])
}

func TestDerivedSharesSettings(t *testing.T) {
	var buf bytes.Buffer
	root := SetLevelOutput(New(), LevelError, &buf)
	child := root.WithFields(map[string]any{"k": 1})
	root.SetLevel(LevelInfo)
	child.Info("now visible")
	assert.Contains(t, buf.String(), "now visible")
}

func TestDiscard(t *testing.T) {
	l := Discard()
	l.Error("nothing")
	l.Statement("SELECT 1", 0, errors.New("x"))
}
