package core

import (
	"strconv"
	"time"

	"github.com/shrek82/dbo/param"
	"github.com/shrek82/dbo/sqlstate"
)

// Field is one fetched value with its column's name and kind.
type Field struct {
	Name string     `json:"name"`
	Kind param.Kind `json:"kind"`
	Text string     `json:"text"`
	Null bool       `json:"null,omitempty"`
}

// Value returns the field as a tagged value. A non-NULL field without a
// kind is text.
func (f Field) Value() param.Value {
	if f.Null {
		return param.NullValue
	}
	if f.Kind == param.Null {
		return param.Text(f.Text)
	}
	return param.Value{Kind: f.Kind, Text: f.Text}
}

// Native returns the field converted by its kind, nil for NULL.
func (f Field) Native() any { return f.Value().Native() }

func (f Field) String() string { return f.Text }

// Int parses the field as an integer. NULL reads as zero.
func (f Field) Int() (int64, error) {
	if f.Null {
		return 0, nil
	}
	n, err := strconv.ParseInt(f.Text, 10, 64)
	if err != nil {
		return 0, sqlstate.Newf(sqlstate.InvalidTextRepr, "column %s: %q is not an integer", f.Name, f.Text)
	}
	return n, nil
}

// Float parses the field as a float. NULL reads as zero.
func (f Field) Float() (float64, error) {
	if f.Null {
		return 0, nil
	}
	v, err := strconv.ParseFloat(f.Text, 64)
	if err != nil {
		return 0, sqlstate.Newf(sqlstate.InvalidTextRepr, "column %s: %q is not a number", f.Name, f.Text)
	}
	return v, nil
}

// Bool parses the field as a boolean. NULL reads as false.
func (f Field) Bool() (bool, error) {
	if f.Null {
		return false, nil
	}
	switch f.Text {
	case "1", "t", "T", "true", "TRUE", "True":
		return true, nil
	case "0", "f", "F", "false", "FALSE", "False", "":
		return false, nil
	}
	return false, sqlstate.Newf(sqlstate.InvalidTextRepr, "column %s: %q is not a boolean", f.Name, f.Text)
}

var timeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.999999999",
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02",
}

// Time parses the field as a timestamp in one of the layouts the bundled
// backends emit. Values without a zone are read in local time. NULL reads
// as the zero time, and so do MySQL's zero dates and the empty string.
func (f Field) Time() (time.Time, error) {
	switch f.Text {
	case "", "0000-00-00", "0000-00-00 00:00:00":
		return time.Time{}, nil
	}
	if f.Null {
		return time.Time{}, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, f.Text, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, sqlstate.Newf(sqlstate.InvalidTextRepr, "column %s: %q is not a timestamp", f.Name, f.Text)
}

// Row is one fetched row, aligned with the statement's columns.
type Row []Field

// Get returns the first field named name.
func (r Row) Get(name string) (Field, bool) {
	for _, f := range r {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Map returns the row as column name to native value.
func (r Row) Map() map[string]any {
	m := make(map[string]any, len(r))
	for _, f := range r {
		m[f.Name] = f.Native()
	}
	return m
}

// Result is a fully fetched row-set.
type Result []Row

// Columns returns the column names of the first row.
func (r Result) Columns() []string {
	if len(r) == 0 {
		return nil
	}
	names := make([]string, len(r[0]))
	for i, f := range r[0] {
		names[i] = f.Name
	}
	return names
}
