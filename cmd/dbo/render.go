package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/shrek82/dbo/core"
	"github.com/shrek82/dbo/dialect"
)

const nullText = "NULL"

func render(w io.Writer, format string, cols []string, res core.Result) error {
	switch format {
	case "json":
		rows := make([]map[string]any, len(res))
		for i, r := range res {
			rows[i] = r.Map()
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	case "csv":
		fmt.Fprintln(w, strings.Join(cols, ","))
		for _, r := range res {
			values := make([]string, len(r))
			for i, f := range r {
				values[i] = escapeCSV(fieldText(f))
			}
			fmt.Fprintln(w, strings.Join(values, ","))
		}
		return nil
	case "", "table":
		return renderTable(w, cols, res)
	}
	return fmt.Errorf("unknown output format %q", format)
}

func renderTable(w io.Writer, cols []string, res core.Result) error {
	if len(res) == 0 {
		fmt.Fprintln(w, "(0 rows)")
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)

	header := make(table.Row, len(cols))
	for i, c := range cols {
		header[i] = c
	}
	t.AppendHeader(header)
	for _, r := range res {
		row := make(table.Row, len(r))
		for i, f := range r {
			row[i] = fieldText(f)
		}
		t.AppendRow(row)
	}
	t.Render()
	fmt.Fprintf(w, "(%d rows)\n", len(res))
	return nil
}

func renderColumns(w io.Writer, format string, cols []dialect.Column) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(cols)
	}
	names := []string{"column", "kind", "native type", "length", "precision"}
	res := make(core.Result, len(cols))
	for i, c := range cols {
		res[i] = core.Row{
			{Text: c.Name},
			{Text: c.Kind.String()},
			{Text: c.NativeType},
			{Text: strconv.FormatInt(c.Len, 10)},
			{Text: strconv.FormatInt(c.Precision, 10)},
		}
	}
	return render(w, format, names, res)
}

func fieldText(f core.Field) string {
	if f.Null {
		return nullText
	}
	return f.Text
}

func escapeCSV(s string) string {
	if strings.ContainsAny(s, ",\"\n") {
		return "\"" + strings.ReplaceAll(s, "\"", "\"\"") + "\""
	}
	return s
}
