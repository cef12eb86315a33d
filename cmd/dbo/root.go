package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shrek82/dbo/config"
	"github.com/shrek82/dbo/core"
	"github.com/shrek82/dbo/dialect"
	"github.com/shrek82/dbo/sqlstate"
)

type dbKey struct{}

func newRootCmd() *cobra.Command {
	var cfgFile string
	root := &cobra.Command{
		Use:           "dbo",
		Short:         "Run SQL against sqlite, pgsql or mysql through the dbo core",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "drivers" {
				return nil
			}
			cfg, err := config.Load(cfgFile, cmd.Root().PersistentFlags())
			if err != nil {
				return err
			}
			db, err := cfg.Open(nil)
			if err != nil {
				return err
			}
			cmd.SetContext(context.WithValue(cmd.Context(), dbKey{}, db))
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if db, ok := cmd.Context().Value(dbKey{}).(*core.DB); ok {
				return db.Close()
			}
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&cfgFile, "config", "c", "", "YAML config file")
	pf.String("dsn", "", "data source name, e.g. sqlite:app.db or pgsql:host=localhost;dbname=app")
	pf.StringP("username", "u", "", "user name")
	pf.StringP("password", "p", "", "password")
	pf.String("error-mode", "", "silent, warning or exception")
	pf.String("case", "", "column name case: natural, upper or lower")
	pf.String("nulls", "", "null handling: natural, empty_string or to_string")
	pf.Bool("emulate-prepares", false, "inline parameters client side")
	pf.Int("timeout", 0, "connect timeout in seconds")
	pf.String("log-level", "", "silent, error, warn, info or debug")
	pf.String("log-format", "", "text or json")
	pf.StringP("output", "o", "table", "table, json or csv")

	root.AddCommand(newExecCmd(), newQueryCmd(), newDescribeCmd(), newTablesCmd(), newMigrateCmd(), newDriversCmd())
	return root
}

func dbFrom(cmd *cobra.Command) *core.DB {
	return cmd.Context().Value(dbKey{}).(*core.DB)
}

func outputFormat(cmd *cobra.Command) string {
	f, _ := cmd.Flags().GetString("output")
	return f
}

func newExecCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "exec SQL",
		Short: "Execute a statement and print the affected row count",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db := dbFrom(cmd)
			n, err := db.Exec(args[0])
			if err != nil {
				return err
			}
			if n < 0 {
				return db.Err()
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d rows affected\n", n)
			return nil
		},
	}
}

// bindArgs turns name=value arguments into named parameters and anything
// else into positional ones.
func bindArgs(raw []string) []any {
	out := make([]any, 0, len(raw))
	for _, a := range raw {
		if name, v, ok := strings.Cut(a, "="); ok && strings.HasPrefix(name, ":") {
			out = append(out, core.Named(name, v))
			continue
		}
		out = append(out, a)
	}
	return out
}

func newQueryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "query SQL [ARG...]",
		Short: "Run a query and print every row-set it returns",
		Long: `Run a query and print every row-set it returns.

Arguments bind to the query's placeholders: ":name=value" binds a named
parameter, anything else binds the next positional one.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db := dbFrom(cmd)
			s, err := db.Prepare(args[0])
			if err != nil {
				return err
			}
			if s == nil {
				return db.Err()
			}
			defer s.Close()

			if err := s.Execute(bindArgs(args[1:])...); err != nil {
				return err
			}
			if err := s.Err(); err != nil {
				return err
			}
			for {
				res, err := s.FetchAll()
				if err != nil {
					return err
				}
				if s.ColumnCount() > 0 {
					if err := render(cmd.OutOrStdout(), outputFormat(cmd), columnNames(s), res); err != nil {
						return err
					}
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "%d rows affected\n", s.RowCount())
				}
				more, err := s.NextRowset()
				if err != nil && sqlstate.CodeOf(err) != sqlstate.DriverNotCapable {
					return err
				}
				if !more {
					return nil
				}
			}
		},
	}
}

func columnNames(s *core.Statement) []string {
	cols := s.Columns()
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names
}

func newDescribeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "describe TABLE|SQL",
		Short: "Print the columns a table or query produces",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db := dbFrom(cmd)
			q := args[0]
			if !strings.ContainsAny(strings.TrimSpace(q), " \t\n") {
				q = "SELECT * FROM " + q + " WHERE 1=0"
			}
			s, err := db.Query(q)
			if err != nil {
				return err
			}
			if s == nil {
				return db.Err()
			}
			defer s.Close()

			n := s.ColumnCount()
			cols := make([]dialect.Column, 0, n)
			for i := 0; i < n; i++ {
				c, err := s.ColumnMeta(i)
				if err != nil {
					return err
				}
				cols = append(cols, *c)
			}
			return renderColumns(cmd.OutOrStdout(), outputFormat(cmd), cols)
		},
	}
}

// tableQueries lists user tables per backend.
var tableQueries = map[string]string{
	"sqlite": "SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%' ORDER BY name",
	"mysql":  "SHOW TABLES",
	"pgsql":  "SELECT tablename FROM pg_catalog.pg_tables WHERE schemaname != 'pg_catalog' AND schemaname != 'information_schema' ORDER BY tablename",
}

func newTablesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "List the tables of the connected database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db := dbFrom(cmd)
			q, ok := tableQueries[db.DriverName()]
			if !ok {
				return fmt.Errorf("listing tables is not supported for driver %s", db.DriverName())
			}
			res, err := db.Select(q)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), outputFormat(cmd), []string{"table"}, res)
		},
	}
}

func newDriversCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "drivers",
		Short: "List the registered driver names",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, name := range dialect.Drivers() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}
