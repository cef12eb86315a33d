package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/shrek82/dbo/core"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or revert NNN_name.up.sql / NNN_name.down.sql migrations",
	}
	cmd.PersistentFlags().String("dir", "migrations", "directory holding the migration files")

	load := func(cmd *cobra.Command) (*core.Migrator, []*core.Migration, error) {
		dir, _ := cmd.Flags().GetString("dir")
		migs, err := core.LoadMigrations(os.DirFS(dir))
		if err != nil {
			return nil, nil, err
		}
		return core.NewMigrator(dbFrom(cmd)), migs, nil
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply every pending migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, migs, err := load(cmd)
			if err != nil {
				return err
			}
			n, err := m.Migrate(migs...)
			fmt.Fprintf(cmd.OutOrStdout(), "%d migrations applied\n", n)
			return err
		},
	}

	down := &cobra.Command{
		Use:   "down",
		Short: "Revert the last applied migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, migs, err := load(cmd)
			if err != nil {
				return err
			}
			mig, err := m.RollbackLast(migs)
			if err != nil {
				return err
			}
			if mig == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "nothing to revert")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reverted %03d_%s\n", mig.Version, mig.Description)
			return nil
		},
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Show which migrations are applied",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, migs, err := load(cmd)
			if err != nil {
				return err
			}
			if err := m.Init(); err != nil {
				return err
			}
			applied := make(map[int]bool)
			for _, v := range m.Applied() {
				applied[v] = true
			}
			res := make(core.Result, 0, len(migs))
			for _, mig := range migs {
				state := "pending"
				if applied[mig.Version] {
					state = "applied"
				}
				res = append(res, core.Row{
					{Name: "version", Text: strconv.Itoa(mig.Version)},
					{Name: "description", Text: mig.Description},
					{Name: "status", Text: state},
				})
			}
			return render(cmd.OutOrStdout(), outputFormat(cmd), []string{"version", "description", "status"}, res)
		},
	}

	cmd.AddCommand(up, down, status)
	return cmd
}
