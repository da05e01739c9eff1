package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/strata-orm/strata/migrate"
)

func newStatusCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current migration state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			drv, err := root.open()
			if err != nil {
				return err
			}
			defer drv.Close()
			m, err := migrate.NewMigrator(drv, root.Registry)
			if err != nil {
				return err
			}
			current, err := m.Current(cmd.Context())
			if err != nil {
				return err
			}
			if current == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "no migrations applied")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "current version:", current)
			return nil
		},
	}
}

func newUpCommand(root *rootOptions) *cobra.Command {
	var to string
	cmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			drv, err := root.open()
			if err != nil {
				return err
			}
			defer drv.Close()
			m, err := migrate.NewMigrator(drv, root.Registry)
			if err != nil {
				return err
			}
			var targets []string
			if to != "" {
				targets = append(targets, to)
			}
			changed, err := m.Up(cmd.Context(), targets...)
			if err != nil {
				return err
			}
			if !changed {
				fmt.Fprintln(cmd.OutOrStdout(), "already up to date")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "stop after this version")
	return cmd
}

func newDownCommand(root *rootOptions) *cobra.Command {
	var to string
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Revert migrations (one by default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			drv, err := root.open()
			if err != nil {
				return err
			}
			defer drv.Close()
			m, err := migrate.NewMigrator(drv, root.Registry)
			if err != nil {
				return err
			}
			var targets []string
			if to != "" {
				targets = append(targets, to)
			}
			changed, err := m.Down(cmd.Context(), targets...)
			if err != nil {
				return err
			}
			if !changed {
				fmt.Fprintln(cmd.OutOrStdout(), "nothing to revert")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "revert down to (but not including) this version")
	return cmd
}

func newGenerateCommand(root *rootOptions) *cobra.Command {
	var version string
	cmd := &cobra.Command{
		Use:   "generate <name>",
		Short: "Generate a migration unit from the schema diff",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(root.Tables) == 0 {
				return fmt.Errorf("strata: no desired tables wired into this binary; build your own entrypoint with cli.Execute and pass Options.Tables")
			}
			drv, err := root.open()
			if err != nil {
				return err
			}
			defer drv.Close()
			path, err := migrate.Generate(cmd.Context(), drv, root.Tables, migrate.GenOptions{
				Dir:     root.cfg.Dir,
				Package: root.cfg.Package,
				Name:    args[0],
				Version: version,
			})
			if err != nil {
				return err
			}
			if path == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "no schema changes detected")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "wrote", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&version, "version", "", "override the generated version (defaults to UTC timestamp)")
	return cmd
}
