// Package cli provides the strata command line interface. The stock binary
// under cmd/strata wires it to the default migration registry; projects with
// generated entities and migration units typically build their own entrypoint:
//
//	func main() {
//		cli.Execute(cli.Options{
//			Registry: migrate.DefaultRegistry(),
//			Tables:   mytables.All(),
//		})
//	}
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/strata-orm/strata/dialect"
	"github.com/strata-orm/strata/dialect/sql"
	"github.com/strata-orm/strata/migrate"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

// Options fixes the project-specific inputs of the CLI.
type Options struct {
	// Registry holds the project's migration units. Defaults to the
	// package-level registry generated units register into.
	Registry *migrate.Registry
	// Tables is the desired schema, used by the generate command.
	Tables []*migrate.Table
}

type rootOptions struct {
	Options
	ConfigFile string
	Dialect    string
	DSN        string
	Debug      bool

	cfg *Config
}

// NewRootCommand creates the root command.
func NewRootCommand(opts Options) *cobra.Command {
	if opts.Registry == nil {
		opts.Registry = migrate.DefaultRegistry()
	}
	root := &rootOptions{Options: opts}

	cmd := &cobra.Command{
		Use:           "strata",
		Short:         "Schema and migration manager",
		Long:          "Manages relational schemas and ordered, reversible migrations.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			explicit := cmd.Flags().Changed("config")
			cfg, err := LoadConfig(root.ConfigFile, explicit)
			if err != nil {
				return err
			}
			// Flags win over file values.
			if root.Dialect != "" {
				cfg.Dialect = root.Dialect
			}
			if root.DSN != "" {
				cfg.DSN = root.DSN
			}
			if root.Debug {
				cfg.Debug = true
			}
			root.cfg = cfg
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&root.ConfigFile, "config", DefaultConfigFile, "config file")
	cmd.PersistentFlags().StringVar(&root.Dialect, "dialect", "", "database dialect (mysql|sqlite)")
	cmd.PersistentFlags().StringVar(&root.DSN, "dsn", "", "database connection string")
	cmd.PersistentFlags().BoolVar(&root.Debug, "debug", false, "log executed statements")

	cmd.AddCommand(newStatusCommand(root))
	cmd.AddCommand(newUpCommand(root))
	cmd.AddCommand(newDownCommand(root))
	cmd.AddCommand(newGenerateCommand(root))

	return cmd
}

// Execute runs the CLI and exits the process on failure.
func Execute(opts Options) {
	if err := NewRootCommand(opts).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "strata:", err)
		os.Exit(1)
	}
}

// open connects using the resolved configuration.
func (r *rootOptions) open() (dialect.Driver, error) {
	switch r.cfg.Dialect {
	case dialect.MySQL, dialect.SQLite:
	case "":
		return nil, fmt.Errorf("strata: no dialect configured (set it in %s or pass --dialect)", DefaultConfigFile)
	default:
		return nil, fmt.Errorf("strata: unsupported dialect %q", r.cfg.Dialect)
	}
	if r.cfg.DSN == "" {
		return nil, fmt.Errorf("strata: no dsn configured")
	}
	drv, err := sql.Open(r.cfg.Dialect, r.cfg.DSN)
	if err != nil {
		return nil, err
	}
	if r.cfg.Debug {
		return dialect.Debug(drv), nil
	}
	return drv, nil
}
