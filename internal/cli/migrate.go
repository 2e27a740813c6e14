package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// MigrateResult is the JSON payload of the migrate command.
type MigrateResult struct {
	Driver string   `json:"driver"`
	Tables []string `json:"tables"`
}

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the catalog's tables",
		Long: `Create every catalog table and its lookup index if missing. Existing tables
are left untouched, so running it twice is safe.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(rootOpts, cmd)
		},
	}
}

func runMigrate(opts *RootOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	a, err := openApp(opts, cmd)
	if err != nil {
		return f.Fail("startup", err)
	}
	defer a.Close()

	tables := a.catalog.Tables()
	if err := a.db.Migrate(cmd.Context(), tables); err != nil {
		return f.Fail("migrate", err)
	}

	result := MigrateResult{Driver: string(a.db.Dialect())}
	for _, t := range tables {
		result.Tables = append(result.Tables, t.Name)
	}
	if f.Format == "json" {
		return f.Success(result)
	}
	fmt.Fprintf(f.Writer, "✓ %d table(s) ready (%s)\n", len(result.Tables), result.Driver)
	for _, name := range result.Tables {
		f.VerboseLog("  %s", name)
	}
	return nil
}
