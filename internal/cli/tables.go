package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/parlapi/internal/resource"
	"github.com/roach88/parlapi/internal/schema"
)

// TableInfo describes one catalog resource.
type TableInfo struct {
	Resource   string        `json:"resource"`
	Table      string        `json:"table"`
	Kind       schema.Kind   `json:"kind"`
	Columns    []string      `json:"columns"`
	Returning  []string      `json:"returning,omitempty"`
	ReadOnly   []string      `json:"readonly,omitempty"`
	Operations []resource.Op `json:"operations"`
}

// NewTablesCommand creates the tables command.
func NewTablesCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "tables",
		Short:         "List the catalog's resources",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTables(rootOpts, cmd)
		},
	}
}

func runTables(opts *RootOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	a, err := loadApp(opts, cmd)
	if err != nil {
		return f.Fail("startup", err)
	}

	infos := make([]TableInfo, len(a.catalog.Entries))
	for i, e := range a.catalog.Entries {
		infos[i] = TableInfo{
			Resource:   e.Resource,
			Table:      e.Table.Name,
			Kind:       e.Table.Kind,
			Columns:    e.Table.ColumnNames(),
			Returning:  e.Table.Returning,
			ReadOnly:   e.Table.ReadOnly,
			Operations: e.Ops,
		}
	}
	if f.Format == "json" {
		return f.Success(infos)
	}

	tw := tabwriter.NewWriter(f.Writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RESOURCE\tTABLE\tKIND\tOPERATIONS")
	for _, info := range infos {
		ops := make([]string, len(info.Operations))
		for i, op := range info.Operations {
			ops[i] = string(op)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", info.Resource, info.Table, info.Kind, strings.Join(ops, ","))
		if opts.Verbose {
			fmt.Fprintf(tw, "\t  %s\t\t\n", strings.Join(info.Columns, ", "))
		}
	}
	return tw.Flush()
}
