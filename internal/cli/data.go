package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/parlapi/internal/httpapi"
	"github.com/roach88/parlapi/internal/querysql"
	"github.com/roach88/parlapi/internal/resource"
)

const filterHelp = `Filters are column=value arguments; the configured null token (default \N)
matches NULL. _limit, _offset and _datetime (or datetime) are honoured.`

// NewReadCommand creates the read command.
func NewReadCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "read <resource> [column=value...]",
		Short: "Read rows of a resource",
		Long: `Read the rows of a resource matching every filter.

` + filterHelp,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withResource(rootOpts, cmd, args[0], func(a *app, res resource.Resource, f *OutputFormatter) error {
				filter, err := parseFilter(args[1:], a.cfg.HTTP.NullToken)
				if err != nil {
					return f.Fail("read "+args[0], err)
				}
				rows, err := res.Read(cmd.Context(), filter)
				if err != nil {
					return f.Fail("read "+args[0], err)
				}
				var columns []string
				if d, ok := res.(resource.Described); ok {
					columns = d.Table().ColumnNames()
				}
				return f.Rows(columns, rows, a.cfg.HTTP.NullToken)
			})
		},
	}
}

// NewCreateCommand creates the create command.
func NewCreateCommand(rootOpts *RootOptions) *cobra.Command {
	var data string

	cmd := &cobra.Command{
		Use:   "create <resource>",
		Short: "Create rows of a resource",
		Long: `Create one row (a JSON object) or several rows (a JSON array) in a single
transaction. Data comes from --data, or from stdin when --data is "-" or empty.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withResource(rootOpts, cmd, args[0], func(a *app, res resource.Resource, f *OutputFormatter) error {
				rows, err := httpapi.DecodeRows(dataReader(cmd, data))
				if err != nil {
					return f.Fail("create "+args[0], err)
				}
				result, err := res.Create(cmd.Context(), rows...)
				if err != nil {
					return f.Fail("create "+args[0], err)
				}
				return f.Result("created", result)
			})
		},
	}

	cmd.Flags().StringVarP(&data, "data", "d", "", "JSON object or array of objects (- reads stdin)")
	return cmd
}

// NewUpdateCommand creates the update command.
func NewUpdateCommand(rootOpts *RootOptions) *cobra.Command {
	var data string

	cmd := &cobra.Command{
		Use:   "update <resource> [column=value...]",
		Short: "Update rows of a resource",
		Long: `Set the columns of --data (a JSON object) on every row matching the filters.

` + filterHelp,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withResource(rootOpts, cmd, args[0], func(a *app, res resource.Resource, f *OutputFormatter) error {
				filter, err := parseFilter(args[1:], a.cfg.HTTP.NullToken)
				if err != nil {
					return f.Fail("update "+args[0], err)
				}
				values, err := httpapi.DecodeObject(dataReader(cmd, data))
				if err != nil {
					return f.Fail("update "+args[0], err)
				}
				result, err := res.Update(cmd.Context(), filter, values)
				if err != nil {
					return f.Fail("update "+args[0], err)
				}
				return f.Result("updated", result)
			})
		},
	}

	cmd.Flags().StringVarP(&data, "data", "d", "", "JSON object of columns to set (- reads stdin)")
	return cmd
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "delete <resource> [column=value...]",
		Short: "Delete rows of a resource",
		Long: `Delete every row matching the filters. Deleting without a filter requires
--all.

` + filterHelp,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withResource(rootOpts, cmd, args[0], func(a *app, res resource.Resource, f *OutputFormatter) error {
				filter, err := parseFilter(args[1:], a.cfg.HTTP.NullToken)
				if err != nil {
					return f.Fail("delete "+args[0], err)
				}
				if len(filter) == 0 && !all {
					return f.Fail("delete "+args[0], NewExitError(ExitFailure, "refusing to delete every row without --all"))
				}
				result, err := res.Delete(cmd.Context(), filter)
				if err != nil {
					return f.Fail("delete "+args[0], err)
				}
				return f.Result("deleted", result)
			})
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "allow deleting without a filter")
	return cmd
}

// withResource opens the database, resolves name and runs fn.
func withResource(opts *RootOptions, cmd *cobra.Command, name string, fn func(*app, resource.Resource, *OutputFormatter) error) error {
	f := opts.formatter(cmd)
	a, err := openApp(opts, cmd)
	if err != nil {
		return f.Fail("startup", err)
	}
	defer a.Close()

	res, err := a.registry.Lookup(name)
	if err != nil {
		return f.Fail("lookup", err)
	}
	f.VerboseLog("resource %s, operations %v", res.Name(), res.Ops())
	return fn(a, res, f)
}

// parseFilter turns column=value arguments into a filter.
func parseFilter(args []string, nullToken string) (querysql.Params, error) {
	filter := make(querysql.Params, len(args))
	for _, arg := range args {
		col, value, ok := strings.Cut(arg, "=")
		if !ok || col == "" {
			return nil, &ArgError{Arg: arg, Message: "expected column=value"}
		}
		if value == nullToken {
			filter[col] = nil
		} else {
			filter[col] = value
		}
	}
	return filter, nil
}

// ArgError reports a malformed command argument.
type ArgError struct {
	Arg     string
	Message string
}

func (e *ArgError) Error() string {
	return fmt.Sprintf("argument %q: %s", e.Arg, e.Message)
}

func dataReader(cmd *cobra.Command, data string) io.Reader {
	if data == "" || data == "-" {
		return cmd.InOrStdin()
	}
	return strings.NewReader(data)
}
