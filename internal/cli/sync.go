package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/parlapi/internal/feed"
	"github.com/roach88/parlapi/internal/logging"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	Role    string
	Migrate bool
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{}

	cmd := &cobra.Command{
		Use:   "sync <feed.yaml>...",
		Short: "Apply scraper feeds",
		Long: `Apply YAML feed documents produced by a scraper. Each document is applied in
its own transaction: entity rows are created or updated, attribute facts are
versioned (unchanged values are left alone, changed values close the old row
and open a new one).`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(rootOpts, opts, cmd, args)
		},
	}

	cmd.Flags().StringVar(&opts.Role, "role", "", "database role to write as")
	cmd.Flags().BoolVar(&opts.Migrate, "migrate", false, "create missing tables first")

	return cmd
}

func runSync(rootOpts *RootOptions, opts *SyncOptions, cmd *cobra.Command, paths []string) error {
	f := rootOpts.formatter(cmd)
	a, err := openApp(rootOpts, cmd)
	if err != nil {
		return f.Fail("startup", err)
	}
	defer a.Close()

	ctx := cmd.Context()
	if opts.Migrate {
		if err := a.db.Migrate(ctx, a.catalog.Tables()); err != nil {
			return f.Fail("migrate", err)
		}
	}

	applier := feed.NewApplier(a.db, a.registry, logging.Component(a.log, "feed"))
	if opts.Role != "" {
		reg, err := a.buildRegistry(opts.Role)
		if err != nil {
			return f.Fail("building resources", err)
		}
		applier = feed.NewApplier(a.db, reg, logging.Component(a.log, "feed")).WithRole(opts.Role)
	}

	var reports []*feed.Report
	for _, path := range paths {
		feeds, err := feed.Load(path)
		if err != nil {
			return f.Fail("sync", err)
		}
		for _, doc := range feeds {
			report, err := applier.Apply(ctx, doc)
			if err != nil {
				return f.Fail("sync "+path, err)
			}
			reports = append(reports, report)
		}
		f.VerboseLog("%s: %d document(s)", path, len(feeds))
	}

	if f.Format == "json" {
		return f.Success(reports)
	}
	for _, r := range reports {
		fmt.Fprintf(f.Writer, "✓ %s: %d created, %d updated, %d unchanged%s\n",
			r.Source, r.Created, r.Updated, r.Unchanged, factsText(r.Facts))
	}
	return nil
}

func factsText(facts map[string]int) string {
	if len(facts) == 0 {
		return ""
	}
	names := make([]string, 0, len(facts))
	for name := range facts {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s=%d", name, facts[name])
	}
	return "; facts " + strings.Join(parts, " ")
}
