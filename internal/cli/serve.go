package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/parlapi/internal/httpapi"
	"github.com/roach88/parlapi/internal/logging"
	"github.com/roach88/parlapi/internal/resource"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	Listen  string
	Migrate bool
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long: `Serve GET/POST/PUT/DELETE /{project}/{resource} for every catalog resource
until interrupted. Reads run as http.read_role when one is configured.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(rootOpts, opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Listen, "listen", "l", "", "listen address (overrides http.listen)")
	cmd.Flags().BoolVar(&opts.Migrate, "migrate", false, "create missing tables before serving")

	return cmd
}

func runServe(rootOpts *RootOptions, opts *ServeOptions, cmd *cobra.Command) error {
	f := rootOpts.formatter(cmd)
	a, err := openApp(rootOpts, cmd)
	if err != nil {
		return f.Fail("startup", err)
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.Migrate {
		if err := a.db.Migrate(ctx, a.catalog.Tables()); err != nil {
			return f.Fail("migrate", err)
		}
	}

	var readRegistry *resource.Registry
	if role := a.cfg.HTTP.ReadRole; role != "" {
		if readRegistry, err = a.buildRegistry(role); err != nil {
			return f.Fail("building read resources", err)
		}
	}

	listen := a.cfg.HTTP.Listen
	if opts.Listen != "" {
		listen = opts.Listen
	}
	cfg := httpapi.Config{
		Listen:       listen,
		Registry:     a.registry,
		ReadRegistry: readRegistry,
		NullToken:    a.cfg.HTTP.NullToken,
		Project:      a.cfg.HTTP.Project,
		Logger:       logging.Component(a.log, "http"),
	}
	if a.cfg.HTTP.Metrics {
		cfg.Metrics = httpapi.NewMetrics(a.metrics)
		cfg.Gatherer = a.metrics
	}
	srv, err := httpapi.New(cfg)
	if err != nil {
		return f.Fail("startup", err)
	}

	f.VerboseLog("serving %d resource(s) on %s", a.registry.Len(), srv.Addr())
	if err := srv.Serve(ctx); err != nil {
		return f.Fail("serve", err)
	}
	return nil
}
