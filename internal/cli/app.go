package cli

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/roach88/parlapi/internal/catalog"
	"github.com/roach88/parlapi/internal/config"
	"github.com/roach88/parlapi/internal/logging"
	"github.com/roach88/parlapi/internal/resource"
	"github.com/roach88/parlapi/internal/store"
)

// app is what a command needs at run time: config, logger, catalog and,
// once connected, the database and the resource registry built on it.
type app struct {
	cfg      *config.Config
	log      zerolog.Logger
	catalog  *catalog.Catalog
	db       *store.DB
	registry *resource.Registry
	metrics  *prometheus.Registry
}

// loadApp reads the config and the catalog without touching the database.
func loadApp(opts *RootOptions, cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, startupError(ErrCodeConfig, "loading config", err)
	}
	if opts.Verbose {
		cfg.Log.Level = "debug"
	}
	cfg.Log.Output = cmd.ErrOrStderr()

	var cat *catalog.Catalog
	if cfg.Catalog == "" {
		cat, err = catalog.Default()
	} else {
		cat, err = catalog.LoadDir(cfg.Catalog)
	}
	if err != nil {
		return nil, startupError(ErrCodeConfig, "loading catalog", err)
	}

	return &app{
		cfg:     cfg,
		log:     logging.New(cfg.Log),
		catalog: cat,
		metrics: prometheus.NewRegistry(),
	}, nil
}

// openApp is loadApp plus a database connection and the default-role
// registry.
func openApp(opts *RootOptions, cmd *cobra.Command) (*app, error) {
	a, err := loadApp(opts, cmd)
	if err != nil {
		return nil, err
	}

	storeCfg := a.cfg.Store()
	storeCfg.Metrics = store.NewMetrics(a.metrics)
	storeCfg.Logger = &a.log
	a.db, err = store.Open(storeCfg)
	if err != nil {
		return nil, startupError(ErrCodeDatabase, "opening database", err)
	}

	a.registry, err = a.buildRegistry(store.DefaultRole)
	if err != nil {
		a.db.Close()
		return nil, startupError(ErrCodeConfig, "building resources", err)
	}
	return a, nil
}

func (a *app) buildRegistry(role string) (*resource.Registry, error) {
	return catalog.Build(a.db, a.catalog, catalog.BuildOptions{
		Role:   role,
		Logger: logging.Component(a.log, "resource"),
	})
}

func (a *app) Close() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}

func startupError(code, message string, err error) *ExitError {
	e := WrapExitError(ExitCommandError, message, err)
	e.ErrCode = code
	return e
}
