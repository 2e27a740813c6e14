package catalog

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/roach88/parlapi/internal/querysql"
	"github.com/roach88/parlapi/internal/resource"
	"github.com/roach88/parlapi/internal/schema"
	"github.com/roach88/parlapi/internal/store"
	"github.com/roach88/parlapi/internal/table"
	"github.com/roach88/parlapi/internal/temporal"
)

// BuildOptions tunes the resources created by Build.
type BuildOptions struct {
	// Role is the database role every resource runs as.
	Role string
	// Now is the clock used for "now" and for facts without an effective time.
	Now    func() time.Time
	Logger zerolog.Logger
}

// Build creates one resource per catalog entry and registers it.
func Build(db *store.DB, cat *Catalog, opts BuildOptions) (*resource.Registry, error) {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	tableOpts := []table.Option{
		table.WithRole(opts.Role),
		table.WithBuilder(&querysql.Builder{Now: now}),
	}

	reg := resource.NewRegistry()
	for _, e := range cat.Entries {
		var res resource.Resource
		if e.Table.Kind == schema.KindAttribute {
			attrs, err := table.NewAttribute(db, e.Table, tableOpts...)
			if err != nil {
				return nil, err
			}
			v := temporal.New(db, attrs,
				temporal.WithRole(opts.Role),
				temporal.WithClock(now),
				temporal.WithLogger(opts.Logger.With().Str("table", e.Table.Name).Logger()),
			)
			res = resource.NewAttribute(e.Resource, attrs, v, e.Ops...)
		} else {
			entity, err := table.NewEntity(db, e.Table, tableOpts...)
			if err != nil {
				return nil, err
			}
			res = resource.NewTable(e.Resource, entity, e.Ops...)
		}
		if err := reg.Register(res); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
