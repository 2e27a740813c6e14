package feed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/roach88/parlapi/internal/querysql"
	"github.com/roach88/parlapi/internal/resource"
	"github.com/roach88/parlapi/internal/store"
	"github.com/roach88/parlapi/internal/temporal"
)

// Report counts what applying a feed changed.
type Report struct {
	Source    string         `json:"source"`
	Created   int            `json:"created"`
	Updated   int            `json:"updated"`
	Unchanged int            `json:"unchanged"`
	Facts     map[string]int `json:"facts"`
}

func (r *Report) fact(o temporal.Outcome) {
	if r.Facts == nil {
		r.Facts = make(map[string]int)
	}
	r.Facts[o.String()]++
}

// ErrKeyMissing reports a keyed row whose data lacks a key column.
var ErrKeyMissing = errors.New("key column missing from data")

// Applier writes feeds through a resource registry.
type Applier struct {
	db   *store.DB
	reg  *resource.Registry
	role string
	log  zerolog.Logger
}

// NewApplier creates an Applier running as the default role.
func NewApplier(db *store.DB, reg *resource.Registry, log zerolog.Logger) *Applier {
	return &Applier{db: db, reg: reg, role: store.DefaultRole, log: log}
}

// WithRole returns a copy of a running as role.
func (a *Applier) WithRole(role string) *Applier {
	c := *a
	c.role = role
	return &c
}

// Apply writes one feed in a single transaction: either every row and fact
// of the document is applied or none is.
func (a *Applier) Apply(ctx context.Context, f *Feed) (*Report, error) {
	ex, err := a.db.Executor(a.role)
	if err != nil {
		return nil, err
	}
	defer ex.Close()

	report := &Report{Source: f.Source}
	err = store.WithTransaction(ctx, ex, func(ex *store.Executor) error {
		for i, row := range f.Rows {
			if err := a.applyRow(ctx, ex, row, report); err != nil {
				return fmt.Errorf("rows[%d] %s: %w", i, row.Resource, err)
			}
		}
		for i, fact := range f.Facts {
			if err := a.applyFact(ctx, ex, f, fact, report); err != nil {
				return fmt.Errorf("facts[%d] %s.%s: %w", i, fact.Resource, fact.Name, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("feed %s: %w", f.Source, err)
	}

	a.log.Info().
		Str("source", f.Source).
		Int("created", report.Created).
		Int("updated", report.Updated).
		Int("unchanged", report.Unchanged).
		Interface("facts", report.Facts).
		Msg("feed applied")
	return report, nil
}

func (a *Applier) applyRow(ctx context.Context, ex *store.Executor, row Row, report *Report) error {
	res, err := a.reg.Lookup(row.Resource)
	if err != nil {
		return err
	}
	res = resource.Bind(res, ex)
	data := querysql.Params(row.Data)

	if len(row.Key) == 0 {
		if _, err := res.Create(ctx, data); err != nil {
			return err
		}
		report.Created++
		return nil
	}

	filter := make(querysql.Params, len(row.Key))
	for _, k := range row.Key {
		v, ok := data[k]
		if !ok {
			return fmt.Errorf("key column %s: %w", k, ErrKeyMissing)
		}
		filter[k] = v
	}
	existing, err := res.Read(ctx, filter)
	if err != nil {
		return err
	}
	switch len(existing) {
	case 0:
		if _, err := res.Create(ctx, data); err != nil {
			return err
		}
		report.Created++
	case 1:
		changed := changedColumns(existing[0], data, filter)
		if len(changed) == 0 {
			report.Unchanged++
			return nil
		}
		if _, err := res.Update(ctx, filter, changed); err != nil {
			return err
		}
		report.Updated++
	default:
		return fmt.Errorf("key %v matches %d rows", row.Key, len(existing))
	}
	return nil
}

func (a *Applier) applyFact(ctx context.Context, ex *store.Executor, f *Feed, fact Fact, report *Report) error {
	res, err := a.reg.Lookup(fact.Resource)
	if err != nil {
		return err
	}
	versioned, ok := resource.Bind(res, ex).(resource.Versioned)
	if !ok {
		return fmt.Errorf("%s: %w", fact.Resource, resource.ErrUnsupported)
	}

	effective := fact.Since
	if effective.IsZero() {
		effective = f.Effective
	}
	out, err := versioned.Apply(ctx, temporal.Fact{
		Entity:    querysql.Params(fact.Key),
		Name:      fact.Name,
		Lang:      fact.Lang,
		Value:     fact.Value,
		Effective: effective,
	})
	if err != nil {
		return err
	}
	report.fact(out)
	return nil
}

// changedColumns returns the data columns whose value differs from the
// stored row. Key columns and columns the row does not have are skipped.
func changedColumns(stored map[string]any, data, key querysql.Params) querysql.Params {
	changed := querysql.Params{}
	for col, v := range data {
		if _, isKey := key[col]; isKey {
			continue
		}
		old, ok := stored[col]
		if !ok {
			continue
		}
		if !sameScalar(old, v) {
			changed[col] = v
		}
	}
	return changed
}

var dateLayouts = []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02"}

func sameScalar(stored, v any) bool {
	if stored == nil || v == nil {
		return stored == nil && v == nil
	}
	if ts, ok := stored.(time.Time); ok {
		switch x := v.(type) {
		case time.Time:
			return ts.Equal(x)
		case string:
			for _, layout := range dateLayouts {
				if parsed, err := time.Parse(layout, x); err == nil {
					return ts.Equal(parsed)
				}
			}
		}
		return false
	}
	return fmt.Sprint(stored) == fmt.Sprint(v)
}
