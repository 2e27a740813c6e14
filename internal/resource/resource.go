// Package resource is the contract the HTTP front controller and feed
// updaters talk to: named resources with up to four CRUD operations, resolved
// through a registry populated at startup.
package resource

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/parlapi/internal/querysql"
	"github.com/roach88/parlapi/internal/schema"
	"github.com/roach88/parlapi/internal/store"
	"github.com/roach88/parlapi/internal/table"
	"github.com/roach88/parlapi/internal/temporal"
)

var (
	// ErrNotFound reports an unknown resource or, from ReadOne, no matching row.
	ErrNotFound = errors.New("not found")
	// ErrUnsupported reports an operation the resource does not offer.
	ErrUnsupported = errors.New("operation not supported")
)

// Op is one of the four resource operations.
type Op string

const (
	OpRead   Op = "read"
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// AllOps lists every operation in canonical order.
var AllOps = []Op{OpRead, OpCreate, OpUpdate, OpDelete}

// ParseOp parses an operation name.
func ParseOp(s string) (Op, error) {
	for _, op := range AllOps {
		if strings.EqualFold(s, string(op)) {
			return op, nil
		}
	}
	return "", fmt.Errorf("unknown operation %q", s)
}

// Resource is one logical table exposed by name.
type Resource interface {
	Name() string
	Ops() []Op
	Read(ctx context.Context, filter querysql.Params) ([]store.Row, error)
	Create(ctx context.Context, rows ...querysql.Params) (table.Result, error)
	Update(ctx context.Context, filter, data querysql.Params) (table.Result, error)
	Delete(ctx context.Context, filter querysql.Params) (table.Result, error)
}

// Binder is implemented by resources that can run on a caller's executor, so
// several calls share one transaction.
type Binder interface {
	On(ex *store.Executor) Resource
}

// Described is implemented by resources backed by one table descriptor.
type Described interface {
	Table() *schema.Table
}

// Versioned is implemented by attribute resources that maintain histories.
type Versioned interface {
	Apply(ctx context.Context, f temporal.Fact) (temporal.Outcome, error)
}

// Bind returns res bound to ex when it supports binding, res otherwise.
func Bind(res Resource, ex *store.Executor) Resource {
	if b, ok := res.(Binder); ok {
		return b.On(ex)
	}
	return res
}

// ReadOne returns the first row matching filter, or ErrNotFound.
func ReadOne(ctx context.Context, res Resource, filter querysql.Params) (store.Row, error) {
	var f querysql.Params
	if d, ok := res.(Described); ok {
		f = NormalizeFor(d.Table(), filter)
	} else {
		f = Normalize(filter)
	}
	f[querysql.LimitKey] = int64(1)
	rows, err := res.Read(ctx, f)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s: %w", res.Name(), ErrNotFound)
	}
	return rows[0], nil
}

// Normalize applies the parameter key conventions: ordinary keys are columns,
// _limit, _offset and _datetime pass through, a bare datetime is an alias of
// _datetime, and any other key starting with an underscore is dropped. The
// input is not modified.
func Normalize(params querysql.Params) querysql.Params {
	return NormalizeFor(nil, params)
}

// NormalizeFor is Normalize for a resource backed by t. A column named
// datetime declared by t is kept as a column instead of aliasing _datetime.
func NormalizeFor(t *schema.Table, params querysql.Params) querysql.Params {
	out := make(querysql.Params, len(params))
	for k, v := range params {
		switch {
		case k == querysql.LimitKey, k == querysql.OffsetKey, k == querysql.DatetimeKey:
			out[k] = v
		case strings.HasPrefix(k, "_"):
		default:
			out[k] = v
		}
	}
	if t != nil && t.Allows(datetimeAlias) {
		return out
	}
	if v, ok := params[datetimeAlias]; ok {
		if _, explicit := params[querysql.DatetimeKey]; !explicit {
			out[querysql.DatetimeKey] = v
		}
		delete(out, datetimeAlias)
	}
	return out
}

const datetimeAlias = "datetime"
