// Package catalog declares the resources of an installation as data. A
// catalog is a set of CUE files describing tables; it is validated against an
// embedded schema and turned into table descriptors and a resource registry.
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/parlapi/internal/resource"
	"github.com/roach88/parlapi/internal/schema"
)

//go:embed schema.cue
var schemaSource string

//go:embed default.cue
var defaultSource string

// Entry is one declared resource.
type Entry struct {
	Resource string
	Table    *schema.Table
	Ops      []resource.Op
}

// Catalog is an ordered set of entries. Order follows declaration order so
// that DDL creates referenced tables first.
type Catalog struct {
	Entries []Entry
}

// Tables returns the table descriptors in declaration order.
func (c *Catalog) Tables() []*schema.Table {
	tables := make([]*schema.Table, len(c.Entries))
	for i, e := range c.Entries {
		tables[i] = e.Table
	}
	return tables
}

// Lookup returns the entry of a resource or table name.
func (c *Catalog) Lookup(name string) (Entry, bool) {
	for _, e := range c.Entries {
		if e.Resource == name || e.Table.Name == name {
			return e, true
		}
	}
	return Entry{}, false
}

// Error reports an invalid catalog declaration.
type Error struct {
	Table   string
	Field   string
	Message string
	Pos     token.Pos
}

func (e *Error) Error() string {
	where := "tables." + e.Table
	if e.Field != "" {
		where += "." + e.Field
	}
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), where, e.Message)
	}
	return fmt.Sprintf("%s: %s", where, e.Message)
}

// Default returns the built-in parliament catalog.
func Default() (*Catalog, error) {
	return CompileString(defaultSource, "default.cue")
}

// CompileString compiles one CUE document.
func CompileString(src, filename string) (*Catalog, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	return compile(ctx, v)
}

// LoadDir loads every CUE file of the package in dir.
func LoadDir(dir string) (*Catalog, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("catalog directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("catalog directory: not a directory: %s", dir)
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, fmt.Errorf("no CUE instances loaded from %s", dir)
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, fmt.Errorf("loading CUE files: %w", formatCUEError(inst.Err))
	}
	v := ctx.BuildInstance(inst)
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("building CUE value: %w", formatCUEError(err))
	}
	return compile(ctx, v)
}

type columnDecl struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	NotNull    bool   `json:"notnull"`
	References string `json:"references"`
}

type tableDecl struct {
	Kind       string       `json:"kind"`
	Resource   string       `json:"resource"`
	Columns    []columnDecl `json:"columns"`
	Keys       []columnDecl `json:"keys"`
	Returning  []string     `json:"returning"`
	ReadOnly   []string     `json:"readonly"`
	Unique     [][]string   `json:"unique"`
	Operations []string     `json:"operations"`
}

func compile(ctx *cue.Context, v cue.Value) (*Catalog, error) {
	shape := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := shape.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	v = v.Unify(shape)
	if err := v.Validate(); err != nil {
		return nil, formatCUEError(err)
	}

	tablesVal := v.LookupPath(cue.ParsePath("tables"))
	if !tablesVal.Exists() {
		return nil, &Error{Message: "no tables declared", Pos: v.Pos()}
	}
	iter, err := tablesVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	cat := &Catalog{}
	seen := make(map[string]string)
	for iter.Next() {
		name := iter.Label()
		var decl tableDecl
		if err := iter.Value().Decode(&decl); err != nil {
			return nil, &Error{Table: name, Message: formatCUEError(err).Error(), Pos: iter.Value().Pos()}
		}
		entry, err := buildEntry(name, decl)
		if err != nil {
			return nil, &Error{Table: name, Message: err.Error(), Pos: iter.Value().Pos()}
		}
		if prev, dup := seen[strings.ToLower(entry.Resource)]; dup {
			return nil, &Error{Table: name, Field: "resource", Message: fmt.Sprintf("resource %s already declared by table %s", entry.Resource, prev), Pos: iter.Value().Pos()}
		}
		seen[strings.ToLower(entry.Resource)] = name
		cat.Entries = append(cat.Entries, entry)
	}
	if len(cat.Entries) == 0 {
		return nil, &Error{Message: "no tables declared", Pos: v.Pos()}
	}
	return cat, nil
}

func buildEntry(name string, decl tableDecl) (Entry, error) {
	var t *schema.Table
	switch schema.Kind(decl.Kind) {
	case schema.KindAttribute:
		if len(decl.Keys) == 0 {
			return Entry{}, fmt.Errorf("attribute table needs entity keys")
		}
		if len(decl.Columns) > 0 {
			return Entry{}, fmt.Errorf("attribute table columns are implied; declare keys only")
		}
		t = schema.AttributeTable(name, columns(decl.Keys)...)
	default:
		if len(decl.Keys) > 0 {
			return Entry{}, fmt.Errorf("keys are only valid on attribute tables")
		}
		t = &schema.Table{
			Name:      name,
			Kind:      schema.KindEntity,
			Columns:   columns(decl.Columns),
			Returning: decl.Returning,
			ReadOnly:  decl.ReadOnly,
		}
	}
	t.Unique = decl.Unique
	if err := t.Validate(); err != nil {
		return Entry{}, err
	}

	ops := make([]resource.Op, 0, len(decl.Operations))
	for _, s := range decl.Operations {
		op, err := resource.ParseOp(s)
		if err != nil {
			return Entry{}, err
		}
		ops = append(ops, op)
	}

	res := decl.Resource
	if res == "" {
		res = ResourceName(name)
	}
	return Entry{Resource: res, Table: t, Ops: ops}, nil
}

func columns(decls []columnDecl) []schema.Column {
	cols := make([]schema.Column, len(decls))
	for i, c := range decls {
		cols[i] = schema.Column{
			Name:       c.Name,
			Type:       schema.ColumnType(c.Type),
			NotNull:    c.NotNull,
			References: c.References,
		}
	}
	return cols
}

// ResourceName derives the resource name of a table: mp_attribute is
// MpAttribute.
func ResourceName(table string) string {
	var b strings.Builder
	for _, part := range strings.Split(table, "_") {
		if part == "" {
			continue
		}
		b.WriteString(strings.ToUpper(part[:1]))
		b.WriteString(part[1:])
	}
	return b.String()
}

// formatCUEError keeps the first CUE error with its position.
func formatCUEError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	msg := first.Error()
	if pos := first.Position(); pos.IsValid() {
		return fmt.Errorf("%s:%d:%d: %s", pos.Filename(), pos.Line(), pos.Column(), msg)
	}
	return fmt.Errorf("%s", msg)
}
