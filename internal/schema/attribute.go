package schema

// Columns shared by every attribute table, in declaration order.
const (
	NameColumn  = "name"
	ValueColumn = "value"
	LangColumn  = "lang"
)

// AttributeColumns are appended to the entity key columns of an attribute table.
var AttributeColumns = []Column{
	{Name: NameColumn, Type: TypeText, NotNull: true},
	{Name: ValueColumn, Type: TypeText},
	{Name: LangColumn, Type: TypeText},
	{Name: SinceColumn, Type: TypeTimestamp, NotNull: true},
	{Name: UntilColumn, Type: TypeTimestamp, NotNull: true},
}

// AttributeTable builds the descriptor of an attribute table named name whose
// rows belong to the entity identified by keys. The return columns are the
// entity keys plus name, lang and since: the tuple that makes one historical
// fact unique.
func AttributeTable(name string, keys ...Column) *Table {
	cols := make([]Column, 0, len(keys)+len(AttributeColumns))
	entityKeys := make([]string, 0, len(keys))
	for _, k := range keys {
		if k.Type == "" {
			k.Type = TypeInt
		}
		k.NotNull = true
		cols = append(cols, k)
		entityKeys = append(entityKeys, k.Name)
	}
	cols = append(cols, AttributeColumns...)

	returning := make([]string, 0, len(entityKeys)+3)
	returning = append(returning, entityKeys...)
	returning = append(returning, NameColumn, LangColumn, SinceColumn)

	return &Table{
		Name:       name,
		Kind:       KindAttribute,
		Columns:    cols,
		Returning:  returning,
		EntityKeys: entityKeys,
	}
}
