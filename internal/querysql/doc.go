// Package querysql builds parameterized SQL for filtered CRUD over a
// schema.Table.
//
// Every statement is produced together with its positional parameter list;
// the two are never generated independently. The where clause always starts
// with "where true" so filters append uniformly, and the pseudo-keys _limit,
// _offset and _datetime are interpreted here instead of being treated as
// columns.
package querysql
