// Package schema describes the relational tables the API exposes.
//
// A Table is the single source of identifiers for generated SQL: column names,
// return columns and read-only columns all come from the descriptor and never
// from caller-supplied maps. Descriptors are plain data so they can be loaded
// from the catalog at startup, but every descriptor is validated before use:
//
//   - table and column names must be lower-case SQL identifiers
//   - return and read-only columns must be declared columns
//   - temporal tables carry both since and until
//
// Attribute tables are a fixed shape layered on any entity: the entity key
// columns followed by name, value, lang, since and until. Their rows form an
// append-only history in which a value is valid for the half-open window
// [since, until).
package schema
