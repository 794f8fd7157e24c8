// Package schema is the declarative catalog of tables the data layer manages.
//
// A Registry holds an ordered list of Table declarations. Each Table carries
// its typed columns and indexes. The registry is pure data: the migration
// engine reads it to converge the live store, the storage adapter reads it to
// validate records at the boundary, and the sync engine iterates it to decide
// which tables participate in a sync cycle.
//
// Every table implicitly carries the five system columns (id, created_at,
// updated_at, synced, deleted). Domain columns are declared on top of those.
//
// Schema evolution is strictly additive: a registry may gain tables, columns
// and indexes between releases, but never loses or renames them. The registry
// itself is immutable once constructed.
package schema
