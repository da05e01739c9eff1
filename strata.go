// Package strata maps statically declared entity definitions onto relational
// tables and evolves the physical schema through ordered, reversible
// migrations.
//
// Entities are described once with the builders in schema and schema/field,
// validated at startup and cached for the process lifetime. The record
// package provides active-record style load/save/find access including
// attribute-overflow (EAV) storage, and the migrate package applies ordered
// DDL changes transactionally on MySQL and SQLite.
package strata
