// Package metastore keeps the metadata of tablemon in a relational store (SQLite):
// repositories, images, tags, table mappings, objects and their external locations.
//
// Every mutating operation runs in a single transaction, so readers never
// observe a partially registered image or a partially deleted batch.
package metastore
