// Package librarydb reads a reference manager's local SQLite database
// directly. It is the low-latency source: collections, items and tags come
// from the catalog tables, attachment files from the storage directory
// next to the database. Collection keys are the database's numeric row
// ids, so they are only meaningful to this source.
package librarydb
