// Package sqlite provides the SQLite-backed document store. Processed
// documents and their chunks land here; chunk embeddings are stored as
// little-endian float32 blobs. The database is owned by refsync, unlike
// the reference manager's library database which is only ever read.
package sqlite
