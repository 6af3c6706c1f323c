// Package file persists manifests and checkpoints as JSON files under the
// data directory, one file per run. Writes go to a temporary file in the
// same directory followed by a rename, so a crash mid-write leaves the
// previous file intact. Loads validate the schema and report corruption
// explicitly instead of guessing.
package file
