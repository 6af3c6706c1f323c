// Package file provides the TOML-backed configuration store. Settings
// live in ~/.refsync/config.toml; nested tables are flattened to
// dot-notation keys ("api.base_url") for lookup.
package file
