// Package config defines the bootstrap configuration and provides helpers
// to load, validate and save it in YAML format.
//
// The Config type holds the snapshot and binary URLs plus the node section:
// the binary path inside the extracted tarball, the init and start command
// strings, and the override mappings merged into app.toml and config.toml.
package config
