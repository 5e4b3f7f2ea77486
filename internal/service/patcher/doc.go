// Package patcher merges user overrides into the node's generated TOML files.
//
// Documents are decoded into nested tables, overrides are merged recursively
// (tables merge, everything else replaces) and the result is written back in
// place. Keys that are not overridden are always preserved.
package patcher
