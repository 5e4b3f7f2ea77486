// Package bootstrap orchestrates a full node bootstrap run.
//
// A run owns its output directory through a marker file, downloads the
// snapshot and binary archives, extracts them, moves the snapshot into the
// node home, runs the node's init command and patches the generated
// app.toml and config.toml. Stages run strictly in sequence and the first
// failure aborts the run.
package bootstrap
