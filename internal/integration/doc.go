// Package integration contains end-to-end tests that run a full bootstrap
// against a local HTTP server serving snapshot and binary archives.
package integration
