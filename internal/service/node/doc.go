// Package node runs the Cosmos node binary as a child process.
//
// It splits configured command strings with shell quoting rules, runs the
// binary in the node's home directory with output passed through, reports
// non-zero exits as ExitError, and inspects the process table so callers can
// detect a node that is already running.
package node
