// Package logger provides a small wrapper around zap to offer:
//   - a sugared logger with a plain console encoder writing to stderr,
//   - context helpers (ToContext/FromContext/WithName/WithKV),
//   - level parsing utilities and a rotating file sink option,
//   - convenience functions (Infof, ErrorKV, etc.).
//
// The level is fixed when the logger is built and the logger travels in the
// context, so every stage logs with the verbosity the CLI chose.
package logger
