// Package stage contains core domain types for the bootstrap pipeline.
//
// It enumerates the pipeline stages in execution order and defines Error,
// which labels a failure with the stage that produced it.
package stage
