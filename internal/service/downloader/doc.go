// Package downloader streams HTTP resources to files on disk.
//
// Bodies are copied in fixed-size chunks without being buffered in memory,
// progress is logged at a bounded rate, and an explicit overwrite policy
// decides what happens when the destination already exists.
package downloader
