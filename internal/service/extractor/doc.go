// Package extractor unpacks .tar.lz4 and .tar.gz archives into a directory.
//
// The compression format is resolved once from the file name and feeds a
// single streaming tar routine. Entry names that are absolute or climb out
// of the destination are rejected, and links are only created when their
// target stays inside it.
package extractor
