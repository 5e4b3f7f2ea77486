package extractor

import (
	"archive/tar"
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oshokin/cosmos-bootstrap/internal/logger"
)

const (
	// readBufferSize is the read-ahead applied to the compressed archive file.
	readBufferSize = 1 << 20
	// copyBufferSize is the block size used to stream entry bodies to disk.
	copyBufferSize = 64 * 1024

	defaultDirMode  os.FileMode = 0o755
	defaultFileMode os.FileMode = 0o644
)

var (
	// ErrUnsupportedFormat is returned for archives whose suffix is not recognised.
	ErrUnsupportedFormat = errors.New("unsupported archive format")
	// ErrCorrupt is returned when the compressed or tar stream cannot be decoded.
	ErrCorrupt = errors.New("corrupt archive")
	// ErrIO is returned when reading the archive or writing entries fails.
	ErrIO = errors.New("extract archive")
	// ErrUnsafePath is returned for entries that would be written outside the destination.
	ErrUnsafePath = errors.New("unsafe path in archive")
	// ErrDestinationExists is returned when an entry would replace a file and overwriting is disabled.
	ErrDestinationExists = errors.New("destination already exists")
)

// Extractor unpacks compressed tar archives.
type Extractor struct {
	// overwrite allows entries to replace existing files.
	overwrite bool
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithOverwrite sets the destination-exists policy for file and link entries.
func WithOverwrite(overwrite bool) Option {
	return func(e *Extractor) {
		e.overwrite = overwrite
	}
}

// New creates an Extractor.
func New(opts ...Option) *Extractor {
	e := new(Extractor)

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// stats summarises a finished extraction.
type stats struct {
	entries int
	bytes   int64
}

// Extract unpacks the archive at archivePath into destination. The format is
// chosen from the file name. Entries already written stay on disk when a later
// entry fails.
func (e *Extractor) Extract(ctx context.Context, archivePath, destination string) error {
	format, err := DetectFormat(archivePath)
	if err != nil {
		return err
	}

	file, err := os.Open(filepath.Clean(archivePath))
	if err != nil {
		return fmt.Errorf("%w: open %s: %w", ErrIO, archivePath, err)
	}

	defer func() {
		_ = file.Close()
	}()

	decoded, err := format.decoder(bufio.NewReaderSize(file, readBufferSize))
	if err != nil {
		return err
	}

	defer func() {
		_ = decoded.Close()
	}()

	rootPath, err := filepath.Abs(destination)
	if err != nil {
		return fmt.Errorf("%w: resolve %s: %w", ErrIO, destination, err)
	}

	if err = os.MkdirAll(rootPath, defaultDirMode); err != nil {
		return fmt.Errorf("%w: create %s: %w", ErrIO, rootPath, err)
	}

	root, err := os.OpenRoot(rootPath)
	if err != nil {
		return fmt.Errorf("%w: open %s: %w", ErrIO, rootPath, err)
	}

	defer func() {
		_ = root.Close()
	}()

	logger.InfoKV(ctx, "Extracting archive", "archive", archivePath, "format", format, "destination", rootPath)

	started := time.Now()

	result, err := e.unpack(ctx, tar.NewReader(decoded), root)
	if err != nil {
		return err
	}

	logger.InfoKV(ctx, "Extraction completed",
		"archive", filepath.Base(archivePath),
		"entries", result.entries,
		"bytes", result.bytes,
		"elapsed", time.Since(started).Round(time.Millisecond))

	return nil
}

// unpack reads tar entries sequentially and materialises them under root.
// Every filesystem operation goes through root, so no entry can reach a path
// outside of it even through links created by earlier entries.
func (e *Extractor) unpack(ctx context.Context, reader *tar.Reader, root *os.Root) (stats, error) {
	var (
		result stats
		buffer = make([]byte, copyBufferSize)
	)

	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		header, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return result, nil
		}

		if err != nil {
			return result, fmt.Errorf("%w: %w", ErrCorrupt, err)
		}

		name, err := entryPath(root, header.Name)
		if err != nil {
			return result, err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			err = root.MkdirAll(name, dirMode(header))
			if err != nil {
				err = fmt.Errorf("%w: %w", ErrIO, err)
			}
		case tar.TypeReg:
			var written int64

			written, err = e.writeFile(root, reader, name, fileMode(header), buffer)
			result.bytes += written
		case tar.TypeSymlink:
			err = e.writeSymlink(root, header, name)
		case tar.TypeLink:
			err = e.writeHardLink(root, header, name)
		default:
			logger.DebugKV(ctx, "Skipping archive entry", "name", header.Name, "type", string(header.Typeflag))
			continue
		}

		if err != nil {
			return result, err
		}

		result.entries++
	}
}

// writeFile streams the current entry into name.
func (e *Extractor) writeFile(root *os.Root, src io.Reader, name string, mode os.FileMode, buffer []byte) (int64, error) {
	if err := root.MkdirAll(filepath.Dir(name), defaultDirMode); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrIO, err)
	}

	flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL
	if e.overwrite {
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}

	file, err := root.OpenFile(name, flags, mode)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return 0, fmt.Errorf("%s: %w", name, ErrDestinationExists)
		}

		return 0, fmt.Errorf("%w: %w", ErrIO, err)
	}

	written, err := copyEntry(file, src, buffer)
	if closeErr := file.Close(); closeErr != nil && err == nil {
		err = fmt.Errorf("%w: %w", ErrIO, closeErr)
	}

	return written, err
}

// writeSymlink creates a symbolic link whose target stays inside root.
func (e *Extractor) writeSymlink(root *os.Root, header *tar.Header, name string) error {
	if filepath.IsAbs(header.Linkname) ||
		!filepath.IsLocal(filepath.Join(filepath.Dir(name), filepath.FromSlash(header.Linkname))) {
		return fmt.Errorf("%s -> %s: %w", header.Name, header.Linkname, ErrUnsafePath)
	}

	if err := e.prepareLinkTarget(root, name); err != nil {
		return err
	}

	if err := root.Symlink(header.Linkname, name); err != nil {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}

	return nil
}

// writeHardLink links name to an entry extracted earlier inside root.
func (e *Extractor) writeHardLink(root *os.Root, header *tar.Header, name string) error {
	source, err := entryPath(root, header.Linkname)
	if err != nil {
		return err
	}

	if err = e.prepareLinkTarget(root, name); err != nil {
		return err
	}

	if err = root.Link(source, name); err != nil {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}

	return nil
}

// prepareLinkTarget creates the parent directory and applies the overwrite policy.
func (e *Extractor) prepareLinkTarget(root *os.Root, name string) error {
	if err := root.MkdirAll(filepath.Dir(name), defaultDirMode); err != nil {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}

	if _, err := root.Lstat(name); err != nil {
		return nil //nolint:nilerr // Missing target is the expected case.
	}

	if !e.overwrite {
		return fmt.Errorf("%s: %w", name, ErrDestinationExists)
	}

	if err := root.Remove(name); err != nil {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}

	return nil
}

// entryPath converts an archive name into a path relative to root. Absolute
// names, names climbing out of root and names whose parent directories pass
// through a symbolic link are rejected.
func entryPath(root *os.Root, name string) (string, error) {
	local := filepath.FromSlash(name)
	if name == "" || filepath.IsAbs(local) || !filepath.IsLocal(local) {
		return "", fmt.Errorf("%q: %w", name, ErrUnsafePath)
	}

	local = filepath.Clean(local)

	parent := ""
	for _, part := range strings.Split(filepath.Dir(local), string(filepath.Separator)) {
		if part == "." {
			break
		}

		parent = filepath.Join(parent, part)

		info, err := root.Lstat(parent)
		if errors.Is(err, fs.ErrNotExist) {
			break
		}

		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrIO, err)
		}

		if info.Mode()&fs.ModeSymlink != 0 {
			return "", fmt.Errorf("%q crosses symbolic link %q: %w", name, parent, ErrUnsafePath)
		}
	}

	return local, nil
}

// copyEntry copies src into dst, telling decode failures from write failures.
func copyEntry(dst io.Writer, src io.Reader, buffer []byte) (int64, error) {
	var written int64

	for {
		n, readErr := src.Read(buffer)
		if n > 0 {
			if _, err := dst.Write(buffer[:n]); err != nil {
				return written, fmt.Errorf("%w: %w", ErrIO, err)
			}

			written += int64(n)
		}

		if errors.Is(readErr, io.EOF) {
			return written, nil
		}

		if readErr != nil {
			return written, fmt.Errorf("%w: %w", ErrCorrupt, readErr)
		}
	}
}

// dirMode returns the directory permissions recorded in the header,
// falling back to 0755 when the archive stores none.
func dirMode(header *tar.Header) os.FileMode {
	if mode := header.FileInfo().Mode().Perm(); mode != 0 {
		return mode | 0o700
	}

	return defaultDirMode
}

// fileMode returns the file permissions recorded in the header,
// falling back to 0644 when the archive stores none.
func fileMode(header *tar.Header) os.FileMode {
	if mode := header.FileInfo().Mode().Perm(); mode != 0 {
		return mode
	}

	return defaultFileMode
}
