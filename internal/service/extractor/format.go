package extractor

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/pierrec/lz4/v4"
)

// Format is the compression wrapped around a tar stream.
type Format int

// Supported archive formats.
const (
	FormatUnknown Format = iota
	FormatLZ4
	FormatGzip
)

// suffixes maps file name suffixes to formats. Longer suffixes come first.
//
//nolint:gochecknoglobals // Read-only lookup table.
var suffixes = []struct {
	suffix string
	format Format
}{
	{".tar.lz4", FormatLZ4},
	{".tar.gz", FormatGzip},
	{".tgz", FormatGzip},
}

// String returns the canonical suffix of the format.
func (f Format) String() string {
	switch f {
	case FormatLZ4:
		return "tar.lz4"
	case FormatGzip:
		return "tar.gz"
	case FormatUnknown:
		return "unknown"
	default:
		return fmt.Sprintf("format(%d)", int(f))
	}
}

// DetectFormat resolves the archive format from the file name suffix.
func DetectFormat(name string) (Format, error) {
	base := strings.ToLower(filepath.Base(name))

	for _, candidate := range suffixes {
		if strings.HasSuffix(base, candidate.suffix) {
			return candidate.format, nil
		}
	}

	return FormatUnknown, fmt.Errorf("%s: %w", filepath.Base(name), ErrUnsupportedFormat)
}

// decoder wraps r with the decompressor of the format.
func (f Format) decoder(r io.Reader) (io.ReadCloser, error) {
	switch f {
	case FormatLZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	case FormatGzip:
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("%w: gzip header: %w", ErrCorrupt, err)
		}

		return gz, nil
	case FormatUnknown:
		fallthrough
	default:
		return nil, fmt.Errorf("%s: %w", f, ErrUnsupportedFormat)
	}
}
